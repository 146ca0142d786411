package LTC6811

import (
	"errors"
	"testing"

	"BatteryMonitor6811/IsoSPI"
	"BatteryMonitor6811/PEC"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSensor struct {
	samples []uint16
	failed  int
}

func (f *fakeSensor) Update(sample uint16) { f.samples = append(f.samples, sample) }
func (f *fakeSensor) Fail()                { f.failed++ }

func testConfig(sim *IsoSPI.Simulator, devices int) Config {
	return Config{
		Bus:                    sim,
		DeviceCount:            devices,
		CellAdcMode:            Adc7kHz,
		GpioAdcMode:            Adc7kHz,
		ReadAttemptCount:       3,
		OpenWireTestIterations: 2,
		CellVoltageMin:         3.0,
		CellVoltageMax:         4.2,
		DischargeTimeout:       DischargeTimeout30s,
	}
}

func newChain(t *testing.T, devices int) (*DaisyChain, *IsoSPI.Simulator) {
	sim := IsoSPI.NewSimulator(devices)
	chain, err := New(testConfig(sim, devices))
	require.NoError(t, err)
	return chain, sim
}

func uniform(v float32) (volts [CellCount]float32) {
	for i := range volts {
		volts[i] = v
	}
	return volts
}

func TestCommandFramePEC(t *testing.T) {
	frame := commandFrame(PLADC)
	assert.Equal(t, [commandSize]byte{0x07, 0x14, 0xF3, 0x6C}, frame)
	frame = commandFrame(ADCV(Adc7kHz, false, CH_ALL))
	assert.Equal(t, [commandSize]byte{0x03, 0x60, 0xF4, 0x6C}, frame)
}

func TestCommandWords(t *testing.T) {
	assert.Equal(t, uint16(0x2E0), ADCV(Adc27kHz, false, CH_ALL))
	assert.Equal(t, uint16(0x3F0), ADCV(Adc26Hz, true, CH_ALL))
	assert.Equal(t, uint16(0x368), ADOW(Adc7kHz, true, false, CH_ALL))
	assert.Equal(t, uint16(0x328), ADOW(Adc7kHz, false, false, CH_ALL))
	assert.Equal(t, uint16(0x327), CVST(Adc7kHz, ST_1))
	assert.Equal(t, uint16(0x560), ADAX(Adc7kHz, CHG_ALL))
	assert.Equal(t, uint16(0x568), ADSTAT(Adc7kHz, CHST_ALL))
	assert.Equal(t, uint16(0x527), AXST(Adc7kHz, ST_1))
	assert.Equal(t, uint16(0x52F), STATST(Adc7kHz, ST_1))
	assert.Equal(t, uint16(0x301), ADOL(Adc7kHz, false))
	assert.Equal(t, uint16(0x9565), SelfTestPattern(Adc27kHz))
	assert.Equal(t, uint16(0x9555), SelfTestPattern(Adc26Hz))
}

func TestParseAdcMode(t *testing.T) {
	for _, m := range []AdcMode{Adc422Hz, Adc27kHz, Adc7kHz, Adc26Hz} {
		parsed, err := ParseAdcMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	mode, err := ParseAdcMode("7KHZ")
	require.NoError(t, err)
	assert.Equal(t, Adc7kHz, mode)
	_, err = ParseAdcMode("1kHz")
	assert.Error(t, err)
}

func TestConversionTimeoutCoversWorstCase(t *testing.T) {
	for _, m := range []AdcMode{Adc422Hz, Adc27kHz, Adc7kHz, Adc26Hz} {
		assert.Greater(t, conversionTimeout(cellConversion, m), conversionTimes[cellConversion][m])
	}
	assert.Greater(t, conversionTimeout(cellConversion, Adc26Hz), conversionTimeout(cellConversion, Adc27kHz))
}

func TestDecodeCellVoltage(t *testing.T) {
	assert.InDelta(t, 1.0, DecodeCellVoltage(0x2710), 1e-6)
	assert.Equal(t, float32(0), DecodeCellVoltage(0x0000))
	assert.InDelta(t, 6.5535, DecodeCellVoltage(0xFFFF), 1e-4)
}

func TestDecodeDieTemperature(t *testing.T) {
	assert.InDelta(t, 25.0, DecodeDieTemperature(22350), 0.01)
}

func TestThresholdEncoding(t *testing.T) {
	assert.Equal(t, uint16(1874), EncodeUndervoltage(3.0))
	assert.Equal(t, uint16(2625), EncodeOvervoltage(4.2))
	assert.Equal(t, uint16(0), EncodeUndervoltage(0))
	assert.Equal(t, uint16(0x0FFF), EncodeOvervoltage(10))
}

func TestRatiometricSample(t *testing.T) {
	sample, ok := RatiometricSample(15000, 30000)
	assert.True(t, ok)
	assert.Equal(t, uint16(15000), sample)

	sample, ok = RatiometricSample(15000, 20000)
	assert.True(t, ok)
	assert.Equal(t, uint16(22500), sample)

	_, ok = RatiometricSample(15000, 0)
	assert.False(t, ok)

	sample, ok = RatiometricSample(60000, 1000)
	assert.True(t, ok)
	assert.Equal(t, uint16(0xFFFF), sample)
}

func TestEvaluateOpenWire(t *testing.T) {
	good := uniform(3.7)

	t.Run("healthy", func(t *testing.T) {
		open, delta := EvaluateOpenWire(good, good)
		assert.Equal(t, [SenseLineCount]bool{}, open)
		assert.Equal(t, [CellCount]float32{}, delta)
	})

	t.Run("bottom line", func(t *testing.T) {
		pullup := good
		pullup[0] = 0.0005
		pulldown := good
		pulldown[0] = 0
		open, _ := EvaluateOpenWire(pullup, pulldown)
		assert.True(t, open[0])
	})

	t.Run("interior lines", func(t *testing.T) {
		pullup := good
		pullup[4] = 3.7 - 0.41
		pullup[6] = 3.7 - 0.39
		open, delta := EvaluateOpenWire(pullup, good)
		assert.True(t, open[4])
		assert.False(t, open[6])
		assert.InDelta(t, -0.41, delta[4], 1e-5)
	})

	t.Run("top cell threshold", func(t *testing.T) {
		pullup, pulldown := good, good
		pullup[CellCount-1] = 0
		pulldown[CellCount-1] = 0.8
		open, _ := EvaluateOpenWire(pullup, pulldown)
		assert.False(t, open[CellCount-1], "exactly -0.8V is not open")

		pulldown[CellCount-1] = 0.81
		open, _ = EvaluateOpenWire(pullup, pulldown)
		assert.True(t, open[CellCount-1])

		pullup[CellCount-1] = 3.7
		pulldown[CellCount-1] = 3.7 + 0.5
		open, _ = EvaluateOpenWire(pullup, pulldown)
		assert.False(t, open[CellCount-1], "-0.5V is open on interior lines only")
	})

	t.Run("top boundary line", func(t *testing.T) {
		pulldown := good
		pulldown[CellCount-1] = -0.0009
		open, _ := EvaluateOpenWire(good, pulldown)
		assert.True(t, open[CellCount])
	})
}

func TestConfigValidate(t *testing.T) {
	sim := IsoSPI.NewSimulator(2)
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"no bus", func(c *Config) { c.Bus = nil }},
		{"odd device count", func(c *Config) { c.DeviceCount = 3 }},
		{"no devices", func(c *Config) { c.DeviceCount = 0 }},
		{"short chain order", func(c *Config) { c.ChainOrder = []int{0} }},
		{"repeated chain order", func(c *Config) { c.ChainOrder = []int{1, 1} }},
		{"chain order out of range", func(c *Config) { c.ChainOrder = []int{0, 2} }},
		{"no read attempts", func(c *Config) { c.ReadAttemptCount = 0 }},
		{"no open wire iterations", func(c *Config) { c.OpenWireTestIterations = 0 }},
		{"inverted window", func(c *Config) { c.CellVoltageMin = 4.3 }},
		{"bad mode", func(c *Config) { c.CellAdcMode = 4 }},
		{"bad discharge timeout", func(c *Config) { c.DischargeTimeout = 0x10 }},
		{"sensor rows", func(c *Config) { c.Sensors = make([][GpioCount]AnalogSensor, 1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig(sim, 2)
			tt.modify(&config)
			_, err := New(config)
			require.Error(t, err)
			assert.True(t, errors.Is(err, InvalidConfig))
			assert.Equal(t, InvalidConfig, CodeOf(err))
		})
	}

	config := testConfig(sim, 2)
	config.ChainOrder = []int{1, 0}
	_, err := New(config)
	assert.NoError(t, err)
}

func TestWakeupIssuesOnePulsePerDevice(t *testing.T) {
	chain, sim := newChain(t, 6)
	require.NoError(t, chain.Wakeup())
	assert.Equal(t, 6, sim.WakePulses())

	require.NoError(t, chain.Wakeup())
	assert.Equal(t, 12, sim.WakePulses())
	assert.Equal(t, ChainReady, chain.State())
	assert.False(t, sim.Selected())
}

func TestWriteRegisterGroupsOrder(t *testing.T) {
	chain, sim := newChain(t, 4)
	for i := range chain.devices {
		chain.devices[i].Tx = [BufferSize]byte{byte(0xD0 + i), 1, 2, 3, 4, 5}
	}
	require.NoError(t, chain.WriteRegisterGroups(WRCFGA))

	frames := sim.WriteFrames(WRCFGA)
	require.Len(t, frames, 4)
	for k, frame := range frames {
		assert.Equal(t, byte(0xD0+3-k), frame[0], "frame %d", k)
		assert.True(t, PEC.Check(frame))
	}
	for slot := 0; slot < 4; slot++ {
		assert.Equal(t, byte(0xD0+slot), sim.Configuration(slot)[0])
	}
}

func TestChainOrderRemapsSlots(t *testing.T) {
	sim := IsoSPI.NewSimulator(4)
	config := testConfig(sim, 4)
	config.ChainOrder = []int{1, 0, 3, 2}
	chain, err := New(config)
	require.NoError(t, err)

	sim.SetCellVoltages(0, uniform(3.1))
	sim.SetCellVoltages(1, uniform(3.2))
	require.NoError(t, chain.SampleCells())
	assert.InDelta(t, 3.1, chain.Device(1).CellVoltages[0], 1e-4)
	assert.InDelta(t, 3.2, chain.Device(0).CellVoltages[0], 1e-4)

	require.NoError(t, chain.SetCellDischarging(3, 0, true))
	require.NoError(t, chain.WriteConfig())
	assert.Equal(t, byte(0x01), sim.Configuration(2)[4])
	assert.Equal(t, byte(0x00), sim.Configuration(3)[4])
	assert.Equal(t, byte(0x01), sim.WriteFrames(WRCFGA)[1][4], "slot 2 is the second frame on the wire")
}

func TestSampleCellsReadsDeviceZeroFirst(t *testing.T) {
	chain, sim := newChain(t, 4)
	for slot := 0; slot < 4; slot++ {
		var volts [CellCount]float32
		for cell := range volts {
			volts[cell] = 3.0 + float32(slot)*0.1 + float32(cell)*0.01
		}
		sim.SetCellVoltages(slot, volts)
	}
	require.NoError(t, chain.SampleCells())
	for i, device := range chain.Devices() {
		assert.Equal(t, Ready, device.State)
		for cell := 0; cell < CellCount; cell++ {
			assert.InDelta(t, 3.0+float64(i)*0.1+float64(cell)*0.01, device.CellVoltages[cell], 1e-4)
		}
	}
	assert.Equal(t, 4, sim.WakePulses())
}

func TestReadRetriesThenSucceeds(t *testing.T) {
	chain, sim := newChain(t, 4)
	sim.SetCellVoltages(1, uniform(3.3))
	sim.CorruptReads(1, 2)

	require.NoError(t, chain.SampleCells())
	assert.Equal(t, ChainReady, chain.State())
	assert.Equal(t, Ready, chain.Device(1).State)
	assert.InDelta(t, 3.3, chain.Device(1).CellVoltages[0], 1e-4)

	reads := 0
	for _, c := range sim.Commands() {
		if c == RDCVA {
			reads++
		}
	}
	assert.Equal(t, 3, reads)
}

func TestReadExhaustionIsolatesBadDevice(t *testing.T) {
	chain, sim := newChain(t, 4)
	sim.SetCellVoltages(0, uniform(3.5))
	sim.SetCellVoltages(2, uniform(3.6))
	sim.CorruptReads(1, 3)

	err := chain.SampleCells()
	require.Error(t, err)
	assert.True(t, errors.Is(err, PecMismatch))
	assert.Equal(t, PecMismatch, CodeOf(err))
	assert.Equal(t, ChainFailed, chain.State())

	devices := chain.Devices()
	assert.Equal(t, PecError, devices[1].State)
	assert.Equal(t, [CellCount]float32{}, devices[1].CellVoltages)
	for _, i := range []int{0, 2, 3} {
		assert.Equal(t, Ready, devices[i].State, "device %d", i)
	}
	assert.InDelta(t, 3.5, devices[0].CellVoltages[11], 1e-4)
	assert.InDelta(t, 3.6, devices[2].CellVoltages[11], 1e-4)
	assert.InDelta(t, 3.7, devices[3].CellVoltages[11], 1e-4)
	assert.True(t, chain.IsospiFault())

	chain.ClearState()
	assert.Equal(t, ChainReady, chain.State())
	assert.Equal(t, Ready, chain.Device(1).State)
	require.NoError(t, chain.SampleCells())
	assert.False(t, chain.IsospiFault())
}

func TestReadRegisterGroupsKeepsGoodFrames(t *testing.T) {
	chain, sim := newChain(t, 2)
	require.NoError(t, chain.WriteConfig())
	sim.CorruptReads(0, 3)

	err := chain.ReadRegisterGroups(RDCFGA)
	require.Error(t, err)
	assert.Equal(t, byte(0xFC), chain.Device(1).Rx[0])
	rx := chain.Device(1).Rx
	assert.True(t, PEC.Check(rx[:]))
	assert.Equal(t, [BufferSize]byte{}, chain.Device(0).Rx)
}

func TestBusFaultIsNotRetried(t *testing.T) {
	chain, sim := newChain(t, 2)
	sim.FailExchanges(1)

	err := chain.ReadRegisterGroups(RDCVA)
	require.Error(t, err)
	assert.True(t, errors.Is(err, BusFault))
	assert.True(t, errors.Is(err, IsoSPI.ErrInjected))
	assert.Equal(t, ChainFailed, chain.State())
	assert.Empty(t, sim.Commands())
	assert.False(t, sim.Selected())
}

func TestBusFaultAbortsSampling(t *testing.T) {
	chain, sim := newChain(t, 2)
	sim.FailExchanges(1)
	err := chain.SampleCells()
	assert.Equal(t, BusFault, CodeOf(err))
	assert.Empty(t, sim.Commands())
}

func TestConversionTimeout(t *testing.T) {
	chain, sim := newChain(t, 2)
	sim.HoldConversions(true)
	err := chain.SampleCells()
	require.Error(t, err)
	assert.Equal(t, ConversionTimeout, CodeOf(err))
	assert.Equal(t, ChainFailed, chain.State())
	assert.False(t, sim.Selected())
}

func TestSampleGpioDispatchesToSensors(t *testing.T) {
	sim := IsoSPI.NewSimulator(2)
	config := testConfig(sim, 2)
	config.GpioRatiometric = [GpioCount]bool{true, false, false, false, false}
	sensors := make([][GpioCount]AnalogSensor, 2)
	ratiometric, absolute, other := &fakeSensor{}, &fakeSensor{}, &fakeSensor{}
	sensors[0][0] = ratiometric
	sensors[0][1] = absolute
	sensors[1][0] = other
	config.Sensors = sensors
	chain, err := New(config)
	require.NoError(t, err)

	sim.SetGpio(0, [GpioCount]uint16{10000, 12000, 0, 0, 0}, 20000)
	sim.SetGpio(1, [GpioCount]uint16{1, 2, 3, 4, 5}, 0)
	require.NoError(t, chain.SampleGpio())

	assert.Equal(t, []uint16{15000}, ratiometric.samples)
	assert.Equal(t, []uint16{12000}, absolute.samples)
	assert.Empty(t, other.samples)
	assert.Equal(t, 1, other.failed, "no reference to scale against")
	assert.Equal(t, uint16(20000), chain.Device(0).Vref2)
	assert.Equal(t, [GpioCount]uint16{1, 2, 3, 4, 5}, chain.Device(1).GpioSamples)

	sim.HoldConversions(true)
	require.Error(t, chain.SampleGpio())
	assert.Equal(t, 1, ratiometric.failed)
	assert.Equal(t, 1, absolute.failed)
	assert.Equal(t, 2, other.failed)
}

func TestSampleGpioPecFailureFailsSensors(t *testing.T) {
	sim := IsoSPI.NewSimulator(2)
	config := testConfig(sim, 2)
	sensor := &fakeSensor{}
	config.Sensors = make([][GpioCount]AnalogSensor, 2)
	config.Sensors[0][2] = sensor
	chain, err := New(config)
	require.NoError(t, err)

	sim.CorruptReads(1, 3)
	err = chain.SampleGpio()
	assert.Equal(t, PecMismatch, CodeOf(err))
	assert.Empty(t, sensor.samples)
	assert.Equal(t, 1, sensor.failed)
}

func TestOpenWireTest(t *testing.T) {
	chain, sim := newChain(t, 2)
	pullup := uniform(3.7)
	pulldown := uniform(3.7)
	pullup[5] = 3.2
	pulldown[CellCount-1] = 0
	sim.SetOpenWireVoltages(0, pullup, pulldown)

	require.NoError(t, chain.OpenWireTest())
	device := chain.Device(0)
	assert.Equal(t, CellFault, device.State)
	assert.True(t, device.OpenWireFaults[5])
	assert.True(t, device.OpenWireFaults[CellCount])
	assert.False(t, device.OpenWireFaults[0])
	assert.InDelta(t, -0.5, device.CellVoltagesDelta[5], 1e-4)
	assert.InDelta(t, 3.2, device.CellVoltagesPullup[5], 1e-4)
	assert.Equal(t, Ready, chain.Device(1).State)
	assert.Equal(t, [SenseLineCount]bool{}, chain.Device(1).OpenWireFaults)
	assert.True(t, chain.OpenWireFault())

	// Every conversion is followed by a read of groups A to D
	var sequence []uint16
	pullUps, pullDowns := 0, 0
	for _, c := range sim.Commands() {
		switch c {
		case ADOW(Adc7kHz, true, false, CH_ALL):
			pullUps++
			sequence = append(sequence, c)
		case ADOW(Adc7kHz, false, false, CH_ALL):
			pullDowns++
			sequence = append(sequence, c)
		case RDCVA, RDCVB, RDCVC, RDCVD:
			sequence = append(sequence, c)
		}
	}
	assert.Equal(t, 2, pullUps)
	assert.Equal(t, 2, pullDowns)
	cycle := func(adow uint16) []uint16 { return []uint16{adow, RDCVA, RDCVB, RDCVC, RDCVD} }
	var expected []uint16
	for _, pullUp := range []bool{true, true, false, false} {
		expected = append(expected, cycle(ADOW(Adc7kHz, pullUp, false, CH_ALL))...)
	}
	assert.Equal(t, expected, sequence)

	chain.ClearState()
	assert.False(t, chain.OpenWireFault())
}

func TestOpenWireSkipsPecErrorDevices(t *testing.T) {
	chain, sim := newChain(t, 2)
	sim.SetOpenWireVoltages(1, uniform(0), uniform(0))
	sim.CorruptReads(1, 3)

	err := chain.OpenWireTest()
	assert.Equal(t, PecMismatch, CodeOf(err))
	assert.Equal(t, PecError, chain.Device(1).State)
	assert.Equal(t, [SenseLineCount]bool{}, chain.Device(1).OpenWireFaults)
	assert.Equal(t, Ready, chain.Device(0).State)
}

func TestWriteConfig(t *testing.T) {
	chain, sim := newChain(t, 2)
	require.NoError(t, chain.SetCellDischarging(1, 0, true))
	require.NoError(t, chain.SetCellDischarging(1, 11, true))
	require.NoError(t, chain.WriteConfig())

	assert.Equal(t, [6]byte{0xFC, 0x52, 0x17, 0xA4, 0x00, 0x10}, sim.Configuration(0))
	assert.Equal(t, [6]byte{0xFC, 0x52, 0x17, 0xA4, 0x01, 0x18}, sim.Configuration(1))

	require.NoError(t, chain.SetCellDischarging(1, 11, false))
	require.NoError(t, chain.WriteConfig())
	assert.Equal(t, byte(0x10), sim.Configuration(1)[5])

	err := chain.SetCellDischarging(2, 0, true)
	assert.Equal(t, InvalidConfig, CodeOf(err))
	err = chain.SetCellDischarging(0, CellCount, true)
	assert.Equal(t, InvalidConfig, CodeOf(err))
}

func TestSampleStatus(t *testing.T) {
	chain, sim := newChain(t, 2)
	sim.SetDieTemperature(1, 80)
	sim.SetThermalShutdown(1, true)
	require.NoError(t, chain.SampleStatus())

	device := chain.Device(0)
	assert.InDelta(t, 44.4, device.CellVoltageSum, 0.01)
	assert.InDelta(t, 25, device.DieTemperature, 0.05)
	assert.InDelta(t, 5.0, device.AnalogSupplyVoltage, 1e-3)
	assert.InDelta(t, 3.0, device.DigitalSupplyVoltage, 1e-3)
	assert.Equal(t, uint8(1), device.Revision)
	assert.False(t, device.ThermalShutdown)
	assert.InDelta(t, 80, chain.Device(1).DieTemperature, 0.05)
	assert.True(t, chain.Device(1).ThermalShutdown)
}

func TestSampleCellVoltageFaults(t *testing.T) {
	chain, sim := newChain(t, 2)
	require.NoError(t, chain.WriteConfig())
	volts := uniform(3.7)
	volts[2] = 2.5
	volts[9] = 4.5
	sim.SetCellVoltages(0, volts)

	require.NoError(t, chain.SampleCells())
	require.NoError(t, chain.SampleCellVoltageFaults())
	device := chain.Device(0)
	assert.True(t, device.UndervoltageFaults[2])
	assert.True(t, device.OvervoltageFaults[9])
	assert.False(t, device.UndervoltageFaults[9])
	assert.Equal(t, CellFault, device.State)
	assert.Equal(t, Ready, chain.Device(1).State)
	assert.True(t, chain.UndervoltageFault())
	assert.True(t, chain.OvervoltageFault())

	sim.SetCellVoltages(0, uniform(3.7))
	chain.ClearState()
	require.NoError(t, chain.SampleCells())
	require.NoError(t, chain.SampleCellVoltageFaults())
	assert.False(t, chain.UndervoltageFault())
	assert.False(t, chain.OvervoltageFault())
}

func TestSelfTest(t *testing.T) {
	chain, sim := newChain(t, 2)
	require.NoError(t, chain.SelfTest())
	assert.False(t, chain.SelfTestFault())

	commands := sim.Commands()
	require.GreaterOrEqual(t, len(commands), 2)
	assert.Equal(t, []uint16{CLRCELL, CLRAUX}, commands[len(commands)-2:])

	sim.SetMuxFail(1, true)
	require.NoError(t, chain.SelfTest())
	assert.True(t, chain.SelfTestFault())
	assert.Equal(t, SelfTestFault, chain.Device(1).State)
	assert.True(t, chain.Device(1).MuxFail)
	assert.Equal(t, Ready, chain.Device(0).State)
}

func TestDeviceStatePrecedence(t *testing.T) {
	var d Device
	d.raise(SelfTestFault)
	d.raise(CellFault)
	assert.Equal(t, SelfTestFault, d.State)
	d.raise(PecError)
	d.raise(Ready)
	assert.Equal(t, PecError, d.State)
	assert.Equal(t, "PEC error", d.State.String())
	assert.Equal(t, "failed", ChainFailed.String())
}

func TestInit(t *testing.T) {
	sim := IsoSPI.NewSimulator(2)
	sim.SetCellVoltages(1, uniform(3.9))
	chain, err := Init(testConfig(sim, 2))
	require.NoError(t, err)
	assert.InDelta(t, 3.9, chain.Device(1).CellVoltages[3], 1e-4)
	assert.Equal(t, byte(0xFC), sim.Configuration(0)[0])

	held := IsoSPI.NewSimulator(2)
	held.HoldConversions(true)
	chain, err = Init(testConfig(held, 2))
	require.Error(t, err)
	require.NotNil(t, chain)
	assert.Equal(t, ChainFailed, chain.State())
	assert.Equal(t, byte(0xFC), held.Configuration(1)[0])

	_, err = Init(testConfig(held, 3))
	assert.Equal(t, InvalidConfig, CodeOf(err))
}

func TestReconfigure(t *testing.T) {
	chain, sim := newChain(t, 2)
	require.NoError(t, chain.SetCellDischarging(0, 3, true))
	require.NoError(t, chain.SampleCells())

	config := testConfig(sim, 2)
	config.CellVoltageMin = 2.5
	config.DischargeTimeout = DischargeTimeoutDisabled
	require.NoError(t, chain.Reconfigure(config))

	assert.Equal(t, [CellCount]bool{}, chain.Device(0).CellsDischarging)
	assert.Equal(t, [CellCount]float32{}, chain.Device(0).CellVoltages)
	cfg := sim.Configuration(0)
	assert.Equal(t, byte(EncodeUndervoltage(2.5)), cfg[1])
	assert.Equal(t, byte(0x00), cfg[5])

	config.DeviceCount = 5
	assert.Error(t, chain.Reconfigure(config))
}
