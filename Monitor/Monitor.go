package Monitor

import (
	"BatteryMonitor6811/AnalogSensor"
	"BatteryMonitor6811/LTC6811"
	"BatteryMonitor6811/Logger"
	"context"
	"fmt"
	"github.com/brutella/can"
	"sync"
	"time"
)

// FaultOutput opens the shutdown loop while a fault is present
type FaultOutput interface {
	SetFault(fault bool) error
}

// StatusInputs reports the state of the shutdown loop and the precharge circuit
type StatusInputs interface {
	Inputs() (shutdownLoopClosed bool, prechargeComplete bool, err error)
}

// Publisher sends CAN frames, satisfied by *can.Bus
type Publisher interface {
	Publish(frame can.Frame) error
}

// Recorder stores the device data of a cycle
type Recorder interface {
	Record(devices []LTC6811.Device) error
}

// SampleSource yields one raw analogue sample
type SampleSource interface {
	ReadSample() (uint16, error)
}

// CurrentSensor is the pack current in amps, positive while discharging
type CurrentSensor interface {
	Value() (float32, AnalogSensor.State)
}

// CurrentChannel feeds samples from a source into a linear sensor every cycle
type CurrentChannel struct {
	Source SampleSource
	Sensor *AnalogSensor.LinearSensor
}

// Config of the monitor. Only Chain is required, every other collaborator may be nil.
type Config struct {
	Chain               *LTC6811.DaisyChain
	Thermistors         [][LTC6811.GpioCount]*AnalogSensor.Thermistor // Nil entries are unfitted GPIOs
	CurrentChannels     []CurrentChannel
	Current             CurrentSensor
	FaultOutput         FaultOutput
	Inputs              StatusInputs
	Publisher           Publisher
	Recorder            Recorder
	Logger              *Logger.Logger
	Period              time.Duration
	OpenWireInterval    int // Cycles between open wire tests, the first cycle always runs one
	SelfTestInterval    int // Cycles between self tests, the first cycle always runs one
	RecordEvery         int // Cycles between records
	Balancing           bool
	BalancingTolerance  float32
	BalancingVoltageMin float32
	DieTemperatureMax   float32
	ChargingCurrent     float32
}

type dischargeCommand struct {
	device int
	cell   int
	on     bool
}

// Monitor owns the daisy chain and runs the sampling cycle. Telemetry and the balancing settings are
// guarded by separate locks so readers never wait on bus I/O.
type Monitor struct {
	config Config
	chain  *LTC6811.DaisyChain
	log    *Logger.Logger

	mu        sync.RWMutex // telemetry
	telemetry Telemetry

	settingsMu sync.Mutex // balancing settings and queued commands
	balancing  bool
	pending    []dischargeCommand

	// Owned by the sampling task
	cycle         uint64
	openWire      [][LTC6811.SenseLineCount]bool
	selfTestFault []bool
	manual        [][LTC6811.CellCount]*bool
}

func New(config Config) (*Monitor, error) {
	if config.Chain == nil {
		return nil, fmt.Errorf("monitor needs a daisy chain")
	}
	if config.Thermistors != nil && len(config.Thermistors) != config.Chain.DeviceCount() {
		return nil, fmt.Errorf("thermistor table has %d rows for %d devices", len(config.Thermistors), config.Chain.DeviceCount())
	}
	if config.Period <= 0 {
		config.Period = 250 * time.Millisecond
	}
	if config.OpenWireInterval < 1 {
		config.OpenWireInterval = 1
	}
	if config.SelfTestInterval < 1 {
		config.SelfTestInterval = 1
	}
	if config.RecordEvery < 1 {
		config.RecordEvery = 1
	}
	if config.Logger == nil {
		config.Logger = Logger.New(nil, Logger.LevelNone)
	}
	n := config.Chain.DeviceCount()
	return &Monitor{
		config:        config,
		chain:         config.Chain,
		log:           config.Logger,
		balancing:     config.Balancing,
		openWire:      make([][LTC6811.SenseLineCount]bool, n),
		selfTestFault: make([]bool, n),
		manual:        make([][LTC6811.CellCount]*bool, n),
	}, nil
}

// Telemetry returns a copy of the last completed cycle
func (monitor *Monitor) Telemetry() Telemetry {
	monitor.mu.RLock()
	defer monitor.mu.RUnlock()
	return monitor.telemetry.clone()
}

func (monitor *Monitor) SetBalancing(enabled bool) {
	monitor.settingsMu.Lock()
	defer monitor.settingsMu.Unlock()
	monitor.balancing = enabled
}

// SetCellDischarge queues a manual discharge command. It overrides automatic balancing for that cell from the
// next cycle until ReleaseCellDischarge.
func (monitor *Monitor) SetCellDischarge(device, cell int, on bool) error {
	if device < 0 || device >= monitor.chain.DeviceCount() || cell < 0 || cell >= LTC6811.CellCount {
		return fmt.Errorf("no cell %d on device %d", cell, device)
	}
	monitor.settingsMu.Lock()
	defer monitor.settingsMu.Unlock()
	monitor.pending = append(monitor.pending, dischargeCommand{device: device, cell: cell, on: on})
	return nil
}

// ReleaseCellDischarge hands every manually set cell back to automatic balancing
func (monitor *Monitor) ReleaseCellDischarge() {
	monitor.settingsMu.Lock()
	defer monitor.settingsMu.Unlock()
	monitor.pending = append(monitor.pending, dischargeCommand{device: -1})
}

// Run calls Cycle every period until the context is cancelled
func (monitor *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(monitor.config.Period)
	defer ticker.Stop()
	for {
		monitor.Cycle()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cycle samples the chain, aggregates the faults, drives the fault output, balances and publishes the result.
// Driver errors are logged, the faults they leave behind are reported through the telemetry.
func (monitor *Monitor) Cycle() {
	chain := monitor.chain
	openWireDue := monitor.cycle%uint64(monitor.config.OpenWireInterval) == 0
	selfTestDue := monitor.cycle%uint64(monitor.config.SelfTestInterval) == 0

	chain.ClearState()
	monitor.report("sample cells", chain.SampleCells())
	monitor.report("sample status", chain.SampleStatus())
	monitor.report("sample cell voltage faults", chain.SampleCellVoltageFaults())
	monitor.report("sample gpio", chain.SampleGpio())
	if openWireDue {
		err := chain.OpenWireTest()
		monitor.report("open wire test", err)
		monitor.latchOpenWire(err)
	}
	if selfTestDue {
		err := chain.SelfTest()
		monitor.report("self test", err)
		monitor.latchSelfTest(err)
	}

	current, currentValid := monitor.sampleCurrent()
	shutdownLoopClosed, prechargeComplete := monitor.readInputs()

	devices := monitor.overlayLatched(chain.Devices())
	faults := monitor.aggregate(devices)
	charging := currentValid && current < -monitor.config.ChargingCurrent

	balancing := monitor.balance(devices, faults.Bms, charging)
	monitor.report("write config", chain.WriteConfig())
	devices = monitor.overlayLatched(chain.Devices())

	if monitor.config.FaultOutput != nil {
		if err := monitor.config.FaultOutput.SetFault(faults.Bms); err != nil {
			monitor.log.Errorf("set fault output - %v", err)
		}
	}

	telemetry := Telemetry{
		Time:               time.Now(),
		Cycle:              monitor.cycle,
		ChainState:         chain.State(),
		Devices:            devices,
		PackCurrent:        current,
		CurrentValid:       currentValid,
		Charging:           charging,
		Balancing:          balancing,
		ShutdownLoopClosed: shutdownLoopClosed,
		PrechargeComplete:  prechargeComplete,
		Faults:             faults,
	}
	for _, device := range devices {
		telemetry.PackVoltage += device.CellVoltageSum
	}
	monitor.temperatures(&telemetry)

	monitor.mu.Lock()
	monitor.telemetry = telemetry
	monitor.mu.Unlock()

	if monitor.config.Publisher != nil {
		for _, frame := range Frames(&telemetry) {
			if err := monitor.config.Publisher.Publish(frame); err != nil {
				monitor.log.Warnf("publish CAN frame %03x - %v", frame.ID, err)
				break
			}
		}
	}
	if monitor.config.Recorder != nil && monitor.cycle%uint64(monitor.config.RecordEvery) == 0 {
		if err := monitor.config.Recorder.Record(devices); err != nil {
			monitor.log.Errorf("record - %v", err)
		}
	}
	monitor.cycle++
}

func (monitor *Monitor) report(op string, err error) {
	if err == nil {
		return
	}
	if code := LTC6811.CodeOf(err); code == LTC6811.PecMismatch {
		monitor.log.Warnf("%s - %v", op, err)
	} else {
		monitor.log.Errorf("%s - %v", op, err)
	}
}

// Keep the open wire result of every device that was read. A device that could not be read keeps its last result.
func (monitor *Monitor) latchOpenWire(err error) {
	if err != nil && LTC6811.CodeOf(err) != LTC6811.PecMismatch {
		return
	}
	for i, device := range monitor.chain.Devices() {
		if device.State != LTC6811.PecError {
			monitor.openWire[i] = device.OpenWireFaults
		}
	}
}

func (monitor *Monitor) latchSelfTest(err error) {
	if err != nil && LTC6811.CodeOf(err) != LTC6811.PecMismatch {
		return
	}
	for i, device := range monitor.chain.Devices() {
		if device.State != LTC6811.PecError {
			monitor.selfTestFault[i] = device.State == LTC6811.SelfTestFault
		}
	}
}

func (monitor *Monitor) overlayLatched(devices []LTC6811.Device) []LTC6811.Device {
	for i := range devices {
		device := &devices[i]
		device.OpenWireFaults = monitor.openWire[i]
		if device.State == LTC6811.PecError {
			continue
		}
		for _, open := range device.OpenWireFaults {
			if open && device.State < LTC6811.CellFault {
				device.State = LTC6811.CellFault
			}
		}
		if monitor.selfTestFault[i] && device.State < LTC6811.SelfTestFault {
			device.State = LTC6811.SelfTestFault
		}
	}
	return devices
}

func (monitor *Monitor) aggregate(devices []LTC6811.Device) Faults {
	chain := monitor.chain
	faults := Faults{
		Undervoltage: chain.UndervoltageFault(),
		Overvoltage:  chain.OvervoltageFault(),
		Isospi:       chain.IsospiFault(),
	}
	for i, device := range devices {
		faults.SelfTest = faults.SelfTest || monitor.selfTestFault[i]
		for _, open := range device.OpenWireFaults {
			faults.SenseLine = faults.SenseLine || open
		}
		if device.State != LTC6811.PecError && device.DieTemperature > monitor.config.DieTemperatureMax && monitor.config.DieTemperatureMax > 0 {
			faults.Overtemperature = true
		}
	}
	for _, row := range monitor.config.Thermistors {
		for _, thermistor := range row {
			if thermistor == nil {
				continue
			}
			faults.Undertemperature = faults.Undertemperature || thermistor.UndertemperatureFault()
			faults.Overtemperature = faults.Overtemperature || thermistor.OvertemperatureFault()
		}
	}
	faults.Bms = faults.any()
	return faults
}

func (monitor *Monitor) sampleCurrent() (float32, bool) {
	for _, channel := range monitor.config.CurrentChannels {
		sample, err := channel.Source.ReadSample()
		if err != nil {
			monitor.log.Warnf("read current sensor - %v", err)
			channel.Sensor.Fail()
			continue
		}
		channel.Sensor.Update(sample)
	}
	if monitor.config.Current == nil {
		return 0, false
	}
	amps, state := monitor.config.Current.Value()
	return amps, state == AnalogSensor.Valid
}

func (monitor *Monitor) readInputs() (bool, bool) {
	if monitor.config.Inputs == nil {
		return false, false
	}
	shutdownLoopClosed, prechargeComplete, err := monitor.config.Inputs.Inputs()
	if err != nil {
		monitor.log.Warnf("read status inputs - %v", err)
		return false, false
	}
	return shutdownLoopClosed, prechargeComplete
}

func (monitor *Monitor) temperatures(telemetry *Telemetry) {
	n := len(monitor.config.Thermistors)
	telemetry.Temperatures = make([][LTC6811.GpioCount]float32, n)
	telemetry.TemperatureStates = make([][LTC6811.GpioCount]AnalogSensor.State, n)
	telemetry.UndertemperatureFaults = make([]bool, n)
	telemetry.OvertemperatureFaults = make([]bool, n)
	for device, row := range monitor.config.Thermistors {
		for gpio, thermistor := range row {
			if thermistor == nil {
				telemetry.TemperatureStates[device][gpio] = AnalogSensor.Failed
				continue
			}
			telemetry.Temperatures[device][gpio], telemetry.TemperatureStates[device][gpio] = thermistor.Temperature()
			telemetry.UndertemperatureFaults[device] = telemetry.UndertemperatureFaults[device] || thermistor.UndertemperatureFault()
			telemetry.OvertemperatureFaults[device] = telemetry.OvertemperatureFaults[device] || thermistor.OvertemperatureFault()
		}
	}
}
