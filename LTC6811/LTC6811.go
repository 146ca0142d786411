package LTC6811

import (
	"encoding/binary"
	"fmt"
	"math"

	"go.uber.org/multierr"
)

// Configuration register A, byte 0
const GPIO_PULL_DOWN_OFF = 0xF8 // GPIO1-5 pull downs off so the pins read as analogue inputs
const REF_ON = 0x04             // Keep the reference powered between conversions
const ADC_OPTION_0 = 0x00

const voltsPerCode = 0.0001          // 100uV per LSB
const thresholdVoltsPerCode = 0.0016 // 16 * 100uV per VUV/VOV LSB
const ratiometricFullScale = 30000

// DaisyChain is a chain of LTC6811-1 devices sharing one SPI bus. It is not safe for concurrent use, a single
// sampling task owns it.
type DaisyChain struct {
	bus         Bus
	config      Config
	deviceCount int
	order       []int // Physical slot to logical device
	devices     []Device
	state       ChainState
	rx          []byte           // Receive buffer for a whole chain read
	null        [BufferSize]byte // Transmitted while reading
	discard     [BufferSize]byte // Received while writing
}

// New validates the configuration and builds the chain. Nothing is sent on the bus.
func New(config Config) (*DaisyChain, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	this := new(DaisyChain)
	this.apply(config)
	return this, nil
}

// Init builds the chain, writes the configuration to every device and takes a first cell voltage sample.
// The chain is returned even when the write or sample fails so the caller can inspect its state.
func Init(config Config) (*DaisyChain, error) {
	this, err := New(config)
	if err != nil {
		return nil, err
	}
	if err := this.WriteConfig(); err != nil {
		return this, err
	}
	return this, this.SampleCells()
}

// Reconfigure replaces the configuration, resets every device in place and writes the new configuration.
func (this *DaisyChain) Reconfigure(config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	this.apply(config)
	return this.WriteConfig()
}

func (this *DaisyChain) apply(config Config) {
	this.config = config
	this.bus = config.Bus
	this.deviceCount = config.DeviceCount
	this.order = make([]int, config.DeviceCount)
	for slot := range this.order {
		if config.ChainOrder != nil {
			this.order[slot] = config.ChainOrder[slot]
		} else {
			this.order[slot] = slot
		}
	}
	if len(this.devices) != config.DeviceCount {
		this.devices = make([]Device, config.DeviceCount)
		this.rx = make([]byte, config.DeviceCount*BufferSize)
	} else {
		for i := range this.devices {
			this.devices[i] = Device{}
		}
	}
	this.state = ChainReady
}

func (this *DaisyChain) State() ChainState {
	return this.state
}

func (this *DaisyChain) DeviceCount() int {
	return this.deviceCount
}

// Device returns a copy of the logical device's data.
func (this *DaisyChain) Device(device int) Device {
	return this.devices[device]
}

// Devices returns a copy of every device, in logical order.
func (this *DaisyChain) Devices() []Device {
	devices := make([]Device, len(this.devices))
	copy(devices, this.devices)
	return devices
}

// ClearState resets the per cycle fault state of the chain and every device.
func (this *DaisyChain) ClearState() {
	this.state = ChainReady
	for i := range this.devices {
		d := &this.devices[i]
		d.State = Ready
		d.UndervoltageFaults = [CellCount]bool{}
		d.OvervoltageFaults = [CellCount]bool{}
		d.OpenWireFaults = [SenseLineCount]bool{}
	}
}

// Read a list of register groups. Bus faults abort immediately. After a PEC failure the remaining groups are
// still read and decoded for the devices without a PEC error, and the PEC error is returned at the end.
func (this *DaisyChain) readGroups(commands []uint16, decode func(device *Device, group int)) error {
	var pecErrors error
	for group, command := range commands {
		err := this.ReadRegisterGroups(command)
		if err != nil {
			if CodeOf(err) != PecMismatch {
				return err
			}
			pecErrors = multierr.Append(pecErrors, err)
		}
		for i := range this.devices {
			if this.devices[i].State != PecError {
				decode(&this.devices[i], group)
			}
		}
	}
	return pecErrors
}

// Read cell voltage groups A to D into the array selected by target
func (this *DaisyChain) readCellVoltages(target func(device *Device) *[CellCount]float32) error {
	return this.readGroups([]uint16{RDCVA, RDCVB, RDCVC, RDCVD}, func(device *Device, group int) {
		cells := target(device)
		for k := 0; k < 3; k++ {
			cells[group*3+k] = DecodeCellVoltage(binary.LittleEndian.Uint16(device.Rx[k*2:]))
		}
	})
}

// SampleCells converts and reads all twelve cell voltages of every device.
func (this *DaisyChain) SampleCells() error {
	if err := this.Wakeup(); err != nil {
		return err
	}
	mode := this.config.CellAdcMode
	if err := this.convert(ADCV(mode, false, CH_ALL), cellConversion, mode); err != nil {
		return err
	}
	return this.readCellVoltages(func(device *Device) *[CellCount]float32 { return &device.CellVoltages })
}

// SampleGpio converts and reads GPIO 1-5 and the second reference of every device, then passes each sample
// to the sensor registered for its channel. If anything fails every registered sensor is failed.
func (this *DaisyChain) SampleGpio() (err error) {
	defer func() {
		if err != nil {
			this.failSensors()
		}
	}()

	if err = this.Wakeup(); err != nil {
		return err
	}
	mode := this.config.GpioAdcMode
	if err = this.convert(ADAX(mode, CHG_ALL), gpioConversion, mode); err != nil {
		return err
	}
	err = this.readGroups([]uint16{RDAUXA, RDAUXB}, func(device *Device, group int) {
		for k := 0; k < 3; k++ {
			word := binary.LittleEndian.Uint16(device.Rx[k*2:])
			if group == 1 && k == 2 {
				device.Vref2 = word
			} else {
				device.GpioSamples[group*3+k] = word
			}
		}
	})
	if err != nil {
		return err
	}

	for i := range this.devices {
		device := &this.devices[i]
		for gpio := 0; gpio < GpioCount; gpio++ {
			sensor := this.sensor(i, gpio)
			if sensor == nil {
				continue
			}
			sample := device.GpioSamples[gpio]
			if this.config.GpioRatiometric[gpio] {
				var ok bool
				if sample, ok = RatiometricSample(sample, device.Vref2); !ok {
					sensor.Fail()
					continue
				}
			}
			sensor.Update(sample)
		}
	}
	return nil
}

func (this *DaisyChain) sensor(device, gpio int) AnalogSensor {
	if device >= len(this.config.Sensors) {
		return nil
	}
	return this.config.Sensors[device][gpio]
}

func (this *DaisyChain) failSensors() {
	for device := range this.config.Sensors {
		for gpio := 0; gpio < GpioCount; gpio++ {
			if sensor := this.sensor(device, gpio); sensor != nil {
				sensor.Fail()
			}
		}
	}
}

// SampleStatus converts and reads the status groups: sum of cells, die temperature, supply voltages,
// revision and thermal shutdown.
func (this *DaisyChain) SampleStatus() error {
	if err := this.Wakeup(); err != nil {
		return err
	}
	mode := this.config.GpioAdcMode
	if err := this.convert(ADSTAT(mode, CHST_ALL), statusConversion, mode); err != nil {
		return err
	}
	return this.readGroups([]uint16{RDSTATA, RDSTATB}, func(device *Device, group int) {
		rx := device.Rx[:]
		if group == 0 {
			device.CellVoltageSum = DecodeCellVoltage(binary.LittleEndian.Uint16(rx[0:])) * 20
			device.DieTemperature = DecodeDieTemperature(binary.LittleEndian.Uint16(rx[2:]))
			device.AnalogSupplyVoltage = DecodeCellVoltage(binary.LittleEndian.Uint16(rx[4:]))
			return
		}
		device.DigitalSupplyVoltage = DecodeCellVoltage(binary.LittleEndian.Uint16(rx[0:]))
		device.Revision = rx[5] >> 4
		device.ThermalShutdown = rx[5]&0x01 != 0
	})
}

// SampleCellVoltageFaults reads the undervoltage and overvoltage comparator flags set by the last cell
// conversion. A device with any flag set is marked CellFault.
func (this *DaisyChain) SampleCellVoltageFaults() error {
	if err := this.Wakeup(); err != nil {
		return err
	}
	return this.readGroups([]uint16{RDSTATB}, func(device *Device, group int) {
		for cell := 0; cell < CellCount; cell++ {
			flags := device.Rx[2+cell/4] >> ((cell % 4) * 2)
			device.UndervoltageFaults[cell] = flags&0x01 != 0
			device.OvervoltageFaults[cell] = flags&0x02 != 0
			if flags&0x03 != 0 {
				device.raise(CellFault)
			}
		}
		device.MuxFail = device.Rx[5]&0x02 != 0
	})
}

// WriteConfig builds configuration register group A for every device from the configured thresholds,
// discharge timeout and discharge requests and writes it to the chain.
func (this *DaisyChain) WriteConfig() error {
	if err := this.Wakeup(); err != nil {
		return err
	}
	vuv := EncodeUndervoltage(this.config.CellVoltageMin)
	vov := EncodeOvervoltage(this.config.CellVoltageMax)
	for i := range this.devices {
		device := &this.devices[i]
		var dcc uint16
		for cell, on := range device.CellsDischarging {
			if on {
				dcc |= 1 << cell
			}
		}
		device.Tx[0] = GPIO_PULL_DOWN_OFF | REF_ON | ADC_OPTION_0
		device.Tx[1] = byte(vuv)
		device.Tx[2] = byte(vuv>>8)&0x0F | byte(vov<<4)
		device.Tx[3] = byte(vov >> 4)
		device.Tx[4] = byte(dcc)
		device.Tx[5] = byte(dcc>>8)&0x0F | byte(this.config.DischargeTimeout)<<4
	}
	return this.WriteRegisterGroups(WRCFGA)
}

// SetCellDischarging requests a cell's discharge switch on or off. It takes effect at the next WriteConfig.
func (this *DaisyChain) SetCellDischarging(device, cell int, on bool) error {
	if device < 0 || device >= this.deviceCount || cell < 0 || cell >= CellCount {
		return newError(InvalidConfig, "set cell discharging", fmt.Errorf("no cell %d on device %d", cell, device))
	}
	this.devices[device].CellsDischarging[cell] = on
	return nil
}

// UndervoltageFault reports whether any device flagged, or measured, a cell below the minimum.
// Devices with a PEC error are ignored, IsospiFault covers them.
func (this *DaisyChain) UndervoltageFault() bool {
	for _, device := range this.devices {
		if device.State == PecError {
			continue
		}
		for cell := 0; cell < CellCount; cell++ {
			if device.UndervoltageFaults[cell] || device.CellVoltages[cell] < this.config.CellVoltageMin {
				return true
			}
		}
	}
	return false
}

func (this *DaisyChain) OvervoltageFault() bool {
	for _, device := range this.devices {
		if device.State == PecError {
			continue
		}
		for cell := 0; cell < CellCount; cell++ {
			if device.OvervoltageFaults[cell] || device.CellVoltages[cell] > this.config.CellVoltageMax {
				return true
			}
		}
	}
	return false
}

// IsospiFault reports a failed chain or any device with a PEC error.
func (this *DaisyChain) IsospiFault() bool {
	if this.state == ChainFailed {
		return true
	}
	for _, device := range this.devices {
		if device.State == PecError {
			return true
		}
	}
	return false
}

func (this *DaisyChain) OpenWireFault() bool {
	for _, device := range this.devices {
		for _, open := range device.OpenWireFaults {
			if open {
				return true
			}
		}
	}
	return false
}

func (this *DaisyChain) SelfTestFault() bool {
	for _, device := range this.devices {
		if device.State == SelfTestFault {
			return true
		}
	}
	return false
}

// DecodeCellVoltage converts a cell or supply voltage code (100uV per LSB) to volts.
func DecodeCellVoltage(code uint16) float32 {
	return float32(code) * voltsPerCode
}

// DecodeDieTemperature converts an ITMP code to degrees C.
func DecodeDieTemperature(code uint16) float32 {
	return float32(code)*voltsPerCode/0.0075 - 273
}

// EncodeUndervoltage returns the 12 bit VUV code. The comparator trips when a cell is below (VUV + 1) * 1.6mV.
func EncodeUndervoltage(volts float32) uint16 {
	code := thresholdCode(volts)
	if code == 0 {
		return 0
	}
	return code - 1
}

// EncodeOvervoltage returns the 12 bit VOV code. The comparator trips when a cell is above VOV * 1.6mV.
func EncodeOvervoltage(volts float32) uint16 {
	return thresholdCode(volts)
}

func thresholdCode(volts float32) uint16 {
	if volts <= 0 {
		return 0
	}
	code := math.Round(float64(volts) / thresholdVoltsPerCode)
	if code > 0x0FFF {
		return 0x0FFF
	}
	return uint16(code)
}

// RatiometricSample rescales a GPIO code against the second reference so that a full scale input reads 30000.
// It returns false when there is no reference reading to scale against.
func RatiometricSample(sample, vref2 uint16) (uint16, bool) {
	if vref2 == 0 {
		return 0, false
	}
	scaled := uint32(ratiometricFullScale) * uint32(sample) / uint32(vref2)
	if scaled > math.MaxUint16 {
		scaled = math.MaxUint16
	}
	return uint16(scaled), true
}
