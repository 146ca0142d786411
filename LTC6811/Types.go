package LTC6811

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ADC speed modes with ADCOPT = 0
type AdcMode uint8

const (
	Adc422Hz AdcMode = 0b00
	Adc27kHz AdcMode = 0b01
	Adc7kHz  AdcMode = 0b10
	Adc26Hz  AdcMode = 0b11
)

func (m AdcMode) bits() uint16 {
	return uint16(m&0x03) << 7
}

func (m AdcMode) String() string {
	switch m {
	case Adc422Hz:
		return "422Hz"
	case Adc27kHz:
		return "27kHz"
	case Adc7kHz:
		return "7kHz"
	case Adc26Hz:
		return "26Hz"
	}
	return fmt.Sprintf("AdcMode(%d)", uint8(m))
}

// ParseAdcMode accepts the mode names returned by String, ignoring case.
func ParseAdcMode(s string) (AdcMode, error) {
	for _, m := range []AdcMode{Adc422Hz, Adc27kHz, Adc7kHz, Adc26Hz} {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown ADC mode %q", s)
}

// Discharge timeout classes (DCTO)
type DischargeTimeout uint8

const (
	DischargeTimeoutDisabled DischargeTimeout = 0x0
	DischargeTimeout30s      DischargeTimeout = 0x1
	DischargeTimeout1m       DischargeTimeout = 0x2
	DischargeTimeout2m       DischargeTimeout = 0x3
	DischargeTimeout3m       DischargeTimeout = 0x4
	DischargeTimeout4m       DischargeTimeout = 0x5
	DischargeTimeout5m       DischargeTimeout = 0x6
	DischargeTimeout10m      DischargeTimeout = 0x7
	DischargeTimeout15m      DischargeTimeout = 0x8
	DischargeTimeout20m      DischargeTimeout = 0x9
	DischargeTimeout30m      DischargeTimeout = 0xA
	DischargeTimeout40m      DischargeTimeout = 0xB
	DischargeTimeout60m      DischargeTimeout = 0xC
	DischargeTimeout75m      DischargeTimeout = 0xD
	DischargeTimeout90m      DischargeTimeout = 0xE
	DischargeTimeout120m     DischargeTimeout = 0xF
)

// Device state. Higher values take precedence over lower ones.
type DeviceState uint8

const (
	Ready DeviceState = iota
	CellFault
	SelfTestFault
	PecError
)

func (s DeviceState) String() string {
	switch s {
	case Ready:
		return "ready"
	case CellFault:
		return "cell fault"
	case SelfTestFault:
		return "self test fault"
	case PecError:
		return "PEC error"
	}
	return fmt.Sprintf("DeviceState(%d)", uint8(s))
}

type ChainState uint8

const (
	ChainFailed ChainState = iota
	ChainReady
)

func (s ChainState) String() string {
	switch s {
	case ChainFailed:
		return "failed"
	case ChainReady:
		return "ready"
	}
	return fmt.Sprintf("ChainState(%d)", uint8(s))
}

// Device holds everything sampled from one LTC6811 in the chain plus the last register group exchanged with it.
// Voltages are in volts, temperatures in degrees C.
type Device struct {
	State                DeviceState
	CellVoltages         [CellCount]float32
	CellVoltagesPullup   [CellCount]float32
	CellVoltagesPulldown [CellCount]float32
	CellVoltagesDelta    [CellCount]float32
	CellsDischarging     [CellCount]bool
	OvervoltageFaults    [CellCount]bool
	UndervoltageFaults   [CellCount]bool
	OpenWireFaults       [SenseLineCount]bool
	CellVoltageSum       float32
	DieTemperature       float32
	AnalogSupplyVoltage  float32
	DigitalSupplyVoltage float32
	Revision             uint8
	MuxFail              bool
	ThermalShutdown      bool
	GpioSamples          [GpioCount]uint16
	Vref2                uint16
	Tx                   [BufferSize]byte
	Rx                   [BufferSize]byte
}

// Raise the device state. A state never drops back to one of lower precedence until ClearState.
func (d *Device) raise(s DeviceState) {
	if s > d.State {
		d.State = s
	}
}

// AnalogSensor is the capability an external sensor registers against a GPIO channel.
// Update receives the (possibly ratiometric) sample code, Fail is called when no valid sample is available.
type AnalogSensor interface {
	Update(sample uint16)
	Fail()
}

// Bus is the SPI bus the daisy chain is connected to. Lock/Unlock serialise access between bus users,
// Start/Stop drive chip select, Exchange performs one full duplex transfer and WaitReady blocks until the
// chain releases MISO (conversion complete) or the timeout expires.
type Bus interface {
	sync.Locker
	Start() error
	Stop() error
	Exchange(tx, rx []byte) error
	WaitReady(timeout time.Duration) bool
}

type Config struct {
	Bus                    Bus
	DeviceCount            int                       // Must be even
	ChainOrder             []int                     // ChainOrder[slot] is the logical device wired at physical slot. nil means slot == device.
	CellAdcMode            AdcMode                   // Mode for cell voltage, open wire and self test conversions
	GpioAdcMode            AdcMode                   // Mode for GPIO and status conversions
	ReadAttemptCount       int                       // Attempts at a register group read before PEC errors are reported
	OpenWireTestIterations int                       // ADOW conversions per pull direction
	CellVoltageMin         float32                   // Undervoltage comparator threshold
	CellVoltageMax         float32                   // Overvoltage comparator threshold
	DischargeTimeout       DischargeTimeout          // DCTO
	GpioRatiometric        [GpioCount]bool           // Scale the channel against VREF2
	Sensors                [][GpioCount]AnalogSensor // Sensors[device][gpio], nil entries are skipped
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	const op = "validate config"
	if c.Bus == nil {
		return newError(InvalidConfig, op, fmt.Errorf("no bus"))
	}
	if c.DeviceCount <= 0 || c.DeviceCount%2 != 0 {
		return newError(InvalidConfig, op, fmt.Errorf("device count %d must be a positive even number", c.DeviceCount))
	}
	if c.ChainOrder != nil {
		if len(c.ChainOrder) != c.DeviceCount {
			return newError(InvalidConfig, op, fmt.Errorf("chain order has %d entries for %d devices", len(c.ChainOrder), c.DeviceCount))
		}
		seen := make([]bool, c.DeviceCount)
		for slot, device := range c.ChainOrder {
			if device < 0 || device >= c.DeviceCount || seen[device] {
				return newError(InvalidConfig, op, fmt.Errorf("chain order slot %d holds invalid or repeated device %d", slot, device))
			}
			seen[device] = true
		}
	}
	if c.ReadAttemptCount < 1 {
		return newError(InvalidConfig, op, fmt.Errorf("read attempt count must be at least 1"))
	}
	if c.OpenWireTestIterations < 1 {
		return newError(InvalidConfig, op, fmt.Errorf("open wire test iterations must be at least 1"))
	}
	if c.CellVoltageMin < 0 || c.CellVoltageMax <= c.CellVoltageMin {
		return newError(InvalidConfig, op, fmt.Errorf("cell voltage window %.3f - %.3f is invalid", c.CellVoltageMin, c.CellVoltageMax))
	}
	if c.CellAdcMode > Adc26Hz || c.GpioAdcMode > Adc26Hz {
		return newError(InvalidConfig, op, fmt.Errorf("invalid ADC mode"))
	}
	if c.DischargeTimeout > DischargeTimeout120m {
		return newError(InvalidConfig, op, fmt.Errorf("invalid discharge timeout %d", c.DischargeTimeout))
	}
	if c.Sensors != nil && len(c.Sensors) != c.DeviceCount {
		return newError(InvalidConfig, op, fmt.Errorf("sensor table has %d rows for %d devices", len(c.Sensors), c.DeviceCount))
	}
	return nil
}
