package Monitor

import (
	"BatteryMonitor6811/AnalogSensor"
	"BatteryMonitor6811/LTC6811"
	"time"
)

// Faults aggregated over the whole pack
type Faults struct {
	Undervoltage     bool
	Overvoltage      bool
	Undertemperature bool
	Overtemperature  bool
	SenseLine        bool
	Isospi           bool
	SelfTest         bool
	Bms              bool // Any of the above, drives the shutdown loop
}

func (faults Faults) any() bool {
	return faults.Undervoltage || faults.Overvoltage || faults.Undertemperature || faults.Overtemperature ||
		faults.SenseLine || faults.Isospi || faults.SelfTest
}

// Telemetry is a snapshot of one sampling cycle. Devices carry the latched open wire and self test
// results so they stay visible between tests.
type Telemetry struct {
	Time                   time.Time
	Cycle                  uint64
	ChainState             LTC6811.ChainState
	Devices                []LTC6811.Device
	Temperatures           [][LTC6811.GpioCount]float32
	TemperatureStates      [][LTC6811.GpioCount]AnalogSensor.State
	UndertemperatureFaults []bool // Per device, any thermistor below its minimum
	OvertemperatureFaults  []bool // Per device, any thermistor above its maximum
	PackVoltage            float32
	PackCurrent            float32
	CurrentValid           bool
	Charging               bool
	Balancing              bool
	ShutdownLoopClosed     bool
	PrechargeComplete      bool
	Faults                 Faults
}

func (telemetry *Telemetry) clone() Telemetry {
	c := *telemetry
	c.Devices = append([]LTC6811.Device(nil), telemetry.Devices...)
	c.Temperatures = append([][LTC6811.GpioCount]float32(nil), telemetry.Temperatures...)
	c.TemperatureStates = append([][LTC6811.GpioCount]AnalogSensor.State(nil), telemetry.TemperatureStates...)
	c.UndertemperatureFaults = append([]bool(nil), telemetry.UndertemperatureFaults...)
	c.OvertemperatureFaults = append([]bool(nil), telemetry.OvertemperatureFaults...)
	return c
}

// CellVoltageRange returns the lowest and highest cell voltage of the devices that were read without a PEC error
func (telemetry *Telemetry) CellVoltageRange() (lowest float32, highest float32, ok bool) {
	for _, device := range telemetry.Devices {
		if device.State == LTC6811.PecError {
			continue
		}
		for _, v := range device.CellVoltages {
			if !ok || v < lowest {
				lowest = v
			}
			if !ok || v > highest {
				highest = v
			}
			ok = true
		}
	}
	return lowest, highest, ok
}

// Highest valid thermistor temperature
func (telemetry *Telemetry) MaxTemperature() (float32, bool) {
	var highest float32
	found := false
	for device, row := range telemetry.Temperatures {
		for gpio, t := range row {
			if telemetry.TemperatureStates[device][gpio] != AnalogSensor.Valid {
				continue
			}
			if !found || t > highest {
				highest = t
				found = true
			}
		}
	}
	return highest, found
}
