package AnalogSensor

import (
	"math"
	"sync"
)

const BCOEFFICIENT = 3950.0 // B coefficient of the pack thermistors
const fullScale = 30000.0   // Ratiometric code for the full 3V reference
const inverseT0 = 0.003354  // 1/298.15K

// Thermistor converts a ratiometric GPIO sample to degrees C using the B coefficient equation and checks
// it against the under and over temperature limits. It is updated by the sampling task and read by others.
type Thermistor struct {
	BCoefficient   float64
	SampleMin      uint16
	SampleMax      uint16
	TemperatureMin float32
	TemperatureMax float32

	mu          sync.Mutex
	state       State
	sample      uint16
	temperature float32
}

// NewThermistor returns a thermistor with the sample window 100 to 28000 used for the 10k NTC divider.
// It starts in the Failed state until the first sample arrives.
func NewThermistor(bCoefficient float64, temperatureMin float32, temperatureMax float32) *Thermistor {
	return &Thermistor{
		BCoefficient:   bCoefficient,
		SampleMin:      100,
		SampleMax:      28000,
		TemperatureMin: temperatureMin,
		TemperatureMax: temperatureMax,
		state:          Failed,
	}
}

func (thermistor *Thermistor) Update(sample uint16) {
	thermistor.mu.Lock()
	defer thermistor.mu.Unlock()
	thermistor.sample = sample
	if sample < thermistor.SampleMin || sample > thermistor.SampleMax || sample >= fullScale {
		thermistor.state = SampleInvalid
		thermistor.temperature = 0
		return
	}
	thermistor.state = Valid
	thermistor.temperature = CalculateTemperature(sample, thermistor.BCoefficient)
}

func (thermistor *Thermistor) Fail() {
	thermistor.mu.Lock()
	defer thermistor.mu.Unlock()
	thermistor.state = Failed
	thermistor.temperature = 0
}

// Temperature returns the last temperature and the state it was measured in. The temperature is only
// meaningful when the state is Valid.
func (thermistor *Thermistor) Temperature() (float32, State) {
	thermistor.mu.Lock()
	defer thermistor.mu.Unlock()
	return thermistor.temperature, thermistor.state
}

func (thermistor *Thermistor) Sample() uint16 {
	thermistor.mu.Lock()
	defer thermistor.mu.Unlock()
	return thermistor.sample
}

// UndertemperatureFault is set below TemperatureMin, and for a sample above the valid window, which is what an
// open thermistor reads.
func (thermistor *Thermistor) UndertemperatureFault() bool {
	thermistor.mu.Lock()
	defer thermistor.mu.Unlock()
	switch thermistor.state {
	case Valid:
		return thermistor.temperature < thermistor.TemperatureMin
	case SampleInvalid:
		return thermistor.sample >= thermistor.SampleMin
	}
	return false
}

// OvertemperatureFault is set above TemperatureMax, and for a sample below the valid window, which is what a
// shorted thermistor reads.
func (thermistor *Thermistor) OvertemperatureFault() bool {
	thermistor.mu.Lock()
	defer thermistor.mu.Unlock()
	switch thermistor.state {
	case Valid:
		return thermistor.temperature > thermistor.TemperatureMax
	case SampleInvalid:
		return thermistor.sample < thermistor.SampleMin
	}
	return false
}

// CalculateTemperature applies the B coefficient equation to a ratiometric sample, rounded to 0.1C.
func CalculateTemperature(sample uint16, bCoefficient float64) float32 {
	ratio := 1 / ((fullScale / float64(sample)) - 1)
	kelvin := 1.0 / ((math.Log(ratio) / bCoefficient) + inverseT0)
	return float32(math.Round((kelvin-273.15)*10) / 10)
}
