package AnalogSensor

import "sync"

// LinearSensor maps a sample to a physical value as (sample - offset) * sensitivity. Samples outside
// SampleMin..SampleMax are invalid.
type LinearSensor struct {
	SampleMin    uint16
	SampleMax    uint16
	SampleOffset float32
	Sensitivity  float32

	mu     sync.Mutex
	state  State
	sample uint16
	value  float32
}

func NewLinearSensor(sampleMin, sampleMax uint16, offset, sensitivity float32) *LinearSensor {
	return &LinearSensor{SampleMin: sampleMin, SampleMax: sampleMax, SampleOffset: offset, Sensitivity: sensitivity, state: Failed}
}

func (linearSensor *LinearSensor) Update(sample uint16) {
	linearSensor.mu.Lock()
	defer linearSensor.mu.Unlock()
	linearSensor.sample = sample
	if sample < linearSensor.SampleMin || sample > linearSensor.SampleMax {
		linearSensor.state = SampleInvalid
		linearSensor.value = 0
		return
	}
	linearSensor.state = Valid
	linearSensor.value = (float32(sample) - linearSensor.SampleOffset) * linearSensor.Sensitivity
}

func (linearSensor *LinearSensor) Fail() {
	linearSensor.mu.Lock()
	defer linearSensor.mu.Unlock()
	linearSensor.state = Failed
	linearSensor.value = 0
}

func (linearSensor *LinearSensor) Value() (float32, State) {
	linearSensor.mu.Lock()
	defer linearSensor.mu.Unlock()
	return linearSensor.value, linearSensor.state
}

// DualRangeSensor combines the two channels of a dual range current sensor. The fine channel is used
// until its reading reaches the saturation limit, then the coarse channel.
type DualRangeSensor struct {
	Fine            *LinearSensor
	Coarse          *LinearSensor
	SaturationLimit float32
}

func (dualRangeSensor *DualRangeSensor) Value() (float32, State) {
	fine, fineState := dualRangeSensor.Fine.Value()
	if fineState == Valid && fine <= dualRangeSensor.SaturationLimit && fine >= -dualRangeSensor.SaturationLimit {
		return fine, Valid
	}
	coarse, coarseState := dualRangeSensor.Coarse.Value()
	if coarseState != Valid && fineState == Valid {
		return fine, Valid
	}
	return coarse, coarseState
}
