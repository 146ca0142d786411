package AnalogSensor

import "fmt"

// State of an analogue sensor after its last update
type State uint8

const (
	Failed        State = iota // No sample could be taken
	SampleInvalid              // The sample was outside the sensor's valid range
	Valid
)

func (s State) String() string {
	switch s {
	case Failed:
		return "failed"
	case SampleInvalid:
		return "sample invalid"
	case Valid:
		return "valid"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}
