package BmsCanMessages

import (
	"encoding/binary"

	"github.com/brutella/can"
)

// Power carries the pack voltage and current.
type Power struct {
	Volts float32
	Amps  float32
}

func NewPower(volts float32, amps float32) *Power {
	return &Power{Volts: volts, Amps: amps}
}

func (power *Power) Frame() can.Frame {
	frame := can.Frame{ID: POWER_MESSAGE_ID, Length: 4}
	binary.LittleEndian.PutUint16(frame.Data[0:], PackVoltageToWord(power.Volts))
	binary.LittleEndian.PutUint16(frame.Data[2:], uint16(PackCurrentToWord(power.Amps)))
	return frame
}
