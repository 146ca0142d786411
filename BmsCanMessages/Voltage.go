package BmsCanMessages

import "github.com/brutella/can"

// Voltage carries six cell voltages of one device. Each device sends two, index 2*device for cells 1-6
// and 2*device+1 for cells 7-12.
type Voltage struct {
	Index        uint16
	Volts        [6]float32
	Undervoltage bool
	Overvoltage  bool
}

func NewVoltage(index uint16, volts [6]float32, undervoltage bool, overvoltage bool) *Voltage {
	return &Voltage{Index: index, Volts: volts, Undervoltage: undervoltage, Overvoltage: overvoltage}
}

func (voltage *Voltage) Frame() can.Frame {
	frame := can.Frame{ID: uint32(VOLTAGE_MESSAGE_BASE_ID + voltage.Index), Length: 8}
	var words [6]uint16
	for i, v := range voltage.Volts {
		words[i] = CellVoltageToWord(v)
	}
	packTenBit(words, &frame.Data)
	frame.Data[7] |= boolByte(voltage.Overvoltage)<<5 | boolByte(voltage.Undervoltage)<<4
	return frame
}
