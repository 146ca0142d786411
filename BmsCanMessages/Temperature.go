package BmsCanMessages

import "github.com/brutella/can"

// Temperature carries the five thermistor temperatures of one device as 12 bit words.
type Temperature struct {
	Index            uint16
	Celsius          [5]float32
	Undertemperature bool
	Overtemperature  bool
}

func NewTemperature(index uint16, celsius [5]float32, undertemperature bool, overtemperature bool) *Temperature {
	return &Temperature{Index: index, Celsius: celsius, Undertemperature: undertemperature, Overtemperature: overtemperature}
}

func (temperature *Temperature) Frame() can.Frame {
	frame := can.Frame{ID: uint32(TEMPERATURE_MESSAGE_BASE_ID + temperature.Index), Length: 8}
	var words [5]uint16
	for i, t := range temperature.Celsius {
		words[i] = CellTemperatureToWord(t)
	}
	d := &frame.Data
	d[0] = byte(words[0])
	d[1] = byte(words[1]<<4) | byte(words[0]>>8)&0x0F
	d[2] = byte(words[1] >> 4)
	d[3] = byte(words[2])
	d[4] = byte(words[3]<<4) | byte(words[2]>>8)&0x0F
	d[5] = byte(words[3] >> 4)
	d[6] = byte(words[4])
	d[7] = boolByte(temperature.Overtemperature)<<5 | boolByte(temperature.Undertemperature)<<4 | byte(words[4]>>8)&0x0F
	return frame
}

// LtcTemperature carries the die temperatures of six devices, index*6 to index*6+5, as 10 bit words.
// Devices beyond the end of the chain are sent as zero.
type LtcTemperature struct {
	Index   uint16
	Celsius []float32
}

func NewLtcTemperature(index uint16, celsius []float32) *LtcTemperature {
	return &LtcTemperature{Index: index, Celsius: celsius}
}

func (ltcTemperature *LtcTemperature) Frame() can.Frame {
	frame := can.Frame{ID: uint32(LTC_TEMPERATURE_MESSAGE_BASE_ID + ltcTemperature.Index), Length: 8}
	var words [6]uint16
	for i := 0; i < len(words) && i < len(ltcTemperature.Celsius); i++ {
		words[i] = LtcTemperatureToWord(ltcTemperature.Celsius[i])
	}
	packTenBit(words, &frame.Data)
	return frame
}
