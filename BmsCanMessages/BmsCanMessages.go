package BmsCanMessages

import "math"

// Message IDs
const STATUS_MESSAGE_ID = 0x727
const VOLTAGE_MESSAGE_BASE_ID = 0x700
const TEMPERATURE_MESSAGE_BASE_ID = 0x718
const SENSE_LINE_STATUS_BASE_ID = 0x724
const POWER_MESSAGE_ID = 0x728
const BALANCING_MESSAGE_BASE_ID = 0x729
const LTC_TEMPERATURE_MESSAGE_BASE_ID = 0x754

// Scaling
const cellVoltageFactor = 1024.0 / 8.0       // 10 bit word, 0 - 8V
const cellTemperatureFactor = 4096.0 / 256.0 // 12 bit word, -106 - 150C
const cellTemperatureOffset = -106.0
const ltcTemperatureFactor = 1024.0 / 128.0 // 10 bit word, -28 - 100C
const ltcTemperatureOffset = -28.0
const packVoltageFactor = 65536.0 / 819.2
const packCurrentFactor = 32768.0 / 625.0

// Scale a value into an unsigned word of the given width, clamping at both ends
func toWord(value float64, bits uint) uint16 {
	limit := float64(uint32(1)<<bits - 1)
	if math.IsNaN(value) || value < 0 {
		return 0
	}
	if value > limit {
		return uint16(limit)
	}
	return uint16(value)
}

func CellVoltageToWord(volts float32) uint16 {
	return toWord(float64(volts)*cellVoltageFactor, 10)
}

func CellTemperatureToWord(celsius float32) uint16 {
	return toWord((float64(celsius)-cellTemperatureOffset)*cellTemperatureFactor, 12)
}

func LtcTemperatureToWord(celsius float32) uint16 {
	return toWord((float64(celsius)-ltcTemperatureOffset)*ltcTemperatureFactor, 10)
}

func PackVoltageToWord(volts float32) uint16 {
	return toWord(float64(volts)*packVoltageFactor, 16)
}

func PackCurrentToWord(amps float32) int16 {
	value := float64(amps) * packCurrentFactor
	if value > math.MaxInt16 {
		return math.MaxInt16
	}
	if value < math.MinInt16 {
		return math.MinInt16
	}
	return int16(value)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Pack six 10 bit words into the first 7.5 bytes of a frame
func packTenBit(words [6]uint16, data *[8]byte) {
	data[0] = byte(words[0])
	data[1] = byte(words[1]<<2) | byte(words[0]>>8)&0x03
	data[2] = byte(words[2]<<4) | byte(words[1]>>6)&0x0F
	data[3] = byte(words[3]<<6) | byte(words[2]>>4)&0x3F
	data[4] = byte(words[3] >> 2)
	data[5] = byte(words[4])
	data[6] = byte(words[5]<<2) | byte(words[4]>>8)&0x03
	data[7] = byte(words[5]>>6) & 0x0F
}
