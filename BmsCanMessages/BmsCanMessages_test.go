package BmsCanMessages

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVoltageFrame(t *testing.T) {
	msg := NewVoltage(3, [6]float32{3.7, 3.6, 3.5, 3.4, 3.3, 4.2}, false, false)
	frame := msg.Frame()
	assert.Equal(t, uint32(0x703), frame.ID)
	assert.Equal(t, uint8(8), frame.Length)
	assert.Equal(t, [8]uint8{0xD9, 0x31, 0x07, 0xDC, 0x6C, 0xA6, 0x65, 0x08}, frame.Data)

	msg.Overvoltage = true
	assert.Equal(t, uint8(0x28), msg.Frame().Data[7])
	msg.Overvoltage, msg.Undervoltage = false, true
	assert.Equal(t, uint8(0x18), msg.Frame().Data[7])
}

func TestTemperatureFrame(t *testing.T) {
	frame := NewTemperature(1, [5]float32{25, -20, 60, 0, 150}, true, false).Frame()
	assert.Equal(t, uint32(0x719), frame.ID)
	assert.Equal(t, [8]uint8{0x30, 0x08, 0x56, 0x60, 0x0A, 0x6A, 0xFF, 0x1F}, frame.Data)
}

func TestLtcTemperatureFrame(t *testing.T) {
	frame := NewLtcTemperature(0, []float32{25, 30, 100, -28}).Frame()
	assert.Equal(t, uint32(0x754), frame.ID)
	assert.Equal(t, [8]uint8{0xA8, 0x41, 0xF7, 0x3F, 0, 0, 0, 0}, frame.Data)
}

func TestStatusFrame(t *testing.T) {
	frame := NewStatus(Status{
		Overvoltage:        true,
		Isospi:             true,
		Charging:           true,
		ShutdownLoopClosed: true,
		IsospiFaults:       0x0102,
		SelfTestFaults:     0x8000,
	}).Frame()
	assert.Equal(t, uint32(STATUS_MESSAGE_ID), frame.ID)
	assert.Equal(t, uint8(6), frame.Length)
	assert.Equal(t, [8]uint8{0xA2, 0x02, 0x02, 0x01, 0x00, 0x80, 0, 0}, frame.Data)
}

func TestMaskFrames(t *testing.T) {
	open := make([]bool, 13)
	open[0], open[12] = true, true
	frame := NewSenseLineStatus(1, [4]uint16{Mask(open), 0, 0xFFFF, 0x0004}).Frame()
	assert.Equal(t, uint32(0x725), frame.ID)
	assert.Equal(t, [8]uint8{0x01, 0x10, 0, 0, 0xFF, 0x1F, 0x04, 0}, frame.Data)

	frame = NewBalancing(0, [4]uint16{0xFFFF, 0x0801}).Frame()
	assert.Equal(t, uint32(0x729), frame.ID)
	assert.Equal(t, [8]uint8{0xFF, 0x0F, 0x01, 0x08, 0, 0, 0, 0}, frame.Data)
}

func TestPowerFrame(t *testing.T) {
	frame := NewPower(400, -100).Frame()
	assert.Equal(t, uint32(0x728), frame.ID)
	assert.Equal(t, uint8(4), frame.Length)
	assert.Equal(t, [8]uint8{0x00, 0x7D, 0x86, 0xEB, 0, 0, 0, 0}, frame.Data)
}

func TestWordClamping(t *testing.T) {
	assert.Equal(t, uint16(0), CellVoltageToWord(-1))
	assert.Equal(t, uint16(1023), CellVoltageToWord(9))
	assert.Equal(t, uint16(0), CellTemperatureToWord(-200))
	assert.Equal(t, uint16(65535), PackVoltageToWord(1000))
	assert.Equal(t, int16(32767), PackCurrentToWord(700))
	assert.Equal(t, int16(-32768), PackCurrentToWord(-700))
}
