package BmsCanMessages

import (
	"encoding/binary"

	"github.com/brutella/can"
)

// Status is the BMS fault and state summary. IsospiFaults and SelfTestFaults carry one bit per device.
type Status struct {
	Undervoltage       bool
	Overvoltage        bool
	Undertemperature   bool
	Overtemperature    bool
	SenseLine          bool
	Isospi             bool
	SelfTest           bool
	Charging           bool
	Balancing          bool
	ShutdownLoopClosed bool
	PrechargeComplete  bool
	IsospiFaults       uint16
	SelfTestFaults     uint16
}

func NewStatus(status Status) *Status {
	return &status
}

func (status *Status) Frame() can.Frame {
	frame := can.Frame{ID: STATUS_MESSAGE_ID, Length: 6}
	frame.Data[0] = boolByte(status.Undervoltage) |
		boolByte(status.Overvoltage)<<1 |
		boolByte(status.Undertemperature)<<2 |
		boolByte(status.Overtemperature)<<3 |
		boolByte(status.SenseLine)<<4 |
		boolByte(status.Isospi)<<5 |
		boolByte(status.SelfTest)<<6 |
		boolByte(status.Charging)<<7
	frame.Data[1] = boolByte(status.Balancing) |
		boolByte(status.ShutdownLoopClosed)<<1 |
		boolByte(status.PrechargeComplete)<<2
	binary.LittleEndian.PutUint16(frame.Data[2:], status.IsospiFaults)
	binary.LittleEndian.PutUint16(frame.Data[4:], status.SelfTestFaults)
	return frame
}
