package BmsCanMessages

import (
	"encoding/binary"

	"github.com/brutella/can"
)

// SenseLineStatus carries the open wire masks (13 bits) of four devices, index*4 to index*4+3.
type SenseLineStatus struct {
	Index uint16
	Masks [4]uint16
}

func NewSenseLineStatus(index uint16, masks [4]uint16) *SenseLineStatus {
	return &SenseLineStatus{Index: index, Masks: masks}
}

func (senseLineStatus *SenseLineStatus) Frame() can.Frame {
	return maskFrame(SENSE_LINE_STATUS_BASE_ID+senseLineStatus.Index, senseLineStatus.Masks, 0x1FFF)
}

// Balancing carries the discharge masks (12 bits) of four devices, index*4 to index*4+3.
type Balancing struct {
	Index uint16
	Masks [4]uint16
}

func NewBalancing(index uint16, masks [4]uint16) *Balancing {
	return &Balancing{Index: index, Masks: masks}
}

func (balancing *Balancing) Frame() can.Frame {
	return maskFrame(BALANCING_MESSAGE_BASE_ID+balancing.Index, balancing.Masks, 0x0FFF)
}

func maskFrame(id uint16, masks [4]uint16, valid uint16) can.Frame {
	frame := can.Frame{ID: uint32(id), Length: 8}
	for i, mask := range masks {
		binary.LittleEndian.PutUint16(frame.Data[i*2:], mask&valid)
	}
	return frame
}

// Mask packs a slice of flags into a word, flag i at bit i
func Mask(flags []bool) uint16 {
	var mask uint16
	for i, set := range flags {
		if set && i < 16 {
			mask |= 1 << i
		}
	}
	return mask
}
