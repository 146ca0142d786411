package LTC6811

import (
	"encoding/binary"
	"fmt"
	"time"

	"BatteryMonitor6811/PEC"

	"go.uber.org/multierr"
)

// Outcome of one pass over the bus
type transferResult uint8

const (
	transferOK transferResult = iota
	transferBusFault
	transferPecFault
)

// Build the 4 byte command frame, command word followed by its PEC, both MSB first
func commandFrame(command uint16) [commandSize]byte {
	var frame [commandSize]byte
	binary.BigEndian.PutUint16(frame[0:], command)
	PEC.Put(frame[:])
	return frame
}

// Wakeup sends one wake pulse per device so every device in the chain is ready regardless of its prior state.
// A sleeping device absorbs the first pulse it sees, so N pulses are always needed.
func (this *DaisyChain) Wakeup() error {
	this.bus.Lock()
	defer this.bus.Unlock()
	for i := 0; i < this.deviceCount; i++ {
		if err := this.bus.Start(); err != nil {
			return this.busFault("wakeup", err)
		}
		time.Sleep(wakePulse)
		if err := this.bus.Stop(); err != nil {
			return this.busFault("wakeup", err)
		}
		time.Sleep(readySettle)
	}
	return nil
}

// Mark the chain failed and wrap a transfer error
func (this *DaisyChain) busFault(op string, err error) error {
	this.state = ChainFailed
	return newError(BusFault, op, err)
}

// WriteCommand sends a command with no payload.
func (this *DaisyChain) WriteCommand(command uint16) error {
	this.bus.Lock()
	defer this.bus.Unlock()
	if result, err := this.transfer(command, nil, nil); result != transferOK {
		return this.busFault(fmt.Sprintf("write command %03X", command), err)
	}
	return nil
}

// WriteRegisterGroups sends the command followed by each device's Tx payload. The PEC of every payload is
// recalculated. The frame for the last device in the chain goes first.
func (this *DaisyChain) WriteRegisterGroups(command uint16) error {
	for slot := this.deviceCount - 1; slot >= 0; slot-- {
		PEC.Put(this.devices[this.order[slot]].Tx[:])
	}

	this.bus.Lock()
	defer this.bus.Unlock()
	write := func(frame int) []byte {
		// The first frame shifted out travels to the far end of the chain
		slot := this.deviceCount - 1 - frame
		return this.devices[this.order[slot]].Tx[:]
	}
	if result, err := this.transfer(command, write, nil); result != transferOK {
		return this.busFault(fmt.Sprintf("write register groups %03X", command), err)
	}
	return nil
}

// ReadRegisterGroups sends the command and reads one frame from each device, device at slot 0 first.
// If any frame fails its PEC check the whole read is repeated, up to ReadAttemptCount times. When the attempts
// are exhausted the devices whose frames were bad are marked PecError, the chain is marked failed and the rest
// keep the data they returned.
func (this *DaisyChain) ReadRegisterGroups(command uint16) error {
	op := fmt.Sprintf("read register groups %03X", command)
	for attempt := 1; ; attempt++ {
		result, bad, err := this.readOnce(command)
		switch result {
		case transferOK:
			this.acceptFrames(nil)
			return nil
		case transferBusFault:
			return this.busFault(op, err)
		case transferPecFault:
			if attempt < this.config.ReadAttemptCount {
				continue
			}
			this.acceptFrames(bad)
			this.state = ChainFailed
			var errs error
			for _, slot := range bad {
				this.devices[this.order[slot]].State = PecError
				errs = multierr.Append(errs, fmt.Errorf("device %d (slot %d)", this.order[slot], slot))
			}
			return newError(PecMismatch, op, errs)
		}
	}
}

// One read transaction into the chain receive buffer. Returns the slots whose frames failed verification.
func (this *DaisyChain) readOnce(command uint16) (transferResult, []int, error) {
	this.bus.Lock()
	defer this.bus.Unlock()

	read := func(frames int) []byte {
		return this.rx[frames*BufferSize : (frames+1)*BufferSize]
	}
	if result, err := this.transfer(command, nil, read); result != transferOK {
		return result, nil, err
	}

	var bad []int
	for slot := 0; slot < this.deviceCount; slot++ {
		if !PEC.Check(this.rx[slot*BufferSize : (slot+1)*BufferSize]) {
			bad = append(bad, slot)
		}
	}
	if len(bad) > 0 {
		return transferPecFault, bad, nil
	}
	return transferOK, nil, nil
}

// Copy the frames in the chain receive buffer into each device's Rx, skipping the given slots
func (this *DaisyChain) acceptFrames(skip []int) {
	for slot := 0; slot < this.deviceCount; slot++ {
		skipped := false
		for _, s := range skip {
			if s == slot {
				skipped = true
				break
			}
		}
		if !skipped {
			copy(this.devices[this.order[slot]].Rx[:], this.rx[slot*BufferSize:(slot+1)*BufferSize])
		}
	}
}

// Run one transaction with the bus already locked: chip select, command frame, then one frame per device.
// write supplies outgoing frames, read supplies buffers for incoming frames. Either may be nil.
func (this *DaisyChain) transfer(command uint16, write func(frame int) []byte, read func(frame int) []byte) (transferResult, error) {
	if err := this.bus.Start(); err != nil {
		return transferBusFault, err
	}
	cmd := commandFrame(command)
	err := this.bus.Exchange(cmd[:], this.discard[:commandSize])
	if write != nil || read != nil {
		for frame := 0; frame < this.deviceCount && err == nil; frame++ {
			tx, rx := this.null[:], this.discard[:]
			if write != nil {
				tx = write(frame)
			}
			if read != nil {
				rx = read(frame)
			}
			err = this.bus.Exchange(tx, rx)
		}
	}
	if stopErr := this.bus.Stop(); err == nil {
		err = stopErr
	}
	if err != nil {
		return transferBusFault, err
	}
	return transferOK, nil
}

// Send PLADC and wait for the chain to release MISO. A timeout marks the chain failed.
func (this *DaisyChain) pollAdc(timeout time.Duration) error {
	this.bus.Lock()
	defer this.bus.Unlock()

	if err := this.bus.Start(); err != nil {
		return this.busFault("poll ADC", err)
	}
	cmd := commandFrame(PLADC)
	err := this.bus.Exchange(cmd[:], this.discard[:commandSize])
	ready := err == nil && this.bus.WaitReady(timeout)
	if stopErr := this.bus.Stop(); err == nil {
		err = stopErr
	}
	if err != nil {
		return this.busFault("poll ADC", err)
	}
	if !ready {
		this.state = ChainFailed
		return newError(ConversionTimeout, "poll ADC", fmt.Errorf("no response after %v", timeout))
	}
	return nil
}

// Start a conversion and wait for it to complete
func (this *DaisyChain) convert(command uint16, kind conversion, mode AdcMode) error {
	if err := this.WriteCommand(command); err != nil {
		return err
	}
	return this.pollAdc(conversionTimeout(kind, mode))
}
