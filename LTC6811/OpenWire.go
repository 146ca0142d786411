package LTC6811

import (
	"go.uber.org/multierr"
)

// A line at either end of the stack is open if it reads within 1mV of zero
const openWireZeroTolerance = 0.001

// Pull up minus pull down threshold for the interior lines
const openWireDeltaThreshold = -0.4

// The datasheet gives -0.4V for the top cell too but boards measure up to -0.8V on a good line there.
// Keep the wider threshold until it is checked against hardware.
const openWireTopDeltaThreshold = -0.8

// OpenWireTest runs OpenWireTestIterations ADOW pull up conversion and read cycles, does the same with the
// pull down current, then evaluates every sense line from the last reading of each. Devices with an open
// line are marked CellFault. A detected open line is data, not an error.
func (this *DaisyChain) OpenWireTest() error {
	if err := this.Wakeup(); err != nil {
		return err
	}
	mode := this.config.CellAdcMode

	var pecErrors error
	for _, pullUp := range []bool{true, false} {
		target := func(device *Device) *[CellCount]float32 {
			if pullUp {
				return &device.CellVoltagesPullup
			}
			return &device.CellVoltagesPulldown
		}
		for i := 0; i < this.config.OpenWireTestIterations; i++ {
			if err := this.convert(ADOW(mode, pullUp, false, CH_ALL), cellConversion, mode); err != nil {
				return err
			}
			err := this.readCellVoltages(target)
			if err != nil && CodeOf(err) != PecMismatch {
				return err
			}
			pecErrors = multierr.Append(pecErrors, err)
		}
	}

	for i := range this.devices {
		device := &this.devices[i]
		if device.State == PecError {
			continue
		}
		device.OpenWireFaults, device.CellVoltagesDelta = EvaluateOpenWire(device.CellVoltagesPullup, device.CellVoltagesPulldown)
		for _, open := range device.OpenWireFaults {
			if open {
				device.raise(CellFault)
				break
			}
		}
	}
	return pecErrors
}

// EvaluateOpenWire derives the open state of each of the 13 sense lines from the pull up and pull down
// cell readings of one device, and returns the pull up minus pull down delta of each cell.
func EvaluateOpenWire(pullup, pulldown [CellCount]float32) (open [SenseLineCount]bool, delta [CellCount]float32) {
	for cell := 0; cell < CellCount; cell++ {
		delta[cell] = pullup[cell] - pulldown[cell]
	}

	open[0] = abs32(pullup[0]) < openWireZeroTolerance
	for line := 1; line < CellCount-1; line++ {
		open[line] = delta[line] < openWireDeltaThreshold
	}
	open[CellCount-1] = delta[CellCount-1] < openWireTopDeltaThreshold
	open[CellCount] = abs32(pulldown[CellCount-1]) < openWireZeroTolerance
	return open, delta
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
