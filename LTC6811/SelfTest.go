package LTC6811

import (
	"encoding/binary"

	"go.uber.org/multierr"
)

// SelfTest checks the digital filters of the cell and GPIO ADCs against the self test pattern and runs the
// multiplexer diagnostic. Devices that fail any part are marked SelfTestFault. The result registers are
// cleared afterwards so the pattern is never mistaken for a sample.
func (this *DaisyChain) SelfTest() error {
	if err := this.Wakeup(); err != nil {
		return err
	}

	var pecErrors error
	check := func(err error) error {
		if err != nil && CodeOf(err) != PecMismatch {
			return err
		}
		pecErrors = multierr.Append(pecErrors, err)
		return nil
	}
	expect := func(pattern uint16) func(device *Device, group int) {
		return func(device *Device, group int) {
			for k := 0; k < 3; k++ {
				if binary.LittleEndian.Uint16(device.Rx[k*2:]) != pattern {
					device.raise(SelfTestFault)
				}
			}
		}
	}

	cellMode := this.config.CellAdcMode
	if err := this.convert(CVST(cellMode, ST_1), cellConversion, cellMode); err != nil {
		return err
	}
	if err := check(this.readGroups([]uint16{RDCVA, RDCVB, RDCVC, RDCVD}, expect(SelfTestPattern(cellMode)))); err != nil {
		return err
	}

	gpioMode := this.config.GpioAdcMode
	if err := this.convert(AXST(gpioMode, ST_1), gpioConversion, gpioMode); err != nil {
		return err
	}
	if err := check(this.readGroups([]uint16{RDAUXA, RDAUXB}, expect(SelfTestPattern(gpioMode)))); err != nil {
		return err
	}

	if err := this.convert(DIAGN, diagnoseConversion, cellMode); err != nil {
		return err
	}
	err := this.readGroups([]uint16{RDSTATB}, func(device *Device, group int) {
		device.MuxFail = device.Rx[5]&0x02 != 0
		if device.MuxFail {
			device.raise(SelfTestFault)
		}
	})
	if err := check(err); err != nil {
		return err
	}

	if err := this.WriteCommand(CLRCELL); err != nil {
		return err
	}
	if err := this.WriteCommand(CLRAUX); err != nil {
		return err
	}
	return pecErrors
}
