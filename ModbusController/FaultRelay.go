package ModbusController

// FaultRelay is the I/O module in the shutdown loop. The BMS relay coil is energised while there is no fault,
// so a dead module or a lost bus opens the loop.
type FaultRelay struct {
	controller        *ModbusController
	SlaveId           uint8
	RelayCoil         uint16
	ShutdownLoopInput uint16
	PrechargeInput    uint16
	CurrentRegister   uint16
}

func NewFaultRelay(controller *ModbusController, slaveId uint8, relayCoil uint16, shutdownLoopInput uint16, prechargeInput uint16, currentRegister uint16) *FaultRelay {
	return &FaultRelay{
		controller:        controller,
		SlaveId:           slaveId,
		RelayCoil:         relayCoil,
		ShutdownLoopInput: shutdownLoopInput,
		PrechargeInput:    prechargeInput,
		CurrentRegister:   currentRegister,
	}
}

func (faultRelay *FaultRelay) SetFault(fault bool) error {
	return faultRelay.controller.WriteCoil(faultRelay.RelayCoil, !fault, faultRelay.SlaveId)
}

func (faultRelay *FaultRelay) ShutdownLoopClosed() (bool, error) {
	return faultRelay.controller.ReadDiscreteInput(faultRelay.ShutdownLoopInput, faultRelay.SlaveId)
}

func (faultRelay *FaultRelay) PrechargeComplete() (bool, error) {
	return faultRelay.controller.ReadDiscreteInput(faultRelay.PrechargeInput, faultRelay.SlaveId)
}

// Inputs reads the shutdown loop and precharge inputs in one request when they are adjacent
func (faultRelay *FaultRelay) Inputs() (shutdownLoopClosed bool, prechargeComplete bool, err error) {
	if faultRelay.PrechargeInput != faultRelay.ShutdownLoopInput+1 {
		if shutdownLoopClosed, err = faultRelay.ShutdownLoopClosed(); err != nil {
			return false, false, err
		}
		prechargeComplete, err = faultRelay.PrechargeComplete()
		return shutdownLoopClosed, prechargeComplete, err
	}
	inputs, err := faultRelay.controller.ReadMultipleDiscreteInputs(faultRelay.ShutdownLoopInput, 2, faultRelay.SlaveId)
	if err != nil {
		return false, false, err
	}
	return inputs[0], inputs[1], nil
}

// ReadSample returns the raw current sensor code
func (faultRelay *FaultRelay) ReadSample() (uint16, error) {
	return NewInputRegister(faultRelay.controller, faultRelay.CurrentRegister, faultRelay.SlaveId).ReadSample()
}
