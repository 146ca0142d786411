package ModbusController

import (
	"encoding/binary"
	"fmt"
	"github.com/goburrow/modbus"
	"log"
	"sync"
	"time"
)

type ModbusController struct {
	rtuClient    *modbus.RTUClientHandler
	modbusClient modbus.Client
	mu           sync.Mutex
}

// *  Set up a new ModBus using the parameters given. No attempt is made to connect at this time.
func New(rtuAddress string, baudRate int, dataBits int, stopBits int, parity string, timeout time.Duration) *ModbusController {
	this := new(ModbusController)
	this.rtuClient = modbus.NewRTUClientHandler(rtuAddress)
	this.rtuClient.BaudRate = baudRate
	this.rtuClient.DataBits = dataBits
	this.rtuClient.Timeout = timeout
	this.rtuClient.Parity = parity
	this.rtuClient.StopBits = stopBits
	this.rtuClient.SlaveId = 1

	return this
}

func (modbusController *ModbusController) Close() {
	modbusController.mu.Lock()
	defer modbusController.mu.Unlock()
	if modbusController.rtuClient != nil {
		closeErr := modbusController.rtuClient.Close()
		if closeErr != nil {
			log.Println(closeErr)
		}
	}
}

func (modbusController *ModbusController) Connect() error {
	modbusController.mu.Lock()
	defer modbusController.mu.Unlock()
	err := modbusController.rtuClient.Connect()
	if err != nil {
		return err
	}
	modbusController.modbusClient = modbus.NewClient(modbusController.rtuClient)
	return nil
}

// Must be called with the lock held
func (modbusController *ModbusController) selectSlave(slaveId uint8) error {
	if modbusController.modbusClient == nil {
		return fmt.Errorf("modbus client is not connected")
	}
	if modbusController.rtuClient != nil {
		modbusController.rtuClient.SlaveId = slaveId
	}
	return nil
}

func (modbusController *ModbusController) ReadCoil(coil uint16, slaveId uint8) (bool, error) {
	modbusController.mu.Lock()
	defer modbusController.mu.Unlock()
	if err := modbusController.selectSlave(slaveId); err != nil {
		return false, err
	}
	data, err := modbusController.modbusClient.ReadCoils(coil, 1)
	if err != nil {
		return false, err
	}
	if len(data) != 1 {
		return false, fmt.Errorf("read coil %d returned %d bytes when 1 was expected", coil, len(data))
	}
	return data[0]&1 != 0, nil
}

func (modbusController *ModbusController) WriteCoil(coil uint16, value bool, slaveId uint8) error {
	modbusController.mu.Lock()
	defer modbusController.mu.Unlock()
	if err := modbusController.selectSlave(slaveId); err != nil {
		return err
	}
	var err error
	if value {
		_, err = modbusController.modbusClient.WriteSingleCoil(coil, 0xFF00)
	} else {
		_, err = modbusController.modbusClient.WriteSingleCoil(coil, 0x0000)
	}
	return err
}

func (modbusController *ModbusController) ReadInputRegister(register uint16, slaveId uint8) (uint16, error) {
	modbusController.mu.Lock()
	defer modbusController.mu.Unlock()
	if err := modbusController.selectSlave(slaveId); err != nil {
		return 0, err
	}
	data, err := modbusController.modbusClient.ReadInputRegisters(register, 1)
	if err != nil {
		return 0, err
	}
	if len(data) != 2 {
		return 0, fmt.Errorf("read input register %d returned %d bytes when 2 were expected", register, len(data))
	}
	return binary.BigEndian.Uint16(data), nil
}

func (modbusController *ModbusController) ReadDiscreteInput(input uint16, slaveId uint8) (bool, error) {
	modbusController.mu.Lock()
	defer modbusController.mu.Unlock()
	if err := modbusController.selectSlave(slaveId); err != nil {
		return false, err
	}
	data, err := modbusController.modbusClient.ReadDiscreteInputs(input, 1)
	if err != nil {
		return false, err
	}
	if len(data) != 1 {
		return false, fmt.Errorf("read discrete input %d returned %d bytes when 1 was expected", input, len(data))
	}
	return data[0]&1 != 0, nil
}

func convertBitsToBools(byteData []byte, length uint16) []bool {
	boolData := make([]bool, length)
	for i, b := range byteData {
		for bit := 0; bit < 8; bit++ {
			boolIndex := uint16((i * 8) + bit)
			if boolIndex < length {
				boolData[boolIndex] = (b & 1) != 0
			}
			b >>= 1
		}
	}
	return boolData
}

func (modbusController *ModbusController) ReadMultipleDiscreteInputs(start uint16, count uint16, slaveId uint8) ([]bool, error) {
	modbusController.mu.Lock()
	defer modbusController.mu.Unlock()
	if err := modbusController.selectSlave(slaveId); err != nil {
		return make([]bool, count), err
	}
	mbData, err := modbusController.modbusClient.ReadDiscreteInputs(start, count)
	if err != nil {
		return make([]bool, count), err
	}
	return convertBitsToBools(mbData, count), nil
}

// InputRegister is one input register of a slave read as a raw analogue sample
type InputRegister struct {
	controller *ModbusController
	Register   uint16
	SlaveId    uint8
}

func NewInputRegister(controller *ModbusController, register uint16, slaveId uint8) *InputRegister {
	return &InputRegister{controller: controller, Register: register, SlaveId: slaveId}
}

func (inputRegister *InputRegister) ReadSample() (uint16, error) {
	return inputRegister.controller.ReadInputRegister(inputRegister.Register, inputRegister.SlaveId)
}
