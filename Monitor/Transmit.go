package Monitor

import (
	"BatteryMonitor6811/BmsCanMessages"
	"BatteryMonitor6811/LTC6811"
	"github.com/brutella/can"
)

// Frames builds the CAN messages of a cycle in transmit order: status, cell voltages, temperatures,
// sense line status, balancing, power and die temperatures.
func Frames(telemetry *Telemetry) []can.Frame {
	devices := telemetry.Devices
	var frames []can.Frame

	status := BmsCanMessages.Status{
		Undervoltage:       telemetry.Faults.Undervoltage,
		Overvoltage:        telemetry.Faults.Overvoltage,
		Undertemperature:   telemetry.Faults.Undertemperature,
		Overtemperature:    telemetry.Faults.Overtemperature,
		SenseLine:          telemetry.Faults.SenseLine,
		Isospi:             telemetry.Faults.Isospi,
		SelfTest:           telemetry.Faults.SelfTest,
		Charging:           telemetry.Charging,
		Balancing:          telemetry.Balancing,
		ShutdownLoopClosed: telemetry.ShutdownLoopClosed,
		PrechargeComplete:  telemetry.PrechargeComplete,
	}
	for i, device := range devices {
		if i >= 16 {
			break
		}
		if device.State == LTC6811.PecError {
			status.IsospiFaults |= 1 << i
		}
		if device.State == LTC6811.SelfTestFault {
			status.SelfTestFaults |= 1 << i
		}
	}
	frames = append(frames, BmsCanMessages.NewStatus(status).Frame())

	for i, device := range devices {
		for half := 0; half < 2; half++ {
			var volts [6]float32
			copy(volts[:], device.CellVoltages[half*6:])
			undervoltage, overvoltage := false, false
			for cell := half * 6; cell < half*6+6; cell++ {
				undervoltage = undervoltage || device.UndervoltageFaults[cell]
				overvoltage = overvoltage || device.OvervoltageFaults[cell]
			}
			frames = append(frames, BmsCanMessages.NewVoltage(uint16(i*2+half), volts, undervoltage, overvoltage).Frame())
		}
	}

	for i, celsius := range telemetry.Temperatures {
		frames = append(frames, BmsCanMessages.NewTemperature(uint16(i), celsius,
			telemetry.UndertemperatureFaults[i], telemetry.OvertemperatureFaults[i]).Frame())
	}

	for index := 0; index*4 < len(devices); index++ {
		var openWire [4]uint16
		for k := 0; k < 4 && index*4+k < len(devices); k++ {
			openWire[k] = BmsCanMessages.Mask(devices[index*4+k].OpenWireFaults[:])
		}
		frames = append(frames, BmsCanMessages.NewSenseLineStatus(uint16(index), openWire).Frame())
	}
	for index := 0; index*4 < len(devices); index++ {
		var discharging [4]uint16
		for k := 0; k < 4 && index*4+k < len(devices); k++ {
			discharging[k] = BmsCanMessages.Mask(devices[index*4+k].CellsDischarging[:])
		}
		frames = append(frames, BmsCanMessages.NewBalancing(uint16(index), discharging).Frame())
	}

	frames = append(frames, BmsCanMessages.NewPower(telemetry.PackVoltage, telemetry.PackCurrent).Frame())

	for index := 0; index*6 < len(devices); index++ {
		var celsius []float32
		for k := index * 6; k < index*6+6 && k < len(devices); k++ {
			celsius = append(celsius, devices[k].DieTemperature)
		}
		frames = append(frames, BmsCanMessages.NewLtcTemperature(uint16(index), celsius).Frame())
	}
	return frames
}
