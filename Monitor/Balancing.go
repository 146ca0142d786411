package Monitor

import "BatteryMonitor6811/LTC6811"

// BalancingPlan marks every cell more than tolerance above the lowest cell of the pack, and above voltageMin,
// for discharge. Devices with a PEC error are neither discharged nor used for the minimum.
func BalancingPlan(devices []LTC6811.Device, tolerance float32, voltageMin float32) [][LTC6811.CellCount]bool {
	plan := make([][LTC6811.CellCount]bool, len(devices))
	lowest, _, ok := (&Telemetry{Devices: devices}).CellVoltageRange()
	if !ok {
		return plan
	}
	for i, device := range devices {
		if device.State == LTC6811.PecError {
			continue
		}
		for cell, v := range device.CellVoltages {
			plan[i][cell] = v-lowest > tolerance && v > voltageMin
		}
	}
	return plan
}

// Apply queued manual commands, then write the discharge request of every cell to the chain. Automatic
// balancing only runs while charging without a fault, manual settings always apply.
func (monitor *Monitor) balance(devices []LTC6811.Device, fault bool, charging bool) bool {
	monitor.settingsMu.Lock()
	enabled := monitor.balancing
	pending := monitor.pending
	monitor.pending = nil
	monitor.settingsMu.Unlock()

	for _, command := range pending {
		if command.device < 0 {
			for i := range monitor.manual {
				monitor.manual[i] = [LTC6811.CellCount]*bool{}
			}
			continue
		}
		on := command.on
		monitor.manual[command.device][command.cell] = &on
	}

	var plan [][LTC6811.CellCount]bool
	if enabled && charging && !fault {
		plan = BalancingPlan(devices, monitor.config.BalancingTolerance, monitor.config.BalancingVoltageMin)
	}
	balancing := false
	for device := range devices {
		for cell := 0; cell < LTC6811.CellCount; cell++ {
			on := plan != nil && plan[device][cell]
			if manual := monitor.manual[device][cell]; manual != nil {
				on = *manual
			}
			if err := monitor.chain.SetCellDischarging(device, cell, on); err != nil {
				monitor.log.Errorf("set cell discharging - %v", err)
			}
			balancing = balancing || on
		}
	}
	return balancing
}
