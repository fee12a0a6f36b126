// SPDX-License-Identifier: Apache-2.0

package drive

// BatteryState classifies the pack voltage. It is derived by the slow
// sensor sampler and read by the safety layer once per control tick.
type BatteryState int

const (
	BatteryOK BatteryState = iota
	BatteryLow
	BatteryCritical
)

// Voltage thresholds in millivolts for a 2S pack
const (
	BattThreshOKMv  = 7400
	BattThreshLowMv = 7000
)

// ClassifyBattery maps a voltage reading to a battery state
func ClassifyBattery(millivolts int) BatteryState {
	switch {
	case millivolts >= BattThreshOKMv:
		return BatteryOK
	case millivolts >= BattThreshLowMv:
		return BatteryLow
	}
	return BatteryCritical
}

func (s BatteryState) String() string {
	switch s {
	case BatteryOK:
		return "ok"
	case BatteryLow:
		return "low"
	case BatteryCritical:
		return "critical"
	}
	return "unknown"
}
