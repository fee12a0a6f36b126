// SPDX-License-Identifier: Apache-2.0

// Package drive implements the motion mixing and drive-safety shaping
// for the ZIP robot's differential drive. The safety layer is the only
// path to the motor driver: every commanded PWM value, whether mixed
// from a setpoint or issued directly, is shaped here before it reaches
// hardware.
package drive

// PwmMax is the full-scale motor command magnitude
const PwmMax = 255

// PwmPair is a left/right motor command. It is the only value type
// that ever reaches the motor driver.
type PwmPair struct {
	Left  int
	Right int
}

// IsZero reports whether both wheels are commanded to rest
func (p PwmPair) IsZero() bool {
	return p.Left == 0 && p.Right == 0
}

// ClampPwm bounds a motor command to the valid [-255, 255] range
func ClampPwm(v int) int {
	if v > PwmMax {
		return PwmMax
	}
	if v < -PwmMax {
		return -PwmMax
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
