// SPDX-License-Identifier: Apache-2.0

package drive

// Mix converts a (velocity, turn-rate) intent into a left/right motor
// pair using differential mixing:
//
//	left  = v - w
//	right = v + w
//
// both clamped to the valid PWM range. Pure function; every call is
// independent.
func Mix(velocity, turnRate int) PwmPair {
	return PwmPair{
		Left:  ClampPwm(velocity - turnRate),
		Right: ClampPwm(velocity + turnRate),
	}
}
