// SPDX-License-Identifier: Apache-2.0

package drive

// Default per-wheel deadband in PWM units
const (
	DeadbandLeftDefault  = 55
	DeadbandRightDefault = 55
)

// Slew rate steps in PWM units per 50 Hz tick, by battery state.
// Deceleration is always permitted a larger step than acceleration so
// stopping is never throttled as hard as starting.
const (
	AccelStepOK   = 12
	AccelStepLow  = 6
	AccelStepCrit = 4

	DecelStepOK   = 20
	DecelStepLow  = 15
	DecelStepCrit = 10
)

// Output magnitude ceilings by battery state
const (
	PwmCapOK   = 255
	PwmCapLow  = 180
	PwmCapCrit = 100
)

// Kickstart: a brief boost above the deadband applied at the
// zero-to-moving transition to overcome static friction
const (
	KickstartBoost         = 25
	KickstartDurationTicks = 4 // 80 ms at 50 Hz
)

// SafetyConfig is a snapshot of the layer's effective shaping
// parameters, as reported by the diagnostics opcode.
type SafetyConfig struct {
	DeadbandLeft     int
	DeadbandRight    int
	AccelStep        int
	DecelStep        int
	PwmCap           int
	KickstartEnabled bool
}

// wheel holds the per-wheel shaping state. The previous tick's output
// is the only state that survives between ticks; everything else is
// kickstart bookkeeping.
type wheel struct {
	prev      int
	deadband  int
	kickTicks int
	lastSign  int
}

// SafetyLayer shapes raw PWM targets into safe motor commands. Runs
// once per fixed control tick. Order per wheel: deadband compensation,
// kickstart floor, slew-rate limit, battery cap.
//
// Not safe for concurrent use; the device runtime owns it from a
// single goroutine.
type SafetyLayer struct {
	battery BatteryState
	left    wheel
	right   wheel

	// Runtime overrides; zero means use the battery-based default.
	// kickOverride is tri-state: -1 default, 0 off, 1 on.
	accelOverride int
	decelOverride int
	capOverride   int
	kickOverride  int
}

// NewSafetyLayer creates a safety layer with default configuration and
// a full battery assumption.
func NewSafetyLayer() *SafetyLayer {
	return &SafetyLayer{
		left:         wheel{deadband: DeadbandLeftDefault},
		right:        wheel{deadband: DeadbandRightDefault},
		kickOverride: -1,
	}
}

// UpdateBattery reclassifies the battery state from a voltage reading.
// Called by the slow sensor sampler, never from the control tick.
func (s *SafetyLayer) UpdateBattery(millivolts int) {
	s.battery = ClassifyBattery(millivolts)
}

// Battery returns the current battery classification
func (s *SafetyLayer) Battery() BatteryState {
	return s.battery
}

// ResetSlew clears the per-wheel previous-output memory and kickstart
// state. Must be called on any stop or motion-owner change so a stale
// history cannot slew-limit the next command.
func (s *SafetyLayer) ResetSlew() {
	s.left.prev = 0
	s.left.kickTicks = 0
	s.left.lastSign = 0
	s.right.prev = 0
	s.right.kickTicks = 0
	s.right.lastSign = 0
}

// Output returns the previous tick's shaped output
func (s *SafetyLayer) Output() PwmPair {
	return PwmPair{Left: s.left.prev, Right: s.right.prev}
}

// Apply shapes one control tick's target into the output forwarded to
// the motor driver.
func (s *SafetyLayer) Apply(target PwmPair) PwmPair {
	accel := s.effectiveAccelStep()
	decel := s.effectiveDecelStep()
	ceiling := s.effectivePwmCap()
	kick := s.KickstartEnabled()

	return PwmPair{
		Left:  s.left.shape(target.Left, accel, decel, ceiling, kick),
		Right: s.right.shape(target.Right, accel, decel, ceiling, kick),
	}
}

func (w *wheel) shape(target, accelStep, decelStep, pwmCap int, kick bool) int {
	target = ClampPwm(target)

	// Deadband compensation: a nonzero command below the deadband is
	// boosted to exactly the deadband magnitude; zero stays zero.
	shaped := target
	if shaped != 0 && abs(shaped) < w.deadband {
		shaped = sign(shaped) * w.deadband
	}

	// Kickstart engages only on a commanded zero-to-nonzero
	// transition, never while already moving in the same direction.
	if kick {
		if sign(target) != 0 && w.lastSign == 0 && w.kickTicks == 0 {
			w.kickTicks = KickstartDurationTicks
		}
	} else {
		w.kickTicks = 0
	}
	if sign(target) == 0 {
		w.kickTicks = 0
	}
	w.lastSign = sign(target)

	// Slew-rate limit. Output below the deadband never moves the
	// wheel, so a start from rest ramps from the deadband magnitude,
	// not from zero.
	base := w.prev
	if base == 0 && shaped != 0 {
		base = sign(shaped) * w.deadband
		if abs(base) > abs(shaped) {
			base = shaped
		}
	}
	out := slewLimit(base, shaped, accelStep, decelStep)

	// Kickstart floor on the slewed output
	if w.kickTicks > 0 && out != 0 {
		floor := w.deadband + KickstartBoost
		if abs(out) < floor {
			out = sign(out) * floor
		}
		w.kickTicks--
	}

	// Battery cap last; the ceiling is never raised by the floor above
	if out > pwmCap {
		out = pwmCap
	} else if out < -pwmCap {
		out = -pwmCap
	}

	w.prev = out
	return out
}

// slewLimit bounds the change from current to target. Acceleration is
// any move away from zero or growth in magnitude; reversal and moves
// toward zero use the deceleration step.
func slewLimit(current, target, accelStep, decelStep int) int {
	diff := target - current
	if diff == 0 {
		return target
	}

	var isAccel bool
	switch {
	case target == 0:
		isAccel = false
	case current == 0:
		isAccel = true
	case sign(current) == sign(target):
		isAccel = abs(target) > abs(current)
	default:
		// Direction reversal counts as deceleration
		isAccel = false
	}

	maxStep := decelStep
	if isAccel {
		maxStep = accelStep
	}

	if abs(diff) <= maxStep {
		return target
	}
	if diff > 0 {
		return current + maxStep
	}
	return current - maxStep
}

// ---- Runtime configuration ----

// SetDeadbands overrides the per-wheel deadband. Zero restores the
// defaults.
func (s *SafetyLayer) SetDeadbands(left, right int) {
	if left <= 0 {
		left = DeadbandLeftDefault
	}
	if right <= 0 {
		right = DeadbandRightDefault
	}
	s.left.deadband = left
	s.right.deadband = right
}

// SetAccelStep overrides the acceleration step; zero clears the
// override and restores the battery-based default.
func (s *SafetyLayer) SetAccelStep(step int) {
	s.accelOverride = clampStep(step)
}

// SetDecelStep overrides the deceleration step; zero clears the
// override.
func (s *SafetyLayer) SetDecelStep(step int) {
	s.decelOverride = clampStep(step)
}

// SetPwmCap overrides the output ceiling; zero clears the override.
func (s *SafetyLayer) SetPwmCap(ceiling int) {
	if ceiling <= 0 {
		s.capOverride = 0
		return
	}
	if ceiling < 50 {
		ceiling = 50
	}
	if ceiling > PwmMax {
		ceiling = PwmMax
	}
	s.capOverride = ceiling
}

// SetKickstart forces the kickstart feature on or off
func (s *SafetyLayer) SetKickstart(enabled bool) {
	if enabled {
		s.kickOverride = 1
	} else {
		s.kickOverride = 0
	}
}

// ClearKickstartOverride restores the default kickstart policy
// (enabled only at battery OK)
func (s *SafetyLayer) ClearKickstartOverride() {
	s.kickOverride = -1
}

func clampStep(step int) int {
	if step <= 0 {
		return 0
	}
	if step > 50 {
		return 50
	}
	return step
}

// KickstartEnabled reports the effective kickstart policy
func (s *SafetyLayer) KickstartEnabled() bool {
	if s.kickOverride >= 0 {
		return s.kickOverride == 1
	}
	return s.battery == BatteryOK
}

func (s *SafetyLayer) effectiveAccelStep() int {
	if s.accelOverride > 0 {
		return s.accelOverride
	}
	switch s.battery {
	case BatteryLow:
		return AccelStepLow
	case BatteryCritical:
		return AccelStepCrit
	}
	return AccelStepOK
}

func (s *SafetyLayer) effectiveDecelStep() int {
	if s.decelOverride > 0 {
		return s.decelOverride
	}
	switch s.battery {
	case BatteryLow:
		return DecelStepLow
	case BatteryCritical:
		return DecelStepCrit
	}
	return DecelStepOK
}

func (s *SafetyLayer) effectivePwmCap() int {
	if s.capOverride > 0 {
		return s.capOverride
	}
	switch s.battery {
	case BatteryLow:
		return PwmCapLow
	case BatteryCritical:
		return PwmCapCrit
	}
	return PwmCapOK
}

// Config returns the effective shaping parameters
func (s *SafetyLayer) Config() SafetyConfig {
	return SafetyConfig{
		DeadbandLeft:     s.left.deadband,
		DeadbandRight:    s.right.deadband,
		AccelStep:        s.effectiveAccelStep(),
		DecelStep:        s.effectiveDecelStep(),
		PwmCap:           s.effectivePwmCap(),
		KickstartEnabled: s.KickstartEnabled(),
	}
}
