// SPDX-License-Identifier: Apache-2.0

package device

// MotionOwner identifies which command source drives the motors.
// Exactly one owner is active at a time.
type MotionOwner int

const (
	OwnerIdle MotionOwner = iota
	OwnerDirect
	OwnerStreaming
	OwnerMacro
	OwnerStopped
)

func (o MotionOwner) String() string {
	switch o {
	case OwnerIdle:
		return "idle"
	case OwnerDirect:
		return "direct"
	case OwnerStreaming:
		return "streaming"
	case OwnerMacro:
		return "macro"
	case OwnerStopped:
		return "stopped"
	}
	return "unknown"
}

// Mark returns the single-letter owner code used in diagnostics
func (o MotionOwner) Mark() byte {
	switch o {
	case OwnerDirect:
		return 'D'
	case OwnerStreaming:
		return 'M'
	case OwnerMacro:
		return 'A'
	case OwnerStopped:
		return 'X'
	}
	return 'I'
}

// transitionOwner is the single authoritative transition function.
// Stop wins from every state. Direct, Streaming and Macro preempt each
// other. Stopped decays to Idle on the next control tick.
func transitionOwner(current, requested MotionOwner) (MotionOwner, bool) {
	if requested == current {
		return current, false
	}
	switch requested {
	case OwnerStopped:
		return OwnerStopped, true
	case OwnerIdle:
		return OwnerIdle, true
	case OwnerDirect, OwnerStreaming, OwnerMacro:
		// Preempts whatever was active
		return requested, true
	}
	return current, false
}
