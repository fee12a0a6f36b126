// SPDX-License-Identifier: Apache-2.0

package device

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/steffenpharai/zipbridge/pkg/zipwire"
)

// Setpoint is the authoritative streamed motion intent. Superseded
// setpoints are discarded, never queued.
type Setpoint struct {
	Velocity int
	TurnRate int
	TTL      time.Duration
	IssuedAt time.Time
}

// DeadmanSupervisor tracks the streamed setpoint's time-to-live. If no
// replacement arrives before expiry the supervisor reports no setpoint
// and the control tick drives zero into the mixer. Loss of the
// upstream link therefore degrades to "stopped", never to "last
// commanded speed forever".
type DeadmanSupervisor struct {
	clk    clock.Clock
	active bool
	sp     Setpoint
	expiry time.Time
}

// NewDeadmanSupervisor creates a supervisor on the given clock
func NewDeadmanSupervisor(clk clock.Clock) *DeadmanSupervisor {
	return &DeadmanSupervisor{clk: clk}
}

// Accept installs a new setpoint, replacing any previous one. The TTL
// is clamped to the protocol's [150 ms, 10 s] range. While a setpoint
// is live, a refresh extends the expiry window by the remaining time
// plus the new TTL so streamed motion stays continuous across command
// jitter.
func (d *DeadmanSupervisor) Accept(velocity, turnRate, ttlMs int) {
	if ttlMs < zipwire.MinTTLMs {
		ttlMs = zipwire.MinTTLMs
	}
	if ttlMs > zipwire.MaxTTLMs {
		ttlMs = zipwire.MaxTTLMs
	}
	ttl := time.Duration(ttlMs) * time.Millisecond
	now := d.clk.Now()

	if d.active && now.Before(d.expiry) {
		remaining := d.expiry.Sub(now)
		ttl += remaining
	}

	d.sp = Setpoint{Velocity: velocity, TurnRate: turnRate, TTL: ttl, IssuedAt: now}
	d.expiry = now.Add(ttl)
	d.active = true
}

// Current returns the live setpoint. Reports ok=false once the TTL has
// expired; the expiry tick itself already reads as expired.
func (d *DeadmanSupervisor) Current() (velocity, turnRate int, ok bool) {
	if !d.active {
		return 0, 0, false
	}
	if !d.clk.Now().Before(d.expiry) {
		d.active = false
		return 0, 0, false
	}
	return d.sp.Velocity, d.sp.TurnRate, true
}

// Active reports whether an unexpired setpoint is installed
func (d *DeadmanSupervisor) Active() bool {
	_, _, ok := d.Current()
	return ok
}

// Stop clears the setpoint immediately
func (d *DeadmanSupervisor) Stop() {
	d.active = false
	d.sp = Setpoint{}
}
