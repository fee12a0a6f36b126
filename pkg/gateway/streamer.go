// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/steffenpharai/zipbridge/pkg/zipwire"
)

const (
	// DefaultStreamRateHz is the default setpoint output rate.
	DefaultStreamRateHz = 10

	// MaxStreamRateHz is the hard ceiling on the output rate regardless
	// of configuration.
	MaxStreamRateHz = 20
)

// streamer rate-limits setpoint output toward the device. Callers can
// update the desired setpoint at any frequency; the streamer emits at
// most one setpoint command per interval, always carrying the latest
// values. Superseded updates are silently dropped.
type streamer struct {
	clk      clock.Clock
	queue    *commandQueue
	interval time.Duration
	ttlMs    int

	mu       sync.Mutex
	active   bool
	velocity int
	turnRate int
	dirty    bool
	lastEmit time.Time
	timer    *clock.Timer
}

func newStreamer(clk clock.Clock, queue *commandQueue, rateHz, ttlMs int) *streamer {
	if rateHz <= 0 {
		rateHz = DefaultStreamRateHz
	}
	if rateHz > MaxStreamRateHz {
		rateHz = MaxStreamRateHz
	}
	if ttlMs < zipwire.MinTTLMs {
		ttlMs = zipwire.MinTTLMs
	}
	return &streamer{
		clk:      clk,
		queue:    queue,
		interval: time.Second / time.Duration(rateHz),
		ttlMs:    ttlMs,
	}
}

// start begins a streaming session. The first update after start is
// emitted immediately.
func (s *streamer) start() {
	s.mu.Lock()
	s.active = true
	s.dirty = false
	s.lastEmit = time.Time{}
	s.mu.Unlock()
}

// stop ends the streaming session and discards any pending setpoint.
func (s *streamer) stop() {
	s.mu.Lock()
	s.active = false
	s.dirty = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.queue.dropSetpoint()
}

func (s *streamer) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// update records a new desired setpoint. It emits immediately when a
// full interval has elapsed since the previous emission, otherwise it
// arms a timer for the remainder so output never exceeds the cap.
func (s *streamer) update(velocity, turnRate int) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return ErrNotStreaming
	}
	s.velocity = velocity
	s.turnRate = turnRate

	now := s.clk.Now()
	elapsed := now.Sub(s.lastEmit)
	if s.lastEmit.IsZero() || elapsed >= s.interval {
		s.emitLocked(now)
		s.mu.Unlock()
		return nil
	}

	s.dirty = true
	if s.timer == nil {
		s.timer = s.clk.AfterFunc(s.interval-elapsed, s.timerFired)
	}
	s.mu.Unlock()
	return nil
}

func (s *streamer) timerFired() {
	s.mu.Lock()
	s.timer = nil
	if s.active && s.dirty {
		s.emitLocked(s.clk.Now())
	}
	s.mu.Unlock()
}

func (s *streamer) emitLocked(now time.Time) {
	cmd := zipwire.Command{
		N:  zipwire.OpSetpoint,
		D1: s.velocity,
		D2: s.turnRate,
		T:  s.ttlMs,
	}
	s.queue.putSetpoint(cmd.MarshalText())
	s.lastEmit = now
	s.dirty = false
}
