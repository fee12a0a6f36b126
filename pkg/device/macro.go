// SPDX-License-Identifier: Apache-2.0

package device

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/steffenpharai/zipbridge/pkg/drive"
	"github.com/steffenpharai/zipbridge/pkg/zipwire"
)

// macroSegment is one timed (velocity, turnRate) step of a canned
// motion sequence, scaled by the commanded intensity.
type macroSegment struct {
	velocity int // per 255 intensity
	turnRate int
	ticks    int
}

var macroTable = map[int][]macroSegment{
	zipwire.MacroFigureEight: {
		{velocity: 255, turnRate: 128, ticks: 50},
		{velocity: 255, turnRate: -128, ticks: 50},
	},
	zipwire.MacroSpin: {
		{velocity: 0, turnRate: 255, ticks: 100},
	},
	zipwire.MacroWiggle: {
		{velocity: 0, turnRate: 255, ticks: 10},
		{velocity: 0, turnRate: -255, ticks: 20},
		{velocity: 0, turnRate: 255, ticks: 10},
	},
	zipwire.MacroForwardStop: {
		{velocity: 255, turnRate: 0, ticks: 50},
	},
}

// MacroEngine plays canned motion sequences one control tick at a
// time. A macro is bounded both by its segment list and by the
// command's TTL, whichever ends first.
type MacroEngine struct {
	clk       clock.Clock
	active    bool
	segments  []macroSegment
	segIndex  int
	segTicks  int
	intensity int
	deadline  time.Time
}

// NewMacroEngine creates an engine on the given clock
func NewMacroEngine(clk clock.Clock) *MacroEngine {
	return &MacroEngine{clk: clk}
}

// Start begins a macro. Returns false for an unknown macro id.
func (m *MacroEngine) Start(id, intensity, ttlMs int) bool {
	segments, ok := macroTable[id]
	if !ok {
		return false
	}
	if intensity <= 0 || intensity > 255 {
		intensity = 128
	}
	if ttlMs < 1000 {
		ttlMs = 1000
	}
	if ttlMs > zipwire.MaxTTLMs {
		ttlMs = zipwire.MaxTTLMs
	}
	m.active = true
	m.segments = segments
	m.segIndex = 0
	m.segTicks = 0
	m.intensity = intensity
	m.deadline = m.clk.Now().Add(time.Duration(ttlMs) * time.Millisecond)
	return true
}

// Cancel stops the macro immediately
func (m *MacroEngine) Cancel() {
	m.active = false
}

// Active reports whether a macro is playing
func (m *MacroEngine) Active() bool {
	return m.active
}

// Step advances one control tick and returns the current motion
// intent. Reports ok=false when the macro has finished.
func (m *MacroEngine) Step() (velocity, turnRate int, ok bool) {
	if !m.active {
		return 0, 0, false
	}
	if !m.clk.Now().Before(m.deadline) {
		m.active = false
		return 0, 0, false
	}
	seg := m.segments[m.segIndex]
	if m.segTicks >= seg.ticks {
		m.segIndex++
		m.segTicks = 0
		if m.segIndex >= len(m.segments) {
			m.active = false
			return 0, 0, false
		}
		seg = m.segments[m.segIndex]
	}
	m.segTicks++

	velocity = drive.ClampPwm(seg.velocity * m.intensity / 255)
	turnRate = drive.ClampPwm(seg.turnRate * m.intensity / 255)
	return velocity, turnRate, true
}
