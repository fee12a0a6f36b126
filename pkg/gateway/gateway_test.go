// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/steffenpharai/zipbridge/pkg/zipwire"
)

// ============================================================
// Tag Pool Tests
// ============================================================

func TestTagPool_AllocUntilExhausted(t *testing.T) {
	p := newTagPool(16)

	seen := make(map[string]bool)
	for i := 0; i < 16; i++ {
		tag, err := p.alloc()
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		if seen[tag] {
			t.Fatalf("duplicate tag %q", tag)
		}
		if len(tag) > zipwire.MaxTagLen {
			t.Fatalf("tag %q exceeds the protocol tag length", tag)
		}
		seen[tag] = true
	}

	if _, err := p.alloc(); !errors.Is(err, ErrTagPoolExhausted) {
		t.Errorf("expected ErrTagPoolExhausted, got %v", err)
	}

	p.release("a3")
	tag, err := p.alloc()
	if err != nil {
		t.Fatalf("alloc after release: %v", err)
	}
	if tag != "a3" {
		t.Errorf("expected recycled a3, got %q", tag)
	}
}

func TestTagPool_DefaultSize(t *testing.T) {
	p := newTagPool(0)
	for i := 0; i < DefaultTagPoolSize; i++ {
		if _, err := p.alloc(); err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
	}
	if _, err := p.alloc(); err == nil {
		t.Error("zero size must fall back to the default bound")
	}
}

// ============================================================
// Reply Matcher Tests
// ============================================================

func TestReplyMatcher_OutOfOrderReplies(t *testing.T) {
	m := newReplyMatcher()
	ch1 := m.register("a1")
	ch2 := m.register("a2")

	// The device answers the second request first; each waiter must
	// still get its own reply
	if !m.complete(zipwire.Reply{Tag: "a2", Result: "42"}) {
		t.Fatal("a2 reply not delivered")
	}
	if !m.complete(zipwire.Reply{Tag: "a1", Result: "ok"}) {
		t.Fatal("a1 reply not delivered")
	}

	r1 := <-ch1
	r2 := <-ch2
	if r1.Result != "ok" || r2.Result != "42" {
		t.Errorf("replies crossed: a1=%q a2=%q", r1.Result, r2.Result)
	}
}

func TestReplyMatcher_UnknownTagDropped(t *testing.T) {
	m := newReplyMatcher()
	if m.complete(zipwire.Reply{Tag: "z9", Result: "ok"}) {
		t.Error("reply for an unregistered tag must be dropped")
	}
}

func TestReplyMatcher_CancelRace(t *testing.T) {
	m := newReplyMatcher()

	ch := m.register("a1")
	if !m.cancel("a1") {
		t.Error("cancel before reply must win")
	}
	if m.complete(zipwire.Reply{Tag: "a1", Result: "ok"}) {
		t.Error("reply after cancel must be dropped")
	}

	// The reply arriving first leaves the buffered channel readable
	ch = m.register("a1")
	m.complete(zipwire.Reply{Tag: "a1", Result: "ok"})
	if m.cancel("a1") {
		t.Error("cancel after reply must report the race lost")
	}
	if r := <-ch; r.Result != "ok" {
		t.Errorf("buffered reply lost: %+v", r)
	}
}

func TestReplyMatcher_FailAll(t *testing.T) {
	m := newReplyMatcher()
	ch1 := m.register("a1")
	ch2 := m.register("b2")

	tags := m.failAll()
	if len(tags) != 2 {
		t.Fatalf("expected 2 failed tags, got %v", tags)
	}

	// Waiters observe a closed channel, not a reply
	if _, ok := <-ch1; ok {
		t.Error("ch1 must be closed")
	}
	if _, ok := <-ch2; ok {
		t.Error("ch2 must be closed")
	}

	// The matcher is reusable after a wipe
	ch := m.register("a1")
	m.complete(zipwire.Reply{Tag: "a1", Result: "ok"})
	if r := <-ch; r.Result != "ok" {
		t.Error("matcher unusable after failAll")
	}
}

// ============================================================
// Command Queue Tests
// ============================================================

func TestCommandQueue_StopLanePreempts(t *testing.T) {
	q := newCommandQueue()
	q.pushNormal("n1")
	q.pushNormal("n2")
	q.putSetpoint("sp")
	q.pushStop("stop")

	expected := []string{"stop", "n1", "n2", "sp"}
	for _, want := range expected {
		line, ok := q.next()
		if !ok || line != want {
			t.Fatalf("expected %q, got %q (ok=%v)", want, line, ok)
		}
	}
}

func TestCommandQueue_SetpointLatestWins(t *testing.T) {
	q := newCommandQueue()
	q.putSetpoint("sp1")
	q.putSetpoint("sp2")
	q.putSetpoint("sp3")

	line, ok := q.next()
	if !ok || line != "sp3" {
		t.Fatalf("expected latest setpoint, got %q", line)
	}

	q.close()
	if _, ok := q.next(); ok {
		t.Error("superseded setpoints must be discarded, not queued")
	}
}

func TestCommandQueue_DropSetpoint(t *testing.T) {
	q := newCommandQueue()
	q.putSetpoint("sp")
	q.dropSetpoint()
	q.pushStop("stop")

	if line, _ := q.next(); line != "stop" {
		t.Fatalf("expected stop, got %q", line)
	}
	q.close()
	if _, ok := q.next(); ok {
		t.Error("dropped setpoint must not be transmitted")
	}
}

func TestCommandQueue_CloseUnblocksWaiter(t *testing.T) {
	q := newCommandQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.next()
		done <- ok
	}()

	q.close()
	select {
	case ok := <-done:
		if ok {
			t.Error("closed empty queue must report done")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("next did not unblock on close")
	}
}

func TestCommandQueue_RejectsAfterClose(t *testing.T) {
	q := newCommandQueue()
	q.close()
	q.pushStop("stop")
	q.pushNormal("n")
	q.putSetpoint("sp")
	if _, ok := q.next(); ok {
		t.Error("pushes after close must be ignored")
	}
}

// ============================================================
// Link State Machine Tests
// ============================================================

func TestTransitionLink(t *testing.T) {
	tests := []struct {
		name     string
		current  LinkState
		ev       linkEvent
		expected LinkState
		changed  bool
	}{
		{"hello sent from not-ready", LinkNotReady, evHelloSent, LinkHandshaking, true},
		{"hello ok completes handshake", LinkHandshaking, evHelloOK, LinkReady, true},
		{"boot marker resets ready link", LinkReady, evBootMarker, LinkNotReady, true},
		{"boot marker during handshake", LinkHandshaking, evBootMarker, LinkNotReady, true},
		{"boot marker while not ready", LinkNotReady, evBootMarker, LinkNotReady, false},
		{"disconnect resets ready link", LinkReady, evDisconnect, LinkNotReady, true},
		{"stray hello ok ignored", LinkNotReady, evHelloOK, LinkNotReady, false},
		{"stray hello ok when ready", LinkReady, evHelloOK, LinkReady, false},
		{"duplicate hello sent ignored", LinkHandshaking, evHelloSent, LinkHandshaking, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, changed := transitionLink(tt.current, tt.ev)
			if next != tt.expected || changed != tt.changed {
				t.Errorf("transitionLink(%v, %d) = (%v, %v), expected (%v, %v)",
					tt.current, tt.ev, next, changed, tt.expected, tt.changed)
			}
		})
	}
}

// ============================================================
// Streamer Tests
// ============================================================

func setpointLine(velocity, turnRate, ttlMs int) string {
	return zipwire.Command{N: zipwire.OpSetpoint, D1: velocity, D2: turnRate, T: ttlMs}.MarshalText()
}

func TestStreamer_FirstUpdateEmitsImmediately(t *testing.T) {
	clk := clock.NewMock()
	q := newCommandQueue()
	s := newStreamer(clk, q, 10, 250)

	s.start()
	if err := s.update(100, -30); err != nil {
		t.Fatal(err)
	}
	line, ok := q.next()
	if !ok || line != setpointLine(100, -30, 250) {
		t.Errorf("unexpected emission %q", line)
	}
}

func TestStreamer_RateCapCoalesces(t *testing.T) {
	clk := clock.NewMock()
	q := newCommandQueue()
	s := newStreamer(clk, q, 10, 250)
	s.start()

	s.update(10, 0)
	q.next() // leading edge

	// A burst inside one interval must not reach the queue yet
	s.update(20, 0)
	clk.Add(10 * time.Millisecond)
	s.update(30, 0)
	clk.Add(10 * time.Millisecond)
	s.update(40, 0)

	q.mu.Lock()
	pending := q.hasSet
	q.mu.Unlock()
	if pending {
		t.Fatal("burst emitted before the interval elapsed")
	}

	// The armed timer fires at the interval boundary with the latest
	// values only
	clk.Add(80 * time.Millisecond)
	line, ok := q.next()
	if !ok || line != setpointLine(40, 0, 250) {
		t.Errorf("expected coalesced latest setpoint, got %q", line)
	}

	q.close()
	if _, ok := q.next(); ok {
		t.Error("intermediate updates must be dropped, not queued")
	}
}

func TestStreamer_SlowUpdatesPassThrough(t *testing.T) {
	clk := clock.NewMock()
	q := newCommandQueue()
	s := newStreamer(clk, q, 10, 250)
	s.start()

	for i := 1; i <= 3; i++ {
		s.update(i*10, 0)
		line, ok := q.next()
		if !ok || line != setpointLine(i*10, 0, 250) {
			t.Fatalf("update %d: got %q", i, line)
		}
		clk.Add(150 * time.Millisecond)
	}
}

func TestStreamer_StopDiscardsPending(t *testing.T) {
	clk := clock.NewMock()
	q := newCommandQueue()
	s := newStreamer(clk, q, 10, 250)
	s.start()

	s.update(10, 0)
	q.next()
	s.update(20, 0) // pending behind the rate cap
	s.stop()

	clk.Add(time.Second)
	q.mu.Lock()
	pending := q.hasSet
	q.mu.Unlock()
	if pending {
		t.Error("stop must discard the pending setpoint")
	}

	if err := s.update(30, 0); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("expected ErrNotStreaming after stop, got %v", err)
	}
}

func TestStreamer_RateCeiling(t *testing.T) {
	s := newStreamer(clock.NewMock(), newCommandQueue(), 100, 250)
	if s.interval != time.Second/MaxStreamRateHz {
		t.Errorf("rate above ceiling not clamped: interval %v", s.interval)
	}

	s = newStreamer(clock.NewMock(), newCommandQueue(), 0, 250)
	if s.interval != time.Second/DefaultStreamRateHz {
		t.Errorf("zero rate not defaulted: interval %v", s.interval)
	}
}

func TestStreamer_TTLFloor(t *testing.T) {
	s := newStreamer(clock.NewMock(), newCommandQueue(), 10, 20)
	if s.ttlMs != zipwire.MinTTLMs {
		t.Errorf("short TTL not raised to protocol minimum, got %d", s.ttlMs)
	}
}

// ============================================================
// Config Tests
// ============================================================

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("zero config must validate with defaults: %v", err)
	}
	if cfg.StreamRateHz != DefaultStreamRateHz || cfg.TagPoolSize != DefaultTagPoolSize {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.ReplyTimeout != 3*time.Second || cfg.DiagWindow != 80*time.Millisecond {
		t.Errorf("timeout defaults not applied: %+v", cfg)
	}

	cfg = Config{StreamRateHz: 25}
	if err := cfg.Validate(); err == nil {
		t.Error("stream rate above the ceiling must be rejected")
	}
}
