// SPDX-License-Identifier: Apache-2.0

// Package gateway implements the host side of the robot link: transport
// management, handshake tracking, tagged request/reply correlation,
// rate-limited setpoint streaming, and a prioritized outbound queue
// feeding a single transport writer.
package gateway

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/steffenpharai/zipbridge/pkg/zipwire"
)

// Telemetry is the decoded content of an unsolicited telemetry frame
// pushed by the device.
type Telemetry struct {
	BatteryMv  int
	DistanceCm int
	PwmLeft    int
	PwmRight   int
	Owner      byte
	At         time.Time
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithClock substitutes the wall clock, used by tests.
func WithClock(clk clock.Clock) SessionOption {
	return func(s *Session) { s.clk = clk }
}

// WithLogger sets the session logger.
func WithLogger(log *slog.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// Session is the single entry point for talking to one robot. It owns
// the transport exclusively: one reader goroutine feeds the protocol
// demultiplexer, one writer goroutine drains the command queue, and a
// handshake goroutine re-establishes link readiness whenever the device
// reboots.
type Session struct {
	conn Connection
	cfg  Config
	clk  clock.Clock
	log  *slog.Logger

	demux    *zipwire.Demux
	tags     *tagPool
	matcher  *replyMatcher
	queue    *commandQueue
	streamer *streamer

	linkMu  sync.Mutex
	link    LinkState
	readyCh chan struct{}

	helloOK chan struct{}
	kick    chan struct{}

	diagMu sync.Mutex
	diagCh chan string

	telMu sync.Mutex
	tel   Telemetry
	hasTel bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSession wraps an open connection and starts the session loops,
// including the initial handshake.
func NewSession(conn Connection, cfg Config, opts ...SessionOption) *Session {
	if err := cfg.Validate(); err != nil {
		// Validate only fails on out-of-range values the caller set
		// explicitly; fall back to defaults rather than refuse.
		cfg.StreamRateHz = DefaultStreamRateHz
	}

	s := &Session{
		conn:    conn,
		cfg:     cfg,
		clk:     clock.New(),
		log:     slog.New(slog.DiscardHandler),
		demux:   zipwire.NewDemux(),
		tags:    newTagPool(cfg.TagPoolSize),
		matcher: newReplyMatcher(),
		queue:   newCommandQueue(),
		link:    LinkNotReady,
		readyCh: make(chan struct{}),
		helloOK: make(chan struct{}, 1),
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.streamer = newStreamer(s.clk, s.queue, cfg.StreamRateHz, cfg.StreamTTLMs)

	s.wg.Add(3)
	go s.readLoop()
	go s.writeLoop()
	go s.handshakeLoop()
	s.kickHandshake()
	return s
}

// Dial opens the configured transport and starts a session over it.
func Dial(cfg Config, opts ...SessionOption) (*Session, string, error) {
	conn, desc, err := Open(cfg)
	if err != nil {
		return nil, "", err
	}
	return NewSession(conn, cfg, opts...), desc, nil
}

// Close shuts down the session and the underlying connection.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.streamer.stop()
		s.queue.close()
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}

// LinkState reports the current link readiness.
func (s *Session) LinkState() LinkState {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()
	return s.link
}

// WaitReady blocks until the handshake completes.
func (s *Session) WaitReady(ctx context.Context) error {
	for {
		s.linkMu.Lock()
		if s.link == LinkReady {
			s.linkMu.Unlock()
			return nil
		}
		ch := s.readyCh
		s.linkMu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrSessionClosed
		}
	}
}

// Stats exposes receive-side protocol statistics.
func (s *Session) Stats() *zipwire.Stats {
	return s.demux.Stats()
}

// LastTelemetry returns the most recent telemetry frame, if any has
// arrived.
func (s *Session) LastTelemetry() (Telemetry, bool) {
	s.telMu.Lock()
	defer s.telMu.Unlock()
	return s.tel, s.hasTel
}

func (s *Session) applyLink(ev linkEvent) {
	s.linkMu.Lock()
	next, changed := transitionLink(s.link, ev)
	if changed {
		s.log.Debug("link state change", "from", s.link.String(), "to", next.String())
		if next == LinkReady {
			close(s.readyCh)
		} else if s.link == LinkReady {
			s.readyCh = make(chan struct{})
		}
		s.link = next
	}
	s.linkMu.Unlock()
}

func (s *Session) kickHandshake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// readLoop is the exclusive transport reader. Every received byte goes
// through the demultiplexer; decoded frames and lines are routed from
// here.
func (s *Session) readLoop() {
	defer s.wg.Done()
	buf := make([]byte, 256)
	for {
		n, err := s.conn.Read(buf)
		for i := 0; i < n; i++ {
			frame, line, ok := s.demux.Feed(buf[i])
			if !ok {
				continue
			}
			if frame != nil {
				s.handleFrame(frame)
			} else {
				s.handleLine(line)
			}
		}
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Warn("transport read failed", "error", err)
			}
			s.applyLink(evDisconnect)
			s.matcher.failAll()
			return
		}
	}
}

func (s *Session) handleLine(line string) {
	if zipwire.IsBootMarker(line) {
		s.log.Info("device boot marker received, re-handshaking")
		s.applyLink(evBootMarker)
		s.matcher.failAll()
		s.kickHandshake()
		return
	}
	if zipwire.IsHelloReply(line) {
		s.applyLink(evHelloOK)
		select {
		case s.helloOK <- struct{}{}:
		default:
		}
		return
	}
	if reply, ok := zipwire.ParseReply(line); ok {
		if !s.matcher.complete(reply) {
			s.log.Debug("reply for unknown tag", "tag", reply.Tag, "line", line)
		}
		return
	}

	// Untagged lines: diagnostics output when a collector is armed,
	// otherwise just log them.
	s.diagMu.Lock()
	ch := s.diagCh
	s.diagMu.Unlock()
	if ch != nil {
		select {
		case ch <- line:
		default:
		}
		return
	}
	s.log.Debug("unsolicited line", "line", line)
}

func (s *Session) handleFrame(frame *zipwire.Frame) {
	if frame.Type() != zipwire.FrameTelemetry {
		s.log.Debug("unexpected frame type", "type", frame.Type())
		return
	}
	m := frame.PayloadMap()
	if m == nil {
		return
	}
	tel := Telemetry{At: s.clk.Now()}
	if v, ok := zipwire.GetMapInt(m, 0); ok {
		tel.BatteryMv = int(v)
	}
	if v, ok := zipwire.GetMapInt(m, 1); ok {
		tel.DistanceCm = int(v)
	}
	if v, ok := zipwire.GetMapInt(m, 2); ok {
		tel.PwmLeft = int(v)
	}
	if v, ok := zipwire.GetMapInt(m, 3); ok {
		tel.PwmRight = int(v)
	}
	if v, ok := zipwire.GetMapInt(m, 4); ok {
		tel.Owner = byte(v)
	}
	s.telMu.Lock()
	s.tel = tel
	s.hasTel = true
	s.telMu.Unlock()
}

// writeLoop is the single transport writer.
func (s *Session) writeLoop() {
	defer s.wg.Done()
	for {
		line, ok := s.queue.next()
		if !ok {
			return
		}
		if _, err := s.conn.Write([]byte(line + "\n")); err != nil {
			select {
			case <-s.done:
			default:
				s.log.Warn("transport write failed", "error", err)
			}
			s.applyLink(evDisconnect)
			s.matcher.failAll()
			return
		}
	}
}

// handshakeLoop sends hello whenever the link drops to not-ready and
// retries until the hello reply arrives.
func (s *Session) handshakeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.kick:
		}

		for s.LinkState() != LinkReady {
			s.applyLink(evHelloSent)
			hello := zipwire.Command{N: zipwire.OpHello}
			s.queue.pushStop(hello.MarshalText())

			timer := s.clk.Timer(s.cfg.ReplyTimeout)
			select {
			case <-s.helloOK:
				timer.Stop()
			case <-timer.C:
				s.log.Debug("hello timed out, retrying")
			case <-s.done:
				timer.Stop()
				return
			}
		}
	}
}

// request sends a tagged command and waits for its correlated reply.
func (s *Session) request(ctx context.Context, cmd zipwire.Command, stopLane bool) (zipwire.Reply, error) {
	if s.LinkState() != LinkReady {
		return zipwire.Reply{}, ErrLinkNotReady
	}
	tag, err := s.tags.alloc()
	if err != nil {
		return zipwire.Reply{}, err
	}
	cmd.H = tag
	ch := s.matcher.register(tag)
	if stopLane {
		s.queue.pushStop(cmd.MarshalText())
	} else {
		s.queue.pushNormal(cmd.MarshalText())
	}

	timer := s.clk.Timer(s.cfg.ReplyTimeout)
	defer timer.Stop()

	select {
	case reply, ok := <-ch:
		s.tags.release(tag)
		if !ok {
			return zipwire.Reply{}, ErrLinkNotReady
		}
		return reply, nil
	case <-timer.C:
		return s.abandon(tag, ch, ErrReplyTimeout)
	case <-ctx.Done():
		return s.abandon(tag, ch, ctx.Err())
	case <-s.done:
		return zipwire.Reply{}, ErrSessionClosed
	}
}

// abandon cleans up a request that will no longer be waited on. A reply
// that raced in just before cancellation still wins.
func (s *Session) abandon(tag string, ch <-chan zipwire.Reply, cause error) (zipwire.Reply, error) {
	if s.matcher.cancel(tag) {
		s.tags.release(tag)
		return zipwire.Reply{}, cause
	}
	reply, ok := <-ch
	s.tags.release(tag)
	if !ok {
		return zipwire.Reply{}, ErrLinkNotReady
	}
	return reply, nil
}

// requestOK sends a tagged command and maps a false result to an error.
func (s *Session) requestOK(ctx context.Context, cmd zipwire.Command, stopLane bool) error {
	reply, err := s.request(ctx, cmd, stopLane)
	if err != nil {
		return err
	}
	if reply.Result == zipwire.ResultFalse {
		return ErrRequestRejected
	}
	return nil
}

// requestValue sends a tagged command and parses a numeric reply.
func (s *Session) requestValue(ctx context.Context, cmd zipwire.Command) (int, error) {
	reply, err := s.request(ctx, cmd, false)
	if err != nil {
		return 0, err
	}
	if reply.Result == zipwire.ResultFalse {
		return 0, ErrRequestRejected
	}
	v, err := strconv.Atoi(reply.Result)
	if err != nil {
		return 0, ErrRequestRejected
	}
	return v, nil
}

func clampTTL(ttlMs int) int {
	if ttlMs < zipwire.MinTTLMs {
		return zipwire.MinTTLMs
	}
	if ttlMs > zipwire.MaxTTLMs {
		return zipwire.MaxTTLMs
	}
	return ttlMs
}

// Move issues a single motion setpoint. When a streaming session is
// active it feeds the streamer instead, so the rate cap still applies.
func (s *Session) Move(velocity, turnRate, ttlMs int) error {
	if s.LinkState() != LinkReady {
		return ErrLinkNotReady
	}
	if s.streamer.isActive() {
		return s.streamer.update(velocity, turnRate)
	}
	cmd := zipwire.Command{
		N:  zipwire.OpSetpoint,
		D1: velocity,
		D2: turnRate,
		T:  clampTTL(ttlMs),
	}
	s.queue.putSetpoint(cmd.MarshalText())
	return nil
}

// Stop halts the robot. The request jumps the queue ahead of anything
// already waiting, and any unsent setpoint is discarded first so stale
// motion cannot trail the stop onto the wire.
func (s *Session) Stop(ctx context.Context) error {
	s.streamer.stop()
	s.queue.dropSetpoint()

	cmd := zipwire.Command{N: zipwire.OpStop}
	if s.LinkState() != LinkReady {
		// A rebooting device is already stopped; send best-effort
		// untagged so the stop still reaches a half-up link.
		s.queue.pushStop(cmd.MarshalText())
		return nil
	}
	return s.requestOK(ctx, cmd, true)
}

// StartStreaming begins a rate-limited setpoint streaming session.
func (s *Session) StartStreaming() error {
	if s.LinkState() != LinkReady {
		return ErrLinkNotReady
	}
	s.streamer.start()
	return nil
}

// StopStreaming ends the streaming session without stopping the robot;
// the device-side deadman brings it to rest when the last TTL lapses.
func (s *Session) StopStreaming() {
	s.streamer.stop()
}

// UpdateSetpoint feeds the active streaming session. Calls faster than
// the output rate coalesce; only the latest setpoint reaches the wire.
func (s *Session) UpdateSetpoint(velocity, turnRate int) error {
	if s.LinkState() != LinkReady {
		return ErrLinkNotReady
	}
	return s.streamer.update(velocity, turnRate)
}

// Servo points the sensor servo to the given angle in degrees.
func (s *Session) Servo(ctx context.Context, angle int) error {
	return s.requestOK(ctx, zipwire.Command{N: zipwire.OpServo, D1: angle}, false)
}

// DirectPWM drives the wheels with raw PWM values, taking exclusive
// motion ownership on the device.
func (s *Session) DirectPWM(ctx context.Context, left, right int) error {
	return s.requestOK(ctx, zipwire.Command{N: zipwire.OpDirectPWM, D1: left, D2: right}, false)
}

// StartMacro launches a canned motion pattern.
func (s *Session) StartMacro(ctx context.Context, id, intensity, ttlMs int) error {
	cmd := zipwire.Command{N: zipwire.OpMacroStart, D1: id, D2: intensity, T: ttlMs}
	return s.requestOK(ctx, cmd, false)
}

// CancelMacro aborts a running macro.
func (s *Session) CancelMacro(ctx context.Context) error {
	return s.requestOK(ctx, zipwire.Command{N: zipwire.OpMacroCancel}, false)
}

// SetDriveConfig adjusts one drive safety parameter at runtime.
func (s *Session) SetDriveConfig(ctx context.Context, selector, value int) error {
	cmd := zipwire.Command{N: zipwire.OpDriveConfig, D1: selector, D2: value}
	return s.requestOK(ctx, cmd, false)
}

// ReInit asks the device to rerun its hardware initialization.
func (s *Session) ReInit(ctx context.Context) error {
	return s.requestOK(ctx, zipwire.Command{N: zipwire.OpInit}, false)
}

// ObstacleAhead reports whether the ultrasonic sensor sees an obstacle
// within its near threshold.
func (s *Session) ObstacleAhead(ctx context.Context) (bool, error) {
	cmd := zipwire.Command{N: zipwire.OpUltrasonic, D1: zipwire.UltrasonicObstacle}
	reply, err := s.request(ctx, cmd, false)
	if err != nil {
		return false, err
	}
	v, ok := reply.Bool()
	if !ok {
		return false, ErrRequestRejected
	}
	return v, nil
}

// DistanceCm measures the ultrasonic distance in centimeters.
func (s *Session) DistanceCm(ctx context.Context) (int, error) {
	cmd := zipwire.Command{N: zipwire.OpUltrasonic, D1: zipwire.UltrasonicDistance}
	return s.requestValue(ctx, cmd)
}

// LineSensor reads one line-follower channel (0=left, 1=middle,
// 2=right).
func (s *Session) LineSensor(ctx context.Context, channel int) (int, error) {
	cmd := zipwire.Command{N: zipwire.OpLineSensor, D1: channel}
	return s.requestValue(ctx, cmd)
}

// BatteryMillivolts reads the battery voltage.
func (s *Session) BatteryMillivolts(ctx context.Context) (int, error) {
	return s.requestValue(ctx, zipwire.Command{N: zipwire.OpBattery})
}

// Diagnostics asks the device for its diagnostic dump. The device
// answers with untagged lines, so everything arriving within the
// collection window after the request counts as the response.
func (s *Session) Diagnostics(ctx context.Context) ([]string, error) {
	if s.LinkState() != LinkReady {
		return nil, ErrLinkNotReady
	}

	ch := make(chan string, 16)
	s.diagMu.Lock()
	s.diagCh = ch
	s.diagMu.Unlock()
	defer func() {
		s.diagMu.Lock()
		s.diagCh = nil
		s.diagMu.Unlock()
	}()

	cmd := zipwire.Command{N: zipwire.OpDiagnostics}
	s.queue.pushNormal(cmd.MarshalText())

	timer := s.clk.Timer(s.cfg.DiagWindow)
	defer timer.Stop()

	var lines []string
	for {
		select {
		case line := <-ch:
			lines = append(lines, line)
		case <-timer.C:
			return lines, nil
		case <-ctx.Done():
			return lines, ctx.Err()
		case <-s.done:
			return nil, ErrSessionClosed
		}
	}
}
