// SPDX-License-Identifier: Apache-2.0

// Package device implements the robot-side half of the command
// pipeline: frame demultiplexing, command dispatch, motion ownership,
// deadman supervision and the fixed-rate control loop that feeds the
// drive safety layer. The same runtime backs the loopback simulator
// and the integration tests.
package device

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/steffenpharai/zipbridge/pkg/drive"
	"github.com/steffenpharai/zipbridge/pkg/zipwire"
)

// Control and sensor cadence. Exactly one control tick's worth of
// shaping is applied between two deadman checks.
const (
	TickInterval   = 20 * time.Millisecond  // 50 Hz
	SensorInterval = 100 * time.Millisecond // 10 Hz
)

// Config carries the device runtime's options
type Config struct {
	// Clock defaults to the wall clock; tests install a mock
	Clock clock.Clock
	// Logger defaults to a discard logger
	Logger *slog.Logger
	// DirectBypassSafety forwards direct PWM commands to the motor
	// without safety shaping. Off by default.
	DirectBypassSafety bool
	// TelemetryInterval pushes a binary telemetry frame at this
	// period. Zero disables the push.
	TelemetryInterval time.Duration
}

// Device is the robot-side runtime. All state is owned by the single
// Run goroutine; a reader goroutine only moves bytes.
type Device struct {
	conn    io.ReadWriter
	clk     clock.Clock
	log     *slog.Logger
	motor   Motor
	servo   Servo
	sensors Sensors

	safety  *drive.SafetyLayer
	deadman *DeadmanSupervisor
	macro   *MacroEngine
	demux   *zipwire.Demux

	owner        MotionOwner
	direct       drive.PwmPair
	directBypass bool

	telemetryEvery time.Duration
	telemetrySeq   uint8
}

// New creates a device runtime speaking the wire protocol over conn
func New(conn io.ReadWriter, motor Motor, servo Servo, sensors Sensors, cfg Config) *Device {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Device{
		conn:           conn,
		clk:            clk,
		log:            log,
		motor:          motor,
		servo:          servo,
		sensors:        sensors,
		safety:         drive.NewSafetyLayer(),
		deadman:        NewDeadmanSupervisor(clk),
		macro:          NewMacroEngine(clk),
		demux:          zipwire.NewDemux(),
		directBypass:   cfg.DirectBypassSafety,
		telemetryEvery: cfg.TelemetryInterval,
	}
}

// Safety exposes the drive safety layer for inspection in tests
func (d *Device) Safety() *drive.SafetyLayer {
	return d.safety
}

// Owner returns the current motion owner
func (d *Device) Owner() MotionOwner {
	return d.owner
}

// Run services the link until the context is cancelled or the
// connection fails. It emits the boot marker first; the gateway must
// answer with a hello before motion commands are meaningful.
func (d *Device) Run(ctx context.Context) error {
	d.writeLine(zipwire.BootMarker)

	rx := make(chan []byte, 8)
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := d.conn.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case rx <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	control := d.clk.Ticker(TickInterval)
	defer control.Stop()
	sensors := d.clk.Ticker(SensorInterval)
	defer sensors.Stop()

	var telemetry *clock.Ticker
	var telemetryC <-chan time.Time
	if d.telemetryEvery > 0 {
		telemetry = d.clk.Ticker(d.telemetryEvery)
		defer telemetry.Stop()
		telemetryC = telemetry.C
	}

	for {
		select {
		case <-ctx.Done():
			d.motor.Stop()
			return ctx.Err()

		case err := <-readErr:
			d.motor.Stop()
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("link read: %w", err)

		case chunk := <-rx:
			for _, b := range chunk {
				frame, line, ok := d.demux.Feed(b)
				switch {
				case frame != nil:
					d.handleFrame(frame)
				case ok:
					d.handleLine(line)
				}
			}

		case <-control.C:
			d.controlTick()

		case <-sensors.C:
			d.sensorTick()

		case <-telemetryC:
			d.pushTelemetry()
		}
	}
}

// controlTick runs one 50 Hz shaping pass: deadman check, mixing,
// safety shaping, motor write.
func (d *Device) controlTick() {
	var target drive.PwmPair

	switch d.owner {
	case OwnerStopped:
		d.setOwner(OwnerIdle)

	case OwnerStreaming:
		v, w, ok := d.deadman.Current()
		if !ok {
			// Designed fail-safe, not a fault
			d.log.Info("setpoint ttl expired, zeroing output")
			d.setOwner(OwnerIdle)
		} else {
			target = drive.Mix(v, w)
		}

	case OwnerMacro:
		v, w, ok := d.macro.Step()
		if !ok {
			d.setOwner(OwnerIdle)
		} else {
			target = drive.Mix(v, w)
		}

	case OwnerDirect:
		if d.directBypass {
			d.motor.Set(drive.PwmPair{
				Left:  drive.ClampPwm(d.direct.Left),
				Right: drive.ClampPwm(d.direct.Right),
			})
			return
		}
		target = d.direct
	}

	d.motor.Set(d.safety.Apply(target))
}

// sensorTick runs the 10 Hz slow sampler. The battery classification
// feeds the safety layer; nothing else mutates it.
func (d *Device) sensorTick() {
	d.safety.UpdateBattery(d.sensors.BatteryMillivolts())
}

// setOwner drives the motion-owner transition table. Every change
// clears the safety layer's slew memory so a stale output history
// cannot shape the new owner's commands.
func (d *Device) setOwner(requested MotionOwner) {
	next, changed := transitionOwner(d.owner, requested)
	if !changed {
		return
	}
	d.log.Debug("motion owner change", "from", d.owner.String(), "to", next.String())
	d.owner = next
	d.safety.ResetSlew()
}

func (d *Device) writeLine(line string) {
	// Single-writer: only the Run goroutine writes to the link
	if _, err := io.WriteString(d.conn, line+"\n"); err != nil {
		d.log.Warn("link write failed", "error", err)
	}
}

// pushTelemetry emits a binary telemetry frame with the current
// sensor snapshot
func (d *Device) pushTelemetry() {
	out := d.safety.Output()
	frame := zipwire.NewFrameWithMap(zipwire.FrameTelemetry, d.telemetrySeq, map[int]interface{}{
		0: int64(d.sensors.BatteryMillivolts()),
		1: int64(d.sensors.DistanceCm()),
		2: int64(out.Left),
		3: int64(out.Right),
		4: int64(d.owner.Mark()),
	})
	d.telemetrySeq++

	data, err := frame.Encode()
	if err != nil {
		d.log.Warn("telemetry encode failed", "error", err)
		return
	}
	if _, err := d.conn.Write(data); err != nil {
		d.log.Warn("link write failed", "error", err)
	}
}
