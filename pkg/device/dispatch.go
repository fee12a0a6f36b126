// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"strconv"

	"github.com/steffenpharai/zipbridge/pkg/drive"
	"github.com/steffenpharai/zipbridge/pkg/zipwire"
)

// handleLine processes one decoded text line from the link
func (d *Device) handleLine(line string) {
	cmd, err := zipwire.ParseCommand(line)
	if err != nil {
		d.demux.Stats().ParseErrors++
		return
	}
	d.dispatch(cmd)
}

// handleFrame processes one decoded binary frame. Command frames carry
// the same field set as the text form in a CBOR map.
func (d *Device) handleFrame(frame *zipwire.Frame) {
	switch frame.Type() {
	case zipwire.FrameHello:
		d.writeLine(zipwire.FormatHelloReply())

	case zipwire.FrameCommand:
		m := frame.PayloadMap()
		if frame.ParseError() != nil || m == nil {
			d.demux.Stats().ParseErrors++
			return
		}
		var cmd zipwire.Command
		if n, ok := zipwire.GetMapInt(m, 0); ok {
			cmd.N = int(n)
		} else {
			d.demux.Stats().ParseErrors++
			return
		}
		if tag, ok := zipwire.GetMapString(m, 1); ok {
			cmd.H = tag
		}
		if v, ok := zipwire.GetMapInt(m, 2); ok {
			cmd.D1 = int(v)
		}
		if v, ok := zipwire.GetMapInt(m, 3); ok {
			cmd.D2 = int(v)
		}
		if v, ok := zipwire.GetMapInt(m, 4); ok {
			cmd.T = int(v)
		}
		d.dispatch(cmd)
	}
}

// dispatch routes a command by opcode. Every opcode that expects a
// reply answers on this path; the streamed setpoint is the only
// fire-and-forget case.
func (d *Device) dispatch(cmd zipwire.Command) {
	switch cmd.N {
	case zipwire.OpHello:
		d.writeLine(zipwire.FormatHelloReply())

	case zipwire.OpServo:
		angle := cmd.D1
		if angle < 0 {
			angle = 0
		}
		if angle > 180 {
			angle = 180
		}
		d.servo.SetAngle(angle)
		d.replyOK(cmd.H)

	case zipwire.OpUltrasonic:
		d.handleUltrasonic(cmd)

	case zipwire.OpLineSensor:
		d.replyValue(cmd.H, strconv.Itoa(d.sensors.Line(cmd.D1)))

	case zipwire.OpBattery:
		d.replyValue(cmd.H, strconv.Itoa(d.sensors.BatteryMillivolts()))

	case zipwire.OpDiagnostics:
		d.handleDiagnostics()

	case zipwire.OpInit:
		// Rerun hardware init: bring everything back to a known state
		d.deadman.Stop()
		d.macro.Cancel()
		d.direct = drive.PwmPair{}
		d.motor.Stop()
		d.servo.SetAngle(90)
		d.setOwner(OwnerIdle)
		d.safety.ResetSlew()
		d.replyOK(cmd.H)

	case zipwire.OpDriveConfig:
		d.handleDriveConfig(cmd)

	case zipwire.OpSetpoint:
		// Fire-and-forget: no reply, only the deadman state updates
		d.macro.Cancel()
		d.setOwner(OwnerStreaming)
		d.deadman.Accept(cmd.D1, cmd.D2, cmd.T)

	case zipwire.OpStop:
		d.handleStop(cmd)

	case zipwire.OpMacroStart:
		d.deadman.Stop()
		if d.macro.Start(cmd.D1, cmd.D2, cmd.T) {
			d.setOwner(OwnerMacro)
			d.replyOK(cmd.H)
		} else {
			d.reply(cmd.H, zipwire.ResultFalse)
		}

	case zipwire.OpMacroCancel:
		d.macro.Cancel()
		if d.owner == OwnerMacro {
			d.setOwner(OwnerIdle)
		}
		d.replyOK(cmd.H)

	case zipwire.OpDirectPWM:
		d.macro.Cancel()
		d.deadman.Stop()
		d.setOwner(OwnerDirect)
		d.direct = drive.PwmPair{
			Left:  drive.ClampPwm(cmd.D1),
			Right: drive.ClampPwm(cmd.D2),
		}
		d.replyOK(cmd.H)

	default:
		d.reply(cmd.H, zipwire.ResultFalse)
	}
}

// handleStop is the unconditional stop path. It cannot fail: all
// motion sources are cleared, the slew memory is reset via the owner
// transition, and the motor is zeroed before the reply goes out.
func (d *Device) handleStop(cmd zipwire.Command) {
	d.deadman.Stop()
	d.macro.Cancel()
	d.direct = drive.PwmPair{}
	d.setOwner(OwnerStopped)
	d.motor.Stop()
	d.replyOK(cmd.H)
}

func (d *Device) handleUltrasonic(cmd zipwire.Command) {
	distance := d.sensors.DistanceCm()
	switch cmd.D1 {
	case zipwire.UltrasonicObstacle:
		if distance > 0 && distance <= 20 {
			d.reply(cmd.H, zipwire.ResultTrue)
		} else {
			d.reply(cmd.H, zipwire.ResultFalse)
		}
	case zipwire.UltrasonicDistance:
		d.replyValue(cmd.H, strconv.Itoa(distance))
	default:
		d.replyOK(cmd.H)
	}
}

// handleDiagnostics answers with a short burst: a state snapshot line
// followed by the link statistics line. The gateway collects the burst
// over a fixed window.
func (d *Device) handleDiagnostics() {
	out := d.safety.Output()
	cfg := d.safety.Config()
	kick := 0
	if cfg.KickstartEnabled {
		kick = 1
	}
	d.writeLine(fmt.Sprintf("{%c,%d,%d,batt:%d,b:%d,cap:%d,db:%d/%d,ramp:%d/%d,kick:%d}",
		d.owner.Mark(), out.Left, out.Right,
		d.sensors.BatteryMillivolts(), int(d.safety.Battery()),
		cfg.PwmCap, cfg.DeadbandLeft, cfg.DeadbandRight,
		cfg.AccelStep, cfg.DecelStep, kick))
	d.writeLine(d.demux.Stats().String())
}

// handleDriveConfig applies a runtime safety-layer override. D1
// selects the parameter, D2 carries the value; zero clears the
// override.
func (d *Device) handleDriveConfig(cmd zipwire.Command) {
	switch cmd.D1 {
	case zipwire.ConfigDeadband:
		d.safety.SetDeadbands((cmd.D2>>8)&0xFF, cmd.D2&0xFF)
	case zipwire.ConfigAccelStep:
		d.safety.SetAccelStep(cmd.D2)
	case zipwire.ConfigDecelStep:
		d.safety.SetDecelStep(cmd.D2)
	case zipwire.ConfigKickstart:
		if cmd.D2 == 0 || cmd.D2 == 1 {
			d.safety.SetKickstart(cmd.D2 == 1)
		} else {
			d.safety.ClearKickstartOverride()
		}
	case zipwire.ConfigPwmCap:
		d.safety.SetPwmCap(cmd.D2)
	}
	d.replyOK(cmd.H)
}

func (d *Device) replyOK(tag string) {
	d.reply(tag, zipwire.ResultOK)
}

func (d *Device) reply(tag, result string) {
	if tag == "" {
		d.writeLine("{" + result + "}")
		return
	}
	d.writeLine(zipwire.FormatReply(tag, result))
}

func (d *Device) replyValue(tag, value string) {
	if tag == "" {
		return
	}
	d.writeLine(zipwire.FormatReply(tag, value))
}
