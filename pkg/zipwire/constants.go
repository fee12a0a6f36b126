// SPDX-License-Identifier: Apache-2.0

// Package zipwire implements the ZIP robot serial protocol.
//
// The protocol has two interoperable forms carried over the same link:
// a compact binary frame for structured telemetry and a line-oriented
// text form for commands and replies. This package provides encoding,
// decoding, CRC validation and parse statistics for both.
package zipwire

// Binary frame layout:
//
//	[0xAA 0x55][LEN][TYPE][SEQ][PAYLOAD...][CRC16 lo][CRC16 hi]
//
// LEN covers TYPE + SEQ + PAYLOAD. The CRC-16-CCITT is computed over
// LEN..PAYLOAD and transmitted little-endian.
const (
	Header0 = 0xAA
	Header1 = 0x55

	MaxPayloadSize = 64
	// LEN counts TYPE and SEQ in addition to the payload
	MinFrameLen = 2
	MaxFrameLen = MinFrameLen + MaxPayloadSize
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Binary frame types
const (
	FrameHello     = 0x01
	FrameCommand   = 0x02
	FrameAck       = 0x82
	FrameTelemetry = 0x83
	FrameFault     = 0x84
)

// Text protocol opcodes (the N field). These match the robot firmware's
// command numbering.
const (
	OpHello       = 0
	OpServo       = 5
	OpUltrasonic  = 21
	OpLineSensor  = 22
	OpBattery     = 23
	OpDiagnostics = 120
	OpInit        = 130
	OpDriveConfig = 140
	OpSetpoint    = 200
	OpStop        = 201
	OpMacroStart  = 210
	OpMacroCancel = 211
	OpDirectPWM   = 999
)

// Drive config selectors for OpDriveConfig (the D1 field). D2 carries the
// value; zero clears the override and restores the battery-based default.
const (
	ConfigDeadband  = 1 // D2 packs left<<8 | right
	ConfigAccelStep = 2
	ConfigDecelStep = 3
	ConfigKickstart = 4 // 0/1, anything else clears the override
	ConfigPwmCap    = 5
)

// Ultrasonic query modes (the D1 field of OpUltrasonic)
const (
	UltrasonicObstacle = 1 // boolean reply, obstacle within 20 cm
	UltrasonicDistance = 2 // distance in cm
)

// Line sensor channels (the D1 field of OpLineSensor)
const (
	LineLeft   = 0
	LineMiddle = 1
	LineRight  = 2
)

// Macro identifiers (the D1 field of OpMacroStart)
const (
	MacroFigureEight = 1
	MacroSpin        = 2
	MacroWiggle      = 3
	MacroForwardStop = 4
)

// BootMarker is emitted by the device as a single line after reset.
// The gateway must re-handshake when it appears.
const BootMarker = "R"

// HelloReply is the untagged reply to an OpHello command.
const HelloReply = "hello_ok"

// Reply result literals
const (
	ResultOK    = "ok"
	ResultTrue  = "true"
	ResultFalse = "false"
)

// MaxTagLen bounds the H field. The firmware stores tags in a fixed
// 8-byte buffer including the terminator.
const MaxTagLen = 7

// MaxTextLine bounds an accepted text frame, matching the firmware's
// line accumulator.
const MaxTextLine = 64

// Setpoint TTL clamp range in milliseconds
const (
	MinTTLMs = 150
	MaxTTLMs = 10000
)

// Binary decoder states (internal)
const (
	stateHeader0 = iota
	stateHeader1
	stateLength
	stateType
	stateSeq
	statePayload
	stateCRCLow
	stateCRCHigh
)
