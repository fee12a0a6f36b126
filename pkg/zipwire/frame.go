// SPDX-License-Identifier: Apache-2.0

package zipwire

import "time"

// Frame represents a decoded binary protocol frame
type Frame struct {
	frameType uint8
	seq       uint8
	payload   []byte
	crc       uint16
	timestamp time.Time

	// Cached parsed payload (lazy parsing)
	payloadMap map[int]interface{}
	parsed     bool
	parseErr   error
}

// NewFrame creates a frame from a type, sequence number and raw payload
func NewFrame(frameType, seq uint8, payload []byte) *Frame {
	return &Frame{
		frameType: frameType,
		seq:       seq,
		payload:   payload,
		timestamp: time.Now(),
	}
}

// NewFrameWithMap creates a frame whose payload is a CBOR map with
// integer keys. The encoding happens at Encode time.
func NewFrameWithMap(frameType, seq uint8, payload map[int]interface{}) *Frame {
	return &Frame{
		frameType:  frameType,
		seq:        seq,
		payloadMap: payload,
		parsed:     true,
		timestamp:  time.Now(),
	}
}

func (f *Frame) ensureParsed() {
	if f.parsed {
		return
	}
	f.parsed = true
	if len(f.payload) == 0 {
		return
	}
	f.payloadMap, f.parseErr = ParseCBORPayload(f.payload)
}

// Type returns the frame type byte
func (f *Frame) Type() uint8 {
	return f.frameType
}

// Seq returns the frame's sequence number
func (f *Frame) Seq() uint8 {
	return f.seq
}

// Payload returns the raw payload bytes
func (f *Frame) Payload() []byte {
	return f.payload
}

// PayloadMap returns the decoded CBOR payload map (nil for empty or
// non-CBOR payloads)
func (f *Frame) PayloadMap() map[int]interface{} {
	f.ensureParsed()
	return f.payloadMap
}

// ParseError returns any error from parsing the CBOR payload
func (f *Frame) ParseError() error {
	f.ensureParsed()
	return f.parseErr
}

// CRC returns the frame's received CRC value
func (f *Frame) CRC() uint16 {
	return f.crc
}

// Timestamp returns the frame's decode timestamp
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}
