// SPDX-License-Identifier: Apache-2.0

package zipwire

import (
	"fmt"
	"time"
)

// CRCError reports a checksum mismatch on an otherwise well-formed frame
type CRCError struct {
	Expected uint16
	Got      uint16
}

func (e *CRCError) Error() string {
	return fmt.Sprintf("CRC mismatch: expected 0x%04X, got 0x%04X", e.Expected, e.Got)
}

// Decoder implements the binary protocol frame decoder state machine.
// Bytes are fed one at a time; the working buffer is allocated once so
// steady-state decoding does not allocate per byte.
type Decoder struct {
	state       int
	buffer      []byte // LEN..PAYLOAD, the CRC'd region
	bufferIndex int
	frame       *Frame
	payloadLen  int
	crcLow      byte
	stats       *Stats
}

// NewDecoder creates a new binary frame decoder. The stats tracker may
// be shared with a text decoder on the same link; nil allocates a
// private one.
func NewDecoder(stats *Stats) *Decoder {
	if stats == nil {
		stats = NewStats()
	}
	return &Decoder{
		state:  stateHeader0,
		buffer: make([]byte, MaxFrameLen+1),
		stats:  stats,
	}
}

// Stats returns the decoder's statistics tracker
func (d *Decoder) Stats() *Stats {
	return d.stats
}

// Reset returns the decoder to header search
func (d *Decoder) Reset() {
	d.state = stateHeader0
	d.bufferIndex = 0
	d.frame = nil
	d.payloadLen = 0
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed frame, or nil while a frame is incomplete.
// A malformed frame returns an error and the decoder resyncs to header
// search; buffered bytes of the next frame are not lost because the
// header pair cannot occur inside the CRC'd region of a valid frame.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	switch d.state {
	case stateHeader0:
		if b == Header0 {
			d.state = stateHeader1
		}
		return nil, nil

	case stateHeader1:
		if b == Header1 {
			d.state = stateLength
		} else if b != Header0 {
			// An 0xAA 0xAA run keeps us one byte from sync
			d.state = stateHeader0
		}
		return nil, nil

	case stateLength:
		if int(b) < MinFrameLen || int(b) > MaxFrameLen {
			d.Reset()
			err := fmt.Errorf("invalid length: %d", b)
			d.stats.CountError(err)
			return nil, err
		}
		d.buffer[0] = b
		d.bufferIndex = 1
		d.payloadLen = int(b) - MinFrameLen
		d.frame = &Frame{}
		d.state = stateType
		return nil, nil

	case stateType:
		d.frame.frameType = b
		d.buffer[d.bufferIndex] = b
		d.bufferIndex++
		d.state = stateSeq
		return nil, nil

	case stateSeq:
		d.frame.seq = b
		d.buffer[d.bufferIndex] = b
		d.bufferIndex++
		if d.payloadLen == 0 {
			d.state = stateCRCLow
		} else {
			d.frame.payload = make([]byte, 0, d.payloadLen)
			d.state = statePayload
		}
		return nil, nil

	case statePayload:
		d.frame.payload = append(d.frame.payload, b)
		d.buffer[d.bufferIndex] = b
		d.bufferIndex++
		if len(d.frame.payload) >= d.payloadLen {
			d.state = stateCRCLow
		}
		return nil, nil

	case stateCRCLow:
		d.crcLow = b
		d.state = stateCRCHigh
		return nil, nil

	case stateCRCHigh:
		frame := d.frame
		frame.crc = uint16(b)<<8 | uint16(d.crcLow)
		calculated := CalculateCRC(d.buffer[:d.bufferIndex])
		d.Reset()

		if frame.crc != calculated {
			err := &CRCError{Expected: calculated, Got: frame.crc}
			d.stats.CountError(err)
			return nil, err
		}

		frame.timestamp = time.Now()
		d.stats.CountValid()
		return frame, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}
