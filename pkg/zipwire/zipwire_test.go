// SPDX-License-Identifier: Apache-2.0

package zipwire

import (
	"errors"
	"testing"
)

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC_Empty(t *testing.T) {
	crc := CalculateCRC([]byte{})
	if crc != crcInitial {
		t.Errorf("CRC of empty data should be initial value, got 0x%04X", crc)
	}
}

func TestCalculateCRC_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{
			name:     "ASCII '123456789'",
			data:     []byte("123456789"),
			expected: 0x29B1, // Standard CRC-16-CCITT check value
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crc := CalculateCRC(tt.data)
			if crc != tt.expected {
				t.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", tt.expected, crc)
			}
		})
	}
}

func TestCalculateCRC_Deterministic(t *testing.T) {
	data := []byte{0x02, 0x83, 0x01, 0x02, 0x03, 0x04}
	crc1 := CalculateCRC(data)
	crc2 := CalculateCRC(data)
	if crc1 != crc2 {
		t.Errorf("CRC should be deterministic: 0x%04X != 0x%04X", crc1, crc2)
	}
}

// ============================================================
// Decoder Tests
// ============================================================

// feedBytes runs a byte slice through the decoder and returns every
// completed frame and error
func feedBytes(d *Decoder, data []byte) ([]*Frame, []error) {
	var frames []*Frame
	var errs []error
	for _, b := range data {
		frame, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
		}
		if frame != nil {
			frames = append(frames, frame)
		}
	}
	return frames, errs
}

func TestDecoder_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		frameType uint8
		seq       uint8
		payload   []byte
	}{
		{"empty payload", FrameHello, 0, nil},
		{"single byte", FrameCommand, 1, []byte{0x42}},
		{"telemetry-sized", FrameTelemetry, 200, []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{"max payload", FrameCommand, 255, make([]byte, MaxPayloadSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := EncodeFrame(tt.frameType, tt.seq, tt.payload)
			if err != nil {
				t.Fatalf("encode error: %v", err)
			}

			d := NewDecoder(nil)
			frames, errs := feedBytes(d, wire)
			if len(errs) > 0 {
				t.Fatalf("unexpected decode errors: %v", errs)
			}
			if len(frames) != 1 {
				t.Fatalf("expected 1 frame, got %d", len(frames))
			}

			f := frames[0]
			if f.Type() != tt.frameType {
				t.Errorf("type mismatch: expected 0x%02X, got 0x%02X", tt.frameType, f.Type())
			}
			if f.Seq() != tt.seq {
				t.Errorf("seq mismatch: expected %d, got %d", tt.seq, f.Seq())
			}
			if len(f.Payload()) != len(tt.payload) {
				t.Errorf("payload length mismatch: expected %d, got %d", len(tt.payload), len(f.Payload()))
			}
			for i := range tt.payload {
				if f.Payload()[i] != tt.payload[i] {
					t.Errorf("payload byte %d mismatch", i)
					break
				}
			}
		})
	}
}

func TestDecoder_GarbageBeforeFrame(t *testing.T) {
	wire, _ := EncodeFrame(FrameCommand, 7, []byte{0x10, 0x20})
	stream := append([]byte{0x00, 0xFF, 0x13, 0x55}, wire...)

	d := NewDecoder(nil)
	frames, _ := feedBytes(d, stream)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame after garbage, got %d", len(frames))
	}
	if frames[0].Seq() != 7 {
		t.Errorf("wrong frame decoded: seq=%d", frames[0].Seq())
	}
}

func TestDecoder_RepeatedHeaderByte(t *testing.T) {
	// An 0xAA 0xAA 0x55 run must still find the header pair
	wire, _ := EncodeFrame(FrameHello, 1, nil)
	stream := append([]byte{Header0}, wire...)

	d := NewDecoder(nil)
	frames, _ := feedBytes(d, stream)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
}

func TestDecoder_CRCMismatch(t *testing.T) {
	wire, _ := EncodeFrame(FrameCommand, 3, []byte{0xAB, 0xCD})
	wire[len(wire)-1] ^= 0xFF // corrupt CRC high byte

	d := NewDecoder(nil)
	frames, errs := feedBytes(d, wire)
	if len(frames) != 0 {
		t.Fatalf("corrupted frame must not decode")
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(errs))
	}

	var crcErr *CRCError
	if !errors.As(errs[0], &crcErr) {
		t.Fatalf("expected CRCError, got %T: %v", errs[0], errs[0])
	}
	if d.Stats().CRCErrors != 1 {
		t.Errorf("CRC error not counted: %d", d.Stats().CRCErrors)
	}
}

func TestDecoder_CorruptedPayloadByte(t *testing.T) {
	wire, _ := EncodeFrame(FrameTelemetry, 9, []byte{1, 2, 3, 4})
	wire[6] ^= 0x01 // flip a payload bit

	d := NewDecoder(nil)
	frames, errs := feedBytes(d, wire)
	if len(frames) != 0 {
		t.Fatal("corrupted frame must not decode")
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(errs))
	}
}

func TestDecoder_InvalidLength(t *testing.T) {
	tests := []struct {
		name   string
		length byte
	}{
		{"below minimum", 1},
		{"zero", 0},
		{"above maximum", MaxFrameLen + 1},
		{"way above maximum", 0xFE},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(nil)
			stream := []byte{Header0, Header1, tt.length}
			frames, errs := feedBytes(d, stream)
			if len(frames) != 0 {
				t.Fatal("frame must not complete")
			}
			if len(errs) != 1 {
				t.Fatalf("expected 1 error, got %d", len(errs))
			}
			if d.Stats().DecodeErrors != 1 {
				t.Errorf("decode error not counted")
			}
		})
	}
}

func TestDecoder_ResyncAfterBadFrame(t *testing.T) {
	// A corrupted frame between two valid frames must not take either
	// neighbor down with it
	first, _ := EncodeFrame(FrameCommand, 1, []byte{0x01})
	bad, _ := EncodeFrame(FrameCommand, 2, []byte{0x02})
	bad[len(bad)-2] ^= 0xFF // corrupt CRC low byte
	last, _ := EncodeFrame(FrameCommand, 3, []byte{0x03})

	stream := append(append(append([]byte{}, first...), bad...), last...)

	d := NewDecoder(nil)
	frames, errs := feedBytes(d, stream)
	if len(frames) != 2 {
		t.Fatalf("expected 2 valid frames, got %d", len(frames))
	}
	if frames[0].Seq() != 1 || frames[1].Seq() != 3 {
		t.Errorf("wrong frames decoded: seq %d and %d", frames[0].Seq(), frames[1].Seq())
	}
	if len(errs) != 1 {
		t.Errorf("expected 1 error for the bad frame, got %d", len(errs))
	}
	if d.Stats().ValidFrames != 2 || d.Stats().CRCErrors != 1 {
		t.Errorf("stats mismatch: %s", d.Stats().String())
	}
}

func TestEncodeFrame_PayloadTooLarge(t *testing.T) {
	_, err := EncodeFrame(FrameCommand, 0, make([]byte, MaxPayloadSize+1))
	if err == nil {
		t.Error("expected error for oversized payload")
	}
}

// ============================================================
// CBOR Frame Tests
// ============================================================

func TestFrame_CBORRoundTrip(t *testing.T) {
	payload := map[int]interface{}{
		0: int64(OpSetpoint),
		2: int64(-120),
		3: int64(40),
		4: int64(500),
	}
	f := NewFrameWithMap(FrameCommand, 11, payload)
	wire := f.MustEncode()

	d := NewDecoder(nil)
	frames, errs := feedBytes(d, wire)
	if len(errs) > 0 {
		t.Fatalf("decode errors: %v", errs)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}

	m := frames[0].PayloadMap()
	if m == nil {
		t.Fatalf("payload map missing: %v", frames[0].ParseError())
	}
	if v, ok := GetMapInt(m, 2); !ok || v != -120 {
		t.Errorf("key 2: expected -120, got %v (present=%v)", v, ok)
	}
	if v, ok := GetMapInt(m, 4); !ok || v != 500 {
		t.Errorf("key 4: expected 500, got %v (present=%v)", v, ok)
	}
}

func TestFrame_NonCBORPayload(t *testing.T) {
	f := NewFrame(FrameFault, 0, []byte{0xDE, 0xAD})
	wire := f.MustEncode()

	d := NewDecoder(nil)
	frames, _ := feedBytes(d, wire)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].PayloadMap() != nil {
		t.Error("garbage payload must not parse as CBOR")
	}
	if frames[0].ParseError() == nil {
		t.Error("expected a parse error for non-CBOR payload")
	}
}

// ============================================================
// Demux Tests
// ============================================================

func TestDemux_MixedStream(t *testing.T) {
	frameWire, _ := EncodeFrame(FrameTelemetry, 5, []byte{0x01})

	var stream []byte
	stream = append(stream, []byte("R\n")...)
	stream = append(stream, []byte("{hello_ok}")...)
	stream = append(stream, frameWire...)
	stream = append(stream, []byte(`{a1_ok}`)...)

	m := NewDemux()
	var frames []*Frame
	var lines []string
	for _, b := range stream {
		frame, line, ok := m.Feed(b)
		if !ok {
			continue
		}
		if frame != nil {
			frames = append(frames, frame)
		} else {
			lines = append(lines, line)
		}
	}

	if len(frames) != 1 {
		t.Fatalf("expected 1 binary frame, got %d", len(frames))
	}
	if frames[0].Seq() != 5 {
		t.Errorf("wrong frame: seq=%d", frames[0].Seq())
	}

	expected := []string{"R", "{hello_ok}", "{a1_ok}"}
	if len(lines) != len(expected) {
		t.Fatalf("expected %d lines, got %d: %v", len(expected), len(lines), lines)
	}
	for i, want := range expected {
		if lines[i] != want {
			t.Errorf("line %d: expected %q, got %q", i, want, lines[i])
		}
	}
}

func TestDemux_BinaryFramePayloadContainsBrace(t *testing.T) {
	// '{' bytes inside a binary frame belong to the frame, not the
	// text decoder
	frameWire, _ := EncodeFrame(FrameCommand, 1, []byte{'{', '}', '{'})

	m := NewDemux()
	var frames []*Frame
	var lines []string
	for _, b := range frameWire {
		frame, line, ok := m.Feed(b)
		if !ok {
			continue
		}
		if frame != nil {
			frames = append(frames, frame)
		} else {
			lines = append(lines, line)
		}
	}

	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if len(lines) != 0 {
		t.Fatalf("text decoder must not see frame bytes, got lines: %v", lines)
	}
}

func TestDemux_SharedStats(t *testing.T) {
	m := NewDemux()
	badFrame, _ := EncodeFrame(FrameCommand, 1, []byte{0x01})
	badFrame[len(badFrame)-1] ^= 0xFF

	for _, b := range badFrame {
		m.Feed(b)
	}
	for _, b := range []byte("{a1_ok}") {
		m.Feed(b)
	}

	if m.Stats().CRCErrors != 1 {
		t.Errorf("binary errors not visible in shared stats")
	}
	if m.Stats().TotalFrames == 0 {
		t.Errorf("total frame count not tracked")
	}
}
