// SPDX-License-Identifier: Apache-2.0

package zipwire

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

// TestFuzzDecoder_RandomBytes feeds random bytes to the binary decoder
// and verifies it doesn't crash or panic
func TestFuzzDecoder_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder(nil)

		length := rng.Intn(512) + 1
		data := make([]byte, length)
		rng.Read(data)

		for _, b := range data {
			d.DecodeByte(b)
		}
	}
}

// TestFuzzDecoder_ValidFramesWithNoise interleaves valid frames with
// random noise and verifies every valid frame still decodes
func TestFuzzDecoder_ValidFramesWithNoise(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		payload := make([]byte, rng.Intn(MaxPayloadSize+1))
		rng.Read(payload)
		seq := uint8(rng.Intn(256))
		wire, err := EncodeFrame(FrameCommand, seq, payload)
		if err != nil {
			t.Fatalf("encode error: %v", err)
		}

		// Noise that cannot contain a header pair keeps the prefix
		// unambiguous
		noise := make([]byte, rng.Intn(32))
		for j := range noise {
			noise[j] = byte(rng.Intn(0xA0))
		}

		d := NewDecoder(nil)
		stream := append(noise, wire...)
		var decoded *Frame
		for _, b := range stream {
			if frame, _ := d.DecodeByte(b); frame != nil {
				decoded = frame
			}
		}

		if decoded == nil {
			t.Fatalf("round %d: frame lost after %d noise bytes", i, len(noise))
		}
		if decoded.Seq() != seq || len(decoded.Payload()) != len(payload) {
			t.Fatalf("round %d: frame corrupted", i)
		}
	}
}

// TestFuzzTextDecoder_RandomBytes feeds random bytes to the text
// decoder; it must never panic and never emit a line over the limit
func TestFuzzTextDecoder_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewTextDecoder(nil)

		length := rng.Intn(512) + 1
		data := make([]byte, length)
		rng.Read(data)

		for _, b := range data {
			if line, ok := d.DecodeByte(b); ok {
				if len(line) > MaxTextLine+1 {
					t.Fatalf("overlong line emitted: %d bytes", len(line))
				}
			}
		}
	}
}

// TestFuzzDemux_FramesAmongLines mixes valid text lines and binary
// frames and verifies the demultiplexer separates them losslessly
func TestFuzzDemux_FramesAmongLines(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		m := NewDemux()
		wantFrames := 0
		wantLines := 0
		var stream []byte

		for j := 0; j < 8; j++ {
			if rng.Intn(2) == 0 {
				payload := make([]byte, rng.Intn(16))
				rng.Read(payload)
				wire, _ := EncodeFrame(FrameTelemetry, uint8(j), payload)
				stream = append(stream, wire...)
				wantFrames++
			} else {
				cmd := Command{N: rng.Intn(255), H: "a1", D1: rng.Intn(511) - 255}
				stream = append(stream, []byte(cmd.MarshalText())...)
				stream = append(stream, '\n')
				wantLines++
			}
		}

		gotFrames := 0
		gotLines := 0
		for _, b := range stream {
			frame, _, ok := m.Feed(b)
			if !ok {
				continue
			}
			if frame != nil {
				gotFrames++
			} else {
				gotLines++
			}
		}

		if gotFrames != wantFrames || gotLines != wantLines {
			t.Fatalf("round %d: expected %d frames / %d lines, got %d / %d",
				i, wantFrames, wantLines, gotFrames, gotLines)
		}
	}
}

// TestFuzzParseCommand_RandomStrings verifies the parser never panics
// on arbitrary input
func TestFuzzParseCommand_RandomStrings(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	charset := `{}"NHD12T:,_-0123456789abcdefok`
	for i := 0; i < rounds; i++ {
		length := rng.Intn(MaxTextLine)
		b := make([]byte, length)
		for j := range b {
			b[j] = charset[rng.Intn(len(charset))]
		}
		ParseCommand(string(b))
		ParseReply(string(b))
	}
}
