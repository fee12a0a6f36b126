// SPDX-License-Identifier: Apache-2.0

package zipwire

import (
	"errors"
	"fmt"
	"time"
)

// Stats tracks decode statistics and error counters for one link.
// Both the binary and text decoders feed the same instance so the
// diagnostics opcode can report a single view of link health.
type Stats struct {
	StartTime time.Time

	// Counters
	TotalFrames   uint64
	ValidFrames   uint64
	CRCErrors     uint64
	DecodeErrors  uint64 // framing/length violations
	ParseErrors   uint64 // text frames that scanned but did not parse
	DroppedLong   uint64 // text lines exceeding MaxTextLine
	LastFrameTime time.Time
}

// NewStats creates a new statistics tracker
func NewStats() *Stats {
	return &Stats{StartTime: time.Now()}
}

// CountValid records a successfully decoded frame of either form
func (s *Stats) CountValid() {
	s.TotalFrames++
	s.ValidFrames++
	s.LastFrameTime = time.Now()
}

// CountError records a failed decode
func (s *Stats) CountError(err error) {
	s.TotalFrames++
	var crcErr *CRCError
	if errors.As(err, &crcErr) {
		s.CRCErrors++
		return
	}
	s.DecodeErrors++
}

// ErrorCount returns the total number of decode failures of all kinds
func (s *Stats) ErrorCount() uint64 {
	return s.CRCErrors + s.DecodeErrors + s.ParseErrors + s.DroppedLong
}

// FrameRate returns the average decoded-frame rate in frames/sec
func (s *Stats) FrameRate() float64 {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.TotalFrames) / elapsed
}

// String returns a compact single-line summary, in the same shape the
// device reports over the diagnostics opcode
func (s *Stats) String() string {
	var msAgo int64
	if !s.LastFrameTime.IsZero() {
		msAgo = time.Since(s.LastFrameTime).Milliseconds()
	}
	return fmt.Sprintf("{stats:rx=%d,ok=%d,crc=%d,de=%d,pe=%d,long=%d,ms=%d}",
		s.TotalFrames, s.ValidFrames, s.CRCErrors, s.DecodeErrors,
		s.ParseErrors, s.DroppedLong, msAgo)
}

// Reset clears all counters
func (s *Stats) Reset() {
	*s = Stats{StartTime: time.Now()}
}
