// SPDX-License-Identifier: Apache-2.0

package zipwire

// TextDecoder accumulates the line-oriented text form of the protocol
// one byte at a time. A frame opens on '{' and closes on '}'; a bare
// newline-terminated token (the boot marker) is also surfaced. The
// accumulator is fixed-size; overlong frames are dropped and counted,
// and the decoder resynchronizes on the next '{'.
type TextDecoder struct {
	buf     [MaxTextLine + 1]byte
	pos     int
	inFrame bool
	stats   *Stats
}

// NewTextDecoder creates a text-form decoder. The stats tracker may be
// shared with a binary decoder on the same link; nil allocates a
// private one.
func NewTextDecoder(stats *Stats) *TextDecoder {
	if stats == nil {
		stats = NewStats()
	}
	return &TextDecoder{stats: stats}
}

// Stats returns the decoder's statistics tracker
func (d *TextDecoder) Stats() *Stats {
	return d.stats
}

// Reset drops any partial frame
func (d *TextDecoder) Reset() {
	d.pos = 0
	d.inFrame = false
}

// DecodeByte processes one byte. Returns a complete line (braced
// frame, or a bare line such as the boot marker) and true when one is
// available.
func (d *TextDecoder) DecodeByte(b byte) (string, bool) {
	if !d.inFrame {
		switch {
		case b == '{':
			d.buf[0] = '{'
			d.pos = 1
			d.inFrame = true
		case b == '\n' || b == '\r':
			if d.pos > 0 {
				line := string(d.buf[:d.pos])
				d.pos = 0
				return line, true
			}
		default:
			// Bare token outside a frame: accumulate for the boot
			// marker, bounded by the same line limit
			if d.pos < MaxTextLine {
				d.buf[d.pos] = b
				d.pos++
			} else {
				d.pos = 0
			}
		}
		return "", false
	}

	switch b {
	case '}':
		if d.pos >= MaxTextLine {
			d.stats.DroppedLong++
			d.Reset()
			return "", false
		}
		d.buf[d.pos] = '}'
		d.pos++
		line := string(d.buf[:d.pos])
		d.Reset()
		return line, true

	case '\n', '\r':
		// Newline before '}' - incomplete frame, discard
		if d.pos > 1 {
			d.stats.ParseErrors++
		}
		d.Reset()
		return "", false

	case '{':
		// New frame start mid-frame - discard the old one
		d.stats.ParseErrors++
		d.buf[0] = '{'
		d.pos = 1
		return "", false

	default:
		if d.pos < MaxTextLine {
			d.buf[d.pos] = b
			d.pos++
		} else {
			d.stats.DroppedLong++
			d.Reset()
		}
		return "", false
	}
}
