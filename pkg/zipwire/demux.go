// SPDX-License-Identifier: Apache-2.0

package zipwire

// Demux routes a mixed byte stream to the binary and text decoders.
// The binary header byte 0xAA cannot occur in the text form, so a byte
// opens a binary frame exactly when the binary decoder is hunting for
// a header and the byte is 0xAA; once a binary frame is open, all
// bytes belong to it until it completes or fails.
type Demux struct {
	bin   *Decoder
	text  *TextDecoder
	stats *Stats
}

// NewDemux creates a demultiplexer with a shared statistics tracker
func NewDemux() *Demux {
	stats := NewStats()
	return &Demux{
		bin:   NewDecoder(stats),
		text:  NewTextDecoder(stats),
		stats: stats,
	}
}

// Stats returns the shared statistics tracker
func (m *Demux) Stats() *Stats {
	return m.stats
}

// Feed processes one byte. At most one of frame/line is produced.
// Binary decode errors are already counted in the shared stats; the
// caller may ignore them and keep feeding.
func (m *Demux) Feed(b byte) (frame *Frame, line string, ok bool) {
	if m.bin.state != stateHeader0 || b == Header0 {
		frame, _ = m.bin.DecodeByte(b)
		return frame, "", frame != nil
	}
	line, lineOK := m.text.DecodeByte(b)
	return nil, line, lineOK
}
