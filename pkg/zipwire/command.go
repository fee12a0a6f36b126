// SPDX-License-Identifier: Apache-2.0

package zipwire

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is the text-form command carried in a single {...} line:
//
//	{"N":op,"H":tag,"D1":v,"D2":v,"T":ttl}
//
// N is the opcode, H the correlation tag (empty for fire-and-forget),
// D1/D2 the two signed parameters and T an optional TTL in milliseconds.
type Command struct {
	N  int
	H  string
	D1 int
	D2 int
	T  int
}

// MarshalText renders the command as a wire line, without a trailing
// newline. Zero-valued optional fields are omitted the way the original
// host software omits them.
func (c Command) MarshalText() string {
	var b strings.Builder
	b.Grow(MaxTextLine)
	fmt.Fprintf(&b, `{"N":%d`, c.N)
	if c.H != "" {
		fmt.Fprintf(&b, `,"H":"%s"`, c.H)
	}
	if c.D1 != 0 || c.D2 != 0 {
		fmt.Fprintf(&b, `,"D1":%d,"D2":%d`, c.D1, c.D2)
	}
	if c.T != 0 {
		fmt.Fprintf(&b, `,"T":%d`, c.T)
	}
	b.WriteByte('}')
	return b.String()
}

// ExpectsReply reports whether the opcode is answered with a tagged
// reply. Streamed setpoints are fire-and-forget by design.
func (c Command) ExpectsReply() bool {
	return c.N != OpSetpoint
}

// ParseCommand parses a braced text line into a Command using a
// fixed-field scanner. The protocol has a closed field set, so a
// general JSON parser is deliberately not used; this matches the
// firmware's parser and accepts the same loose input (unquoted tags,
// missing optional fields, arbitrary field order).
func ParseCommand(line string) (Command, error) {
	var cmd Command

	if len(line) < 2 || line[0] != '{' || line[len(line)-1] != '}' {
		return cmd, fmt.Errorf("not a braced line: %q", line)
	}
	body := line[1 : len(line)-1]

	n, ok, err := scanIntField(body, "N")
	if err != nil {
		return cmd, err
	}
	if !ok {
		return cmd, fmt.Errorf("missing N field: %q", line)
	}
	cmd.N = n

	if tag, ok := scanStringField(body, "H"); ok {
		if len(tag) > MaxTagLen {
			return cmd, fmt.Errorf("tag too long: %q", tag)
		}
		cmd.H = tag
	}
	if v, ok, err := scanIntField(body, "D1"); err != nil {
		return cmd, err
	} else if ok {
		cmd.D1 = v
	}
	if v, ok, err := scanIntField(body, "D2"); err != nil {
		return cmd, err
	} else if ok {
		cmd.D2 = v
	}
	if v, ok, err := scanIntField(body, "T"); err != nil {
		return cmd, err
	} else if ok {
		cmd.T = v
	}

	return cmd, nil
}

// scanIntField finds `"key":value` in the body and parses the integer
// value. Reports whether the field was present.
func scanIntField(body, key string) (int, bool, error) {
	raw, ok := scanRawField(body, key)
	if !ok {
		return 0, false, nil
	}
	raw = strings.Trim(raw, `"`)
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("field %s: %w", key, err)
	}
	return v, true, nil
}

// scanStringField finds `"key":"value"` in the body, tolerating an
// unquoted value.
func scanStringField(body, key string) (string, bool) {
	raw, ok := scanRawField(body, key)
	if !ok {
		return "", false
	}
	return strings.Trim(raw, `"`), true
}

// scanRawField returns the raw token after `"key":` up to the next
// top-level comma.
func scanRawField(body, key string) (string, bool) {
	marker := `"` + key + `":`
	idx := strings.Index(body, marker)
	if idx < 0 {
		return "", false
	}
	// Guard against suffix collisions, e.g. finding "D1" inside "XD1"
	if idx > 0 && body[idx-1] != ',' {
		return "", false
	}
	rest := body[idx+len(marker):]
	if end := strings.IndexByte(rest, ','); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest), true
}
