// SPDX-License-Identifier: Apache-2.0

package zipwire

import "strings"

// Reply is a tagged device reply: {tag_result}. The result is a short
// literal ("ok", "true", "false") or a scalar value rendered as text.
type Reply struct {
	Tag    string
	Result string
}

// OK reports whether the reply carries the ok literal
func (r Reply) OK() bool {
	return r.Result == ResultOK
}

// Bool interprets a true/false reply. The second return is false for
// any other result.
func (r Reply) Bool() (bool, bool) {
	switch r.Result {
	case ResultTrue:
		return true, true
	case ResultFalse:
		return false, true
	}
	return false, false
}

// ParseReply splits a braced line into tag and result on the first
// underscore. The hello reply has no tag and is reported with an empty
// Tag and Result "hello_ok" is not produced here; callers should test
// IsHelloReply first. Lines that do not look like tagged replies
// (diagnostics bursts, stats lines) return ok=false and are left to
// the caller to interpret.
func ParseReply(line string) (Reply, bool) {
	if len(line) < 2 || line[0] != '{' || line[len(line)-1] != '}' {
		return Reply{}, false
	}
	body := line[1 : len(line)-1]
	idx := strings.IndexByte(body, '_')
	if idx <= 0 || idx == len(body)-1 {
		return Reply{}, false
	}
	tag := body[:idx]
	if len(tag) > MaxTagLen || strings.ContainsAny(tag, `":,`) {
		return Reply{}, false
	}
	return Reply{Tag: tag, Result: body[idx+1:]}, true
}

// IsHelloReply reports whether the line is the handshake reply
func IsHelloReply(line string) bool {
	return line == "{"+HelloReply+"}"
}

// IsBootMarker reports whether a stripped line is the device boot
// marker
func IsBootMarker(line string) bool {
	return line == BootMarker
}

// FormatReply renders a tagged reply line, without a trailing newline
func FormatReply(tag, result string) string {
	return "{" + tag + "_" + result + "}"
}

// FormatHelloReply renders the handshake reply line
func FormatHelloReply() string {
	return "{" + HelloReply + "}"
}
