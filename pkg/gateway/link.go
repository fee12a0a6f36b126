// SPDX-License-Identifier: Apache-2.0

package gateway

// LinkState tracks whether the device at the far end of the transport
// is ready to accept commands.
type LinkState int

const (
	// LinkNotReady is the initial state, and the state entered whenever
	// the device emits its boot marker (it just reset).
	LinkNotReady LinkState = iota

	// LinkHandshaking means a hello has been sent and its reply is
	// pending.
	LinkHandshaking

	// LinkReady means the hello reply was received; correlated requests
	// may flow.
	LinkReady
)

func (s LinkState) String() string {
	switch s {
	case LinkNotReady:
		return "not-ready"
	case LinkHandshaking:
		return "handshaking"
	case LinkReady:
		return "ready"
	default:
		return "unknown"
	}
}

// linkEvent is an input to the link state machine.
type linkEvent int

const (
	evBootMarker linkEvent = iota // device emitted its reset banner
	evHelloSent                   // handshake command written
	evHelloOK                     // hello reply received
	evDisconnect                  // transport lost
)

// transitionLink is the single authoritative link state transition
// function. It returns the next state and whether the event caused a
// change.
func transitionLink(current LinkState, ev linkEvent) (LinkState, bool) {
	switch ev {
	case evBootMarker, evDisconnect:
		return LinkNotReady, current != LinkNotReady
	case evHelloSent:
		if current == LinkNotReady {
			return LinkHandshaking, true
		}
	case evHelloOK:
		if current == LinkHandshaking {
			return LinkReady, true
		}
	}
	return current, false
}
