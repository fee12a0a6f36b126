// SPDX-License-Identifier: Apache-2.0

package gateway

import "errors"

var (
	// ErrLinkNotReady is returned when a correlated request is issued
	// before the handshake has completed, or after the device rebooted.
	ErrLinkNotReady = errors.New("link not ready")

	// ErrReplyTimeout is returned when the device does not answer a
	// tagged request within the reply timeout.
	ErrReplyTimeout = errors.New("reply timeout")

	// ErrTagPoolExhausted is returned when every correlation tag is
	// tied up in an in-flight request.
	ErrTagPoolExhausted = errors.New("tag pool exhausted")

	// ErrSessionClosed is returned on any operation after Close.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotStreaming is returned by UpdateSetpoint when no streaming
	// session is active.
	ErrNotStreaming = errors.New("setpoint streaming not active")

	// ErrRequestRejected is returned when the device answers a tagged
	// request with a false result.
	ErrRequestRejected = errors.New("request rejected by device")
)
