// SPDX-License-Identifier: Apache-2.0

package gateway

import "sync"

// commandQueue multiplexes outbound protocol lines onto the single
// transport writer. It keeps three lanes:
//
//   - stop lane: drained first, so a stop request preempts anything
//     queued before it
//   - normal lane: tagged control requests, FIFO
//   - setpoint slot: latest-wins; a newer streamed setpoint replaces an
//     older one that has not been transmitted yet
type commandQueue struct {
	mu       sync.Mutex
	stop     []string
	normal   []string
	setpoint string
	hasSet   bool
	closed   bool
	wake     chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{wake: make(chan struct{}, 1)}
}

func (q *commandQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *commandQueue) pushStop(line string) {
	q.mu.Lock()
	if !q.closed {
		q.stop = append(q.stop, line)
	}
	q.mu.Unlock()
	q.signal()
}

func (q *commandQueue) pushNormal(line string) {
	q.mu.Lock()
	if !q.closed {
		q.normal = append(q.normal, line)
	}
	q.mu.Unlock()
	q.signal()
}

func (q *commandQueue) putSetpoint(line string) {
	q.mu.Lock()
	if !q.closed {
		q.setpoint = line
		q.hasSet = true
	}
	q.mu.Unlock()
	q.signal()
}

// dropSetpoint discards an unsent setpoint. Called when a stop is
// issued so a stale motion command cannot trail the stop onto the wire.
func (q *commandQueue) dropSetpoint() {
	q.mu.Lock()
	q.hasSet = false
	q.setpoint = ""
	q.mu.Unlock()
}

func (q *commandQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// next blocks until a line is available or the queue is closed and
// drained.
func (q *commandQueue) next() (string, bool) {
	for {
		q.mu.Lock()
		switch {
		case len(q.stop) > 0:
			line := q.stop[0]
			q.stop = q.stop[1:]
			q.mu.Unlock()
			return line, true
		case len(q.normal) > 0:
			line := q.normal[0]
			q.normal = q.normal[1:]
			q.mu.Unlock()
			return line, true
		case q.hasSet:
			line := q.setpoint
			q.hasSet = false
			q.setpoint = ""
			q.mu.Unlock()
			return line, true
		case q.closed:
			q.mu.Unlock()
			return "", false
		}
		q.mu.Unlock()
		<-q.wake
	}
}
