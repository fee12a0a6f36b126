// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"fmt"
	"sync"

	"github.com/steffenpharai/zipbridge/pkg/zipwire"
)

// DefaultTagPoolSize is the bound on concurrently in-flight correlated
// requests.
const DefaultTagPoolSize = 16

// tagPool hands out short correlation tags from a bounded, recycling
// pool. Tags return to the pool when a request completes or times out,
// so a burst of slow requests exhausts the pool instead of growing
// unbounded state.
type tagPool struct {
	mu   sync.Mutex
	free []string
}

func newTagPool(size int) *tagPool {
	if size <= 0 {
		size = DefaultTagPoolSize
	}
	p := &tagPool{free: make([]string, 0, size)}
	for i := 0; i < size; i++ {
		// a0..a9, b0..b9, ... keeps tags short and unambiguous in the
		// line protocol
		tag := fmt.Sprintf("%c%d", 'a'+i/10, i%10)
		p.free = append(p.free, tag)
	}
	return p
}

func (p *tagPool) alloc() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return "", ErrTagPoolExhausted
	}
	tag := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return tag, nil
}

func (p *tagPool) release(tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, tag)
}

// replyMatcher correlates incoming tagged reply lines with waiting
// requests. Each pending request owns a one-shot channel; replies for
// unknown tags (already timed out) are dropped.
type replyMatcher struct {
	mu      sync.Mutex
	pending map[string]chan zipwire.Reply
}

func newReplyMatcher() *replyMatcher {
	return &replyMatcher{pending: make(map[string]chan zipwire.Reply)}
}

// register creates a waiter for tag and returns its completion channel.
func (m *replyMatcher) register(tag string) <-chan zipwire.Reply {
	ch := make(chan zipwire.Reply, 1)
	m.mu.Lock()
	m.pending[tag] = ch
	m.mu.Unlock()
	return ch
}

// complete delivers a reply to the waiter for its tag, if one is still
// registered. Returns false for unknown tags.
func (m *replyMatcher) complete(r zipwire.Reply) bool {
	m.mu.Lock()
	ch, ok := m.pending[r.Tag]
	if ok {
		delete(m.pending, r.Tag)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	ch <- r
	return true
}

// cancel removes the waiter for tag without delivering a reply. Returns
// false if the reply already arrived.
func (m *replyMatcher) cancel(tag string) bool {
	m.mu.Lock()
	_, ok := m.pending[tag]
	if ok {
		delete(m.pending, tag)
	}
	m.mu.Unlock()
	return ok
}

// failAll drains every waiter, used when the device reboots or the
// transport drops. Waiters observe a closed channel and report the
// link error.
func (m *replyMatcher) failAll() []string {
	m.mu.Lock()
	tags := make([]string, 0, len(m.pending))
	for tag, ch := range m.pending {
		close(ch)
		tags = append(tags, tag)
	}
	m.pending = make(map[string]chan zipwire.Reply)
	m.mu.Unlock()
	return tags
}
