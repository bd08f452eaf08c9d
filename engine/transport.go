package engine

import (
	"sync"

	"github.com/evsio/evsio/events"
)

// Transport is one way of moving transport packets between the server
// and a client. Implementations emit:
//
//	"packet" (*Packet)   a decoded inbound packet
//	"drain"              the transport became writable
//	"error"  (error)     a transport-level failure
//	"close"  (string)    the transport is gone, with the close reason
type Transport interface {
	events.EventEmitter

	Name() string
	Writable() bool
	// Open starts inbound delivery. Callers subscribe their listeners
	// first, then Open, so no packet is dropped at startup.
	Open()
	Send([]*Packet)
	Close()
	// Discard marks the transport as superseded by an upgrade; a
	// discarded transport drops writes instead of queueing them.
	Discard()
	HandlesUpgrades() bool
}

// baseTransport carries the state shared by every transport.
type baseTransport struct {
	events.EventEmitter

	mu        sync.Mutex
	writable  bool
	discarded bool
	closed    bool
}

func newBaseTransport() *baseTransport {
	return &baseTransport{EventEmitter: events.New()}
}

func (t *baseTransport) Writable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.writable && !t.closed
}

func (t *baseTransport) setWritable(writable bool) {
	t.mu.Lock()
	t.writable = writable
	t.mu.Unlock()
}

func (t *baseTransport) Discard() {
	t.mu.Lock()
	t.discarded = true
	t.mu.Unlock()
}

func (t *baseTransport) discardedOrClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.discarded || t.closed
}

// markClosed reports whether this call performed the transition.
func (t *baseTransport) markClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	t.closed = true
	t.writable = false
	return true
}
