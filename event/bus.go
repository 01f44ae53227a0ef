package event

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultBuffer is the bus capacity used when none is configured.
const DefaultBuffer = 256

// Bus is a bounded, thread-safe event queue. Publish never blocks the
// producing engine: on overflow the oldest buffered event is discarded.
type Bus struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewBus creates a bus with the given buffer capacity. A non-positive
// capacity falls back to DefaultBuffer.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultBuffer
	}
	return &Bus{ch: make(chan Event, capacity)}
}

// Publish enqueues e without blocking. Events from a single publishing
// goroutine keep their order.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for {
		select {
		case b.ch <- e:
			return
		default:
		}
		// Buffer full: drop the oldest event to make room.
		select {
		case dropped := <-b.ch:
			logrus.WithFields(logrus.Fields{
				"function":  "Publish",
				"component": dropped.Component(),
			}).Warn("Event buffer full, dropping oldest event")
		default:
		}
	}
}

// Events returns the receive side of the bus. The channel is closed by
// Close.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close shuts the bus. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
