package store

import (
	"sync"
)

// Hub fans appended readings out to live consumers.
//
// Subscribers receive updates via buffered channels (buffer size 100).
// Publishes are non-blocking; if a subscriber's buffer is full, the reading
// is dropped for that subscriber rather than blocking the append path. The
// chart is redrawn from the durable log on the next tick anyway, so dropped
// live updates are cosmetic.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Reading]struct{}
}

// NewHub creates an empty [Hub], immediately ready for use.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[chan Reading]struct{}),
	}
}

// Publish delivers a reading to every active subscriber without blocking.
func (h *Hub) Publish(r Reading) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers {
		select {
		case ch <- r:
		default:
			// subscriber is slow, drop the reading
		}
	}
}

// PublishBatch delivers several readings in order.
func (h *Hub) PublishBatch(rs []Reading) {
	for _, r := range rs {
		h.Publish(r)
	}
}

// Subscribe registers a new consumer and returns its channel.
//
// Caller must call [Hub.Unsubscribe] when done to prevent resource leaks.
func (h *Hub) Subscribe() <-chan Reading {
	ch := make(chan Reading, 100)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// multiple times or with an unknown channel.
func (h *Hub) Unsubscribe(ch <-chan Reading) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subscribers {
		if sub == ch {
			delete(h.subscribers, sub)
			close(sub)
			break
		}
	}
}
