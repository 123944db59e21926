package stream

import (
	"context"
	"sync"

	"loginshield.io/internal/events"
)

// Hub fans login events out to live subscribers (admin SSE clients).
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan events.LoginEvent
	next   int
	buffer int
}

var _ events.Observer = (*Hub)(nil)

// New creates an empty hub. Each subscriber gets a buffer of the given size.
func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[int]chan events.LoginEvent), buffer: buffer}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (h *Hub) Subscribe(ctx context.Context) <-chan events.LoginEvent {
	ch := make(chan events.LoginEvent, h.buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish fans the event out to all subscribers.
func (h *Hub) Publish(evt events.LoginEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			// slow subscriber
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
