package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"loginshield.io/internal/obs"
)

// Sink delivers one encoded event to a broker.
type Sink interface {
	Send(ctx context.Context, key string, payload []byte) error
	Close() error
}

// Observer receives every accepted event in-process. Publish must not block.
type Observer interface {
	Publish(LoginEvent)
}

// Emitter queues events and hands them to a Sink from a single background
// worker. Emit never blocks: a full queue drops the event.
type Emitter struct {
	sink        Sink
	observer    Observer
	sendTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan LoginEvent
	done   chan struct{}
}

// NewEmitter starts the delivery worker. observer may be nil.
func NewEmitter(sink Sink, observer Observer, queueSize int) *Emitter {
	if queueSize <= 0 {
		queueSize = 1024
	}
	e := &Emitter{
		sink:        sink,
		observer:    observer,
		sendTimeout: 5 * time.Second,
		queue:       make(chan LoginEvent, queueSize),
		done:        make(chan struct{}),
	}
	go e.run()
	return e
}

// Emit enqueues ev for delivery and returns immediately.
func (e *Emitter) Emit(ev LoginEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.drop(ev, "emitter closed")
		return
	}
	if e.observer != nil {
		e.observer.Publish(ev)
	}
	select {
	case e.queue <- ev:
	default:
		e.drop(ev, "queue full")
	}
}

func (e *Emitter) drop(ev LoginEvent, reason string) {
	obs.EventsDropped.Inc()
	obs.Logger().Warn().
		Str("ip", ev.IP).
		Str("status", string(ev.Status)).
		Str("reason", reason).
		Msg("login event dropped")
}

func (e *Emitter) run() {
	defer close(e.done)
	for ev := range e.queue {
		e.deliver(ev)
	}
}

func (e *Emitter) deliver(ev LoginEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		obs.EventsFailed.Inc()
		obs.Logger().Error().Err(err).Msg("encode login event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.sendTimeout)
	defer cancel()
	if err := e.sink.Send(ctx, ev.Key(), payload); err != nil {
		obs.EventsFailed.Inc()
		obs.Logger().Error().Err(err).
			Str("ip", ev.IP).
			Str("status", string(ev.Status)).
			Msg("login event delivery failed")
		return
	}
	obs.EventsEmitted.Inc()
}

// Close stops accepting events, waits for queued ones to be delivered (or
// ctx to expire) and closes the sink.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.sink.Close()
}
