package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultQueueSize is the number of events a subscriber may have pending
// before further events for it are dropped.
const DefaultQueueSize = 256

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus is an asynchronous publish-subscribe bus. Probe results flow
// from the monitor to storage, telemetry and notifiers through it.
//
// Every subscription owns a queue drained by a single goroutine, so a
// handler sees events in the order they were emitted and a slow handler
// never holds up the others.
type EventBus struct {
	mu        sync.RWMutex
	subs      map[EventType][]*subscription
	queueSize int
	stopCh    chan struct{}
	stopped   bool
	wg        sync.WaitGroup
}

type delivery struct {
	ctx   context.Context
	event Event
}

type subscription struct {
	name    string
	handler HandlerFunc
	queue   chan delivery
	dropped uint64 // guarded by EventBus.mu (write side)
}

// SubscriberStats describes one subscription.
type SubscriberStats struct {
	Event   EventType `json:"event"`
	Name    string    `json:"name"`
	Pending int       `json:"pending"`
	Dropped uint64    `json:"dropped"`
}

// BusOption configures an EventBus.
type BusOption func(*EventBus)

// WithQueueSize sets the per-subscriber queue length.
func WithQueueSize(n int) BusOption {
	return func(eb *EventBus) {
		if n > 0 {
			eb.queueSize = n
		}
	}
}

// NewEventBus creates a new EventBus instance.
func NewEventBus(opts ...BusOption) *EventBus {
	eb := &EventBus{
		subs:      make(map[EventType][]*subscription),
		queueSize: DefaultQueueSize,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(eb)
	}
	return eb
}

// Subscribe registers a handler for eventType. The name identifies the
// handler in logs and in Unsubscribe. Subscribing to a stopped bus is a
// no-op.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.stopped {
		return
	}

	sub := &subscription{
		name:    name,
		handler: handler,
		queue:   make(chan delivery, eb.queueSize),
	}
	eb.subs[eventType] = append(eb.subs[eventType], sub)

	eb.wg.Add(1)
	go eb.drain(eventType, sub)

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes every handler called name from eventType. Events
// already queued for it are still delivered.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	kept := eb.subs[eventType][:0:0]
	for _, sub := range eb.subs[eventType] {
		if sub.name == name {
			close(sub.queue)
			continue
		}
		kept = append(kept, sub)
	}
	eb.subs[eventType] = kept
}

func (eb *EventBus) drain(eventType EventType, sub *subscription) {
	defer eb.wg.Done()
	for d := range sub.queue {
		eb.run(d.ctx, sub, d.event)
	}
	log.Trace().
		Str("event", string(eventType)).
		Str("handler", sub.name).
		Msg("subscriber drained")
}

// Emit queues event for every subscriber of its type and returns without
// waiting. A subscriber whose queue is full misses the event.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.stopped {
		return
	}

	for _, sub := range eb.subs[event.Type] {
		select {
		case sub.queue <- delivery{ctx: ctx, event: event}:
		default:
			sub.dropped++
			log.Warn().
				Str("event", string(event.Type)).
				Str("source", event.Source).
				Str("handler", sub.name).
				Uint64("dropped", sub.dropped).
				Msg("subscriber queue full, event dropped")
		}
	}
}

// EmitSync runs every handler of the event's type in the caller's
// goroutine, in subscription order, bypassing the queues. It returns the
// first error encountered, if any.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return nil
	}
	subs := append([]*subscription(nil), eb.subs[event.Type]...)
	eb.mu.RUnlock()

	var firstErr error
	for _, sub := range subs {
		if err := eb.run(ctx, sub, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// run invokes one handler, logging errors and recovering panics.
func (eb *EventBus) run(ctx context.Context, sub *subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", sub.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = sub.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", sub.name).
			Msg("handler returned error")
	}
	return err
}

// Stop refuses new events, delivers what is already queued and waits for
// every subscriber to finish. Calling Stop more than once is safe.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	for _, subs := range eb.subs {
		for _, sub := range subs {
			close(sub.queue)
		}
	}
	eb.subs = make(map[EventType][]*subscription)
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for eventType.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs[eventType])
}

// Stats returns queue depth and drop counts for every live subscription.
func (eb *EventBus) Stats() []SubscriberStats {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var out []SubscriberStats
	for eventType, subs := range eb.subs {
		for _, sub := range subs {
			out = append(out, SubscriberStats{
				Event:   eventType,
				Name:    sub.name,
				Pending: len(sub.queue),
				Dropped: sub.dropped,
			})
		}
	}
	return out
}
