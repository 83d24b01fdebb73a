// Package bus provides the pub/sub event bus and the FIFO command bus that
// connect gateways, agents, the plan director, and observers.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus: closed")

// Handler consumes one event. Handlers run concurrently with each other and
// with the publisher; they must do their own synchronization.
type Handler func(ctx context.Context, ev *models.Event)

// EventBus fans events out to subscribers by type. Delivery is best-effort,
// at-most-once: each handler runs in its own goroutine, panics are recovered
// and logged, and no ordering is guaranteed across subscribers.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[models.EventType][]Handler
	all      []Handler
	closed   bool

	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewEventBus creates an event bus. A nil logger falls back to slog.Default.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers: make(map[models.EventType][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for one event type. Handlers are never
// deregistered; subscribers live as long as the bus.
func (b *EventBus) Subscribe(eventType models.EventType, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// SubscribeAll registers a handler for every event type.
func (b *EventBus) SubscribeAll(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish dispatches the event to each matching handler in an independent
// goroutine. It never blocks on handlers. Events published after Close are
// dropped.
func (b *EventBus) Publish(ctx context.Context, ev *models.Event) {
	if ev == nil {
		return
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		b.logger.Debug("event dropped on closed bus", "event_type", ev.Type)
		return
	}
	targets := make([]Handler, 0, len(b.handlers[ev.Type])+len(b.all))
	targets = append(targets, b.handlers[ev.Type]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, h := range targets {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					b.logger.Error("event handler panicked",
						"event_type", ev.Type,
						"event_id", ev.ID,
						"panic", rec)
				}
			}()
			h(ctx, ev)
		}(h)
	}
}

// SubscriberCount returns the number of handlers that would receive an event
// of the given type.
func (b *EventBus) SubscriberCount(eventType models.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType]) + len(b.all)
}

// Close stops accepting events and waits for in-flight handlers to return,
// or for ctx to expire.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
