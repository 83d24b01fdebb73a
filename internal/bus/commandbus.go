package bus

import (
	"context"
	"sync"

	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// CommandBus is an unbounded FIFO queue of events with exactly one consumer.
// Gateways and schedulers call Send from anywhere; the orchestrator loop is
// the only caller of Receive, so user messages and approvals are processed
// strictly in arrival order.
type CommandBus struct {
	mu     sync.Mutex
	queue  []*models.Event
	wake   chan struct{}
	closed bool
}

// NewCommandBus creates an empty command bus.
func NewCommandBus() *CommandBus {
	return &CommandBus{
		wake: make(chan struct{}, 1),
	}
}

// Send enqueues an event. It never blocks. Returns ErrClosed after Close.
func (b *CommandBus) Send(ev *models.Event) error {
	if ev == nil {
		return nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

// Receive blocks until an event is available, the context is cancelled, or
// the bus is closed and drained. Only one goroutine may call Receive.
func (b *CommandBus) Receive(ctx context.Context) (*models.Event, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			ev := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return ev, nil
		}
		closed := b.closed
		b.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.wake:
		}
	}
}

// Len returns the number of queued events.
func (b *CommandBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close stops accepting new events. Receive drains what is already queued
// and then returns ErrClosed.
func (b *CommandBus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}
