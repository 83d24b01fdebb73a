// Package gateway defines the contract between the runtime and its chat
// surfaces, plus rendering helpers the concrete adapters share.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// Adapter is one chat surface. Inbound traffic is translated to
// user_message / user_approval events on the Events channel; outbound
// agent streams are rendered with Render.
type Adapter interface {
	// Name identifies the adapter in logs and event sources.
	Name() string

	// Start connects the surface and begins producing events. Not
	// blocking; the adapter owns its goroutines until Stop.
	Start(ctx context.Context) error

	// Stop disconnects and waits for the adapter's goroutines up to ctx.
	Stop(ctx context.Context) error

	// Events is the inbound stream. It is closed when the adapter stops.
	Events() <-chan *models.Event

	// Render presents one agent run to the chat identified by chatID,
	// consuming chunks until the stream closes or ctx is done.
	Render(ctx context.Context, chatID string, chunks <-chan *models.StreamChunk) error
}

// DefaultEditInterval is the minimum spacing between message edits; chat
// APIs throttle faster edit rates.
const DefaultEditInterval = time.Second

// Throttle coalesces rapid updates to one action per interval. Ready
// reports whether an action may fire now; Mark records that it did.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// NewThrottle creates a throttle with the given minimum interval.
// Non-positive intervals fall back to DefaultEditInterval.
func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		interval = DefaultEditInterval
	}
	return &Throttle{interval: interval, now: time.Now}
}

// Ready reports whether enough time has passed since the last Mark. The
// first call is always ready.
func (t *Throttle) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last.IsZero() || t.now().Sub(t.last) >= t.interval
}

// Mark records that an action fired now.
func (t *Throttle) Mark() {
	t.mu.Lock()
	t.last = t.now()
	t.mu.Unlock()
}

// Wait blocks until the throttle is ready or ctx is done, then marks.
func (t *Throttle) Wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		var wait time.Duration
		if !t.last.IsZero() {
			if remaining := t.interval - t.now().Sub(t.last); remaining > 0 {
				wait = remaining
			}
		}
		if wait == 0 {
			t.last = t.now()
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
