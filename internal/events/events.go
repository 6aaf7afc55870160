// Package events publishes best-effort progress notifications. Delivery is
// at-most-once and advisory: the pipeline never blocks on, or depends on,
// a subscriber being present.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	BatchStarted       Type = "batch_started"
	BatchProgress      Type = "batch_progress"
	BatchCompleted     Type = "batch_completed"
	BatchCancelled     Type = "batch_cancelled"
	ItemReviewRequired Type = "item_review_required"
)

// Event is one progress notification.
type Event struct {
	Type      Type           `json:"type"`
	BatchID   string         `json:"batch_id,omitempty"`
	ItemID    string         `json:"item_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher is implemented by anything that can receive pipeline events.
// Publish must never block.
type Publisher interface {
	Publish(e Event)
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

// Relay fans events out to subscriber channels. Full subscribers are
// skipped, not waited on.
type Relay struct {
	mu     sync.RWMutex
	subs   []chan Event
	logger *slog.Logger
	closed bool
}

// NewRelay creates a Relay.
func NewRelay(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{logger: logger.With("component", "events")}
}

// Subscribe returns a buffered channel of future events.
func (r *Relay) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(ch)
		return ch
	}
	r.subs = append(r.subs, ch)
	return ch
}

// Publish delivers an event to every subscriber that has buffer space.
func (r *Relay) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	for _, ch := range r.subs {
		select {
		case ch <- e:
		default:
			r.logger.Debug("subscriber full, dropping event", "type", e.Type)
		}
	}
}

// Close closes all subscriber channels.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
}
