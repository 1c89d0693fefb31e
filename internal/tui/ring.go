package tui

import (
	"sync"

	"github.com/opencode-ai/clawdash/internal/models"
)

// EventRing stores the last N live events.
type EventRing struct {
	mu     sync.Mutex
	size   int
	events []models.LiveEvent
	next   int
	full   bool
}

// NewEventRing returns a ring buffer sized for the provided event count.
func NewEventRing(size int) *EventRing {
	if size <= 0 {
		size = 1
	}
	return &EventRing{
		size:   size,
		events: make([]models.LiveEvent, size),
	}
}

// Add stores an event, evicting the oldest when full.
func (r *EventRing) Add(ev models.LiveEvent) {
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.next] = ev
	r.next++
	if r.next >= r.size {
		r.next = 0
		r.full = true
	}
}

// Len returns the number of buffered events.
func (r *EventRing) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return r.size
	}
	return r.next
}

// Reset drops every buffered event.
func (r *EventRing) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = 0
	r.full = false
	clear(r.events)
}

// Snapshot returns the buffered events oldest first.
func (r *EventRing) Snapshot() []models.LiveEvent {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]models.LiveEvent, r.next)
		copy(out, r.events[:r.next])
		return out
	}

	out := make([]models.LiveEvent, r.size)
	copy(out, r.events[r.next:])
	copy(out[r.size-r.next:], r.events[:r.next])
	return out
}
