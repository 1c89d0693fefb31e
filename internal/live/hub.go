// Package live tails agent transcripts and broadcasts normalized events
// to subscribers.
package live

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/opencode-ai/clawdash/internal/models"
	"github.com/rs/zerolog"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 256

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("live hub closed")

// Publisher accepts normalized events.
type Publisher interface {
	Publish(event models.LiveEvent)
}

// Lifecycle is started when the first subscriber arrives and stopped when
// the last one leaves.
type Lifecycle interface {
	Start() error
	Stop() error
}

// BacklogSource reconstructs recent events for a new subscriber.
type BacklogSource interface {
	Backlog() []models.LiveEvent
}

// Subscription is one live consumer.
type Subscription struct {
	// ID identifies the subscriber in logs.
	ID string

	// Events delivers live events. It is closed on Unsubscribe or Close.
	Events <-chan models.LiveEvent

	// Backlog holds recent events, newest first, to be sent before Events.
	Backlog []models.LiveEvent

	ch      chan models.LiveEvent
	dropped atomic.Int64
}

// Dropped returns how many events this subscriber missed because its
// buffer was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Hub fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event but stays subscribed.
type Hub struct {
	logger       zerolog.Logger
	buffer       int
	backlog      BacklogSource
	lifecycle    Lifecycle
	keepWatching bool

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	// lifeMu serializes subscriber-count transitions so lifecycle hooks can
	// do I/O without holding mu.
	lifeMu  sync.Mutex
	running bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub's logger.
func WithHubLogger(logger zerolog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithBacklog sets the source replayed to new subscribers.
func WithBacklog(src BacklogSource) HubOption {
	return func(h *Hub) {
		h.backlog = src
	}
}

// WithLifecycle sets the hooks run on 0→1 and 1→0 subscriber transitions.
func WithLifecycle(lc Lifecycle) HubOption {
	return func(h *Hub) {
		h.lifecycle = lc
	}
}

// WithKeepWatching leaves the lifecycle running when the last subscriber
// leaves. File creations during idle periods are then not missed.
func WithKeepWatching(enabled bool) HubOption {
	return func(h *Hub) {
		h.keepWatching = enabled
	}
}

// NewHub creates a Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		logger: zerolog.Nop(),
		buffer: DefaultSubscriberBuffer,
		subs:   make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a subscriber, starting the lifecycle if it is the
// first, and computes its backlog.
func (h *Hub) Subscribe() (*Subscription, error) {
	h.lifeMu.Lock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.lifeMu.Unlock()
		return nil, ErrHubClosed
	}
	ch := make(chan models.LiveEvent, h.buffer)
	sub := &Subscription{
		ID:     uuid.New().String(),
		Events: ch,
		ch:     ch,
	}
	h.subs[sub.ID] = sub
	count := len(h.subs)
	h.mu.Unlock()

	if !h.running && h.lifecycle != nil {
		if err := h.lifecycle.Start(); err != nil {
			h.logger.Warn().Err(err).Msg("failed to start transcript watcher")
		} else {
			h.running = true
		}
	}
	h.lifeMu.Unlock()

	if h.backlog != nil {
		sub.Backlog = h.backlog.Backlog()
	}

	h.logger.Debug().
		Str("subscriber_id", sub.ID).
		Int("subscribers", count).
		Int("backlog", len(sub.Backlog)).
		Msg("subscriber added")
	return sub, nil
}

// Unsubscribe removes a subscriber and closes its channel. The lifecycle
// stops when no subscribers remain unless keep-watching is set. Calling it
// twice is harmless.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	h.mu.Lock()
	if _, ok := h.subs[sub.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, sub.ID)
	close(sub.ch)
	count := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug().
		Str("subscriber_id", sub.ID).
		Int("subscribers", count).
		Int64("dropped", sub.Dropped()).
		Msg("subscriber removed")

	if count == 0 && h.running && !h.keepWatching {
		h.stopLifecycle()
	}
}

// Publish delivers event to every subscriber without blocking.
func (h *Hub) Publish(event models.LiveEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
			h.logger.Warn().
				Str("subscriber_id", sub.ID).
				Str("session", event.Session).
				Msg("subscriber channel full, dropping event")
		}
	}
}

// Count returns the number of subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Running reports whether the lifecycle is started.
func (h *Hub) Running() bool {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	return h.running
}

// Close disconnects every subscriber and stops the lifecycle.
func (h *Hub) Close() {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if h.running {
		h.stopLifecycle()
	}
}

// StartLifecycle starts the lifecycle without a subscriber, for
// deployments that keep watching while idle.
func (h *Hub) StartLifecycle() error {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	if h.running || h.lifecycle == nil {
		return nil
	}
	if err := h.lifecycle.Start(); err != nil {
		return err
	}
	h.running = true
	return nil
}

// stopLifecycle must be called with lifeMu held.
func (h *Hub) stopLifecycle() {
	if h.lifecycle != nil {
		if err := h.lifecycle.Stop(); err != nil {
			h.logger.Warn().Err(err).Msg("failed to stop transcript watcher")
		}
	}
	h.running = false
}
