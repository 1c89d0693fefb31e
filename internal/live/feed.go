package live

import (
	"github.com/opencode-ai/clawdash/internal/agents"
	"github.com/opencode-ai/clawdash/internal/config"
	"github.com/opencode-ai/clawdash/internal/normalize"
	"github.com/opencode-ai/clawdash/internal/tail"
	"github.com/rs/zerolog"
)

// Feed is the assembled live pipeline: enumerator, cursor registry,
// reader, normalizer, watcher, replayer and hub.
type Feed struct {
	Enumerator *agents.Enumerator
	Registry   *tail.Registry
	Normalizer *normalize.Normalizer
	Watcher    *Watcher
	Replayer   *Replayer
	Hub        *Hub
}

// FeedOptions holds the collaborators of a Feed.
type FeedOptions struct {
	// Sessions resolves display labels. Optional.
	Sessions normalize.SessionLookup

	// Sinks receive every decoded batch. Optional.
	Sinks []RawSink

	Logger zerolog.Logger
}

// NewFeed wires a Feed from configuration.
func NewFeed(cfg *config.Config, opts FeedOptions) *Feed {
	enum := agents.NewEnumerator(cfg.OpenClaw.Dir, cfg.OpenClaw.FallbackAgent)
	registry := tail.NewRegistry()
	reader := tail.NewReader(registry,
		tail.WithHoldPartial(cfg.Live.HoldPartialLines),
		tail.WithLogger(opts.Logger.With().Str("component", "tail").Logger()),
	)
	normalizer := normalize.New(opts.Sessions)

	replayer := NewReplayer(enum, normalizer,
		WithReplayLimit(cfg.Live.ReplayLimit),
		WithReplayWindow(cfg.Live.ReplayWindow),
		WithReplayTailLines(cfg.Live.ReplayTailLines),
		WithReplayLogger(opts.Logger),
	)

	hub := NewHub(
		WithHubLogger(opts.Logger.With().Str("component", "hub").Logger()),
		WithBuffer(cfg.Live.SubscriberBuffer),
		WithBacklog(replayer),
		WithKeepWatching(cfg.Live.KeepWatchingWhenIdle),
	)

	watcher := NewWatcher(enum, reader, normalizer, hub,
		WithWatcherLogger(opts.Logger.With().Str("component", "watcher").Logger()),
		WithRescanInterval(cfg.Live.RescanInterval),
		WithRawSinks(opts.Sinks...),
	)
	WithLifecycle(watcher)(hub)

	return &Feed{
		Enumerator: enum,
		Registry:   registry,
		Normalizer: normalizer,
		Watcher:    watcher,
		Replayer:   replayer,
		Hub:        hub,
	}
}

// Close disconnects subscribers and releases every watch.
func (f *Feed) Close() {
	f.Hub.Close()
}
