package live

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/opencode-ai/clawdash/internal/agents"
	"github.com/opencode-ai/clawdash/internal/models"
	"github.com/opencode-ai/clawdash/internal/normalize"
	"github.com/opencode-ai/clawdash/internal/tail"
	"github.com/rs/zerolog"
)

// Replay defaults.
const (
	DefaultReplayLimit     = 20
	DefaultReplayWindow    = time.Hour
	DefaultReplayTailLines = 5
)

// Replayer rebuilds a short backlog straight from the transcripts: the last
// few lines of every transcript modified recently, newest first. Nothing is
// buffered between calls.
type Replayer struct {
	enum       *agents.Enumerator
	normalizer *normalize.Normalizer
	logger     zerolog.Logger
	now        func() time.Time

	limit     int
	window    time.Duration
	tailLines int
}

// ReplayerOption configures a Replayer.
type ReplayerOption func(*Replayer)

// WithReplayLimit caps the number of backlog events.
func WithReplayLimit(n int) ReplayerOption {
	return func(r *Replayer) {
		r.limit = n
	}
}

// WithReplayWindow sets how recently a transcript must have been modified.
func WithReplayWindow(d time.Duration) ReplayerOption {
	return func(r *Replayer) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithReplayTailLines sets how many trailing lines are read per transcript.
func WithReplayTailLines(n int) ReplayerOption {
	return func(r *Replayer) {
		r.tailLines = n
	}
}

// WithReplayClock overrides the clock used for the modification window.
func WithReplayClock(now func() time.Time) ReplayerOption {
	return func(r *Replayer) {
		r.now = now
	}
}

// WithReplayLogger sets the replayer's logger.
func WithReplayLogger(logger zerolog.Logger) ReplayerOption {
	return func(r *Replayer) {
		r.logger = logger
	}
}

// NewReplayer creates a Replayer.
func NewReplayer(enum *agents.Enumerator, normalizer *normalize.Normalizer, opts ...ReplayerOption) *Replayer {
	r := &Replayer{
		enum:       enum,
		normalizer: normalizer,
		logger:     zerolog.Nop(),
		now:        time.Now,
		limit:      DefaultReplayLimit,
		window:     DefaultReplayWindow,
		tailLines:  DefaultReplayTailLines,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Backlog returns up to limit events sorted by timestamp, newest first.
// Unreadable files are skipped.
func (r *Replayer) Backlog() []models.LiveEvent {
	if r.limit <= 0 || r.tailLines <= 0 {
		return nil
	}

	dirs, err := r.enum.Dirs()
	if err != nil {
		r.logger.Debug().Err(err).Msg("replay: enumerate agents")
		return nil
	}

	cutoff := r.now().Add(-r.window)
	type stamped struct {
		at    time.Time
		event models.LiveEvent
	}
	var collected []stamped

	for _, dir := range dirs {
		names, err := agents.ListSessionFiles(dir.Dir)
		if err != nil {
			r.logger.Debug().Err(err).Str("dir", dir.Dir).Msg("replay: list transcripts")
			continue
		}
		for _, name := range names {
			// Archived reset variants are not replayed.
			if !strings.HasSuffix(name, ".jsonl") {
				continue
			}
			path := filepath.Join(dir.Dir, name)
			info, err := os.Stat(path)
			if err != nil || !info.ModTime().After(cutoff) {
				continue
			}

			lines, err := tail.LastLines(path, r.tailLines)
			if err != nil {
				r.logger.Debug().Err(err).Str("path", path).Msg("replay: read transcript")
				continue
			}
			sessionKey := agents.SessionIDFromFile(name)
			for _, line := range lines {
				rec, ok := tail.DecodeLine(line)
				if !ok {
					continue
				}
				event, ok := r.normalizer.Normalize(rec.Event, sessionKey)
				if !ok {
					continue
				}
				collected = append(collected, stamped{at: parseTimestamp(event.Timestamp), event: event})
			}
		}
	}

	sort.SliceStable(collected, func(i, j int) bool {
		return collected[i].at.After(collected[j].at)
	})
	if len(collected) > r.limit {
		collected = collected[:r.limit]
	}

	events := make([]models.LiveEvent, 0, len(collected))
	for _, s := range collected {
		events = append(events, s.event)
	}
	return events
}

func parseTimestamp(ts string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}
	}
	return t
}
