// Package usage turns transcript usage blocks into ledger records and
// aggregates them into reports.
package usage

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/opencode-ai/clawdash/internal/live"
	"github.com/opencode-ai/clawdash/internal/models"
	"github.com/opencode-ai/clawdash/internal/tail"
	"github.com/rs/zerolog"
)

// mirrorModel marks bookkeeping copies of turns that were already billed.
const mirrorModel = "delivery-mirror"

// defaultWriteTimeout bounds a single ledger write from the watcher loop.
const defaultWriteTimeout = 5 * time.Second

// Store persists usage records.
type Store interface {
	CreateBatch(ctx context.Context, records []*models.UsageRecord) (int, error)
}

// Recorder stores the usage of every decoded batch. It is a live.RawSink.
type Recorder struct {
	store   Store
	logger  zerolog.Logger
	now     func() time.Time
	timeout time.Duration

	inserted atomic.Int64
	failures atomic.Int64
}

var _ live.RawSink = (*Recorder)(nil)

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the recorder logger.
func WithRecorderLogger(logger zerolog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithRecorderClock sets the clock used for records without a timestamp.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   store,
		logger:  zerolog.Nop(),
		now:     time.Now,
		timeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Consume records the usage carried by batch. Write failures are logged;
// the feed keeps running.
func (r *Recorder) Consume(batch live.Batch) {
	records := Extract(batch.AgentID, batch.SessionID, batch.Records, r.now)
	if len(records) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	n, err := r.store.CreateBatch(ctx, records)
	if err != nil {
		r.failures.Add(1)
		r.logger.Warn().Err(err).Str("path", batch.Path).Int("records", len(records)).Msg("failed to record usage")
		return
	}
	r.inserted.Add(int64(n))
	if n > 0 {
		r.logger.Debug().Str("session", batch.SessionID).Int("inserted", n).Msg("recorded usage")
	}
}

// Inserted returns how many new records this recorder stored.
func (r *Recorder) Inserted() int64 {
	return r.inserted.Load()
}

// Failures returns how many batches failed to store.
func (r *Recorder) Failures() int64 {
	return r.failures.Load()
}

// Extract builds usage records from decoded transcript records. Records
// without a usage block, with no token or cost data, or from mirror models
// are skipped.
func Extract(agentID, sessionID string, records []tail.Record, now func() time.Time) []*models.UsageRecord {
	var out []*models.UsageRecord
	for i := range records {
		if rec := fromEvent(agentID, sessionID, records[i], now); rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

func fromEvent(agentID, sessionID string, rec tail.Record, now func() time.Time) *models.UsageRecord {
	ev := rec.Event
	if !ev.IsMessage() || ev.Message == nil || ev.Message.Usage == nil {
		return nil
	}
	msg := ev.Message
	if strings.Contains(msg.Model, mirrorModel) {
		return nil
	}

	u := msg.Usage
	cost := 0.0
	if u.Cost != nil {
		cost = u.Cost.Total
		if cost == 0 {
			cost = u.Cost.Input + u.Cost.Output + u.Cost.CacheRead + u.Cost.CacheWrite
		}
	}
	if u.Input == 0 && u.Output == 0 && u.CacheRead == 0 && u.CacheWrite == 0 && cost == 0 {
		return nil
	}

	if sessionID == "" {
		sessionID = ev.SessionID
	}
	recordedAt := ev.Time()
	if recordedAt.IsZero() && now != nil {
		recordedAt = now()
	}

	out := &models.UsageRecord{
		AgentID:          agentID,
		SessionID:        sessionID,
		EventKey:         rec.Key,
		Provider:         msg.Provider,
		Model:            msg.Model,
		InputTokens:      u.Input,
		OutputTokens:     u.Output,
		CacheReadTokens:  u.CacheRead,
		CacheWriteTokens: u.CacheWrite,
		TotalTokens:      u.TotalTokens,
		CostUSD:          cost,
		RecordedAt:       recordedAt.UTC(),
	}
	if out.TotalTokens == 0 {
		out.CalculateTotalTokens()
	}
	return out
}
