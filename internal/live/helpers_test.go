package live

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opencode-ai/clawdash/internal/agents"
	"github.com/opencode-ai/clawdash/internal/models"
	"github.com/opencode-ai/clawdash/internal/normalize"
	"github.com/opencode-ai/clawdash/internal/tail"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tickFor = 10 * time.Millisecond
)

func sessionsDir(t *testing.T, root, agentID string) string {
	t.Helper()
	dir := filepath.Join(root, "agents", agentID, "sessions")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(line)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func messageLine(ts, role, content string) string {
	if ts == "" {
		return fmt.Sprintf(`{"type":"message","message":{"role":%q,"content":%q}}`+"\n", role, content)
	}
	return fmt.Sprintf(`{"type":"message","timestamp":%q,"message":{"role":%q,"content":%q}}`+"\n", ts, role, content)
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []models.LiveEvent
}

func (r *recorder) Publish(event models.LiveEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []models.LiveEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.LiveEvent, len(r.events))
	copy(out, r.events)
	return out
}

// batchSink collects raw batches.
type batchSink struct {
	mu      sync.Mutex
	batches []Batch
}

func (b *batchSink) Consume(batch Batch) {
	b.mu.Lock()
	b.batches = append(b.batches, batch)
	b.mu.Unlock()
}

func (b *batchSink) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, batch := range b.batches {
		n += len(batch.Records)
	}
	return n
}

func newTestWatcher(t *testing.T, root string, pub Publisher, opts ...WatcherOption) (*Watcher, *tail.Registry) {
	t.Helper()
	registry := tail.NewRegistry()
	w := NewWatcher(
		agents.NewEnumerator(root, ""),
		tail.NewReader(registry),
		normalize.New(nil),
		pub,
		opts...,
	)
	t.Cleanup(func() { _ = w.Stop() })
	return w, registry
}

func timeout() <-chan time.Time {
	return time.After(waitFor)
}
