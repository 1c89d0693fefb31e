package live

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/opencode-ai/clawdash/internal/agents"
	"github.com/opencode-ai/clawdash/internal/models"
	"github.com/opencode-ai/clawdash/internal/normalize"
	"github.com/opencode-ai/clawdash/internal/tail"
	"github.com/rs/zerolog"
)

// Batch is the set of records decoded from one read of one transcript.
type Batch struct {
	Path      string
	AgentID   string
	SessionID string
	Records   []tail.Record
}

// RawSink receives every decoded batch before normalization.
type RawSink interface {
	Consume(batch Batch)
}

// fileHandle is a tracked transcript.
type fileHandle struct {
	path      string
	agentID   string
	sessionID string
}

// Watcher turns filesystem notifications on agent session directories
// into published live events. All notifications are handled on one
// goroutine, so reads of different files never interleave.
type Watcher struct {
	enum       *agents.Enumerator
	reader     *tail.Reader
	normalizer *normalize.Normalizer
	publisher  Publisher
	sinks      []RawSink
	logger     zerolog.Logger
	rescan     time.Duration

	// startStop serializes Start and Stop.
	startStop sync.Mutex

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	dirs    map[string]models.AgentDir
	files   map[string]*fileHandle
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(logger zerolog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithRescanInterval re-enumerates agent directories periodically. Zero
// disables the ticker.
func WithRescanInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.rescan = d
	}
}

// WithRawSinks registers consumers of decoded batches.
func WithRawSinks(sinks ...RawSink) WatcherOption {
	return func(w *Watcher) {
		w.sinks = append(w.sinks, sinks...)
	}
}

// NewWatcher creates a Watcher. It does nothing until Start.
func NewWatcher(enum *agents.Enumerator, reader *tail.Reader, normalizer *normalize.Normalizer, publisher Publisher, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		enum:       enum,
		reader:     reader,
		normalizer: normalizer,
		publisher:  publisher,
		logger:     zerolog.Nop(),
		dirs:       make(map[string]models.AgentDir),
		files:      make(map[string]*fileHandle),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start enumerates agent directories, watches each one and registers the
// transcripts already present with their cursor at the current size.
func (w *Watcher) Start() error {
	w.startStop.Lock()
	defer w.startStop.Unlock()

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("create fs watcher: %w", err)
	}
	w.fsw = fsw
	w.done = make(chan struct{})
	w.running = true
	w.mu.Unlock()

	w.watchAgentsRoot()
	if err := w.Rescan(); err != nil {
		w.logger.Warn().Err(err).Msg("initial agent scan failed")
	}

	w.wg.Add(1)
	go w.loop(fsw, w.done)

	w.logger.Info().Int("dirs", len(w.Dirs())).Int("files", len(w.Files())).Msg("transcript watcher started")
	return nil
}

// Stop releases every directory and file handle. Cursors of tracked files
// are forgotten; the next Start re-registers them from a fresh scan.
func (w *Watcher) Stop() error {
	w.startStop.Lock()
	defer w.startStop.Unlock()

	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	close(w.done)
	w.mu.Unlock()

	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.fsw.Close()
	for path := range w.files {
		w.reader.Registry().Forget(path)
	}
	w.files = make(map[string]*fileHandle)
	w.dirs = make(map[string]models.AgentDir)
	w.fsw = nil
	w.running = false

	w.logger.Info().Msg("transcript watcher stopped")
	return err
}

// Running reports whether the watcher is started.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Rescan registers agent directories that appeared since the last scan.
func (w *Watcher) Rescan() error {
	dirs, err := w.enum.Dirs()
	if err != nil {
		return err
	}
	var errs []error
	for _, dir := range dirs {
		if err := w.Register(dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Register watches one agent directory and tracks its transcripts. An
// already registered directory is left alone.
func (w *Watcher) Register(dir models.AgentDir) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	if _, ok := w.dirs[dir.Dir]; ok {
		return nil
	}
	if err := w.fsw.Add(dir.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir.Dir, err)
	}
	w.dirs[dir.Dir] = dir

	names, err := agents.ListSessionFiles(dir.Dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		w.trackLocked(dir, name, true)
	}

	w.logger.Debug().
		Str("agent_id", dir.AgentID).
		Str("dir", dir.Dir).
		Int("files", len(names)).
		Msg("watching agent sessions")
	return nil
}

// Dirs returns the watched session directories, sorted.
func (w *Watcher) Dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.dirs))
	for dir := range w.dirs {
		out = append(out, dir)
	}
	sort.Strings(out)
	return out
}

// Files returns the tracked transcript paths, sorted.
func (w *Watcher) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.files))
	for path := range w.files {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// watchAgentsRoot watches <root>/agents and each agent directory so newly
// registered agents are picked up without waiting for a rescan tick.
func (w *Watcher) watchAgentsRoot() {
	root := w.enum.AgentsDir()
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fsw.Add(root); err != nil {
		w.logger.Debug().Err(err).Str("dir", root).Msg("cannot watch agents root")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			_ = w.fsw.Add(filepath.Join(root, entry.Name()))
		}
	}
}

// trackLocked registers a transcript. Scanned files and reset variants
// start at their current size; brand-new plain transcripts start at 0 so
// their first lines are delivered.
func (w *Watcher) trackLocked(dir models.AgentDir, name string, scanned bool) *fileHandle {
	path := filepath.Join(dir.Dir, name)
	if h, ok := w.files[path]; ok {
		return h
	}
	h := &fileHandle{
		path:      path,
		agentID:   dir.AgentID,
		sessionID: agents.SessionIDFromFile(name),
	}
	w.files[path] = h

	if scanned || agents.IsResetFile(name) {
		w.reader.Prime(path)
	} else {
		w.reader.Track(path)
	}
	return h
}

func (w *Watcher) untrack(path string) {
	w.mu.Lock()
	_, ok := w.files[path]
	delete(w.files, path)
	w.mu.Unlock()

	if ok {
		w.reader.Registry().Forget(path)
		w.logger.Debug().Str("path", path).Msg("transcript removed")
	}
}

func (w *Watcher) loop(fsw *fsnotify.Watcher, done <-chan struct{}) {
	defer w.wg.Done()

	var tick <-chan time.Time
	if w.rescan > 0 {
		ticker := time.NewTicker(w.rescan)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-done:
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("fs watcher error")

		case <-tick:
			if err := w.Rescan(); err != nil {
				w.logger.Debug().Err(err).Msg("periodic rescan failed")
			}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := event.Name
	parent := filepath.Dir(path)
	agentsDir := w.enum.AgentsDir()

	// A new agent directory, or a sessions directory inside one.
	if parent == agentsDir || filepath.Dir(parent) == agentsDir {
		if event.Has(fsnotify.Create) {
			if parent == agentsDir {
				w.mu.Lock()
				if w.fsw != nil {
					_ = w.fsw.Add(path)
				}
				w.mu.Unlock()
			}
			if err := w.Rescan(); err != nil {
				w.logger.Debug().Err(err).Msg("rescan after agent change failed")
			}
		}
		return
	}

	name := filepath.Base(path)
	if !agents.IsSessionFile(name) {
		return
	}

	w.mu.Lock()
	dir, watched := w.dirs[parent]
	h, tracked := w.files[path]
	w.mu.Unlock()
	if !watched {
		return
	}

	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		w.untrack(path)
		return
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		if !tracked {
			if info, err := os.Stat(path); err != nil || info.IsDir() {
				return
			}
			w.mu.Lock()
			h = w.trackLocked(dir, name, false)
			w.mu.Unlock()
			w.logger.Debug().Str("path", path).Str("session_id", h.sessionID).Msg("tracking new transcript")
		}
		w.process(h)
	}
}

// process reads the growth of one transcript and publishes what it yields.
func (w *Watcher) process(h *fileHandle) {
	ext, err := w.reader.ReadNew(h.path)
	if err != nil {
		w.logger.Debug().Err(err).Str("path", h.path).Msg("skipping unreadable transcript")
		return
	}
	if ext.Empty() {
		return
	}

	records := tail.DecodeRecords(ext.Data)
	w.logger.Trace().
		Str("path", h.path).
		Int("bytes", len(ext.Data)).
		Int("records", len(records)).
		Bool("reset", ext.Reset).
		Msg("read transcript growth")
	if len(records) == 0 {
		return
	}

	batch := Batch{Path: h.path, AgentID: h.agentID, SessionID: h.sessionID, Records: records}
	for _, sink := range w.sinks {
		sink.Consume(batch)
	}

	for _, rec := range records {
		if event, ok := w.normalizer.Normalize(rec.Event, h.sessionID); ok {
			w.publisher.Publish(event)
		}
	}
}
