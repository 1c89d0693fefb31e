// Package sessions reads the runtime's session index and derives display
// labels for transcripts.
package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/clawdash/internal/agents"
	"github.com/opencode-ai/clawdash/internal/models"
	"github.com/opencode-ai/clawdash/internal/normalize"
	"github.com/opencode-ai/clawdash/internal/tail"
	"github.com/rs/zerolog"
	"github.com/tidwall/jsonc"
)

// IndexFile is the per-agent session index.
const IndexFile = "sessions.json"

// DefaultTTL bounds how long a listing is reused.
const DefaultTTL = 10 * time.Second

const (
	lastMessageScan  = 20
	lastMessageLimit = 80
)

var agentKeyPattern = regexp.MustCompile(`^agent:([^:]+):`)

// Lister lists sessions across every agent directory. Listings are cached
// for a short TTL; label lookups never trigger more than one read per TTL.
type Lister struct {
	enum   *agents.Enumerator
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger

	mu        sync.Mutex
	cached    []models.Session
	fetchedAt time.Time
}

// Option configures a Lister.
type Option func(*Lister)

// WithTTL sets the cache lifetime. Zero disables caching.
func WithTTL(ttl time.Duration) Option {
	return func(l *Lister) {
		l.ttl = ttl
	}
}

// WithClock overrides the clock used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(l *Lister) {
		l.now = now
	}
}

// WithLogger sets the lister's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Lister) {
		l.logger = logger
	}
}

// NewLister creates a Lister over the enumerator's agents.
func NewLister(enum *agents.Enumerator, opts ...Option) *Lister {
	l := &Lister{
		enum:   enum,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// List returns all sessions, most recently updated first.
func (l *Lister) List() ([]models.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cached != nil && l.ttl > 0 && l.now().Sub(l.fetchedAt) < l.ttl {
		return cloneSessions(l.cached), nil
	}

	sessions, err := l.load()
	if err != nil {
		return nil, err
	}
	l.cached = sessions
	l.fetchedAt = l.now()
	return cloneSessions(sessions), nil
}

// Invalidate drops the cached listing.
func (l *Lister) Invalidate() {
	l.mu.Lock()
	l.cached = nil
	l.mu.Unlock()
}

// Label resolves a transcript's session key to its display label. A
// session matches when its sessionId equals the key or its session key
// contains it.
func (l *Lister) Label(sessionKey string) (string, bool) {
	if sessionKey == "" {
		return "", false
	}
	sessions, err := l.List()
	if err != nil {
		l.logger.Debug().Err(err).Msg("session listing unavailable")
		return "", false
	}
	for _, s := range sessions {
		if s.SessionID == sessionKey || strings.Contains(s.Key, sessionKey) {
			return s.Label, true
		}
	}
	return "", false
}

// Detailed is List with each session's last message filled in.
func (l *Lister) Detailed() ([]models.Session, error) {
	sessions, err := l.List()
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		id := sessions[i].SessionID
		if id == "" {
			id = sessions[i].Key
		}
		sessions[i].LastMessage = l.LastMessage(id)
	}
	return sessions, nil
}

// LastMessage returns the newest user or assistant text in the session's
// transcript, folded to one line and cut to 80 runes.
func (l *Lister) LastMessage(sessionID string) string {
	dirs, err := l.enum.Dirs()
	if err != nil {
		return ""
	}
	for _, dir := range dirs {
		path := filepath.Join(dir.Dir, sessionID+".jsonl")
		lines, err := tail.LastLines(path, lastMessageScan)
		if err != nil {
			continue
		}
		for i := len(lines) - 1; i >= 0; i-- {
			rec, ok := tail.DecodeLine(lines[i])
			if !ok || !rec.Event.IsMessage() || rec.Event.Message == nil {
				continue
			}
			msg := rec.Event.Message
			if msg.Role != "user" && msg.Role != "assistant" {
				continue
			}
			if text := firstText(msg); text != "" {
				return normalize.Truncate(strings.ReplaceAll(text, "\n", " "), lastMessageLimit)
			}
		}
		return ""
	}
	return ""
}

func firstText(msg *models.Message) string {
	if text, ok := msg.TextContent(); ok {
		return text
	}
	blocks, _ := msg.Blocks()
	for _, b := range blocks {
		if b.Type == models.BlockText && b.Text != "" {
			return b.Text
		}
	}
	return ""
}

type indexEntry struct {
	SessionID     string `json:"sessionId"`
	Label         string `json:"label"`
	Model         string `json:"model"`
	ModelOverride string `json:"modelOverride"`
	Kind          string `json:"kind"`
	Channel       string `json:"channel"`
	ThinkingLevel string `json:"thinkingLevel"`
	TotalTokens   int64  `json:"totalTokens"`
	ContextTokens int64  `json:"contextTokens"`
	AbortedLast   bool   `json:"abortedLastRun"`
	CreatedAt     int64  `json:"createdAt"`
	UpdatedAt     int64  `json:"updatedAt"`
}

func (l *Lister) load() ([]models.Session, error) {
	dirs, err := l.enum.Dirs()
	if err != nil {
		return nil, fmt.Errorf("enumerate agents: %w", err)
	}

	cron := loadCronNames(l.enum.Root())
	sessions := make([]models.Session, 0)
	for _, dir := range dirs {
		entries, err := readIndex(filepath.Join(dir.Dir, IndexFile))
		if err != nil {
			l.logger.Debug().Err(err).Str("dir", dir.Dir).Msg("skipping session index")
			continue
		}
		for key, entry := range entries {
			sessions = append(sessions, toSession(key, entry, dir.AgentID, cron))
		}
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].UpdatedAt != sessions[j].UpdatedAt {
			return sessions[i].UpdatedAt > sessions[j].UpdatedAt
		}
		return sessions[i].Key < sessions[j].Key
	})
	return sessions, nil
}

func readIndex(path string) (map[string]indexEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	entries := make(map[string]indexEntry)
	if err := json.Unmarshal(jsonc.ToJSON(data), &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return entries, nil
}

func toSession(key string, e indexEntry, dirAgent string, cron map[string]string) models.Session {
	s := models.Session{
		Key:           key,
		AgentID:       AgentIDFromKey(key),
		SessionID:     e.SessionID,
		Label:         e.Label,
		Model:         firstNonEmpty(e.ModelOverride, e.Model, "-"),
		Kind:          e.Kind,
		Channel:       firstNonEmpty(e.Channel, "-"),
		ThinkingLevel: e.ThinkingLevel,
		TotalTokens:   e.TotalTokens,
		ContextTokens: e.ContextTokens,
		Aborted:       e.AbortedLast,
		UpdatedAt:     e.UpdatedAt,
		CreatedAt:     e.CreatedAt,
	}
	if s.AgentID == "" {
		s.AgentID = dirAgent
	}
	if s.Label == "" {
		s.Label = ResolveName(key, cron)
	}
	if s.Kind == "" {
		s.Kind = "direct"
		if strings.Contains(key, "group") {
			s.Kind = "group"
		}
	}
	if s.CreatedAt == 0 {
		s.CreatedAt = s.UpdatedAt
	}
	return s
}

// AgentIDFromKey parses keys like "agent:<id>:main".
func AgentIDFromKey(key string) string {
	m := agentKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return ""
	}
	return m[1]
}

// ResolveName derives a display name from a session key. cron maps cron
// job ids to job names and may be nil.
func ResolveName(key string, cron map[string]string) string {
	switch {
	case strings.Contains(key, ":main:main"):
		return "main"
	case strings.Contains(key, "teleg"):
		return "telegram-group"
	case strings.Contains(key, "cron:"):
		_, rest, _ := strings.Cut(key, "cron:")
		id, _, _ := strings.Cut(rest, ":")
		if name := cron[id]; name != "" {
			return name
		}
		return "Cron: " + normalize.Truncate(id, 8)
	}
	parts := strings.Split(key, ":")
	return normalize.Truncate(parts[len(parts)-1], 12)
}

type cronFile struct {
	Jobs []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"jobs"`
}

// loadCronNames reads <root>/cron/jobs.json. Problems yield an empty map.
func loadCronNames(root string) map[string]string {
	names := make(map[string]string)
	data, err := os.ReadFile(filepath.Join(root, "cron", "jobs.json"))
	if err != nil {
		return names
	}
	var jobs cronFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &jobs); err != nil {
		return names
	}
	for _, job := range jobs.Jobs {
		if job.ID != "" && job.Name != "" {
			names[job.ID] = job.Name
		}
	}
	return names
}

func cloneSessions(in []models.Session) []models.Session {
	out := make([]models.Session, len(in))
	copy(out, in)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
