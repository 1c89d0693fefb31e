package dashd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opencode-ai/clawdash/internal/agents"
	"github.com/opencode-ai/clawdash/internal/db"
	"github.com/opencode-ai/clawdash/internal/live"
	"github.com/opencode-ai/clawdash/internal/models"
	"github.com/opencode-ai/clawdash/internal/sessions"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type staticBacklog []models.LiveEvent

func (b staticBacklog) Backlog() []models.LiveEvent { return b }

type staticLabels map[string]string

func (l staticLabels) Label(key string) (string, bool) {
	label, ok := l[key]
	return label, ok
}

type staticSessions struct {
	list []models.Session
	err  error
}

func (s staticSessions) Detailed() ([]models.Session, error) { return s.list, s.err }

type sseReader struct {
	t  *testing.T
	sc *bufio.Scanner
}

// next returns the payload of the next data frame, skipping comments.
func (r *sseReader) next() string {
	r.t.Helper()
	for r.sc.Scan() {
		line := r.sc.Text()
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimPrefix(line, "data: ")
		}
	}
	r.t.Fatalf("stream ended: %v", r.sc.Err())
	return ""
}

func openLive(t *testing.T, ctx context.Context, url string) (*http.Response, *sseReader) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+RouteLive, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp, &sseReader{t: t, sc: bufio.NewScanner(resp.Body)}
}

func TestLiveStreamSentinelBacklogThenLive(t *testing.T) {
	backlog := staticBacklog{
		{Timestamp: "2026-02-01T10:00:02.000Z", Session: "newer", Role: "user", Content: "b"},
		{Timestamp: "2026-02-01T10:00:01.000Z", Session: "older", Role: "user", Content: "a"},
	}
	hub := live.NewHub(live.WithBacklog(backlog))
	defer hub.Close()
	srv := httptest.NewServer(NewServer(hub, zerolog.Nop()).Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp, stream := openLive(t, ctx, srv.URL)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.JSONEq(t, `{"status":"connected"}`, stream.next())

	var ev models.LiveEvent
	require.NoError(t, json.Unmarshal([]byte(stream.next()), &ev))
	require.Equal(t, "newer", ev.Session)
	require.NoError(t, json.Unmarshal([]byte(stream.next()), &ev))
	require.Equal(t, "older", ev.Session)

	hub.Publish(models.LiveEvent{Timestamp: "2026-02-01T10:00:03.000Z", Session: "live", Role: "assistant", Content: "hi"})
	require.JSONEq(t,
		`{"timestamp":"2026-02-01T10:00:03.000Z","session":"live","role":"assistant","content":"hi"}`,
		stream.next())

	cancel()
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestLiveStreamEndsWhenHubCloses(t *testing.T) {
	hub := live.NewHub()
	srv := httptest.NewServer(NewServer(hub, zerolog.Nop()).Handler())
	defer srv.Close()

	_, stream := openLive(t, context.Background(), srv.URL)
	require.JSONEq(t, connectedSentinel, stream.next())

	hub.Close()
	for stream.sc.Scan() {
	}
	require.NoError(t, stream.sc.Err())

	// A closed hub refuses new streams.
	resp, err := http.Get(srv.URL + RouteLive)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestLiveStreamKeepalive(t *testing.T) {
	hub := live.NewHub()
	srv := httptest.NewServer(NewServer(hub, zerolog.Nop(), WithKeepalive(20*time.Millisecond)).Handler())
	defer srv.Close()
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, stream := openLive(t, ctx, srv.URL)
	require.JSONEq(t, connectedSentinel, stream.next())

	require.True(t, stream.sc.Scan())
	for stream.sc.Text() == "" {
		require.True(t, stream.sc.Scan())
	}
	require.Equal(t, ": ping", stream.sc.Text())
}

// flakyWriter fails the first write containing failOn and records the rest.
type flakyWriter struct {
	header http.Header

	mu     sync.Mutex
	buf    bytes.Buffer
	failOn string
	failed bool
}

func (w *flakyWriter) Header() http.Header { return w.header }

func (w *flakyWriter) WriteHeader(int) {}

func (w *flakyWriter) Flush() {}

func (w *flakyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.failed && w.failOn != "" && bytes.Contains(p, []byte(w.failOn)) {
		w.failed = true
		return 0, errors.New("connection reset")
	}
	return w.buf.Write(p)
}

func (w *flakyWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestLiveStreamSurvivesWriteFailure(t *testing.T) {
	hub := live.NewHub()
	defer hub.Close()
	srv := NewServer(hub, zerolog.Nop(), WithKeepalive(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &flakyWriter{header: http.Header{}, failOn: "lost-frame"}
	req := httptest.NewRequest(http.MethodGet, RouteLive, nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.handleLive(w, req)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(w.String(), connectedSentinel)
	}, 3*time.Second, 5*time.Millisecond)

	hub.Publish(models.LiveEvent{Timestamp: "2026-02-01T10:00:00.000Z", Session: "s", Role: "user", Content: "lost-frame"})
	hub.Publish(models.LiveEvent{Timestamp: "2026-02-01T10:00:01.000Z", Session: "s", Role: "user", Content: "next-frame"})

	require.Eventually(t, func() bool {
		return strings.Contains(w.String(), "next-frame")
	}, 3*time.Second, 5*time.Millisecond)
	require.NotContains(t, w.String(), "lost-frame")
	require.Equal(t, 1, hub.Count())

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("live handler did not return after cancel")
	}
	require.Equal(t, 0, hub.Count())
}

func TestAuthToken(t *testing.T) {
	hub := live.NewHub()
	defer hub.Close()
	srv := httptest.NewServer(NewServer(hub, zerolog.Nop(),
		WithAuthToken("s3cret"),
		WithSessions(staticSessions{}),
	).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + RouteSessions)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + RouteSessions + "?token=s3cret")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+RouteSessions, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open for supervisors.
	resp, err = http.Get(srv.URL + RouteHealth)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionsRoute(t *testing.T) {
	hub := live.NewHub()
	defer hub.Close()

	list := []models.Session{{Key: "agent:main:main", SessionID: "abc", Label: "main", UpdatedAt: 10}}
	handler := NewServer(hub, zerolog.Nop(), WithSessions(staticSessions{list: list})).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteSessions, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Cache-Control"), "no-store")

	var got []models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, "main", got[0].Label)

	failing := NewServer(hub, zerolog.Nop(), WithSessions(staticSessions{err: errors.New("boom")})).Handler()
	rec = httptest.NewRecorder()
	failing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteSessions, nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, RouteSessions, nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestUsageRoute(t *testing.T) {
	hub := live.NewHub()
	defer hub.Close()

	rec := httptest.NewRecorder()
	NewServer(hub, zerolog.Nop()).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteUsage, nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	database, err := db.OpenInMemory()
	require.NoError(t, err)
	defer database.Close()
	_, err = database.MigrateUp(context.Background())
	require.NoError(t, err)
	repo := db.NewUsageRepository(database)

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	_, err = repo.Create(context.Background(), &models.UsageRecord{
		SessionID: "s1", EventKey: "e1", Model: "opus",
		InputTokens: 10, OutputTokens: 5, CostUSD: 0.5, RecordedAt: now.Add(-time.Hour),
	})
	require.NoError(t, err)

	handler := NewServer(hub, zerolog.Nop(), WithUsage(repo), WithClock(func() time.Time { return now })).Handler()
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteUsage, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report models.UsageReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.EqualValues(t, 1, report.Today.RecordCount)
	require.InDelta(t, 0.5, report.All.CostUSD, 1e-9)
	require.Len(t, report.PerModel, 1)
	require.Len(t, report.PerSession, 1)
	require.Equal(t, "session-s1", report.PerSession[0].Label)
	require.Len(t, report.PerAgent, 1)

	labeled := NewServer(hub, zerolog.Nop(), WithUsage(repo), WithLabels(staticLabels{"s1": "main"}),
		WithClock(func() time.Time { return now })).Handler()
	rec = httptest.NewRecorder()
	labeled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteUsage, nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, "main", report.PerSession[0].Label)
}

func openRepo(t *testing.T) *db.UsageRepository {
	t.Helper()
	database, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	_, err = database.MigrateUp(context.Background())
	require.NoError(t, err)
	return db.NewUsageRepository(database)
}

func TestSessionsRouteAttachesCost(t *testing.T) {
	hub := live.NewHub()
	defer hub.Close()
	repo := openRepo(t)

	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	for _, rec := range []*models.UsageRecord{
		{AgentID: "main", SessionID: "abc", EventKey: "e1", Model: "opus", CostUSD: 0.504, RecordedAt: at},
		{AgentID: "main", SessionID: "abc", EventKey: "e2", Model: "opus", CostUSD: 0.25, RecordedAt: at},
		{AgentID: "main", SessionID: "agent:main:legacy", EventKey: "e3", Model: "opus", CostUSD: 1, RecordedAt: at},
	} {
		_, err := repo.Create(context.Background(), rec)
		require.NoError(t, err)
	}

	list := []models.Session{
		{Key: "agent:main:main", SessionID: "abc"},
		{Key: "agent:main:legacy"},
		{Key: "agent:main:idle", SessionID: "none"},
	}
	handler := NewServer(hub, zerolog.Nop(), WithSessions(staticSessions{list: list}), WithUsage(repo)).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteSessions, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 3)
	require.InDelta(t, 0.75, got[0].Cost, 1e-9)
	require.InDelta(t, 1.0, got[1].Cost, 1e-9)
	require.Zero(t, got[2].Cost)
}

func TestSessionMessagesRoute(t *testing.T) {
	hub := live.NewHub()
	defer hub.Close()

	root := t.TempDir()
	dir := filepath.Join(root, "agents", "main", "sessions")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abc.jsonl"), []byte(
		`{"type":"message","timestamp":"2026-02-01T10:00:00.000Z","message":{"role":"user","content":"hello"}}`+"\n"+
			`{"type":"message","timestamp":"2026-02-01T10:00:01.000Z","message":{"role":"assistant","content":[{"type":"tool_use","name":"read"}]}}`+"\n",
	), 0o644))

	lister := sessions.NewLister(agents.NewEnumerator(root, ""))
	handler := NewServer(hub, zerolog.Nop(), WithMessages(lister)).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteSessionMessages+"?id=abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[
		{"timestamp":"2026-02-01T10:00:00.000Z","role":"user","content":"hello"},
		{"timestamp":"2026-02-01T10:00:01.000Z","role":"assistant","content":"tool: read"}
	]`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteSessionMessages+"?id=nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteSessionMessages+"?id=%3C%3E", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUsageAgentsRoute(t *testing.T) {
	hub := live.NewHub()
	defer hub.Close()

	rec := httptest.NewRecorder()
	NewServer(hub, zerolog.Nop()).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteUsageAgents, nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	repo := openRepo(t)
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	for _, r := range []*models.UsageRecord{
		{AgentID: "main", SessionID: "s1", EventKey: "a", Model: "opus", CostUSD: 0.5, RecordedAt: now.Add(-time.Hour)},
		{AgentID: "main", SessionID: "s1", EventKey: "b", Model: "opus", CostUSD: 2, RecordedAt: now.Add(-10 * 24 * time.Hour)},
		{AgentID: "ops", SessionID: "s2", EventKey: "c", Model: "opus", CostUSD: 0.1, RecordedAt: now.Add(-2 * 24 * time.Hour)},
	} {
		_, err := repo.Create(context.Background(), r)
		require.NoError(t, err)
	}

	handler := NewServer(hub, zerolog.Nop(), WithUsage(repo), WithClock(func() time.Time { return now })).Handler()
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteUsageAgents, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []models.AgentUsage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	require.Equal(t, "main", got[0].AgentID)
	require.InDelta(t, 0.5, got[0].TodayUSD, 1e-9)
	require.InDelta(t, 0.5, got[0].WeekUSD, 1e-9)
	require.InDelta(t, 2.5, got[0].CostUSD, 1e-9)
	require.Equal(t, "ops", got[1].AgentID)
	require.Zero(t, got[1].TodayUSD)
	require.InDelta(t, 0.1, got[1].WeekUSD, 1e-9)
}

type fixedWatch struct{}

func (fixedWatch) Running() bool   { return true }
func (fixedWatch) Files() []string { return []string{"a.jsonl", "b.jsonl"} }

func TestHealthRoute(t *testing.T) {
	hub := live.NewHub()
	defer hub.Close()

	handler := NewServer(hub, zerolog.Nop(),
		WithVersion("v-test"),
		WithWatchStatus(fixedWatch{}),
		WithRateLimiter(NewRateLimiter()),
	).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteHealth+"?verbose=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, "ok", health.Status)
	require.Equal(t, "v-test", health.Version)
	require.True(t, health.Watching)
	require.Equal(t, 2, health.TrackedFiles)
	require.NotEmpty(t, health.RateLimits)
}
