// Package dashd serves the dashboard API: the live transcript stream,
// the sessions listing and viewer, the usage report and health.
package dashd

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opencode-ai/clawdash/internal/live"
	"github.com/opencode-ai/clawdash/internal/models"
	"github.com/opencode-ai/clawdash/internal/sessions"
	"github.com/opencode-ai/clawdash/internal/usage"
	"github.com/rs/zerolog"
)

// Routes.
const (
	RouteLive            = "/api/live"
	RouteSessions        = "/api/sessions"
	RouteSessionMessages = "/api/session-messages"
	RouteUsage           = "/api/usage"
	RouteUsageAgents     = "/api/usage/agents"
	RouteHealth          = "/api/healthz"
)

// DefaultKeepalive is the interval between SSE comment pings.
const DefaultKeepalive = 30 * time.Second

// connectedSentinel is the first frame of every live stream.
const connectedSentinel = `{"status":"connected"}`

// SessionSource lists sessions with their last message.
type SessionSource interface {
	Detailed() ([]models.Session, error)
}

// MessageSource reads the recent messages of one transcript.
type MessageSource interface {
	Messages(id string, n int) ([]models.SessionMessage, error)
}

// WatchStatus reports the transcript watcher state.
type WatchStatus interface {
	Running() bool
	Files() []string
}

// Server is the dashboard HTTP API.
type Server struct {
	hub       *live.Hub
	sessions  SessionSource
	messages  MessageSource
	labels    usage.Labeler
	usage     usage.Source
	watch     WatchStatus
	limiter   *RateLimiter
	token     string
	keepalive time.Duration
	logger    zerolog.Logger
	version   string
	startedAt time.Time
	now       func() time.Time
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithVersion sets the reported version.
func WithVersion(version string) ServerOption {
	return func(s *Server) {
		s.version = version
	}
}

// WithAuthToken requires token on every API request.
func WithAuthToken(token string) ServerOption {
	return func(s *Server) {
		s.token = strings.TrimSpace(token)
	}
}

// WithKeepalive sets the SSE ping interval. Zero disables pings.
func WithKeepalive(d time.Duration) ServerOption {
	return func(s *Server) {
		s.keepalive = d
	}
}

// WithRateLimiter sets the route limiter. Nil disables limiting.
func WithRateLimiter(rl *RateLimiter) ServerOption {
	return func(s *Server) {
		s.limiter = rl
	}
}

// WithSessions sets the sessions listing.
func WithSessions(src SessionSource) ServerOption {
	return func(s *Server) {
		s.sessions = src
	}
}

// WithMessages sets the transcript message reader behind the session viewer.
func WithMessages(src MessageSource) ServerOption {
	return func(s *Server) {
		s.messages = src
	}
}

// WithLabels resolves session labels in the usage report.
func WithLabels(labels usage.Labeler) ServerOption {
	return func(s *Server) {
		s.labels = labels
	}
}

// WithUsage sets the usage ledger. Without it /api/usage is unavailable.
func WithUsage(src usage.Source) ServerOption {
	return func(s *Server) {
		s.usage = src
	}
}

// WithWatchStatus exposes watcher state in health responses.
func WithWatchStatus(ws WatchStatus) ServerOption {
	return func(s *Server) {
		s.watch = ws
	}
}

// WithClock sets the server clock.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer creates a Server streaming from hub.
func NewServer(hub *live.Hub, logger zerolog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		hub:       hub,
		keepalive: DefaultKeepalive,
		logger:    logger,
		startedAt: time.Now(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, RouteLive, s.handleLive)
	s.route(mux, RouteSessions, s.handleSessions)
	s.route(mux, RouteSessionMessages, s.handleSessionMessages)
	s.route(mux, RouteUsage, s.handleUsage)
	s.route(mux, RouteUsageAgents, s.handleUsageAgents)
	s.route(mux, RouteHealth, s.handleHealth)
	return mux
}

func (s *Server) route(mux *http.ServeMux, route string, fn http.HandlerFunc) {
	var h http.Handler = fn
	if s.limiter != nil {
		h = s.limiter.Middleware(route, h)
	}
	if route != RouteHealth {
		h = s.requireToken(h)
	}
	mux.Handle("GET "+route, noStore(h))
}

func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.URL.Query().Get("token")
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			got = strings.TrimPrefix(auth, "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleLive streams live events as server-sent events: the connected
// sentinel, the backlog newest first, then live events until the client
// goes away or the hub closes.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, err := s.hub.Subscribe()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer s.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	logger := s.logger.With().Str("subscriber_id", sub.ID).Logger()
	logger.Debug().Str("remote", r.RemoteAddr).Msg("live stream opened")

	if err := writeFrame(w, []byte(connectedSentinel)); err != nil {
		return
	}
	for _, ev := range sub.Backlog {
		if err := s.writeEvent(w, ev); err != nil {
			logger.Debug().Err(err).Msg("failed to write backlog event")
			return
		}
	}
	flusher.Flush()

	var ping <-chan time.Time
	if s.keepalive > 0 {
		ticker := time.NewTicker(s.keepalive)
		defer ticker.Stop()
		ping = ticker.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Int64("dropped", sub.Dropped()).Msg("live stream ended (client gone)")
			return
		case ev, ok := <-sub.Events:
			if !ok {
				logger.Debug().Msg("live stream ended (hub closed)")
				return
			}
			if err := s.writeEvent(w, ev); err != nil {
				// The client side will surface as ctx.Done.
				logger.Debug().Err(err).Msg("failed to write live event")
				continue
			}
			flusher.Flush()
		case <-ping:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err == nil {
				flusher.Flush()
			}
		}
	}
}

func (s *Server) writeEvent(w http.ResponseWriter, ev models.LiveEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return writeFrame(w, data)
}

func writeFrame(w http.ResponseWriter, data []byte) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeJSON(w, http.StatusOK, []models.Session{})
		return
	}
	list, err := s.sessions.Detailed()
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list sessions")
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if list == nil {
		list = []models.Session{}
	}
	s.attachCosts(r.Context(), list)
	writeJSON(w, http.StatusOK, list)
}

// attachCosts fills each session's ledger cost. Ledger errors leave costs
// at zero.
func (s *Server) attachCosts(ctx context.Context, list []models.Session) {
	if s.usage == nil || len(list) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	costs, err := usage.SessionCosts(ctx, s.usage)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load session costs")
		return
	}
	for i := range list {
		id := list[i].SessionID
		if id == "" {
			id = list[i].Key
		}
		list[i].Cost = costs[id]
	}
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := sessions.SanitizeID(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if s.messages == nil {
		writeError(w, http.StatusNotFound, sessions.ErrSessionNotFound.Error())
		return
	}

	msgs, err := s.messages.Messages(id, sessions.DefaultMessageLines)
	if errors.Is(err, sessions.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", id).Msg("failed to read session messages")
		writeError(w, http.StatusInternalServerError, "failed to read session messages")
		return
	}
	if msgs == nil {
		msgs = []models.SessionMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeError(w, http.StatusServiceUnavailable, "usage ledger disabled")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	report, err := usage.Report(ctx, s.usage, s.now(), s.labels)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to build usage report")
		writeError(w, http.StatusInternalServerError, "failed to build usage report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleUsageAgents(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeError(w, http.StatusServiceUnavailable, "usage ledger disabled")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	perAgent, err := usage.AgentCosts(ctx, s.usage, s.now())
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to summarize agent usage")
		writeError(w, http.StatusInternalServerError, "failed to summarize agent usage")
		return
	}
	writeJSON(w, http.StatusOK, perAgent)
}

// HealthResponse is the body of the health route.
type HealthResponse struct {
	Status       string       `json:"status"`
	Version      string       `json:"version,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	Uptime       string       `json:"uptime"`
	Subscribers  int          `json:"subscribers"`
	Watching     bool         `json:"watching"`
	TrackedFiles int          `json:"tracked_files"`
	RateLimits   []RouteStats `json:"rate_limits,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:      "ok",
		Version:     s.version,
		StartedAt:   s.startedAt.UTC(),
		Uptime:      s.now().Sub(s.startedAt).Round(time.Second).String(),
		Subscribers: s.hub.Count(),
	}
	if s.watch != nil {
		resp.Watching = s.watch.Running()
		resp.TrackedFiles = len(s.watch.Files())
	}
	if s.limiter != nil && r.URL.Query().Has("verbose") {
		resp.RateLimits = s.limiter.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
