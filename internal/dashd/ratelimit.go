package dashd

import (
	"context"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RateLimitConfig defines the limit for one route.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustainable rate (tokens added per second).
	RequestsPerSecond float64

	// BurstSize is the maximum number of requests allowed in a burst.
	BurstSize int
}

// DefaultRateLimits are keyed by HTTP route pattern or gRPC full method.
var DefaultRateLimits = map[string]RateLimitConfig{
	// Streams hold a connection open; limit how fast they are opened.
	RouteLive: {RequestsPerSecond: 2, BurstSize: 10},

	// These read the filesystem or the ledger.
	RouteSessions:        {RequestsPerSecond: 20, BurstSize: 40},
	RouteSessionMessages: {RequestsPerSecond: 20, BurstSize: 40},
	RouteUsage:           {RequestsPerSecond: 10, BurstSize: 20},
	RouteUsageAgents:     {RequestsPerSecond: 10, BurstSize: 20},

	RouteHealth:                    {RequestsPerSecond: 1000, BurstSize: 1000},
	"/grpc.health.v1.Health/Check": {RequestsPerSecond: 1000, BurstSize: 1000},
	"/grpc.health.v1.Health/Watch": {RequestsPerSecond: 10, BurstSize: 20},
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastUpdate time.Time
	ratePerSec float64
	maxTokens  float64
	requests   int64
	denied     int64
}

func newTokenBucket(cfg RateLimitConfig, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(cfg.BurstSize),
		lastUpdate: now,
		ratePerSec: cfg.RequestsPerSecond,
		maxTokens:  float64(cfg.BurstSize),
	}
}

func (tb *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastUpdate).Seconds()
	if elapsed > 0 {
		tb.tokens += elapsed * tb.ratePerSec
		if tb.tokens > tb.maxTokens {
			tb.tokens = tb.maxTokens
		}
		tb.lastUpdate = now
	}
}

func (tb *tokenBucket) allow(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.requests++
	tb.refill(now)
	if tb.tokens >= 1.0 {
		tb.tokens--
		return true
	}
	tb.denied++
	return false
}

func (tb *tokenBucket) stats(now time.Time) (available float64, requests, denied int64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill(now)
	return tb.tokens, tb.requests, tb.denied
}

// RateLimiter holds one token bucket per limited route.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	configs map[string]RateLimitConfig
	enabled bool
	now     func() time.Time
}

// RateLimiterOption configures the RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithRouteLimits sets or overrides limits for specific routes.
func WithRouteLimits(limits map[string]RateLimitConfig) RateLimiterOption {
	return func(rl *RateLimiter) {
		for route, cfg := range limits {
			rl.configs[route] = cfg
		}
	}
}

// WithEnabled enables or disables rate limiting.
func WithEnabled(enabled bool) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.enabled = enabled
	}
}

// WithLimiterClock sets the limiter clock.
func WithLimiterClock(now func() time.Time) RateLimiterOption {
	return func(rl *RateLimiter) {
		if now != nil {
			rl.now = now
		}
	}
}

// NewRateLimiter creates a rate limiter seeded with DefaultRateLimits.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		configs: make(map[string]RateLimitConfig),
		enabled: true,
		now:     time.Now,
	}
	for route, cfg := range DefaultRateLimits {
		rl.configs[route] = cfg
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow reports whether a request to route may proceed. Routes without a
// configured limit are always allowed.
func (rl *RateLimiter) Allow(route string) bool {
	if !rl.IsEnabled() {
		return true
	}
	bucket := rl.bucket(route)
	if bucket == nil {
		return true
	}
	return bucket.allow(rl.now())
}

func (rl *RateLimiter) bucket(route string) *tokenBucket {
	rl.mu.RLock()
	bucket, ok := rl.buckets[route]
	rl.mu.RUnlock()
	if ok {
		return bucket
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if bucket, ok = rl.buckets[route]; ok {
		return bucket
	}
	cfg, ok := rl.configs[route]
	if !ok {
		return nil
	}
	bucket = newTokenBucket(cfg, rl.now())
	rl.buckets[route] = bucket
	return bucket
}

// RouteStats is the limiter state of one route.
type RouteStats struct {
	Route            string  `json:"route"`
	Available        float64 `json:"available"`
	RequestsPerSec   float64 `json:"requests_per_sec"`
	BurstSize        int     `json:"burst_size"`
	TotalRequests    int64   `json:"total_requests"`
	DeniedRequests   int64   `json:"denied_requests"`
	DeniedPercentage float64 `json:"denied_percentage"`
}

// Stats returns statistics for every configured route.
func (rl *RateLimiter) Stats() []RouteStats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	now := rl.now()
	stats := make([]RouteStats, 0, len(rl.configs))
	for route, cfg := range rl.configs {
		rs := RouteStats{
			Route:          route,
			RequestsPerSec: cfg.RequestsPerSecond,
			BurstSize:      cfg.BurstSize,
			Available:      float64(cfg.BurstSize),
		}
		if bucket, ok := rl.buckets[route]; ok {
			rs.Available, rs.TotalRequests, rs.DeniedRequests = bucket.stats(now)
			if rs.TotalRequests > 0 {
				rs.DeniedPercentage = float64(rs.DeniedRequests) / float64(rs.TotalRequests) * 100
			}
		}
		stats = append(stats, rs)
	}
	return stats
}

// SetEnabled enables or disables rate limiting at runtime.
func (rl *RateLimiter) SetEnabled(enabled bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.enabled = enabled
}

// IsEnabled returns whether rate limiting is currently enabled.
func (rl *RateLimiter) IsEnabled() bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.enabled
}

// Middleware rejects requests over the limit for route with 429.
func (rl *RateLimiter) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(route) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded for "+route)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UnaryServerInterceptor applies rate limiting to unary gRPC calls.
func (rl *RateLimiter) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if !rl.Allow(info.FullMethod) {
			return nil, status.Errorf(codes.ResourceExhausted,
				"rate limit exceeded for method %s", info.FullMethod)
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor limits how fast gRPC streams are opened.
func (rl *RateLimiter) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if !rl.Allow(info.FullMethod) {
			return status.Errorf(codes.ResourceExhausted,
				"rate limit exceeded for stream %s", info.FullMethod)
		}
		return handler(srv, ss)
	}
}
