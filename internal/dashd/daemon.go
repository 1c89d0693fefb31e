package dashd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/opencode-ai/clawdash/internal/agents"
	"github.com/opencode-ai/clawdash/internal/config"
	"github.com/opencode-ai/clawdash/internal/db"
	"github.com/opencode-ai/clawdash/internal/live"
	"github.com/opencode-ai/clawdash/internal/sessions"
	"github.com/opencode-ai/clawdash/internal/usage"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name reported by the daemon.
const HealthService = "clawdash"

// Options configure the daemon runtime.
type Options struct {
	Version string

	// SkipImport disables the startup usage backfill.
	SkipImport bool
}

// Daemon is the long-running dashboard process.
type Daemon struct {
	cfg    *config.Config
	logger zerolog.Logger
	opts   Options

	feed     *live.Feed
	sessions *sessions.Lister
	database *db.DB
	importer *usage.Importer
	server   *Server

	grpcServer *grpc.Server
	health     *health.Server

	mu       sync.Mutex
	httpAddr net.Addr
	grpcAddr net.Addr
	ready    chan struct{}
}

// New constructs a daemon with the provided configuration.
func New(cfg *config.Config, logger zerolog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	d := &Daemon{cfg: cfg, logger: logger, opts: opts, ready: make(chan struct{})}

	enum := agents.NewEnumerator(cfg.OpenClaw.Dir, cfg.OpenClaw.FallbackAgent)
	d.sessions = sessions.NewLister(enum,
		sessions.WithTTL(cfg.OpenClaw.SessionCacheTTL),
		sessions.WithLogger(logger.With().Str("component", "sessions").Logger()),
	)

	var sinks []live.RawSink
	var ledger *db.UsageRepository
	if cfg.Database.RecordUsage {
		database, err := db.Open(db.DefaultConfig(cfg.Database.Path), logger.With().Str("component", "db").Logger())
		if err != nil {
			return nil, err
		}
		if _, err := database.MigrateUp(context.Background()); err != nil {
			database.Close()
			return nil, err
		}
		d.database = database
		ledger = db.NewUsageRepository(database)
		sinks = append(sinks, usage.NewRecorder(ledger,
			usage.WithRecorderLogger(logger.With().Str("component", "usage").Logger()),
		))
		d.importer = usage.NewImporter(enum, ledger, logger.With().Str("component", "usage").Logger())
	}

	d.feed = live.NewFeed(cfg, live.FeedOptions{
		Sessions: d.sessions,
		Sinks:    sinks,
		Logger:   logger,
	})

	serverOpts := []ServerOption{
		WithVersion(opts.Version),
		WithAuthToken(cfg.Server.AuthToken),
		WithKeepalive(cfg.Live.Keepalive),
		WithSessions(d.sessions),
		WithMessages(d.sessions),
		WithLabels(d.sessions),
		WithWatchStatus(d.feed.Watcher),
	}
	limiter := NewRateLimiter(WithEnabled(cfg.Server.RateLimitEnabled))
	serverOpts = append(serverOpts, WithRateLimiter(limiter))
	if ledger != nil {
		serverOpts = append(serverOpts, WithUsage(ledger))
	}
	d.server = NewServer(d.feed.Hub, logger.With().Str("component", "http").Logger(), serverOpts...)

	if cfg.Server.GRPCPort > 0 {
		d.health = health.NewServer()
		d.grpcServer = grpc.NewServer(
			grpc.UnaryInterceptor(limiter.UnaryServerInterceptor()),
			grpc.StreamInterceptor(limiter.StreamServerInterceptor()),
		)
		healthpb.RegisterHealthServer(d.grpcServer, d.health)
	}

	return d, nil
}

// Run serves HTTP (and gRPC health when configured) until ctx is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	defer d.closeDatabase()

	httpAddr := joinHostPort(d.cfg.Server.Host, d.cfg.Server.Port)
	listener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", httpAddr, err)
	}

	var grpcListener net.Listener
	if d.grpcServer != nil {
		grpcAddr := joinHostPort(d.cfg.Server.Host, d.cfg.Server.GRPCPort)
		grpcListener, err = net.Listen("tcp", grpcAddr)
		if err != nil {
			listener.Close()
			return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
		}
	}

	d.mu.Lock()
	d.httpAddr = listener.Addr()
	if grpcListener != nil {
		d.grpcAddr = grpcListener.Addr()
	}
	d.mu.Unlock()

	if d.cfg.Live.KeepWatchingWhenIdle {
		if err := d.feed.Hub.StartLifecycle(); err != nil {
			d.logger.Warn().Err(err).Msg("failed to start transcript watcher")
		}
	}
	if d.importer != nil && !d.opts.SkipImport {
		go d.importUsage(ctx)
	}

	httpServer := &http.Server{
		Handler:           d.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	d.logger.Info().
		Str("bind", listener.Addr().String()).
		Str("openclaw_dir", d.cfg.OpenClaw.Dir).
		Str("version", d.opts.Version).
		Msg("clawdash server starting")

	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()
	if grpcListener != nil {
		d.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
		d.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		go func() {
			if err := d.grpcServer.Serve(grpcListener); err != nil {
				errCh <- fmt.Errorf("gRPC server error: %w", err)
			}
		}()
		d.logger.Info().Str("bind", grpcListener.Addr().String()).Msg("gRPC health service starting")
	}
	close(d.ready)

	var runErr error
	select {
	case <-ctx.Done():
		d.logger.Info().Msg("clawdash shutting down...")
	case runErr = <-errCh:
	}

	if d.health != nil {
		d.health.Shutdown()
	}
	// Closing the hub ends every open live stream so Shutdown can finish.
	d.feed.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.shutdownTimeout())
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn().Err(err).Msg("http shutdown incomplete")
		httpServer.Close()
	}
	if d.grpcServer != nil {
		d.grpcServer.GracefulStop()
	}

	d.logger.Info().Msg("clawdash shutdown complete")
	return runErr
}

func (d *Daemon) importUsage(ctx context.Context) {
	if _, err := d.importer.Import(ctx); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Warn().Err(err).Msg("usage import failed")
	}
}

func (d *Daemon) closeDatabase() {
	if d.database == nil {
		return
	}
	if err := d.database.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("failed to close database")
	}
}

func (d *Daemon) shutdownTimeout() time.Duration {
	if d.cfg.Server.ShutdownTimeout > 0 {
		return d.cfg.Server.ShutdownTimeout
	}
	return 5 * time.Second
}

// Ready is closed once the daemon is accepting connections.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// HTTPAddr returns the bound HTTP address, or "" before Run listens.
func (d *Daemon) HTTPAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.httpAddr == nil {
		return ""
	}
	return d.httpAddr.String()
}

// GRPCAddr returns the bound gRPC address, or "" when disabled.
func (d *Daemon) GRPCAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.grpcAddr == nil {
		return ""
	}
	return d.grpcAddr.String()
}

// Feed returns the live pipeline.
func (d *Daemon) Feed() *live.Feed {
	return d.feed
}

// Server returns the HTTP API. Useful for testing.
func (d *Daemon) Server() *Server {
	return d.server
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
