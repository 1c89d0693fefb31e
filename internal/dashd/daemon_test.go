package dashd

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencode-ai/clawdash/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "agents", "main", "sessions"), 0o755))

	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.OpenClaw.Dir = root
	cfg.Database.Path = config.DefaultDatabasePath(root)
	return cfg
}

func startDaemon(t *testing.T, cfg *config.Config) (*Daemon, context.CancelFunc, <-chan error) {
	t.Helper()
	daemon, err := New(cfg, zerolog.Nop(), Options{Version: "test", SkipImport: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- daemon.Run(ctx)
	}()

	select {
	case <-daemon.Ready():
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("daemon did not become ready")
	}
	return daemon, cancel, done
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil, zerolog.Nop(), Options{})
	require.Error(t, err)
}

func TestRunServesAndShutsDown(t *testing.T) {
	cfg := testConfig(t)
	daemon, cancel, done := startDaemon(t, cfg)

	resp, err := http.Get("http://" + daemon.HTTPAddr() + RouteHealth)
	require.NoError(t, err)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	require.Equal(t, "test", health.Version)

	// The ledger file is created next to the runtime data.
	_, err = os.Stat(cfg.Database.Path)
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

func TestRunClosesOpenLiveStreams(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.RecordUsage = false
	daemon, cancel, done := startDaemon(t, cfg)

	resp, err := http.Get("http://" + daemon.HTTPAddr() + RouteLive)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Eventually(t, func() bool { return daemon.Feed().Hub.Count() == 1 }, 3*time.Second, 10*time.Millisecond)
	require.True(t, daemon.Feed().Watcher.Running())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() blocked on an open live stream")
	}
	require.False(t, daemon.Feed().Watcher.Running())
}

func TestGRPCHealth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.RecordUsage = false
	cfg.Server.GRPCPort = freePort(t)
	daemon, cancel, done := startDaemon(t, cfg)
	defer func() {
		cancel()
		<-done
	}()

	conn, err := grpc.NewClient(daemon.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancelCall := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCall()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
