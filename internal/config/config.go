// Package config provides configuration loading for clawdash.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultPort is the dashboard HTTP port (DASHBOARD_PORT default).
const DefaultPort = 7000

// Config is the full clawdash configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	OpenClaw OpenClawConfig `mapstructure:"openclaw" yaml:"openclaw"`
	Live     LiveConfig     `mapstructure:"live" yaml:"live"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	TUI      TUIConfig      `mapstructure:"tui" yaml:"tui"`
}

// ServerConfig configures the HTTP daemon.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`

	// GRPCPort exposes the gRPC health service. Zero disables it.
	GRPCPort int `mapstructure:"grpc_port" yaml:"grpc_port"`

	// AuthToken, when set, is required as a bearer token or ?token= parameter.
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`

	RateLimitEnabled bool `mapstructure:"rate_limit_enabled" yaml:"rate_limit_enabled"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// OpenClawConfig locates the runtime's on-disk state.
type OpenClawConfig struct {
	// Dir is the runtime root (contains openclaw.json and agents/).
	Dir string `mapstructure:"dir" yaml:"dir"`

	// FallbackAgent is used when openclaw.json lists no agents.
	FallbackAgent string `mapstructure:"fallback_agent" yaml:"fallback_agent"`

	// SessionCacheTTL bounds how stale session labels may be.
	SessionCacheTTL time.Duration `mapstructure:"session_cache_ttl" yaml:"session_cache_ttl"`
}

// LiveConfig tunes the live transcript feed.
type LiveConfig struct {
	ReplayLimit     int           `mapstructure:"replay_limit" yaml:"replay_limit"`
	ReplayWindow    time.Duration `mapstructure:"replay_window" yaml:"replay_window"`
	ReplayTailLines int           `mapstructure:"replay_tail_lines" yaml:"replay_tail_lines"`

	// KeepWatchingWhenIdle keeps watches alive with zero subscribers.
	// Off by default: idle teardown saves resources but misses file
	// creations that happen while nobody is watching.
	KeepWatchingWhenIdle bool `mapstructure:"keep_watching_when_idle" yaml:"keep_watching_when_idle"`

	// HoldPartialLines advances cursors only to the last newline so an
	// in-progress trailing line is re-read on the next change.
	HoldPartialLines bool `mapstructure:"hold_partial_lines" yaml:"hold_partial_lines"`

	SubscriberBuffer int           `mapstructure:"subscriber_buffer" yaml:"subscriber_buffer"`
	Keepalive        time.Duration `mapstructure:"keepalive" yaml:"keepalive"`

	// RescanInterval re-enumerates agent directories periodically. Zero
	// relies on notifications under <dir>/agents only.
	RescanInterval time.Duration `mapstructure:"rescan_interval" yaml:"rescan_interval"`
}

// DatabaseConfig configures the usage ledger.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`

	// RecordUsage stores usage facts seen by the live feed.
	RecordUsage bool `mapstructure:"record_usage" yaml:"record_usage"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Format  string `mapstructure:"format" yaml:"format"`
	NoColor bool   `mapstructure:"no_color" yaml:"no_color"`
}

// TUIConfig configures the terminal feed.
type TUIConfig struct {
	Theme     string `mapstructure:"theme" yaml:"theme"`
	MaxEvents int    `mapstructure:"max_events" yaml:"max_events"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	root := defaultOpenClawDir()
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             DefaultPort,
			RateLimitEnabled: true,
			ShutdownTimeout:  5 * time.Second,
		},
		OpenClaw: OpenClawConfig{
			Dir:             root,
			FallbackAgent:   "main",
			SessionCacheTTL: 10 * time.Second,
		},
		Live: LiveConfig{
			ReplayLimit:      20,
			ReplayWindow:     time.Hour,
			ReplayTailLines:  5,
			HoldPartialLines: true,
			SubscriberBuffer: 256,
			Keepalive:        30 * time.Second,
			RescanInterval:   time.Minute,
		},
		Database: DatabaseConfig{
			Path:        DefaultDatabasePath(root),
			RecordUsage: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		TUI: TUIConfig{
			Theme:     "default",
			MaxEvents: 500,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port))
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port must be in 0-65535, got %d", c.Server.GRPCPort))
	}
	if c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.Port {
		errs = append(errs, errors.New("server.grpc_port must differ from server.port"))
	}
	if strings.TrimSpace(c.OpenClaw.Dir) == "" {
		errs = append(errs, errors.New("openclaw.dir is required"))
	}
	if c.Live.ReplayLimit < 0 {
		errs = append(errs, errors.New("live.replay_limit must not be negative"))
	}
	if c.Live.ReplayTailLines < 0 {
		errs = append(errs, errors.New("live.replay_tail_lines must not be negative"))
	}
	if c.Live.SubscriberBuffer <= 0 {
		errs = append(errs, errors.New("live.subscriber_buffer must be positive"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// DefaultDatabasePath places the usage ledger next to the runtime's
// dashboard data.
func DefaultDatabasePath(openclawDir string) string {
	return filepath.Join(openclawDir, "dashboard-data", "clawdash.db")
}

func defaultOpenClawDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".openclaw"
	}
	return filepath.Join(home, ".openclaw")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
