package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override (CLAWDASH_SERVER_PORT, ...).
const EnvPrefix = "CLAWDASH"

// legacyEnv maps config keys to the environment names used by existing
// dashboard deployments.
var legacyEnv = map[string][]string{
	"server.port":             {"DASHBOARD_PORT"},
	"server.auth_token":       {"DASHBOARD_TOKEN"},
	"openclaw.dir":            {"OPENCLAW_DIR"},
	"openclaw.fallback_agent": {"OPENCLAW_AGENT"},
}

// SearchPaths returns config directories in precedence order.
func SearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "clawdash"))
	}
	return paths
}

// Load reads configuration from path (or the search paths when empty),
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigType("yaml")
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("clawdash")
		for _, dir := range SearchPaths() {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		envs := append([]string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.OpenClaw.Dir = expandHome(cfg.OpenClaw.Dir)
	cfg.Database.Path = expandHome(cfg.Database.Path)
	if strings.TrimSpace(cfg.Database.Path) == "" {
		cfg.Database.Path = DefaultDatabasePath(cfg.OpenClaw.Dir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.grpc_port", d.Server.GRPCPort)
	v.SetDefault("server.auth_token", d.Server.AuthToken)
	v.SetDefault("server.rate_limit_enabled", d.Server.RateLimitEnabled)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("openclaw.dir", d.OpenClaw.Dir)
	v.SetDefault("openclaw.fallback_agent", d.OpenClaw.FallbackAgent)
	v.SetDefault("openclaw.session_cache_ttl", d.OpenClaw.SessionCacheTTL)

	v.SetDefault("live.replay_limit", d.Live.ReplayLimit)
	v.SetDefault("live.replay_window", d.Live.ReplayWindow)
	v.SetDefault("live.replay_tail_lines", d.Live.ReplayTailLines)
	v.SetDefault("live.keep_watching_when_idle", d.Live.KeepWatchingWhenIdle)
	v.SetDefault("live.hold_partial_lines", d.Live.HoldPartialLines)
	v.SetDefault("live.subscriber_buffer", d.Live.SubscriberBuffer)
	v.SetDefault("live.keepalive", d.Live.Keepalive)
	v.SetDefault("live.rescan_interval", d.Live.RescanInterval)

	// Empty means "derive from openclaw.dir" after decoding.
	v.SetDefault("database.path", "")
	v.SetDefault("database.record_usage", d.Database.RecordUsage)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.no_color", d.Logging.NoColor)

	v.SetDefault("tui.theme", d.TUI.Theme)
	v.SetDefault("tui.max_events", d.TUI.MaxEvents)
}
