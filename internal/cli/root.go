// Package cli implements the clawdash command line.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/opencode-ai/clawdash/internal/config"
	"github.com/opencode-ai/clawdash/internal/logging"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var (
	cfgFile        string
	logLevel       string
	logFormat      string
	jsonOutput     bool
	jsonlOutput    bool
	noColor        bool
	nonInteractive bool
	noProgress     bool

	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "clawdash",
	Short:         "Live dashboard for OpenClaw agents",
	Long:          "clawdash tails OpenClaw session transcripts and serves a live feed, session listing and usage ledger.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./clawdash.yaml or ~/.config/clawdash/clawdash.yaml)")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "", "log format (console, json)")
	flags.BoolVar(&jsonOutput, "json", false, "output JSON")
	flags.BoolVar(&jsonlOutput, "jsonl", false, "output JSON lines")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
	flags.BoolVar(&nonInteractive, "non-interactive", false, "never prompt or open interactive views")
	flags.BoolVar(&noProgress, "no-progress", false, "disable progress output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func initConfig() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if noColor || os.Getenv("NO_COLOR") != "" {
		cfg.Logging.NoColor = true
		noColor = true
	}

	if err := logging.Init(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		NoColor: cfg.Logging.NoColor,
		Output:  os.Stderr,
	}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	appConfig = cfg
	return nil
}

// GetConfig returns the loaded configuration.
func GetConfig() *config.Config {
	if appConfig == nil {
		return config.DefaultConfig()
	}
	return appConfig
}

// IsJSONOutput reports whether --json is set.
func IsJSONOutput() bool {
	return jsonOutput
}

// IsJSONLOutput reports whether --jsonl is set.
func IsJSONLOutput() bool {
	return jsonlOutput
}

// PreflightError is a user-facing error with a hint and next step.
type PreflightError struct {
	Message  string
	Hint     string
	NextStep string
}

func (e *PreflightError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Hint != "" {
		b.WriteString("\nhint: ")
		b.WriteString(e.Hint)
	}
	if e.NextStep != "" {
		b.WriteString("\ntry: ")
		b.WriteString(e.NextStep)
	}
	return b.String()
}
