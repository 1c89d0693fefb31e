package cli

import (
	"github.com/opencode-ai/clawdash/internal/tui"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(uiCmd)
}

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Launch the live feed TUI",
	Long:  "Launch a terminal view of live transcript events across all agents.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI()
	},
}

func runTUI() error {
	if IsNonInteractive() {
		return &PreflightError{
			Message:  "TUI requires an interactive terminal",
			Hint:     "Run without --non-interactive and with a TTY, or stream with tail",
			NextStep: "clawdash tail --jsonl",
		}
	}

	feed := newLocalFeed()
	defer feed.Close()

	sub, err := feed.Hub.Subscribe()
	if err != nil {
		return err
	}
	defer feed.Hub.Unsubscribe(sub)

	cfg := GetConfig()
	return tui.RunWithConfig(tui.Config{
		Theme:     cfg.TUI.Theme,
		MaxEvents: cfg.TUI.MaxEvents,
		Backlog:   sub.Backlog,
		Events:    sub.Events,
		Source:    cfg.OpenClaw.Dir,
	})
}
