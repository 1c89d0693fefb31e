package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/opencode-ai/clawdash/internal/live"
	"github.com/opencode-ai/clawdash/internal/logging"
	"github.com/opencode-ai/clawdash/internal/models"
	"github.com/opencode-ai/clawdash/internal/tui"
	"github.com/opencode-ai/clawdash/internal/tui/styles"
	"github.com/spf13/cobra"
)

var tailNoBacklog bool

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().BoolVar(&tailNoBacklog, "no-backlog", false, "skip recent events and only print new ones")
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print live transcript events",
	Long:  "Watch every agent transcript and print normalized events as they are appended. Use --jsonl for machine-readable output.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		feed := newLocalFeed()
		defer feed.Close()

		sub, err := feed.Hub.Subscribe()
		if err != nil {
			return err
		}
		defer feed.Hub.Unsubscribe(sub)

		backlog := sub.Backlog
		if tailNoBacklog {
			backlog = nil
		}
		return streamEvents(ctx, cmd.OutOrStdout(), newEventPrinter(), backlog, sub.Events)
	},
}

// newLocalFeed builds an in-process live feed from the loaded config.
func newLocalFeed() *live.Feed {
	return live.NewFeed(GetConfig(), live.FeedOptions{
		Sessions: newSessionLister(),
		Logger:   logging.Component("live"),
	})
}

type eventPrinter func(w io.Writer, ev models.LiveEvent) error

func newEventPrinter() eventPrinter {
	if IsJSONOutput() || IsJSONLOutput() {
		return func(w io.Writer, ev models.LiveEvent) error {
			return json.NewEncoder(w).Encode(ev)
		}
	}

	st := styles.Styles{}
	if !noColor {
		st = styles.BuildStyles(styles.Lookup(GetConfig().TUI.Theme))
	}
	width := terminalWidth()
	return func(w io.Writer, ev models.LiveEvent) error {
		_, err := fmt.Fprintln(w, tui.FormatEvent(st, ev, width))
		return err
	}
}

// streamEvents prints the backlog oldest first, then live events until ctx
// ends or the channel closes.
func streamEvents(ctx context.Context, w io.Writer, emit eventPrinter, backlog []models.LiveEvent, events <-chan models.LiveEvent) error {
	for i := len(backlog) - 1; i >= 0; i-- {
		if err := emit(w, backlog[i]); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := emit(w, ev); err != nil {
				return err
			}
		}
	}
}
