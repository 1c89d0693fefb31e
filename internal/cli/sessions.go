package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/opencode-ai/clawdash/internal/agents"
	"github.com/opencode-ai/clawdash/internal/logging"
	"github.com/opencode-ai/clawdash/internal/models"
	"github.com/opencode-ai/clawdash/internal/sessions"
	"github.com/spf13/cobra"
)

var (
	sessionsOutput   string
	sessionsDetailed bool
	sessionsAgent    string
	sessionsLimit    int
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.Flags().StringVarP(&sessionsOutput, "output", "o", formatTable, "output format (table, json, jsonl, yaml)")
	sessionsCmd.Flags().BoolVarP(&sessionsDetailed, "detailed", "d", false, "include each session's last message")
	sessionsCmd.Flags().StringVar(&sessionsAgent, "agent", "", "only show sessions of this agent")
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 0, "maximum sessions to show (0 for all)")
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List agent sessions",
	Long:  "List sessions from every agent's sessions.json, most recently updated first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveFormat(sessionsOutput)
		if err != nil {
			return err
		}

		lister := newSessionLister()

		var list []models.Session
		if sessionsDetailed {
			list, err = lister.Detailed()
		} else {
			list, err = lister.List()
		}
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		list = filterSessions(list, sessionsAgent, sessionsLimit)

		if format != formatTable {
			return writeStructured(cmd.OutOrStdout(), format, list)
		}
		return writeSessionsTable(cmd.OutOrStdout(), list, sessionsDetailed, time.Now())
	},
}

func filterSessions(list []models.Session, agentID string, limit int) []models.Session {
	out := make([]models.Session, 0, len(list))
	for _, s := range list {
		if agentID != "" && s.AgentID != agentID {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func writeSessionsTable(w io.Writer, list []models.Session, detailed bool, now time.Time) error {
	headers := []any{"Label", "Agent", "Model", "Kind", "Channel", "Tokens", "Aborted", "Updated"}
	if detailed {
		headers = append(headers, "Last message")
	}
	tw := newTable(w, headers...)
	rightAlign(tw, 6)

	for _, s := range list {
		row := []any{
			s.Label,
			s.AgentID,
			s.Model,
			s.Kind,
			s.Channel,
			formatTokens(s.TotalTokens, s.ContextTokens),
			formatYesNo(s.Aborted),
			formatUpdated(s.Updated(), now),
		}
		if detailed {
			row = append(row, s.LastMessage)
		}
		tw.AppendRow(row)
	}
	if len(list) == 0 {
		tw.AppendFooter([]any{"(no sessions)"})
	}
	tw.Render()
	return nil
}

func formatTokens(total, context int64) string {
	if context <= 0 {
		return humanize.Comma(total)
	}
	return fmt.Sprintf("%s / %s", humanize.Comma(total), humanize.Comma(context))
}

func formatUpdated(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// newSessionLister builds a sessions lister from the loaded config.
func newSessionLister() *sessions.Lister {
	cfg := GetConfig()
	return sessions.NewLister(
		agents.NewEnumerator(cfg.OpenClaw.Dir, cfg.OpenClaw.FallbackAgent),
		sessions.WithTTL(cfg.OpenClaw.SessionCacheTTL),
		sessions.WithLogger(logging.Component("sessions")),
	)
}
