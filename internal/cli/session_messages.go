package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/opencode-ai/clawdash/internal/models"
	"github.com/opencode-ai/clawdash/internal/sessions"
	"github.com/spf13/cobra"
)

var (
	messagesOutput string
	messagesLines  int
)

func init() {
	sessionsCmd.AddCommand(sessionMessagesCmd)
	sessionMessagesCmd.Flags().StringVarP(&messagesOutput, "output", "o", formatTable, "output format (table, json, jsonl, yaml)")
	sessionMessagesCmd.Flags().IntVarP(&messagesLines, "lines", "n", sessions.DefaultMessageLines, "transcript lines to scan from the end")
}

var sessionMessagesCmd = &cobra.Command{
	Use:   "messages <session-id|session-key>",
	Short: "Show the latest messages of one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveFormat(messagesOutput)
		if err != nil {
			return err
		}

		msgs, err := newSessionLister().Messages(args[0], messagesLines)
		if err != nil {
			return fmt.Errorf("session %s: %w", args[0], err)
		}

		if format != formatTable {
			return writeStructured(cmd.OutOrStdout(), format, msgs)
		}
		return writeMessagesTable(cmd.OutOrStdout(), msgs)
	},
}

func writeMessagesTable(w io.Writer, msgs []models.SessionMessage) error {
	tw := newTable(w, "Time", "Role", "Content")
	for _, m := range msgs {
		tw.AppendRow([]any{
			firstNonEmpty(m.Timestamp, "-"),
			m.Role,
			strings.ReplaceAll(m.Content, "\n", " "),
		})
	}
	if len(msgs) == 0 {
		tw.AppendFooter([]any{"(no messages)"})
	}
	tw.Render()
	return nil
}
