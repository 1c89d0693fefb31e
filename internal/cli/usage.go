package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/opencode-ai/clawdash/internal/agents"
	"github.com/opencode-ai/clawdash/internal/db"
	"github.com/opencode-ai/clawdash/internal/logging"
	"github.com/opencode-ai/clawdash/internal/models"
	"github.com/opencode-ai/clawdash/internal/usage"
	"github.com/spf13/cobra"
)

var usageOutput string

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usageImportCmd)
	usageCmd.Flags().StringVarP(&usageOutput, "output", "o", formatTable, "output format (table, json, yaml)")
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show token and cost usage",
	Long:  "Show usage totals for today, the last 7 and 30 days and all time, per model, per day, per agent and for the most expensive sessions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveFormat(usageOutput)
		if err != nil {
			return err
		}

		database, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer database.Close()

		report, err := usage.Report(cmd.Context(), db.NewUsageRepository(database), time.Now(), newSessionLister())
		if err != nil {
			return err
		}

		if format != formatTable {
			return writeStructured(cmd.OutOrStdout(), format, report)
		}
		return writeUsageReport(cmd.OutOrStdout(), report)
	},
}

var usageImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Backfill the usage ledger from transcripts",
	Long:  "Read every transcript in full, including archived resets, and store usage not yet recorded.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		database, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer database.Close()

		cfg := GetConfig()
		importer := usage.NewImporter(
			agents.NewEnumerator(cfg.OpenClaw.Dir, cfg.OpenClaw.FallbackAgent),
			db.NewUsageRepository(database),
			logging.Component("usage"),
		)

		step := beginStep("Importing usage")
		result, err := importer.Import(ctx)
		if err != nil {
			step.Abort(err)
			return err
		}
		step.Finish(fmt.Sprintf("%d transcripts", result.Files))

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), result)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Read %d transcripts, %d usage records, %d new.\n",
			result.Files, result.Records, result.Inserted)
		if result.Failed > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%d files could not be imported; see the log.\n", result.Failed)
		}
		return nil
	},
}

func openDatabase(ctx context.Context) (*db.DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := GetConfig()
	database, err := db.Open(db.DefaultConfig(cfg.Database.Path), logging.Component("db"))
	if err != nil {
		return nil, err
	}
	if _, err := database.MigrateUp(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func writeUsageReport(w io.Writer, report *models.UsageReport) error {
	tw := newTable(w, "Period", "Input", "Output", "Total", "Cost", "Calls")
	rightAlign(tw, 2, 3, 4, 5, 6)
	for _, s := range []models.UsageSummary{report.Today, report.Week, report.Month, report.All} {
		tw.AppendRow([]any{
			s.Period,
			humanize.Comma(s.InputTokens),
			humanize.Comma(s.OutputTokens),
			humanize.Comma(s.TotalTokens),
			formatCost(s.CostUSD),
			humanize.Comma(s.RecordCount),
		})
	}
	tw.Render()

	if len(report.PerModel) > 0 {
		fmt.Fprintln(w)
		tw = newTable(w, "Model", "Input", "Output", "Cost", "Calls")
		rightAlign(tw, 2, 3, 4, 5)
		for _, m := range report.PerModel {
			tw.AppendRow([]any{
				m.Model,
				humanize.Comma(m.InputTokens),
				humanize.Comma(m.OutputTokens),
				formatCost(m.CostUSD),
				humanize.Comma(m.Calls),
			})
		}
		tw.Render()
	}

	if len(report.PerAgent) > 0 {
		fmt.Fprintln(w)
		tw = newTable(w, "Agent", "Today", "Week", "Total", "Calls")
		rightAlign(tw, 2, 3, 4, 5)
		for _, a := range report.PerAgent {
			tw.AppendRow([]any{
				firstNonEmpty(a.AgentID, "-"),
				formatCost(a.TodayUSD),
				formatCost(a.WeekUSD),
				formatCost(a.CostUSD),
				humanize.Comma(a.Calls),
			})
		}
		tw.Render()
	}

	if len(report.PerSession) > 0 {
		fmt.Fprintln(w)
		tw = newTable(w, "Session", "Agent", "Cost", "Calls")
		rightAlign(tw, 3, 4)
		for _, su := range report.PerSession {
			tw.AppendRow([]any{
				su.Label,
				firstNonEmpty(su.AgentID, "-"),
				formatCost(su.CostUSD),
				humanize.Comma(su.Calls),
			})
		}
		tw.Render()
	}

	if len(report.PerDay) > 0 {
		fmt.Fprintln(w)
		tw = newTable(w, "Day", "Total", "Cost", "Calls")
		rightAlign(tw, 2, 3, 4)
		for _, d := range report.PerDay {
			tw.AppendRow([]any{
				d.Date,
				humanize.Comma(d.TotalTokens),
				formatCost(d.CostUSD),
				humanize.Comma(d.Calls),
			})
		}
		tw.Render()
	}
	return nil
}

func formatCost(usd float64) string {
	if usd < 0.01 && usd > 0 {
		return fmt.Sprintf("$%.4f", usd)
	}
	return "$" + humanize.FormatFloat("#,###.##", usd)
}
