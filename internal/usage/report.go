package usage

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/opencode-ai/clawdash/internal/models"
	"github.com/opencode-ai/clawdash/internal/normalize"
)

// DefaultReportDays is how many days the per-day breakdown covers.
const DefaultReportDays = 14

// DefaultTopSessions is how many sessions the per-session breakdown lists.
const DefaultTopSessions = 10

// Source answers aggregate usage queries.
type Source interface {
	Summarize(ctx context.Context, since, until *time.Time) (*models.UsageSummary, error)
	SummarizeByModel(ctx context.Context, since *time.Time) ([]models.ModelUsage, error)
	SummarizeBySession(ctx context.Context, since *time.Time, limit int) ([]models.SessionUsage, error)
	SummarizeByAgent(ctx context.Context, today, week time.Time) ([]models.AgentUsage, error)
	GetDailyUsage(ctx context.Context, since, until time.Time, limit int) ([]models.DailyUsage, error)
}

// Labeler resolves session ids to display labels. sessions.Lister
// satisfies it.
type Labeler interface {
	Label(sessionKey string) (string, bool)
}

type windows struct {
	today time.Time
	week  time.Time
	month time.Time
}

// reportWindows anchors today at local midnight of now; week and month are
// the trailing 7 and 30 days.
func reportWindows(now time.Time) windows {
	return windows{
		today: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()),
		week:  now.Add(-7 * 24 * time.Hour),
		month: now.Add(-30 * 24 * time.Hour),
	}
}

// Report builds the usage report as of now. labels may be nil.
func Report(ctx context.Context, src Source, now time.Time, labels Labeler) (*models.UsageReport, error) {
	w := reportWindows(now)

	report := &models.UsageReport{}
	periods := []struct {
		name  string
		since *time.Time
		dst   *models.UsageSummary
	}{
		{"today", &w.today, &report.Today},
		{"week", &w.week, &report.Week},
		{"month", &w.month, &report.Month},
		{"all", nil, &report.All},
	}

	for _, p := range periods {
		summary, err := src.Summarize(ctx, p.since, nil)
		if err != nil {
			return nil, fmt.Errorf("summarize %s: %w", p.name, err)
		}
		summary.Period = p.name
		if p.since != nil {
			summary.PeriodStart = *p.since
			summary.PeriodEnd = now
		}
		*p.dst = *summary
	}

	perModel, err := src.SummarizeByModel(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("summarize by model: %w", err)
	}
	report.PerModel = perModel

	daysStart := w.today.AddDate(0, 0, -(DefaultReportDays - 1))
	perDay, err := src.GetDailyUsage(ctx, daysStart, now.Add(time.Second), DefaultReportDays)
	if err != nil {
		return nil, fmt.Errorf("daily usage: %w", err)
	}
	report.PerDay = perDay

	perSession, err := src.SummarizeBySession(ctx, nil, DefaultTopSessions)
	if err != nil {
		return nil, fmt.Errorf("summarize by session: %w", err)
	}
	for i := range perSession {
		perSession[i].Label = sessionLabel(labels, perSession[i].SessionID)
	}
	report.PerSession = perSession

	report.PerAgent, err = src.SummarizeByAgent(ctx, w.today, w.week)
	if err != nil {
		return nil, fmt.Errorf("summarize by agent: %w", err)
	}

	if report.PerModel == nil {
		report.PerModel = []models.ModelUsage{}
	}
	if report.PerDay == nil {
		report.PerDay = []models.DailyUsage{}
	}
	if report.PerSession == nil {
		report.PerSession = []models.SessionUsage{}
	}
	if report.PerAgent == nil {
		report.PerAgent = []models.AgentUsage{}
	}
	return report, nil
}

// AgentCosts returns per-agent cost for today, the trailing week and all
// time, as of now.
func AgentCosts(ctx context.Context, src Source, now time.Time) ([]models.AgentUsage, error) {
	w := reportWindows(now)
	out, err := src.SummarizeByAgent(ctx, w.today, w.week)
	if err != nil {
		return nil, fmt.Errorf("summarize by agent: %w", err)
	}
	if out == nil {
		out = []models.AgentUsage{}
	}
	return out, nil
}

// SessionCosts returns every session's total cost in USD, rounded to cents.
func SessionCosts(ctx context.Context, src Source) (map[string]float64, error) {
	perSession, err := src.SummarizeBySession(ctx, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("summarize by session: %w", err)
	}
	costs := make(map[string]float64, len(perSession))
	for _, su := range perSession {
		costs[su.SessionID] = math.Round(su.CostUSD*100) / 100
	}
	return costs, nil
}

func sessionLabel(labels Labeler, sessionID string) string {
	if labels != nil {
		if label, ok := labels.Label(sessionID); ok && label != "" {
			return label
		}
	}
	return "session-" + normalize.Truncate(sessionID, 8)
}
