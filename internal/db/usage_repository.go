package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opencode-ai/clawdash/internal/models"
)

// Usage repository errors.
var (
	ErrUsageRecordNotFound = errors.New("usage record not found")
	ErrInvalidUsageRecord  = errors.New("invalid usage record")
)

const usageColumns = `id, agent_id, session_id, event_key, provider, model,
	input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
	total_tokens, cost_usd, recorded_at`

const usageSums = `COALESCE(SUM(input_tokens + cache_read_tokens + cache_write_tokens), 0),
	COALESCE(SUM(output_tokens), 0),
	COALESCE(SUM(total_tokens), 0),
	COALESCE(SUM(cost_usd), 0),
	COUNT(*)`

// UsageRepository handles usage record persistence.
type UsageRepository struct {
	db *DB
}

type usageExecer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// NewUsageRepository creates a new UsageRepository.
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Create inserts a usage record. Records are unique on (session, event
// key); a duplicate is ignored and reported as not inserted.
func (r *UsageRepository) Create(ctx context.Context, record *models.UsageRecord) (bool, error) {
	return r.insert(ctx, r.db, record)
}

// CreateBatch inserts records in one transaction and returns how many were
// new.
func (r *UsageRepository) CreateBatch(ctx context.Context, records []*models.UsageRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin usage batch: %w", err)
	}
	inserted := 0
	for _, record := range records {
		ok, err := r.insert(ctx, tx, record)
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		if ok {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit usage batch: %w", err)
	}
	return inserted, nil
}

func (r *UsageRepository) insert(ctx context.Context, exec usageExecer, record *models.UsageRecord) (bool, error) {
	if record == nil {
		return false, ErrInvalidUsageRecord
	}
	if err := record.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidUsageRecord, err)
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}
	if record.TotalTokens == 0 {
		record.CalculateTotalTokens()
	}

	result, err := exec.ExecContext(ctx, `
		INSERT OR IGNORE INTO usage_records (`+usageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		nullString(record.AgentID),
		record.SessionID,
		record.EventKey,
		nullString(record.Provider),
		nullString(record.Model),
		record.InputTokens,
		record.OutputTokens,
		record.CacheReadTokens,
		record.CacheWriteTokens,
		record.TotalTokens,
		record.CostUSD,
		record.RecordedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert usage record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// Get retrieves a usage record by ID.
func (r *UsageRepository) Get(ctx context.Context, id string) (*models.UsageRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+usageColumns+` FROM usage_records WHERE id = ?`, id)
	record, err := scanUsageRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUsageRecordNotFound
	}
	return record, err
}

// Query retrieves usage records matching the given filters, newest first.
func (r *UsageRepository) Query(ctx context.Context, q models.UsageQuery) ([]*models.UsageRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	where, args := usageFilter(q)
	query := `SELECT ` + usageColumns + ` FROM usage_records WHERE 1=1` + where +
		` ORDER BY recorded_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []*models.UsageRecord
	for rows.Next() {
		record, err := scanUsageRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}

	return records, nil
}

// Summarize returns aggregated usage in [since, until). Nil bounds are open.
func (r *UsageRepository) Summarize(ctx context.Context, since, until *time.Time) (*models.UsageSummary, error) {
	where, args := usageFilter(models.UsageQuery{Since: since, Until: until})

	var summary models.UsageSummary
	err := r.db.QueryRowContext(ctx, `SELECT `+usageSums+` FROM usage_records WHERE 1=1`+where, args...).Scan(
		&summary.InputTokens,
		&summary.OutputTokens,
		&summary.TotalTokens,
		&summary.CostUSD,
		&summary.RecordCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}

	summary.Period = "custom"
	if since != nil {
		summary.PeriodStart = *since
	}
	if until != nil {
		summary.PeriodEnd = *until
	}
	if since == nil && until == nil {
		summary.Period = "all"
	}
	return &summary, nil
}

// SummarizeByModel returns usage per model since the given time, most
// expensive first. Models containing "delivery-mirror" are bookkeeping
// echoes and are excluded.
func (r *UsageRepository) SummarizeByModel(ctx context.Context, since *time.Time) ([]models.ModelUsage, error) {
	where, args := usageFilter(models.UsageQuery{Since: since})
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(model, 'unknown'), `+usageSums+`
		FROM usage_records
		WHERE COALESCE(model, '') NOT LIKE '%delivery-mirror%'`+where+`
		GROUP BY COALESCE(model, 'unknown')
		ORDER BY 5 DESC, 1
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage by model: %w", err)
	}
	defer rows.Close()

	var out []models.ModelUsage
	for rows.Next() {
		var m models.ModelUsage
		var total int64
		if err := rows.Scan(&m.Model, &m.InputTokens, &m.OutputTokens, &total, &m.CostUSD, &m.Calls); err != nil {
			return nil, fmt.Errorf("failed to scan model usage: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating model usage: %w", err)
	}
	return out, nil
}

// SummarizeBySession returns usage per session since the given time, most
// expensive first. A limit <= 0 returns every session.
func (r *UsageRepository) SummarizeBySession(ctx context.Context, since *time.Time, limit int) ([]models.SessionUsage, error) {
	where, args := usageFilter(models.UsageQuery{Since: since})
	query := `
		SELECT session_id, COALESCE(MAX(agent_id), ''), ` + usageSums + `
		FROM usage_records
		WHERE COALESCE(model, '') NOT LIKE '%delivery-mirror%'` + where + `
		GROUP BY session_id
		ORDER BY 6 DESC, 1`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage by session: %w", err)
	}
	defer rows.Close()

	var out []models.SessionUsage
	for rows.Next() {
		var su models.SessionUsage
		var total int64
		if err := rows.Scan(&su.SessionID, &su.AgentID, &su.InputTokens, &su.OutputTokens, &total, &su.CostUSD, &su.Calls); err != nil {
			return nil, fmt.Errorf("failed to scan session usage: %w", err)
		}
		out = append(out, su)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session usage: %w", err)
	}
	return out, nil
}

// SummarizeByAgent returns each agent's cost since today and since week,
// plus its all-time total, most expensive first.
func (r *UsageRepository) SummarizeByAgent(ctx context.Context, today, week time.Time) ([]models.AgentUsage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			COALESCE(agent_id, ''),
			COALESCE(SUM(CASE WHEN recorded_at >= ? THEN cost_usd ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN recorded_at >= ? THEN cost_usd ELSE 0 END), 0),
			COALESCE(SUM(cost_usd), 0),
			COUNT(*)
		FROM usage_records
		WHERE COALESCE(model, '') NOT LIKE '%delivery-mirror%'
		GROUP BY COALESCE(agent_id, '')
		ORDER BY 4 DESC, 1
	`, today.UTC().Format(timeLayout), week.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage by agent: %w", err)
	}
	defer rows.Close()

	var out []models.AgentUsage
	for rows.Next() {
		var au models.AgentUsage
		if err := rows.Scan(&au.AgentID, &au.TodayUSD, &au.WeekUSD, &au.CostUSD, &au.Calls); err != nil {
			return nil, fmt.Errorf("failed to scan agent usage: %w", err)
		}
		out = append(out, au)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agent usage: %w", err)
	}
	return out, nil
}

// GetDailyUsage returns usage aggregated by UTC day, newest first.
func (r *UsageRepository) GetDailyUsage(ctx context.Context, since, until time.Time, limit int) ([]models.DailyUsage, error) {
	if limit <= 0 {
		limit = 30
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT
			date(recorded_at) AS day,
			`+usageSums+`
		FROM usage_records
		WHERE recorded_at >= ? AND recorded_at < ?
		GROUP BY day
		ORDER BY day DESC
		LIMIT ?
	`, since.UTC().Format(timeLayout), until.UTC().Format(timeLayout), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily usage: %w", err)
	}
	defer rows.Close()

	var daily []models.DailyUsage
	for rows.Next() {
		var du models.DailyUsage
		if err := rows.Scan(
			&du.Date,
			&du.InputTokens,
			&du.OutputTokens,
			&du.TotalTokens,
			&du.CostUSD,
			&du.Calls,
		); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage: %w", err)
		}
		daily = append(daily, du)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily usage: %w", err)
	}

	return daily, nil
}

// Count returns the number of stored records.
func (r *UsageRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM usage_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count usage records: %w", err)
	}
	return n, nil
}

// DeleteOlderThan removes usage records older than the given time.
func (r *UsageRepository) DeleteOlderThan(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}

	result, err := r.db.ExecContext(ctx, `
		DELETE FROM usage_records WHERE id IN (
			SELECT id FROM usage_records WHERE recorded_at < ? ORDER BY recorded_at LIMIT ?
		)
	`, before.UTC().Format(timeLayout), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old usage records: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}
	return count, nil
}

func usageFilter(q models.UsageQuery) (string, []any) {
	var b strings.Builder
	args := []any{}

	if q.AgentID != nil {
		b.WriteString(` AND agent_id = ?`)
		args = append(args, *q.AgentID)
	}
	if q.SessionID != nil {
		b.WriteString(` AND session_id = ?`)
		args = append(args, *q.SessionID)
	}
	if q.Model != nil {
		b.WriteString(` AND model = ?`)
		args = append(args, *q.Model)
	}
	if q.Since != nil {
		b.WriteString(` AND recorded_at >= ?`)
		args = append(args, q.Since.UTC().Format(timeLayout))
	}
	if q.Until != nil {
		b.WriteString(` AND recorded_at < ?`)
		args = append(args, q.Until.UTC().Format(timeLayout))
	}
	return b.String(), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUsageRecord(row rowScanner) (*models.UsageRecord, error) {
	var record models.UsageRecord
	var agentID, provider, model sql.NullString
	var recordedAt string

	err := row.Scan(
		&record.ID,
		&agentID,
		&record.SessionID,
		&record.EventKey,
		&provider,
		&model,
		&record.InputTokens,
		&record.OutputTokens,
		&record.CacheReadTokens,
		&record.CacheWriteTokens,
		&record.TotalTokens,
		&record.CostUSD,
		&recordedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan usage record: %w", err)
	}

	record.AgentID = agentID.String
	record.Provider = provider.String
	record.Model = model.String
	if t, err := time.Parse(timeLayout, recordedAt); err == nil {
		record.RecordedAt = t
	}
	return &record, nil
}

func nullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
