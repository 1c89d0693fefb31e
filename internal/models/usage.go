package models

import (
	"time"
)

// UsageRecord is the accounting of one assistant turn.
type UsageRecord struct {
	// ID is the unique identifier for the record.
	ID string `json:"id"`

	// AgentID is the agent whose transcript produced this usage.
	AgentID string `json:"agent_id,omitempty"`

	// SessionID is the transcript the turn belongs to.
	SessionID string `json:"session_id"`

	// EventKey identifies the turn within its session. Records are unique
	// on (SessionID, EventKey), so re-reading a transcript is harmless.
	EventKey string `json:"event_key"`

	// Provider is the AI provider reported by the runtime.
	Provider string `json:"provider,omitempty"`

	// Model is the model used (e.g., "claude-opus-4").
	Model string `json:"model,omitempty"`

	// InputTokens is the number of uncached input tokens.
	InputTokens int64 `json:"input_tokens"`

	// OutputTokens is the number of output tokens generated.
	OutputTokens int64 `json:"output_tokens"`

	// CacheReadTokens and CacheWriteTokens count prompt-cache traffic.
	CacheReadTokens  int64 `json:"cache_read_tokens"`
	CacheWriteTokens int64 `json:"cache_write_tokens"`

	// TotalTokens is input + cache read + cache write + output.
	TotalTokens int64 `json:"total_tokens"`

	// CostUSD is the provider-reported cost in dollars.
	CostUSD float64 `json:"cost_usd"`

	// RecordedAt is the transcript timestamp of the turn.
	RecordedAt time.Time `json:"recorded_at"`
}

// UsageSummary represents aggregated usage data.
type UsageSummary struct {
	// Period is the time period ("today", "week", "month", "all").
	Period string `json:"period"`

	// PeriodStart is the start of the period.
	PeriodStart time.Time `json:"period_start,omitempty"`

	// PeriodEnd is the end of the period.
	PeriodEnd time.Time `json:"period_end,omitempty"`

	// InputTokens is the total input tokens (including cache) in this period.
	InputTokens int64 `json:"input_tokens"`

	// OutputTokens is the total output tokens in this period.
	OutputTokens int64 `json:"output_tokens"`

	// TotalTokens is the total tokens in this period.
	TotalTokens int64 `json:"total_tokens"`

	// CostUSD is the total cost in this period.
	CostUSD float64 `json:"cost_usd"`

	// RecordCount is the number of usage records in this summary.
	RecordCount int64 `json:"record_count"`
}

// ModelUsage is usage aggregated per model.
type ModelUsage struct {
	Model        string  `json:"model"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Calls        int64   `json:"calls"`
}

// DailyUsage represents usage for a specific day.
type DailyUsage struct {
	// Date is the day (YYYY-MM-DD, UTC).
	Date string `json:"date"`

	// InputTokens for the day.
	InputTokens int64 `json:"input_tokens"`

	// OutputTokens for the day.
	OutputTokens int64 `json:"output_tokens"`

	// TotalTokens for the day.
	TotalTokens int64 `json:"total_tokens"`

	// CostUSD for the day.
	CostUSD float64 `json:"cost_usd"`

	// Calls is the number of turns recorded that day.
	Calls int64 `json:"calls"`
}

// SessionUsage is usage aggregated per transcript.
type SessionUsage struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id,omitempty"`

	// Label is the session's display name, or "session-<id8>" when the
	// session index no longer lists it.
	Label string `json:"label"`

	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Calls        int64   `json:"calls"`
}

// AgentUsage is cost per agent over the report windows.
type AgentUsage struct {
	AgentID  string  `json:"agent_id"`
	TodayUSD float64 `json:"today_usd"`
	WeekUSD  float64 `json:"week_usd"`
	CostUSD  float64 `json:"cost_usd"`
	Calls    int64   `json:"calls"`
}

// UsageReport is the payload of the usage API.
type UsageReport struct {
	Today      UsageSummary   `json:"today"`
	Week       UsageSummary   `json:"week"`
	Month      UsageSummary   `json:"month"`
	All        UsageSummary   `json:"all"`
	PerModel   []ModelUsage   `json:"per_model"`
	PerDay     []DailyUsage   `json:"per_day"`
	PerSession []SessionUsage `json:"per_session"`
	PerAgent   []AgentUsage   `json:"per_agent"`
}

// UsageQuery defines filters for querying usage.
type UsageQuery struct {
	// AgentID filters by agent.
	AgentID *string

	// SessionID filters by session.
	SessionID *string

	// Model filters by model.
	Model *string

	// Since filters to records after this time (inclusive).
	Since *time.Time

	// Until filters to records before this time (exclusive).
	Until *time.Time

	// Limit is the maximum records to return.
	Limit int
}

// Validate checks if the usage record is valid.
func (r *UsageRecord) Validate() error {
	validation := &ValidationErrors{}
	if r.SessionID == "" {
		validation.AddMessage("session_id", "session_id is required")
	}
	if r.EventKey == "" {
		validation.AddMessage("event_key", "event_key is required")
	}
	if r.InputTokens < 0 || r.OutputTokens < 0 || r.CacheReadTokens < 0 || r.CacheWriteTokens < 0 {
		validation.AddMessage("tokens", "token counts must be non-negative")
	}
	if r.CostUSD < 0 {
		validation.AddMessage("cost_usd", "cost_usd must be non-negative")
	}
	return validation.Err()
}

// CalculateTotalTokens sums every token bucket.
func (r *UsageRecord) CalculateTotalTokens() {
	r.TotalTokens = r.InputTokens + r.CacheReadTokens + r.CacheWriteTokens + r.OutputTokens
}

// PromptTokens is input including cache traffic, as the runtime bills it.
func (r *UsageRecord) PromptTokens() int64 {
	return r.InputTokens + r.CacheReadTokens + r.CacheWriteTokens
}
