package models

import (
	"encoding/json"
	"strings"
	"time"
)

// TimestampLayout is ISO-8601 with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Transcript record kinds.
const (
	RecordTypeMessage = "message"
	RecordTypeError   = "error"
)

// Content block kinds. Both spellings of tool blocks occur in the wild.
const (
	BlockText          = "text"
	BlockToolCall      = "toolCall"
	BlockToolUse       = "tool_use"
	BlockToolResult    = "toolResult"
	BlockToolResultAlt = "tool_result"
	BlockThinking      = "thinking"
)

// RawEvent is one decoded line of a session transcript. Only the fields
// clawdash reads are typed; everything else is ignored.
type RawEvent struct {
	// Type is the record discriminator ("message", "error", ...).
	Type string `json:"type"`

	// ID identifies the record within its transcript when present.
	ID string `json:"id,omitempty"`

	// ParentID links a record to the one it answers.
	ParentID string `json:"parentId,omitempty"`

	// Timestamp is the writer's ISO-8601 timestamp, verbatim.
	Timestamp string `json:"timestamp,omitempty"`

	// SessionID is set by some writers on every record.
	SessionID string `json:"sessionId,omitempty"`

	// Message is set for message records.
	Message *Message `json:"message,omitempty"`
}

// UnmarshalJSON accepts numeric (epoch millisecond) timestamps as well as
// strings.
func (e *RawEvent) UnmarshalJSON(data []byte) error {
	type alias RawEvent
	aux := struct {
		*alias
		Timestamp json.RawMessage `json:"timestamp,omitempty"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Timestamp = timestampText(aux.Timestamp)
	return nil
}

func timestampText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return ""
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil || ms <= 0 {
		return ""
	}
	return time.UnixMilli(int64(ms)).UTC().Format(TimestampLayout)
}

// IsMessage reports whether the record is a message record.
func (e *RawEvent) IsMessage() bool {
	return e != nil && e.Type == RecordTypeMessage
}

// Time parses Timestamp, returning the zero time when absent or invalid.
func (e *RawEvent) Time() time.Time {
	if e == nil || strings.TrimSpace(e.Timestamp) == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Message is the payload of a message record.
type Message struct {
	// Role is "user", "assistant", "toolResult" or similar.
	Role string `json:"role,omitempty"`

	// Type is an optional message-level discriminator ("tool_result").
	Type string `json:"type,omitempty"`

	// Model and Provider are set on assistant messages.
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`

	// Content is either a JSON string or an array of content blocks.
	Content json.RawMessage `json:"content,omitempty"`

	// Usage carries token and cost accounting for assistant turns.
	Usage *MessageUsage `json:"usage,omitempty"`
}

// TextContent returns the content when it is a plain string.
func (m *Message) TextContent() (string, bool) {
	if m == nil || len(m.Content) == 0 || m.Content[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err != nil {
		return "", false
	}
	return s, true
}

// Blocks returns the content blocks when content is an array. Each block
// keeps its raw form for fallback rendering.
func (m *Message) Blocks() ([]ContentBlock, bool) {
	if m == nil || len(m.Content) == 0 || m.Content[0] != '[' {
		return nil, false
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(m.Content, &raws); err != nil {
		return nil, false
	}
	blocks := make([]ContentBlock, 0, len(raws))
	for _, raw := range raws {
		var b ContentBlock
		// Non-object elements still occupy a slot so "first block" stays
		// positional.
		_ = json.Unmarshal(raw, &b)
		b.Raw = raw
		blocks = append(blocks, b)
	}
	return blocks, true
}

// ContentBlock is one element of structured message content.
type ContentBlock struct {
	Type string `json:"type"`

	// Text is set on text blocks.
	Text string `json:"text,omitempty"`

	// Thinking is set on thinking blocks.
	Thinking string `json:"thinking,omitempty"`

	// Name or ToolName identify the tool on tool-call blocks.
	Name     string `json:"name,omitempty"`
	ToolName string `json:"toolName,omitempty"`

	// Arguments (or Input) hold the tool-call arguments.
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`

	// Content is the tool-result payload, string or structured.
	Content json.RawMessage `json:"content,omitempty"`

	// Raw is the undecoded block.
	Raw json.RawMessage `json:"-"`
}

// MessageUsage is the accounting attached to an assistant message.
type MessageUsage struct {
	Input       int64      `json:"input"`
	Output      int64      `json:"output"`
	CacheRead   int64      `json:"cacheRead"`
	CacheWrite  int64      `json:"cacheWrite"`
	TotalTokens int64      `json:"totalTokens,omitempty"`
	Cost        *UsageCost `json:"cost,omitempty"`
}

// UsageCost is the provider-reported cost in USD.
type UsageCost struct {
	Input      float64 `json:"input,omitempty"`
	Output     float64 `json:"output,omitempty"`
	CacheRead  float64 `json:"cacheRead,omitempty"`
	CacheWrite float64 `json:"cacheWrite,omitempty"`
	Total      float64 `json:"total"`
}
