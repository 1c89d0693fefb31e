// Package normalize turns raw transcript records into compact live events.
package normalize

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/opencode-ai/clawdash/internal/models"
)

// Snippet limits, in runes.
const (
	TextLimit     = 150
	ToolArgsLimit = 80
	ResultLimit   = 100
	ThinkingLimit = 100
	FallbackLimit = 100

	// LabelFallbackLength is how much of an unknown session key is shown.
	LabelFallbackLength = 8
)

// UnknownRole is used when a message carries no role.
const UnknownRole = "unknown"

// SessionLookup resolves a transcript's session key to a display label.
type SessionLookup interface {
	Label(sessionKey string) (string, bool)
}

// Normalizer maps raw records to live events. It has no side effects.
type Normalizer struct {
	sessions SessionLookup
	now      func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the clock used for records without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// New creates a Normalizer. sessions may be nil.
func New(sessions SessionLookup, opts ...Option) *Normalizer {
	n := &Normalizer{
		sessions: sessions,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts one record from the transcript named by sessionKey.
// It reports false when the record has nothing renderable: non-message
// records, messages without a message body, and content that reduces to
// an empty string.
func (n *Normalizer) Normalize(raw models.RawEvent, sessionKey string) (models.LiveEvent, bool) {
	if !raw.IsMessage() || raw.Message == nil {
		return models.LiveEvent{}, false
	}

	content := Content(raw.Message)
	content = strings.TrimSpace(strings.ReplaceAll(content, "\n", " "))
	if content == "" {
		return models.LiveEvent{}, false
	}

	role := raw.Message.Role
	if role == "" {
		role = UnknownRole
	}

	timestamp := raw.Timestamp
	if timestamp == "" {
		timestamp = n.now().UTC().Format(models.TimestampLayout)
	}

	if sessionKey == "" {
		sessionKey = raw.SessionID
	}
	if sessionKey == "" {
		sessionKey = UnknownRole
	}

	return models.LiveEvent{
		Timestamp: timestamp,
		Session:   n.label(sessionKey),
		Role:      role,
		Content:   content,
	}, true
}

func (n *Normalizer) label(sessionKey string) string {
	if n.sessions != nil {
		if label, ok := n.sessions.Label(sessionKey); ok && label != "" {
			return label
		}
	}
	return Truncate(sessionKey, LabelFallbackLength)
}

// Content renders the short textual form of a message, before newline
// folding. String content is cut to 150 runes. For block content the first
// text, tool call, tool result or thinking block wins; with none of those
// the first block is rendered as JSON.
func Content(msg *models.Message) string {
	var content string
	if text, ok := msg.TextContent(); ok {
		content = Truncate(text, TextLimit)
	} else if blocks, ok := msg.Blocks(); ok {
		content = blockContent(blocks)
	}

	if content == "" && msg.Type == models.BlockToolResultAlt {
		content = "Result: " + Truncate(resultText(msg.Content), ResultLimit)
	}
	return content
}

func blockContent(blocks []models.ContentBlock) string {
	for _, b := range blocks {
		switch b.Type {
		case models.BlockText:
			if b.Text != "" {
				return Truncate(b.Text, TextLimit)
			}
		case models.BlockToolCall, models.BlockToolUse:
			name := firstNonEmpty(b.Name, b.ToolName, "tool")
			args := b.Arguments
			if isEmptyJSON(args) {
				args = b.Input
			}
			return "tool: " + name + "(" + Truncate(compactJSON(args, "{}"), ToolArgsLimit) + ")"
		case models.BlockToolResult, models.BlockToolResultAlt:
			return "Result: " + Truncate(resultText(b.Content), ResultLimit)
		case models.BlockThinking:
			return "Thinking: " + Truncate(b.Thinking, ThinkingLimit)
		}
	}
	if len(blocks) > 0 && !isEmptyJSON(blocks[0].Raw) {
		return Truncate(compactJSON(blocks[0].Raw, ""), FallbackLimit)
	}
	return ""
}

// resultText renders a tool result: strings verbatim, anything else as
// JSON, a missing payload as an empty JSON string.
func resultText(raw json.RawMessage) string {
	var s string
	if len(raw) > 0 && raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return compactJSON(raw, `""`)
}

func compactJSON(raw json.RawMessage, empty string) string {
	if isEmptyJSON(raw) {
		return empty
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// isEmptyJSON treats absent, null and JSON falsy scalars as missing, the
// way the runtime's own renderer does.
func isEmptyJSON(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "false", "0", `""`:
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Truncate returns at most limit runes of s.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
