package models

import "time"

// AgentDir is one agent's transcript directory.
type AgentDir struct {
	// AgentID is the agent identifier from openclaw.json.
	AgentID string `json:"agent_id"`

	// Dir is the absolute path of <root>/agents/<id>/sessions.
	Dir string `json:"dir"`
}

// Session is one entry of an agent's sessions.json, enriched for display.
type Session struct {
	// Key is the runtime's session key (e.g. "agent:main:cron:<uuid>").
	Key string `json:"key"`

	// AgentID is parsed from Key, falling back to the owning directory.
	AgentID string `json:"agentId"`

	// SessionID names the transcript file (<SessionID>.jsonl).
	SessionID string `json:"sessionId"`

	// Label is the display name.
	Label string `json:"label"`

	Model         string `json:"model"`
	Kind          string `json:"kind"`
	Channel       string `json:"channel"`
	ThinkingLevel string `json:"thinkingLevel,omitempty"`
	TotalTokens   int64  `json:"totalTokens"`
	ContextTokens int64  `json:"contextTokens"`
	Aborted       bool   `json:"aborted"`

	// CreatedAt and UpdatedAt are epoch milliseconds, as written by the runtime.
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`

	// LastMessage is a short snippet of the latest user/assistant text.
	LastMessage string `json:"lastMessage,omitempty"`

	// Cost is the ledger's USD total for the transcript, rounded to cents.
	Cost float64 `json:"cost"`
}

// SessionMessage is one message of a transcript as shown by the session
// viewer.
type SessionMessage struct {
	Timestamp string `json:"timestamp"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

// Updated returns UpdatedAt as a time.
func (s *Session) Updated() time.Time {
	if s.UpdatedAt <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.UpdatedAt).UTC()
}
