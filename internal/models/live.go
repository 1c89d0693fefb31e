package models

// LiveEvent is the compact, UI-stable form of one transcript record
// delivered to live subscribers. Content is never empty.
type LiveEvent struct {
	// Timestamp is ISO-8601.
	Timestamp string `json:"timestamp"`

	// Session is a display label for the originating session.
	Session string `json:"session"`

	// Role is the message role, "unknown" when absent.
	Role string `json:"role"`

	// Content is a truncated single-line snippet.
	Content string `json:"content"`
}
