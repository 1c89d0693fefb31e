package sessions

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/opencode-ai/clawdash/internal/agents"
	"github.com/opencode-ai/clawdash/internal/models"
	"github.com/opencode-ai/clawdash/internal/normalize"
	"github.com/opencode-ai/clawdash/internal/tail"
)

// ErrSessionNotFound is returned when no transcript matches a session id.
var ErrSessionNotFound = errors.New("session not found")

const (
	// DefaultMessageLines is how many trailing transcript lines the
	// message viewer scans.
	DefaultMessageLines = 30

	messageContentLimit = 300
)

// SanitizeID keeps only the characters session ids and keys are made of.
func SanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case strings.ContainsRune("-_:.", r):
			return r
		}
		return -1
	}, id)
}

// Messages returns the user-visible messages among the last n lines of the
// transcript for id, oldest first. id may be a session id, a fragment of a
// transcript file name or a session key from the index.
func (l *Lister) Messages(id string, n int) ([]models.SessionMessage, error) {
	id = SanitizeID(id)
	if id == "" {
		return nil, ErrSessionNotFound
	}
	if n <= 0 {
		n = DefaultMessageLines
	}

	path, err := l.transcriptPath(id)
	if err != nil {
		return nil, err
	}
	lines, err := tail.LastLines(path, n)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	messages := make([]models.SessionMessage, 0, len(lines))
	for _, line := range lines {
		rec, ok := tail.DecodeLine(line)
		if !ok || !rec.Event.IsMessage() || rec.Event.Message == nil {
			continue
		}
		msg := rec.Event.Message
		text := viewerText(msg)
		if text == "" {
			continue
		}
		role := msg.Role
		if role == "" {
			role = normalize.UnknownRole
		}
		messages = append(messages, models.SessionMessage{
			Timestamp: rec.Event.Timestamp,
			Role:      role,
			Content:   normalize.Truncate(text, messageContentLimit),
		})
	}
	return messages, nil
}

// transcriptPath finds the transcript for id. An exact <id>.jsonl wins,
// then any transcript whose name contains id, then the transcript of the
// index entry keyed by id.
func (l *Lister) transcriptPath(id string) (string, error) {
	dirs, err := l.enum.Dirs()
	if err != nil {
		return "", fmt.Errorf("enumerate agents: %w", err)
	}

	if path := findTranscript(dirs, id); path != "" {
		return path, nil
	}

	list, err := l.List()
	if err != nil {
		return "", err
	}
	for _, s := range list {
		if s.Key == id && s.SessionID != "" {
			if path := findTranscript(dirs, s.SessionID); path != "" {
				return path, nil
			}
		}
	}
	return "", ErrSessionNotFound
}

func findTranscript(dirs []models.AgentDir, id string) string {
	var partial string
	for _, dir := range dirs {
		names, err := agents.ListSessionFiles(dir.Dir)
		if err != nil {
			continue
		}
		for _, name := range names {
			if name == id+".jsonl" {
				return filepath.Join(dir.Dir, name)
			}
			if partial == "" && strings.Contains(name, id) {
				partial = filepath.Join(dir.Dir, name)
			}
		}
	}
	return partial
}

// viewerText is the message's string content, its first text block, or
// "tool: <name>" for a leading tool call.
func viewerText(msg *models.Message) string {
	if text, ok := msg.TextContent(); ok {
		return text
	}
	blocks, _ := msg.Blocks()
	for _, b := range blocks {
		switch b.Type {
		case models.BlockText:
			if b.Text != "" {
				return b.Text
			}
		case models.BlockToolCall, models.BlockToolUse:
			return "tool: " + firstNonEmpty(b.Name, b.ToolName, "tool")
		}
	}
	return ""
}
