package styles

import "github.com/charmbracelet/lipgloss"

// Styles contains lipgloss styles derived from theme tokens.
type Styles struct {
	Theme     Theme
	Title     lipgloss.Style
	Text      lipgloss.Style
	Muted     lipgloss.Style
	Accent    lipgloss.Style
	Border    lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Tool      lipgloss.Style
	System    lipgloss.Style
	Session   lipgloss.Style
}

// DefaultStyles builds styles from the default theme.
func DefaultStyles() Styles {
	return BuildStyles(DefaultTheme)
}

// BuildStyles converts theme tokens into lipgloss styles.
func BuildStyles(theme Theme) Styles {
	tokens := theme.Tokens
	fg := func(color string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
	}

	return Styles{
		Theme:     theme,
		Title:     fg(tokens.Text).Bold(true),
		Text:      fg(tokens.Text),
		Muted:     fg(tokens.TextMuted),
		Accent:    fg(tokens.Accent),
		Border:    fg(tokens.Border),
		Warning:   fg(tokens.Warning),
		Error:     fg(tokens.Error),
		User:      fg(tokens.User).Bold(true),
		Assistant: fg(tokens.Assistant).Bold(true),
		Tool:      fg(tokens.Tool).Bold(true),
		System:    fg(tokens.System),
		Session:   fg(tokens.Accent),
	}
}

// Role returns the style for a live event role.
func (s Styles) Role(role string) lipgloss.Style {
	switch role {
	case "user":
		return s.User
	case "assistant":
		return s.Assistant
	case "toolResult", "tool", "tool_result":
		return s.Tool
	default:
		return s.System
	}
}
