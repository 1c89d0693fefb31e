// Package tui implements the clawdash live feed terminal interface.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/opencode-ai/clawdash/internal/models"
	"github.com/opencode-ai/clawdash/internal/tui/styles"
)

// DefaultMaxEvents bounds the feed history.
const DefaultMaxEvents = 500

// Config configures the live feed TUI.
type Config struct {
	// Theme names a palette in styles.Themes.
	Theme string

	// MaxEvents bounds how many events are kept for scrolling.
	MaxEvents int

	// Backlog is shown first, newest first as the hub delivers it.
	Backlog []models.LiveEvent

	// Events delivers live events until closed.
	Events <-chan models.LiveEvent

	// Source describes where events come from, for the header.
	Source string
}

// RunWithConfig launches the TUI program.
func RunWithConfig(cfg Config) error {
	program := tea.NewProgram(newModel(cfg), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

type model struct {
	width  int
	height int
	styles styles.Styles
	source string

	events <-chan models.LiveEvent
	ring   *EventRing
	frozen []models.LiveEvent

	paused    bool
	offset    int
	closed    bool
	received  int
	lastEvent time.Time
	now       time.Time
}

const (
	minWidth   = 60
	minHeight  = 10
	staleAfter = 2 * time.Minute
	chromeRows = 4
)

func newModel(cfg Config) model {
	size := cfg.MaxEvents
	if size <= 0 {
		size = DefaultMaxEvents
	}
	ring := NewEventRing(size)
	for i := len(cfg.Backlog) - 1; i >= 0; i-- {
		ring.Add(cfg.Backlog[i])
	}

	now := time.Now()
	return model{
		styles: styles.BuildStyles(styles.Lookup(cfg.Theme)),
		source: cfg.Source,
		events: cfg.Events,
		ring:   ring,
		closed: cfg.Events == nil,
		now:    now,
	}
}

type eventMsg models.LiveEvent

type streamClosedMsg struct{}

type tickMsg time.Time

func waitForEvent(ch <-chan models.LiveEvent) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "p", " ":
			m.paused = !m.paused
			m.frozen = nil
			if m.paused {
				m.frozen = m.ring.Snapshot()
			}
		case "c":
			m.ring.Reset()
			m.frozen = nil
			m.offset = 0
		case "up", "k":
			m.offset = min(m.offset+1, max(0, m.visible()-1))
		case "down", "j":
			m.offset = max(0, m.offset-1)
		case "pgup":
			m.offset = min(m.offset+m.pageSize(), max(0, m.visible()-1))
		case "pgdown":
			m.offset = max(0, m.offset-m.pageSize())
		case "G", "end":
			m.offset = 0
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case eventMsg:
		m.ring.Add(models.LiveEvent(msg))
		m.received++
		m.lastEvent = m.now
		return m, waitForEvent(m.events)
	case streamClosedMsg:
		m.closed = true
	case tickMsg:
		m.now = time.Time(msg)
		return m, tickCmd()
	}
	return m, nil
}

func (m model) snapshot() []models.LiveEvent {
	if m.paused {
		return m.frozen
	}
	return m.ring.Snapshot()
}

func (m model) visible() int {
	return len(m.snapshot())
}

func (m model) pageSize() int {
	if m.height <= chromeRows {
		return 10
	}
	return m.height - chromeRows
}

func (m model) View() string {
	if m.width > 0 && m.height > 0 && (m.width < minWidth || m.height < minHeight) {
		return joinLines([]string{
			m.styles.Warning.Render(fmt.Sprintf("Terminal too small (%dx%d).", m.width, m.height)),
			m.styles.Muted.Render(fmt.Sprintf("Resize to at least %dx%d.", minWidth, minHeight)),
			m.styles.Muted.Render("Press q to quit."),
		}) + "\n"
	}

	lines := []string{m.headerLine(), ""}

	events := m.snapshot()
	end := len(events) - m.offset
	start := max(0, end-m.pageSize())
	if len(events) == 0 {
		lines = append(lines, m.styles.Muted.Render("Waiting for transcript activity..."))
	}
	for _, ev := range events[start:max(start, end)] {
		lines = append(lines, FormatEvent(m.styles, ev, m.width))
	}

	lines = append(lines, "", m.styles.Muted.Render("q quit | p pause | c clear | ↑/↓ scroll | G latest"))
	return joinLines(lines) + "\n"
}

func (m model) headerLine() string {
	parts := []string{m.styles.Title.Render("clawdash live")}
	if m.source != "" {
		parts = append(parts, m.styles.Muted.Render(m.source))
	}
	parts = append(parts, m.styles.Muted.Render(fmt.Sprintf("%d events", m.received)))

	switch {
	case m.closed:
		parts = append(parts, m.styles.Error.Render("disconnected"))
	case m.isStale():
		parts = append(parts, m.styles.Muted.Render("idle"))
	default:
		parts = append(parts, m.styles.Accent.Render("live"))
	}
	if m.paused {
		parts = append(parts, m.styles.Warning.Render("paused"))
	}
	if m.offset > 0 {
		parts = append(parts, m.styles.Muted.Render(fmt.Sprintf("+%d below", m.offset)))
	}
	return strings.Join(parts, "  ")
}

func (m model) isStale() bool {
	if m.lastEvent.IsZero() || m.now.IsZero() {
		return false
	}
	return m.now.Sub(m.lastEvent) > staleAfter
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
