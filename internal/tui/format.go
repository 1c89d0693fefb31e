package tui

import (
	"fmt"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/opencode-ai/clawdash/internal/models"
	"github.com/opencode-ai/clawdash/internal/tui/styles"
)

const (
	sessionWidth = 14
	roleWidth    = 10
)

// FormatEvent renders one live event as a single line. Width bounds the
// content column in terminal cells; zero leaves it untruncated.
func FormatEvent(st styles.Styles, ev models.LiveEvent, width int) string {
	clock := eventClock(ev.Timestamp)
	session := runewidth.FillRight(runewidth.Truncate(ev.Session, sessionWidth, "…"), sessionWidth)
	role := runewidth.FillRight(runewidth.Truncate(ev.Role, roleWidth, "…"), roleWidth)

	content := ev.Content
	if width > 0 {
		// clock + session + role + separators
		room := width - (8 + sessionWidth + roleWidth + 3)
		if room < 10 {
			room = 10
		}
		content = runewidth.Truncate(content, room, "…")
	}

	return fmt.Sprintf("%s %s %s %s",
		st.Muted.Render(clock),
		st.Session.Render(session),
		st.Role(ev.Role).Render(role),
		st.Text.Render(content),
	)
}

// eventClock returns the local wall-clock time of an RFC 3339 timestamp.
func eventClock(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return "--:--:--"
	}
	return t.Local().Format("15:04:05")
}
