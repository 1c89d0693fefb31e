package cli

import (
	"fmt"
	"io"
	"os"
	"time"
)

// stepReporter prints a one-line "label... done" status to stderr for
// commands that walk many transcripts.
type stepReporter struct {
	out     io.Writer
	started time.Time
	now     func() time.Time
}

func beginStep(label string) *stepReporter {
	return beginStepTo(os.Stderr, label, progressEnabled())
}

func beginStepTo(out io.Writer, label string, enabled bool) *stepReporter {
	if !enabled {
		return nil
	}
	fmt.Fprintf(out, "%s... ", label)
	return &stepReporter{out: out, started: time.Now(), now: time.Now}
}

// Finish closes the status line; detail is appended before the elapsed time.
func (s *stepReporter) Finish(detail string) {
	if s == nil {
		return
	}
	elapsed := formatElapsed(s.now().Sub(s.started))
	if detail == "" {
		fmt.Fprintf(s.out, "done (%s)\n", elapsed)
		return
	}
	fmt.Fprintf(s.out, "done: %s (%s)\n", detail, elapsed)
}

func (s *stepReporter) Abort(err error) {
	if s == nil {
		return
	}
	if err == nil {
		fmt.Fprintln(s.out, "failed")
		return
	}
	fmt.Fprintf(s.out, "failed: %v\n", err)
}

func progressEnabled() bool {
	if noProgress || IsJSONOutput() || IsJSONLOutput() {
		return false
	}
	for _, name := range []string{"CLAWDASH_NO_PROGRESS", "NO_PROGRESS"} {
		if _, ok := os.LookupEnv(name); ok {
			return false
		}
	}
	return isTerminal(os.Stderr)
}

func formatElapsed(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.String()
	case d < time.Second:
		return d.Round(10 * time.Millisecond).String()
	default:
		return d.Round(100 * time.Millisecond).String()
	}
}
