package cli

import (
	"os"

	"golang.org/x/term"
)

// IsNonInteractive reports whether the bubbletea feed must be refused:
// --non-interactive, CLAWDASH_NON_INTERACTIVE, or no terminal on stdin/stdout.
func IsNonInteractive() bool {
	if nonInteractive {
		return true
	}
	if _, ok := os.LookupEnv("CLAWDASH_NON_INTERACTIVE"); ok {
		return true
	}
	return !isTerminal(os.Stdin) || !isTerminal(os.Stdout)
}

func isTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the stdout width, or zero when it is not a terminal.
func terminalWidth() int {
	if !isTerminal(os.Stdout) {
		return 0
	}
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return width
}
