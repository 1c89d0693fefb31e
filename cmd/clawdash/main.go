// Command clawdash is the OpenClaw live dashboard.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/clawdash/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "clawdash: %v\n", err)
		os.Exit(1)
	}
}
