package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencode-ai/clawdash/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var initForce bool

// configDirFunc is replaced in tests.
var configDirFunc = func() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "clawdash")
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config file")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long:  "Write the effective configuration to ~/.config/clawdash/clawdash.yaml as a starting point.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := writeConfigFile(GetConfig(), configDirFunc(), initForce)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func writeConfigFile(cfg *config.Config, dir string, force bool) (string, error) {
	path := filepath.Join(dir, "clawdash.yaml")
	if _, err := os.Stat(path); err == nil && !force {
		return "", &PreflightError{
			Message:  fmt.Sprintf("config file already exists: %s", path),
			Hint:     "Use --force to overwrite it",
			NextStep: "clawdash init --force",
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}
