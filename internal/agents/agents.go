// Package agents discovers the agent transcript directories of an
// OpenClaw runtime.
package agents

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/opencode-ai/clawdash/internal/models"
	"github.com/tidwall/jsonc"
)

// ConfigFile is the runtime configuration file under the root.
const ConfigFile = "openclaw.json"

// DefaultFallbackAgent is used when openclaw.json lists no agents.
const DefaultFallbackAgent = "main"

var sessionSuffix = regexp.MustCompile(`\.jsonl(?:\.reset\.\d+)?$`)

// IsSessionFile reports whether a file name is a transcript: a plain
// ".jsonl" file or a reset variant "<id>.jsonl.reset.<ms>".
func IsSessionFile(name string) bool {
	return strings.HasSuffix(name, ".jsonl") || strings.Contains(name, ".jsonl.reset.")
}

// IsResetFile reports whether a transcript name is an archived reset variant.
func IsResetFile(name string) bool {
	return strings.Contains(name, ".jsonl.reset.")
}

// SessionIDFromFile strips the transcript suffix from a file name.
func SessionIDFromFile(name string) string {
	return sessionSuffix.ReplaceAllString(filepath.Base(name), "")
}

// Enumerator lists active agent directories under an OpenClaw root.
type Enumerator struct {
	root     string
	fallback string
}

// NewEnumerator creates an Enumerator. An empty fallback means "main".
func NewEnumerator(root, fallback string) *Enumerator {
	if strings.TrimSpace(fallback) == "" {
		fallback = DefaultFallbackAgent
	}
	return &Enumerator{root: root, fallback: fallback}
}

// Root returns the OpenClaw root directory.
func (e *Enumerator) Root() string {
	return e.root
}

// AgentsDir returns <root>/agents, watched for newly registered agents.
func (e *Enumerator) AgentsDir() string {
	return filepath.Join(e.root, "agents")
}

// SessionsDir returns the transcript directory for an agent.
func (e *Enumerator) SessionsDir(agentID string) string {
	return filepath.Join(e.root, "agents", agentID, "sessions")
}

// Dirs returns every configured agent whose sessions directory exists.
// When none qualify it falls back to the single fallback agent. A missing
// or unreadable config is not an error.
func (e *Enumerator) Dirs() ([]models.AgentDir, error) {
	ids, err := e.AgentIDs()
	if err != nil {
		return nil, err
	}

	dirs := make([]models.AgentDir, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if dir, ok := e.existing(id); ok {
			dirs = append(dirs, dir)
		}
	}

	if len(dirs) == 0 {
		if dir, ok := e.existing(e.fallback); ok {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}

// AgentIDs returns the agent ids listed in openclaw.json, in order.
func (e *Enumerator) AgentIDs() ([]string, error) {
	data, err := os.ReadFile(filepath.Join(e.root, ConfigFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", ConfigFile, err)
	}
	return parseAgentIDs(data), nil
}

func (e *Enumerator) existing(agentID string) (models.AgentDir, bool) {
	if strings.TrimSpace(agentID) == "" || strings.ContainsAny(agentID, `/\`) {
		return models.AgentDir{}, false
	}
	dir := e.SessionsDir(agentID)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return models.AgentDir{}, false
	}
	return models.AgentDir{AgentID: agentID, Dir: dir}, true
}

type runtimeConfig struct {
	Agents struct {
		List []struct {
			ID string `json:"id"`
		} `json:"list"`
	} `json:"agents"`
}

// parseAgentIDs tolerates comments and trailing commas. Malformed configs
// yield no agents so the fallback applies.
func parseAgentIDs(data []byte) []string {
	var cfg runtimeConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil
	}
	ids := make([]string, 0, len(cfg.Agents.List))
	for _, agent := range cfg.Agents.List {
		if id := strings.TrimSpace(agent.ID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// ListSessionFiles returns the transcript file names in dir, sorted.
func ListSessionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read sessions dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !IsSessionFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}
