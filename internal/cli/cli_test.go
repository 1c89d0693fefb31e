package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opencode-ai/clawdash/internal/config"
	"github.com/opencode-ai/clawdash/internal/models"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func withOutputFlags(t *testing.T, jsonFlag, jsonlFlag bool) {
	t.Helper()
	origJSON, origJSONL := jsonOutput, jsonlOutput
	jsonOutput, jsonlOutput = jsonFlag, jsonlFlag
	t.Cleanup(func() {
		jsonOutput, jsonlOutput = origJSON, origJSONL
	})
}

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		name    string
		json    bool
		jsonl   bool
		output  string
		want    string
		wantErr bool
	}{
		{"default table", false, false, "", formatTable, false},
		{"explicit yaml", false, false, "YAML", formatYAML, false},
		{"json flag wins", true, false, "table", formatJSON, false},
		{"jsonl flag wins", true, true, "yaml", formatJSONL, false},
		{"unknown", false, false, "xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withOutputFlags(t, tt.json, tt.jsonl)
			got, err := resolveFormat(tt.output)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestWriteStructured(t *testing.T) {
	list := []models.Session{{Key: "agent:main:main", Label: "main"}, {Key: "agent:ops:x", Label: "x"}}

	var buf bytes.Buffer
	require.NoError(t, writeStructured(&buf, formatJSONL, list))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var first models.Session
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "main", first.Label)

	buf.Reset()
	require.NoError(t, writeStructured(&buf, formatYAML, list))
	var decoded []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)

	buf.Reset()
	require.NoError(t, writeStructured(&buf, formatJSON, list))
	require.True(t, strings.HasPrefix(buf.String(), "[\n  {"))
}

func TestWriteOutputJSONLSingleValue(t *testing.T) {
	withOutputFlags(t, false, true)
	var buf bytes.Buffer
	require.NoError(t, WriteOutput(&buf, map[string]int{"files": 2}))
	require.JSONEq(t, `{"files":2}`, buf.String())
}

func TestFilterSessions(t *testing.T) {
	list := []models.Session{
		{Key: "a", AgentID: "main"},
		{Key: "b", AgentID: "ops"},
		{Key: "c", AgentID: "main"},
	}
	require.Len(t, filterSessions(list, "main", 0), 2)
	require.Len(t, filterSessions(list, "", 2), 2)
	require.Equal(t, "c", filterSessions(list, "main", 0)[1].Key)
}

func TestWriteSessionsTable(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	list := []models.Session{{
		Key:           "agent:main:main",
		AgentID:       "main",
		Label:         "main",
		Model:         "claude-opus-4",
		Kind:          "direct",
		Channel:       "telegram",
		TotalTokens:   12345,
		ContextTokens: 200000,
		UpdatedAt:     now.Add(-5 * time.Minute).UnixMilli(),
		LastMessage:   "deploy finished",
	}}

	var buf bytes.Buffer
	require.NoError(t, writeSessionsTable(&buf, list, true, now))
	out := buf.String()
	require.Contains(t, out, "claude-opus-4")
	require.Contains(t, out, "12,345 / 200,000")
	require.Contains(t, out, "5 minutes ago")
	require.Contains(t, out, "deploy finished")

	buf.Reset()
	require.NoError(t, writeSessionsTable(&buf, nil, false, now))
	require.Contains(t, buf.String(), "(no sessions)")
}

func TestWriteUsageReport(t *testing.T) {
	report := &models.UsageReport{
		Today:    models.UsageSummary{Period: "today", InputTokens: 1500, OutputTokens: 500, TotalTokens: 2000, CostUSD: 1.25, RecordCount: 3},
		Week:     models.UsageSummary{Period: "week"},
		Month:    models.UsageSummary{Period: "month"},
		All:      models.UsageSummary{Period: "all", CostUSD: 0.004},
		PerModel: []models.ModelUsage{{Model: "claude-opus-4", Calls: 3, CostUSD: 1.25}},
		PerDay:   []models.DailyUsage{{Date: "2026-02-01", TotalTokens: 2000, Calls: 3}},
		PerSession: []models.SessionUsage{
			{SessionID: "abc", AgentID: "main", Label: "telegram-group", CostUSD: 1.25, Calls: 3},
		},
		PerAgent: []models.AgentUsage{{AgentID: "ops", TodayUSD: 0.5, WeekUSD: 2, CostUSD: 7.5, Calls: 9}},
	}

	var buf bytes.Buffer
	require.NoError(t, writeUsageReport(&buf, report))
	out := buf.String()
	require.Contains(t, out, "today")
	require.Contains(t, out, "1,500")
	require.Contains(t, out, "$1.25")
	require.Contains(t, out, "$0.0040")
	require.Contains(t, out, "claude-opus-4")
	require.Contains(t, out, "2026-02-01")
	require.Contains(t, out, "telegram-group")
	require.Contains(t, out, "ops")
	require.Contains(t, out, "$7.50")
}

func TestStreamEventsBacklogOldestFirstThenLive(t *testing.T) {
	backlog := []models.LiveEvent{
		{Session: "s", Role: "user", Content: "second"},
		{Session: "s", Role: "user", Content: "first"},
	}
	events := make(chan models.LiveEvent, 1)
	events <- models.LiveEvent{Session: "s", Role: "assistant", Content: "third"}
	close(events)

	var got []string
	emit := func(_ io.Writer, ev models.LiveEvent) error {
		got = append(got, ev.Content)
		return nil
	}
	require.NoError(t, streamEvents(context.Background(), io.Discard, emit, backlog, events))
	require.Equal(t, []string{"first", "second", "third"}, got)
}

func TestStreamEventsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	emit := func(io.Writer, models.LiveEvent) error { return nil }
	require.NoError(t, streamEvents(ctx, io.Discard, emit, nil, make(chan models.LiveEvent)))

	failing := func(io.Writer, models.LiveEvent) error { return errors.New("broken pipe") }
	err := streamEvents(context.Background(), io.Discard, failing, []models.LiveEvent{{}}, nil)
	require.Error(t, err)
}

func TestJSONEventPrinter(t *testing.T) {
	withOutputFlags(t, false, true)
	var buf bytes.Buffer
	require.NoError(t, newEventPrinter()(&buf, models.LiveEvent{Timestamp: "t", Session: "s", Role: "user", Content: "hi"}))
	require.JSONEq(t, `{"timestamp":"t","session":"s","role":"user","content":"hi"}`, buf.String())
}

func TestWriteConfigFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "clawdash")
	cfg := config.DefaultConfig()
	cfg.Server.Port = 7123

	path, err := writeConfigFile(cfg, dir, false)
	require.NoError(t, err)

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 7123, loaded.Server.Port)
	require.Equal(t, cfg.Live.ReplayWindow, loaded.Live.ReplayWindow)

	_, err = writeConfigFile(cfg, dir, false)
	var preflight *PreflightError
	require.ErrorAs(t, err, &preflight)
	require.Contains(t, preflight.Error(), "--force")

	_, err = writeConfigFile(cfg, dir, true)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestProgressDisabledForJSON(t *testing.T) {
	withOutputFlags(t, true, false)
	require.False(t, progressEnabled())
	require.Nil(t, beginStep("x"))
	// Methods on a nil step are no-ops.
	beginStep("x").Finish("")
	beginStep("x").Abort(nil)
}

func TestStepReporterOutput(t *testing.T) {
	var buf bytes.Buffer
	step := beginStepTo(&buf, "Importing usage", true)
	require.NotNil(t, step)
	step.now = func() time.Time { return step.started.Add(1500 * time.Millisecond) }
	step.Finish("3 transcripts")
	require.Equal(t, "Importing usage... done: 3 transcripts (1.5s)\n", buf.String())

	buf.Reset()
	beginStepTo(&buf, "x", true).Abort(errors.New("boom"))
	require.Equal(t, "x... failed: boom\n", buf.String())

	require.Nil(t, beginStepTo(&buf, "x", false))
}

func TestFormatElapsed(t *testing.T) {
	require.Equal(t, "500µs", formatElapsed(500*time.Microsecond))
	require.Equal(t, "120ms", formatElapsed(123*time.Millisecond))
	require.Equal(t, "2.3s", formatElapsed(2340*time.Millisecond))
}

func TestUINonInteractive(t *testing.T) {
	orig := nonInteractive
	nonInteractive = true
	t.Cleanup(func() { nonInteractive = orig })

	var preflight *PreflightError
	require.ErrorAs(t, runTUI(), &preflight)
}

func TestWriteMessagesTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMessagesTable(&buf, []models.SessionMessage{
		{Timestamp: "2026-02-01T10:00:00.000Z", Role: "user", Content: "line one\nline two"},
		{Role: "assistant", Content: "tool: exec"},
	}))
	out := buf.String()
	require.Contains(t, out, "line one line two")
	require.Contains(t, out, "tool: exec")
	require.Contains(t, out, "2026-02-01T10:00:00.000Z")

	buf.Reset()
	require.NoError(t, writeMessagesTable(&buf, nil))
	require.Contains(t, buf.String(), "(no messages)")
}
