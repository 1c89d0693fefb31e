package usage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opencode-ai/clawdash/internal/agents"
	"github.com/opencode-ai/clawdash/internal/tail"
	"github.com/rs/zerolog"
)

// ImportResult summarizes a backfill.
type ImportResult struct {
	Files    int `json:"files"`
	Records  int `json:"records"`
	Inserted int `json:"inserted"`
	Failed   int `json:"failed"`
}

// Importer backfills the ledger from every transcript on disk, including
// archived reset files. Already stored turns are ignored by the store.
type Importer struct {
	enum   *agents.Enumerator
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewImporter creates an Importer.
func NewImporter(enum *agents.Enumerator, store Store, logger zerolog.Logger) *Importer {
	return &Importer{enum: enum, store: store, logger: logger, now: time.Now}
}

// Import reads every transcript in full and stores its usage.
func (im *Importer) Import(ctx context.Context) (ImportResult, error) {
	var result ImportResult

	dirs, err := im.enum.Dirs()
	if err != nil {
		return result, fmt.Errorf("enumerate agents: %w", err)
	}

	for _, dir := range dirs {
		names, err := agents.ListSessionFiles(dir.Dir)
		if err != nil {
			im.logger.Warn().Err(err).Str("dir", dir.Dir).Msg("failed to list transcripts")
			continue
		}
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			path := filepath.Join(dir.Dir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				result.Failed++
				im.logger.Warn().Err(err).Str("path", path).Msg("failed to read transcript")
				continue
			}
			result.Files++

			records := Extract(dir.AgentID, agents.SessionIDFromFile(name), tail.DecodeRecords(data), im.now)
			if len(records) == 0 {
				continue
			}
			result.Records += len(records)

			n, err := im.store.CreateBatch(ctx, records)
			if err != nil {
				result.Failed++
				im.logger.Warn().Err(err).Str("path", path).Msg("failed to store usage")
				continue
			}
			result.Inserted += n
		}
	}

	im.logger.Info().
		Int("files", result.Files).
		Int("records", result.Records).
		Int("inserted", result.Inserted).
		Msg("usage import complete")
	return result, nil
}
