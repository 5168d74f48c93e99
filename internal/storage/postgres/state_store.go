package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/jobmarket-tools/harvester/internal/harvest"
)

// StateStore implements harvest.StateStore. One row per source; the row is
// never deleted, so crawl position survives process restarts.
type StateStore struct {
	db     DB
	logger *zap.Logger
}

// NewStateStore constructs a StateStore on an existing pool.
func NewStateStore(db DB, logger *zap.Logger) *StateStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateStore{db: db, logger: logger}
}

// Load returns the stored crawl state for a source, or a fresh backfill
// state on first run. A row with an unrecognized mode is treated as first
// run too; that is a recovery policy, not an error.
func (s *StateStore) Load(ctx context.Context, source string) (harvest.CrawlState, error) {
	state := harvest.CrawlState{Source: source}
	var mode string
	err := s.db.QueryRow(ctx,
		`SELECT mode, last_uid, last_seen_at, updated_at FROM scraper_state WHERE board_name = $1`,
		source,
	).Scan(&mode, &state.LastSeenUID, &state.LastSeenAt, &state.UpdatedAt)
	if err == pgx.ErrNoRows {
		return freshState(source), nil
	}
	if err != nil {
		return harvest.CrawlState{}, fmt.Errorf("load state for %q: %w", source, err)
	}

	switch harvest.Mode(mode) {
	case harvest.ModeBackfill, harvest.ModeMonitor:
		state.Mode = harvest.Mode(mode)
	default:
		s.logger.Warn("stored crawl mode is unusable, restarting as backfill",
			zap.String("source", source), zap.String("mode", mode))
		return freshState(source), nil
	}
	return state, nil
}

// Save persists all state fields atomically in a single upsert.
func (s *StateStore) Save(ctx context.Context, state harvest.CrawlState) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO scraper_state (board_name, mode, last_uid, last_seen_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (board_name) DO UPDATE SET
	mode = EXCLUDED.mode,
	last_uid = EXCLUDED.last_uid,
	last_seen_at = EXCLUDED.last_seen_at,
	updated_at = EXCLUDED.updated_at`,
		state.Source,
		string(state.Mode),
		state.LastSeenUID,
		state.LastSeenAt,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save state for %q: %w", state.Source, err)
	}
	return nil
}

func freshState(source string) harvest.CrawlState {
	return harvest.CrawlState{
		Source:     source,
		Mode:       harvest.ModeBackfill,
		LastSeenAt: time.Time{}.UTC(),
	}
}
