package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-quest/internal/platform/database"
	"github.com/p-n-ai/pai-quest/internal/snapshot"
)

const dbTimeout = 5 * time.Second

// Schema creates the tables used by PostgresStore and PostgresEventLogger.
const Schema = `
CREATE TABLE IF NOT EXISTS progress_snapshots (
	learner_id TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS progress_events (
	id         BIGSERIAL PRIMARY KEY,
	learner_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	level_id   TEXT,
	zone_id    TEXT,
	data       JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS progress_events_learner_idx ON progress_events (learner_id, created_at);
`

// PostgresStore is a PostgreSQL-backed Store keyed by learner.
type PostgresStore struct {
	pool      *pgxpool.Pool
	learnerID string
}

// NewPostgresStore creates a store for one learner and ensures the schema exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, learnerID string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	if learnerID == "" {
		return nil, fmt.Errorf("learner_id is required")
	}
	if err := database.Migrate(ctx, pool, "progress", Schema); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, learnerID: learnerID}, nil
}

func (s *PostgresStore) Load(ctx context.Context) (*snapshot.Snapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM progress_snapshots WHERE learner_id = $1`,
		s.learnerID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snapshot.Decode(data)
}

func (s *PostgresStore) Save(ctx context.Context, snap *snapshot.Snapshot) error {
	data, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO progress_snapshots (learner_id, data, updated_at)
		 VALUES ($1, $2::jsonb, NOW())
		 ON CONFLICT (learner_id)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		s.learnerID,
		string(data),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
