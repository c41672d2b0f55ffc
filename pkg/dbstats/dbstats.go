// Package dbstats records fetch job outcomes in PostgreSQL for later
// reporting. Each completed or failed fetch run becomes one row, which is
// enough to answer "which layers are slow" and "which endpoints keep
// failing" without a metrics backend.
package dbstats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS wfs_job_runs (
	run_id        UUID PRIMARY KEY,
	endpoint      TEXT NOT NULL,
	layer         TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL,
	pages_fetched INTEGER NOT NULL,
	features      INTEGER NOT NULL,
	outcome       TEXT NOT NULL,
	error_class   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS wfs_job_runs_layer_idx ON wfs_job_runs (layer, started_at);
`

// JobRun describes one fetch run. Outcome is "success", "partial" or
// "failed"; ErrorClass is empty on success.
type JobRun struct {
	RunID      uuid.UUID
	Endpoint   string
	Layer      string
	StartedAt  time.Time
	FinishedAt time.Time
	Pages      int
	Features   int
	Outcome    string
	ErrorClass string
}

// Recorder writes job runs to a PostgreSQL pool.
type Recorder struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Connect opens a pool from a DSN and ensures the schema exists.
func Connect(ctx context.Context, dsn string, logger zerolog.Logger) (*Recorder, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	r := &Recorder{
		pool:   pool,
		logger: logger.With().Str("component", "dbstats").Logger(),
	}
	if err := r.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// EnsureSchema creates the job run table if it does not exist.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Record inserts one job run row.
func (r *Recorder) Record(ctx context.Context, run JobRun) error {
	const q = `
		INSERT INTO wfs_job_runs
			(run_id, endpoint, layer, started_at, finished_at, pages_fetched, features, outcome, error_class)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, q,
		run.RunID, run.Endpoint, run.Layer,
		run.StartedAt, run.FinishedAt,
		run.Pages, run.Features,
		run.Outcome, run.ErrorClass,
	)
	if err != nil {
		return fmt.Errorf("record job run: %w", err)
	}

	r.logger.Debug().
		Str("layer", run.Layer).
		Str("outcome", run.Outcome).
		Int("features", run.Features).
		Msg("Recorded job run")
	return nil
}

// Close releases the underlying pool.
func (r *Recorder) Close() {
	r.pool.Close()
}
