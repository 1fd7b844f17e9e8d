// Package sqlite records pipeline attempts in an embedded sqlite ledger.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/DigitalGeographyLab/hope-graph-updater/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	pipeline      TEXT NOT NULL,
	hour_key      TEXT NOT NULL,
	started_at    DATETIME NOT NULL,
	finished_at   DATETIME,
	success       BOOLEAN NOT NULL DEFAULT FALSE,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started ON pipeline_runs(pipeline, started_at);
`

// Run is one fetch or update attempt.
type Run struct {
	ID           int64
	Pipeline     string // "fetch", "update"
	HourKey      string
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	Success      bool
	ErrorMessage sql.NullString
}

// RunStore is the pipeline_runs ledger.
type RunStore struct {
	db    *sql.DB
	clock domain.Clock
}

// Open opens (creating if needed) the ledger at path and migrates it.
func Open(path string, clock domain.Clock) (*RunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := New(db, clock)
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database.
func New(db *sql.DB, clock domain.Clock) *RunStore {
	return &RunStore{db: db, clock: domain.OrRealClock(clock)}
}

// Migrate creates the ledger table.
func (s *RunStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate run ledger: %w", err)
	}
	return nil
}

// StartRun inserts an unfinished run and returns its id.
func (s *RunStore) StartRun(ctx context.Context, pipeline, hourKey string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (pipeline, hour_key, started_at, success)
		VALUES (?, ?, ?, FALSE)
	`, pipeline, hourKey, s.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("start run: %w", err)
	}
	return result.LastInsertId()
}

// CompleteRun marks a run finished; a nil runErr means success.
func (s *RunStore) CompleteRun(ctx context.Context, id int64, runErr error) error {
	var msg sql.NullString
	if runErr != nil {
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs SET
			finished_at = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, s.clock.Now().UTC(), runErr == nil, msg, id)
	if err != nil {
		return fmt.Errorf("complete run %d: %w", id, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *RunStore) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pipeline, hour_key, started_at, finished_at, success, error_message
		FROM pipeline_runs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Pipeline, &r.HourKey, &r.StartedAt, &r.FinishedAt, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (s *RunStore) Close() error {
	return s.db.Close()
}
