package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

// DBTX is the query surface shared by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// DefaultListLimit bounds ListRuns when no limit is given.
const DefaultListLimit = 100

const createRunsTable = `
CREATE TABLE IF NOT EXISTS generation_runs (
    id            UUID PRIMARY KEY,
    source_name   TEXT NOT NULL DEFAULT '',
    template_name TEXT NOT NULL DEFAULT '',
    format        TEXT NOT NULL,
    status        TEXT NOT NULL,
    cancelled     BOOLEAN NOT NULL DEFAULT FALSE,
    total_records INTEGER NOT NULL DEFAULT 0,
    success_count INTEGER NOT NULL DEFAULT 0,
    error_count   INTEGER NOT NULL DEFAULT 0,
    warning_count INTEGER NOT NULL DEFAULT 0,
    location      TEXT NOT NULL DEFAULT '',
    last_error    TEXT NOT NULL DEFAULT '',
    started_at    TIMESTAMPTZ NOT NULL,
    finished_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS generation_runs_started_at_idx ON generation_runs (started_at DESC);
`

// PostgresRunStore persists run history in PostgreSQL.
type PostgresRunStore struct {
	db DBTX
}

// NewPostgresRunStore returns a store on db, normally a *pgxpool.Pool.
func NewPostgresRunStore(db DBTX) *PostgresRunStore {
	return &PostgresRunStore{db: db}
}

// Migrate creates the history table if it does not exist.
func (s *PostgresRunStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createRunsTable); err != nil {
		return fmt.Errorf("migrate generation_runs: %w", err)
	}
	return nil
}

// SaveRun inserts or replaces a run.
func (s *PostgresRunStore) SaveRun(ctx context.Context, run core.RunSummary) error {
	query := `
		INSERT INTO generation_runs (
			id, source_name, template_name, format, status, cancelled,
			total_records, success_count, error_count, warning_count,
			location, last_error, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status        = EXCLUDED.status,
			cancelled     = EXCLUDED.cancelled,
			success_count = EXCLUDED.success_count,
			error_count   = EXCLUDED.error_count,
			warning_count = EXCLUDED.warning_count,
			location      = EXCLUDED.location,
			last_error    = EXCLUDED.last_error,
			finished_at   = EXCLUDED.finished_at`

	_, err := s.db.Exec(ctx, query,
		run.ID, run.SourceName, run.TemplateName, string(run.Format), string(run.Status), run.Cancelled,
		run.TotalRecords, run.SuccessCount, run.ErrorCount, run.WarningCount,
		run.Location, run.LastError, run.StartedAt, timestamptz(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *PostgresRunStore) ListRuns(ctx context.Context, limit int) ([]core.RunSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id::text, source_name, template_name, format, status, cancelled,
		       total_records, success_count, error_count, warning_count,
		       location, last_error, started_at, finished_at
		FROM generation_runs
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []core.RunSummary
	for rows.Next() {
		var (
			r        core.RunSummary
			format   string
			status   string
			finished pgtype.Timestamptz
		)
		if err := rows.Scan(
			&r.ID, &r.SourceName, &r.TemplateName, &format, &status, &r.Cancelled,
			&r.TotalRecords, &r.SuccessCount, &r.ErrorCount, &r.WarningCount,
			&r.Location, &r.LastError, &r.StartedAt, &finished,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Format = core.OutputFormat(format)
		r.Status = core.RunStatus(status)
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// PurgeBefore deletes runs that finished before cutoff.
func (s *PostgresRunStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM generation_runs WHERE finished_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}
