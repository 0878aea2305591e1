// Package postgres keeps the registry of analysis runs in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// RunStatus is the lifecycle state of a registered run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// maxErrorLen bounds the stored failure message.
const maxErrorLen = 2000

// RunEntry is one registry row.
type RunEntry struct {
	ID         uuid.UUID
	Name       string
	Status     RunStatus
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// RunRegistry records when runs start and how they end.
type RunRegistry struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string, logger zerolog.Logger) (*RunRegistry, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewRunRegistry(db, logger), nil
}

// NewRunRegistry creates a registry over an open database handle.
func NewRunRegistry(db *sql.DB, logger zerolog.Logger) *RunRegistry {
	return &RunRegistry{db: db, logger: logger}
}

// Close closes the database handle.
func (r *RunRegistry) Close() error {
	return r.db.Close()
}

const createRuns = `
CREATE TABLE IF NOT EXISTS bca_runs (
	id          UUID PRIMARY KEY,
	name        TEXT NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
)`

// EnsureSchema creates the registry table if it does not exist.
func (r *RunRegistry) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createRuns); err != nil {
		return fmt.Errorf("failed to create run registry: %w", err)
	}
	return nil
}

// Start registers a run as running.
func (r *RunRegistry) Start(ctx context.Context, id uuid.UUID, name string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bca_runs (id, name, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, name, string(StatusRunning), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to register run %s: %w", id, err)
	}
	r.logger.Debug().Str("run_id", id.String()).Msg("registered run")
	return nil
}

// Finish records the outcome of a run. A nil runErr marks it succeeded.
func (r *RunRegistry) Finish(ctx context.Context, id uuid.UUID, runErr error) error {
	status, msg := Outcome(runErr)
	res, err := r.db.ExecContext(ctx,
		`UPDATE bca_runs SET status = $2, error = $3, finished_at = $4 WHERE id = $1`,
		id, string(status), msg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s is not registered", id)
	}
	return nil
}

// Get returns one registry row, or nil if the run is unknown.
func (r *RunRegistry) Get(ctx context.Context, id uuid.UUID) (*RunEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, status, error, started_at, finished_at FROM bca_runs WHERE id = $1`, id)

	var (
		e        RunEntry
		status   string
		finished sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.Name, &status, &e.Error, &e.StartedAt, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	e.Status = RunStatus(status)
	if finished.Valid {
		e.FinishedAt = &finished.Time
	}
	return &e, nil
}

// Outcome maps a run error to its registry status and stored message.
func Outcome(runErr error) (RunStatus, string) {
	switch {
	case runErr == nil:
		return StatusSucceeded, ""
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		return StatusCancelled, truncate(runErr.Error())
	default:
		return StatusFailed, truncate(runErr.Error())
	}
}

// truncate cuts s to at most maxErrorLen bytes without splitting a character.
func truncate(s string) string {
	if len(s) <= maxErrorLen {
		return s
	}
	cut := maxErrorLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
