// Package storage provides the SQLite run log.
//
// Information Hiding:
// - SQLite connection management hidden behind interface
// - Schema and migration details encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/richinex/devstudio/model"
)

// DatabaseFile is the run log's file name inside the workspace metadata directory.
const DatabaseFile = "devstudio.db"

// SqliteStorage implements RunStore using SQLite.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type SqliteStorage struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStorage, error) {
	// Create parent directory if needed
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStorage, error) {
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	// Every new connection would get its own empty database.
	db.SetMaxOpenConns(1)

	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// Close closes the database connection.
func (s *SqliteStorage) Close() error {
	return s.db.Close()
}

func (s *SqliteStorage) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			root TEXT NOT NULL,
			description TEXT NOT NULL,
			target TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			target_loc INTEGER NOT NULL,
			max_iterations INTEGER NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			final_loc INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER NOT NULL,
			finished_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_runs_started
		ON runs(started_at DESC);

		CREATE TABLE IF NOT EXISTS iterations (
			run_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			kind TEXT NOT NULL,
			subject TEXT NOT NULL,
			thought TEXT NOT NULL,
			success INTEGER NOT NULL,
			exit_code INTEGER NOT NULL,
			output TEXT NOT NULL,
			truncated INTEGER NOT NULL,
			timed_out INTEGER NOT NULL,
			error_kind TEXT NOT NULL,
			error TEXT NOT NULL,
			loc INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			PRIMARY KEY (run_id, idx),
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CreateRun inserts a new run.
func (s *SqliteStorage) CreateRun(ctx context.Context, run RunRecord) (RunRecord, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, root, description, target, provider, model, target_loc, max_iterations, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Root, run.Description, run.Target, run.Provider, run.Model,
		run.TargetLOC, run.MaxIterations, run.Status, run.StartedAt.UnixMilli(),
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

// AppendIteration adds one record to a run's history.
func (s *SqliteStorage) AppendIteration(ctx context.Context, runID string, rec model.IterationRecord) error {
	o := rec.Outcome
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO iterations (run_id, idx, kind, subject, thought, success, exit_code, output,
			truncated, timed_out, error_kind, error, loc, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.Index, string(rec.Kind), rec.Subject, rec.Thought,
		o.Success, o.ExitCode, o.Output, o.Truncated, o.TimedOut,
		string(o.ErrorKind), o.Error, rec.LOC, rec.StartedAt.UnixMilli(), rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert iteration %d: %w", rec.Index, err)
	}
	return nil
}

// FinishRun stores the terminal outcome of a run.
func (s *SqliteStorage) FinishRun(ctx context.Context, runID string, outcome model.RunOutcome, reason string, loc int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, reason = ?, final_loc = ?, finished_at = ? WHERE id = ?",
		outcome.String(), reason, loc, time.Now().UTC().UnixMilli(), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	return nil
}

const runColumns = `r.id, r.root, r.description, r.target, r.provider, r.model, r.target_loc,
	r.max_iterations, r.status, r.reason, r.final_loc, r.started_at, r.finished_at,
	(SELECT COUNT(*) FROM iterations i WHERE i.run_id = r.id)`

// GetRun returns one run by ID or unique ID prefix.
// The prefix is compared literally, so % and _ match only themselves.
func (s *SqliteStorage) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	if runID == "" {
		return RunRecord{}, fmt.Errorf("empty run id: %w", ErrRunNotFound)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs r WHERE substr(r.id, 1, length(?1)) = ?1 ORDER BY r.id = ?1 DESC LIMIT 2",
		runID,
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	var found []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return RunRecord{}, err
		}
		found = append(found, run)
	}
	if err := rows.Err(); err != nil {
		return RunRecord{}, fmt.Errorf("failed to read runs: %w", err)
	}

	switch {
	case len(found) == 0:
		return RunRecord{}, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	case found[0].ID == runID || len(found) == 1:
		return found[0], nil
	default:
		return RunRecord{}, fmt.Errorf("run id prefix %q is ambiguous", runID)
	}
}

// ListRuns returns the most recent runs first.
func (s *SqliteStorage) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := "SELECT " + runColumns + " FROM runs r ORDER BY r.started_at DESC, r.rowid DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

// Iterations returns a run's history in index order.
func (s *SqliteStorage) Iterations(ctx context.Context, runID string) ([]model.IterationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, kind, subject, thought, success, exit_code, output, truncated, timed_out,
			error_kind, error, loc, started_at, duration_ms
		FROM iterations WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer rows.Close()

	records := []model.IterationRecord{}
	for rows.Next() {
		var (
			rec        model.IterationRecord
			kind       string
			errorKind  string
			startedAt  int64
			durationMs int64
		)
		err := rows.Scan(&rec.Index, &kind, &rec.Subject, &rec.Thought,
			&rec.Outcome.Success, &rec.Outcome.ExitCode, &rec.Outcome.Output,
			&rec.Outcome.Truncated, &rec.Outcome.TimedOut, &errorKind, &rec.Outcome.Error,
			&rec.LOC, &startedAt, &durationMs)
		if err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		rec.Kind = model.ActionKind(kind)
		rec.Outcome.ErrorKind = model.ErrorKind(errorKind)
		rec.StartedAt = time.UnixMilli(startedAt).UTC()
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read iterations: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		run        RunRecord
		startedAt  int64
		finishedAt sql.NullInt64
	)
	err := row.Scan(&run.ID, &run.Root, &run.Description, &run.Target, &run.Provider, &run.Model,
		&run.TargetLOC, &run.MaxIterations, &run.Status, &run.Reason, &run.FinalLOC,
		&startedAt, &finishedAt, &run.Iterations)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrRunNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to scan run: %w", err)
	}
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	if finishedAt.Valid {
		run.FinishedAt = time.UnixMilli(finishedAt.Int64).UTC()
	}
	return run, nil
}

// Verify SqliteStorage implements RunStore
var _ RunStore = (*SqliteStorage)(nil)
