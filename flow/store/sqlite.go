package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file SQLite Store.
//
// Designed for local persistence with zero setup: development, testing
// (":memory:"), and single-process deployments. WAL mode keeps readers from
// blocking on writers.
//
// Schema:
//   - workflows: named definition JSON
//   - runs: terminal run records
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (and auto-migrates) a SQLite-backed store.
//
// The path is the database file location; use ":memory:" for an in-memory
// database that disappears on Close.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// SQLite supports one writer at a time; keep a single pooled
	// connection so in-memory databases behave too.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			name TEXT NOT NULL PRIMARY KEY,
			definition TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT NOT NULL PRIMARY KEY,
			status TEXT NOT NULL,
			results TEXT,
			error TEXT,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveWorkflow(ctx context.Context, name string, definition []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (name, definition, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(name) DO UPDATE SET definition = excluded.definition, updated_at = CURRENT_TIMESTAMP`,
		name, string(definition))
	if err != nil {
		return fmt.Errorf("saving workflow %q: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) LoadWorkflow(ctx context.Context, name string) ([]byte, error) {
	var definition string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM workflows WHERE name = ?`, name).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading workflow %q: %w", name, err)
	}
	return []byte(definition), nil
}

func (s *SQLiteStore) ListWorkflows(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM workflows ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting workflow %q: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, record RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, status, results, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status, results = excluded.results,
			error = excluded.error, finished_at = excluded.finished_at`,
		record.RunID, record.Status, string(record.Results), record.Error,
		record.StartedAt, record.FinishedAt)
	if err != nil {
		return fmt.Errorf("saving run %q: %w", record.RunID, err)
	}
	return nil
}

func (s *SQLiteStore) LoadRun(ctx context.Context, runID string) (RunRecord, error) {
	var record RunRecord
	var results, errMsg sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, status, results, error, started_at, finished_at
		 FROM runs WHERE run_id = ?`, runID).
		Scan(&record.RunID, &record.Status, &results, &errMsg,
			&record.StartedAt, &record.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("loading run %q: %w", runID, err)
	}
	record.Results = []byte(results.String)
	record.Error = errMsg.String
	return record, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `SELECT run_id, status, results, error, started_at, finished_at
		 FROM runs ORDER BY finished_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var record RunRecord
		var results, errMsg sql.NullString
		if err := rows.Scan(&record.RunID, &record.Status, &results, &errMsg,
			&record.StartedAt, &record.FinishedAt); err != nil {
			return nil, err
		}
		record.Results = []byte(results.String)
		record.Error = errMsg.String
		records = append(records, record)
	}
	return records, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
