package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL-backed Store for multi-process deployments where
// several service instances share one workflow catalogue and run history.
//
// Same schema as SQLiteStore, in MySQL dialect; auto-migrated on first use.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a MySQL-backed store.
//
// The DSN follows go-sql-driver conventions, for example:
//
//	user:pass@tcp(localhost:3306)/nodeflow?parseTime=true
//
// parseTime=true is required so timestamps scan into time.Time.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mysql connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			name VARCHAR(255) NOT NULL PRIMARY KEY,
			definition LONGTEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id VARCHAR(64) NOT NULL PRIMARY KEY,
			status VARCHAR(16) NOT NULL,
			results LONGTEXT,
			error TEXT,
			started_at TIMESTAMP(6) NOT NULL,
			finished_at TIMESTAMP(6) NOT NULL,
			INDEX idx_runs_finished (finished_at)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

func (s *MySQLStore) SaveWorkflow(ctx context.Context, name string, definition []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (name, definition) VALUES (?, ?)
		 ON DUPLICATE KEY UPDATE definition = VALUES(definition)`,
		name, string(definition))
	if err != nil {
		return fmt.Errorf("saving workflow %q: %w", name, err)
	}
	return nil
}

func (s *MySQLStore) LoadWorkflow(ctx context.Context, name string) ([]byte, error) {
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

func (s *MySQLStore) ListWorkflows(ctx context.Context) ([]string, error) {
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

func (s *MySQLStore) DeleteWorkflow(ctx context.Context, name string) error {
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

func (s *MySQLStore) SaveRun(ctx context.Context, record RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, status, results, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
			status = VALUES(status), results = VALUES(results),
			error = VALUES(error), finished_at = VALUES(finished_at)`,
		record.RunID, record.Status, string(record.Results), record.Error,
		record.StartedAt, record.FinishedAt)
	if err != nil {
		return fmt.Errorf("saving run %q: %w", record.RunID, err)
	}
	return nil
}

func (s *MySQLStore) LoadRun(ctx context.Context, runID string) (RunRecord, error) {
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

func (s *MySQLStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
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

// Close releases the connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
