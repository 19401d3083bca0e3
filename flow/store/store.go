// Package store provides persistence for workflow definitions and run
// records, with in-memory, SQLite and MySQL implementations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a workflow name or run id does not exist in
// the store. Use errors.Is to detect it.
var ErrNotFound = errors.New("store: not found")

// WorkflowStore persists named workflow definitions as opaque JSON matching
// the graph schema. The engine never interprets stored bytes; parsing
// happens through flow.ParseWorkflow at execution time.
type WorkflowStore interface {
	// SaveWorkflow stores or overwrites the definition under name.
	SaveWorkflow(ctx context.Context, name string, definition []byte) error

	// LoadWorkflow returns the stored definition, or ErrNotFound.
	LoadWorkflow(ctx context.Context, name string) ([]byte, error)

	// ListWorkflows returns all stored names in lexical order.
	ListWorkflows(ctx context.Context) ([]string, error)

	// DeleteWorkflow removes a definition. Deleting an absent name returns
	// ErrNotFound.
	DeleteWorkflow(ctx context.Context, name string) error
}

// RunRecord is the terminal snapshot of one run: its status, the result
// store serialized to JSON, and the first surfaced error if any.
type RunRecord struct {
	RunID      string          `json:"run_id"`
	Status     string          `json:"status"`
	Results    json.RawMessage `json:"results,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// RunStore records terminal run states for later inspection. Saving the
// same run id twice overwrites; a run reaches exactly one terminal state.
type RunStore interface {
	SaveRun(ctx context.Context, record RunRecord) error

	// LoadRun returns the record for a run id, or ErrNotFound.
	LoadRun(ctx context.Context, runID string) (RunRecord, error)

	// ListRuns returns the most recent records, newest first, up to limit
	// (0 means no limit).
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// Store combines both persistence concerns; the SQL-backed implementations
// satisfy it with a single database handle.
type Store interface {
	WorkflowStore
	RunStore
}
