// Package service exposes the engine as a library surface for an owning
// HTTP layer: asynchronous execution with task ids, status polling,
// cancellation, sub-workflow validation, and node type listing.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nodeflow/nodeflow-go/flow"
	"github.com/nodeflow/nodeflow-go/flow/store"
)

// ErrTaskNotFound is returned by Cancel for unknown task ids. Status
// reports unknown tasks through StatusNotFound instead of an error, so
// pollers of expired tasks get a well-formed response.
var ErrTaskNotFound = errors.New("task not found")

// StatusNotFound is the status string for unknown task ids.
const StatusNotFound = "not_found"

// StatusResponse is the poll result for one task.
type StatusResponse struct {
	TaskID string                    `json:"task_id"`
	Status string                    `json:"status"`
	Result map[string]map[string]any `json:"result,omitempty"`
	Error  string                    `json:"error,omitempty"`
}

// Manager owns the run registry: it accepts workflow definitions, executes
// them asynchronously, and serves status and cancellation by task id. It
// optionally records terminal run states to a RunStore and persists named
// workflows through a WorkflowStore.
//
// The Manager is the process-wide handle the owning service layer keeps;
// the engine itself never reaches for globals.
type Manager struct {
	reg  *flow.Registry
	exec *flow.Executor

	mu   sync.RWMutex
	runs map[string]*runEntry

	runStore  store.RunStore
	workflows store.WorkflowStore
	files     FileManager
}

type runEntry struct {
	rc        *flow.RunContext
	done      chan struct{}
	startedAt time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRunStore records every terminal run state to the given store.
func WithRunStore(s store.RunStore) ManagerOption {
	return func(m *Manager) { m.runStore = s }
}

// WithWorkflowStore enables the named-workflow persistence surface.
func WithWorkflowStore(s store.WorkflowStore) ManagerOption {
	return func(m *Manager) { m.workflows = s }
}

// WithFileManager wires the file handling collaborator nodes may use.
func WithFileManager(fm FileManager) ManagerOption {
	return func(m *Manager) { m.files = fm }
}

// NewManager builds a Manager over a populated registry and an executor.
func NewManager(reg *flow.Registry, exec *flow.Executor, opts ...ManagerOption) *Manager {
	m := &Manager{
		reg:  reg,
		exec: exec,
		runs: make(map[string]*runEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Execute validates the definition, assigns a task id, and starts the run
// asynchronously. Validation failures (unknown types, cycles, dangling
// connections) surface synchronously; everything after acceptance is
// reported through Status.
func (m *Manager) Execute(_ context.Context, def flow.Definition) (string, error) {
	g, err := flow.BuildGraph(m.reg, def)
	if err != nil {
		return "", err
	}

	taskID := uuid.NewString()
	// The run deliberately outlives the accepting request.
	rc := flow.NewRunContext(context.Background(), taskID)
	entry := &runEntry{rc: rc, done: make(chan struct{}), startedAt: time.Now()}

	m.mu.Lock()
	m.runs[taskID] = entry
	m.mu.Unlock()

	go func() {
		_ = m.exec.Run(context.Background(), g, rc)
		// Record before signalling done so Wait implies the record landed.
		m.recordRun(entry)
		close(entry.done)
	}()

	return taskID, nil
}

// ExecuteJSON parses raw workflow JSON and executes it.
func (m *Manager) ExecuteJSON(ctx context.Context, raw []byte) (string, error) {
	def, err := flow.ParseDefinition(raw)
	if err != nil {
		return "", err
	}
	return m.Execute(ctx, def)
}

// Status reports a task's current state. The result store is included on
// completed runs and on errored runs, so callers can inspect what finished
// before the failure.
func (m *Manager) Status(taskID string) StatusResponse {
	m.mu.RLock()
	entry, ok := m.runs[taskID]
	m.mu.RUnlock()

	if !ok {
		return StatusResponse{TaskID: taskID, Status: StatusNotFound}
	}

	resp := StatusResponse{TaskID: taskID}
	status := entry.rc.Status()
	switch status {
	case flow.RunPending, flow.RunRunning:
		resp.Status = string(flow.RunRunning)
	default:
		resp.Status = string(status)
	}
	if status == flow.RunCompleted || status == flow.RunError || status == flow.RunCancelled {
		resp.Result = entry.rc.Results()
	}
	if err := entry.rc.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// Wait blocks until the task reaches a terminal state or ctx fires.
// Primarily for tests and embedding callers that want synchronous runs.
func (m *Manager) Wait(ctx context.Context, taskID string) error {
	m.mu.RLock()
	entry, ok := m.runs[taskID]
	m.mu.RUnlock()
	if !ok {
		return ErrTaskNotFound
	}
	select {
	case <-entry.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel trips the task's cancel signal. Idempotent: cancelling a finished
// or already-cancelled task is a no-op.
func (m *Manager) Cancel(taskID string) error {
	m.mu.RLock()
	entry, ok := m.runs[taskID]
	m.mu.RUnlock()
	if !ok {
		return ErrTaskNotFound
	}
	entry.rc.Cancel()
	return nil
}

// Nodes lists the registered node types with their port descriptors, for
// workflow editors.
func (m *Manager) Nodes() []flow.NodeInfo {
	return m.reg.List()
}

// SaveWorkflow persists a named workflow definition. Requires a
// WorkflowStore.
func (m *Manager) SaveWorkflow(ctx context.Context, name string, def flow.Definition) error {
	if m.workflows == nil {
		return errors.New("no workflow store configured")
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encoding workflow %q: %w", name, err)
	}
	return m.workflows.SaveWorkflow(ctx, name, raw)
}

// LoadWorkflow retrieves a named workflow definition.
func (m *Manager) LoadWorkflow(ctx context.Context, name string) (flow.Definition, error) {
	if m.workflows == nil {
		return flow.Definition{}, errors.New("no workflow store configured")
	}
	raw, err := m.workflows.LoadWorkflow(ctx, name)
	if err != nil {
		return flow.Definition{}, err
	}
	return flow.ParseDefinition(raw)
}

// ListWorkflows returns the stored workflow names.
func (m *Manager) ListWorkflows(ctx context.Context) ([]string, error) {
	if m.workflows == nil {
		return nil, errors.New("no workflow store configured")
	}
	return m.workflows.ListWorkflows(ctx)
}

// DeleteWorkflow removes a stored workflow.
func (m *Manager) DeleteWorkflow(ctx context.Context, name string) error {
	if m.workflows == nil {
		return errors.New("no workflow store configured")
	}
	return m.workflows.DeleteWorkflow(ctx, name)
}

// recordRun writes the terminal snapshot to the run store, when configured.
func (m *Manager) recordRun(entry *runEntry) {
	if m.runStore == nil {
		return
	}
	record := store.RunRecord{
		RunID:      entry.rc.RunID(),
		Status:     string(entry.rc.Status()),
		StartedAt:  entry.startedAt,
		FinishedAt: time.Now(),
	}
	if results, err := json.Marshal(entry.rc.Results()); err == nil {
		record.Results = results
	}
	if err := entry.rc.Err(); err != nil {
		record.Error = err.Error()
	}
	// Recording is best-effort; a store outage must not fail the run.
	_ = m.runStore.SaveRun(context.Background(), record)
}
