package flow

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of one run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
	RunCancelled RunStatus = "cancelled"
)

// NodeStatus is the per-node state within a run.
type NodeStatus string

const (
	NodePending NodeStatus = "pending"
	NodeRunning NodeStatus = "running"
	NodeDone    NodeStatus = "done"
	NodeFailed  NodeStatus = "failed"
	NodeSkipped NodeStatus = "skipped"
)

// RunContext carries the mutable state of a single run: its identity, status
// machine, result store, per-node statuses and cancellation signal.
//
// One Executor drives one RunContext; the result store is written once per
// node (single writer per key) and read by the scheduler after the writer is
// marked done. ForEach iterations run under child RunContexts whose
// cancellation is chained to the parent's.
type RunContext struct {
	mu         sync.RWMutex
	runID      string
	status     RunStatus
	results    map[string]map[string]any
	nodeStatus map[string]NodeStatus
	err        error
	errNodeID  string
	cancelled  bool // external Cancel, as opposed to failure-triggered

	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewRunContext creates a pending run chained to parent. An empty runID is
// replaced with a fresh UUID.
func NewRunContext(parent context.Context, runID string) *RunContext {
	if parent == nil {
		parent = context.Background()
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx, cancel := context.WithCancelCause(parent)
	return &RunContext{
		runID:      runID,
		status:     RunPending,
		results:    make(map[string]map[string]any),
		nodeStatus: make(map[string]NodeStatus),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Child creates a fresh RunContext whose cancellation chains to this run's.
// Cancelling the parent cancels every child; a child's failure never cancels
// the parent.
func (rc *RunContext) Child(runID string) *RunContext {
	return NewRunContext(rc.ctx, runID)
}

// RunID returns the run's opaque identifier.
func (rc *RunContext) RunID() string { return rc.runID }

// Context returns the run's cancellation context. Node Process
// implementations receive it and are expected to observe it at I/O
// boundaries.
func (rc *RunContext) Context() context.Context { return rc.ctx }

// Status returns the current run status.
func (rc *RunContext) Status() RunStatus {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.status
}

// begin transitions pending -> running, enforcing that one Executor drives
// one RunContext at most once.
func (rc *RunContext) begin() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.status != RunPending {
		return &EngineError{
			Message: "run context already started; one Executor drives one RunContext",
			Code:    CodeExecutorMisuse,
		}
	}
	rc.status = RunRunning
	return nil
}

func (rc *RunContext) setStatus(s RunStatus) {
	rc.mu.Lock()
	rc.status = s
	rc.mu.Unlock()
}

// Cancel trips the run's cancel signal. Idempotent; safe from any
// goroutine. Completed node outputs are not rolled back.
func (rc *RunContext) Cancel() {
	rc.mu.Lock()
	rc.cancelled = true
	rc.mu.Unlock()
	rc.cancel(ErrCancelled)
}

// Cancelled reports whether Cancel was called externally.
func (rc *RunContext) Cancelled() bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.cancelled
}

// Err returns the first surfaced failure, or nil.
func (rc *RunContext) Err() error {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.err
}

// FailedNodeID returns the node blamed for the first surfaced failure.
func (rc *RunContext) FailedNodeID() string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.errNodeID
}

// recordError stores the first failure and trips the cancel signal so
// in-flight nodes can stop. Later failures are dropped (first-wins).
func (rc *RunContext) recordError(nodeID string, err error) {
	rc.mu.Lock()
	first := rc.err == nil
	if first {
		rc.err = err
		rc.errNodeID = nodeID
	}
	rc.mu.Unlock()
	if first {
		rc.cancel(err)
	}
}

// storeResult writes a node's outputs. The write happens at most once per
// node per run; a second write is dropped, preserving the single-writer
// invariant.
func (rc *RunContext) storeResult(nodeID string, outputs map[string]any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, exists := rc.results[nodeID]; exists {
		return
	}
	rc.results[nodeID] = outputs
}

// Result returns one node's outputs and whether that node completed.
func (rc *RunContext) Result(nodeID string) (map[string]any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out, ok := rc.results[nodeID]
	return out, ok
}

// Results returns a shallow copy of the result store: node id to that
// node's output map. Nodes that never ran or failed are absent.
func (rc *RunContext) Results() map[string]map[string]any {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make(map[string]map[string]any, len(rc.results))
	for id, r := range rc.results {
		out[id] = r
	}
	return out
}

// NodeStatus returns a node's current status, defaulting to pending.
func (rc *RunContext) NodeStatus(nodeID string) NodeStatus {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if s, ok := rc.nodeStatus[nodeID]; ok {
		return s
	}
	return NodePending
}

// NodeStatuses returns a copy of all recorded node statuses.
func (rc *RunContext) NodeStatuses() map[string]NodeStatus {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make(map[string]NodeStatus, len(rc.nodeStatus))
	for id, s := range rc.nodeStatus {
		out[id] = s
	}
	return out
}

func (rc *RunContext) setNodeStatus(nodeID string, s NodeStatus) {
	rc.mu.Lock()
	rc.nodeStatus[nodeID] = s
	rc.mu.Unlock()
}
