package flow

import (
	"context"
	"time"

	"github.com/nodeflow/nodeflow-go/flow/emit"
)

// Executor drives validated graphs to completion with level-parallel
// dispatch: a node runs the moment every one of its predecessors has
// completed and written its outputs. One Executor may drive many runs
// concurrently; each run has its own RunContext.
//
// Failure policy: the first node failure trips the run's cancel signal, no
// further nodes are launched, in-flight nodes are waited out and their late
// outputs discarded, and the run ends with status error carrying the first
// failure. External cancellation behaves the same way but ends the run with
// status cancelled, preserving the partial result store.
type Executor struct {
	cfg executorConfig
}

// NewExecutor builds an Executor from functional options.
func NewExecutor(opts ...Option) (*Executor, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	return &Executor{cfg: cfg}, nil
}

// completion is what a dispatched node reports back to the scheduling loop.
type completion struct {
	nodeID  string
	step    int // the node's own dispatch step, not the scheduler's counter
	outputs map[string]any
	err     error
	started time.Time
	skipped bool // semaphore slot freed after cancellation; node never ran
}

// Run executes the graph under the given RunContext.
//
// The context parameter covers the caller's own deadline or cancellation;
// when it fires, the run is cancelled exactly as if RunContext.Cancel had
// been called. Run returns nil when the run completes, the first surfaced
// failure when it errors, and the cancellation cause when it is cancelled.
//
// Run must be called at most once per RunContext.
func (e *Executor) Run(ctx context.Context, g *Graph, rc *RunContext) error {
	if !g.validated {
		if err := g.Validate(); err != nil {
			rc.recordError("", err)
			rc.setStatus(RunError)
			return err
		}
	}
	if err := rc.begin(); err != nil {
		return err
	}

	// Chain the caller's context into the run's cancel signal.
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			rc.Cancel()
		case <-stop:
		}
	}()
	defer close(stop)

	e.cfg.metrics.RunStarted()
	defer e.cfg.metrics.RunFinished()
	e.emit(rc, 0, "", emit.MsgRunStart, map[string]any{"nodes": len(g.nodes)})

	var sem chan struct{}
	if e.cfg.maxConcurrent > 0 {
		sem = make(chan struct{}, e.cfg.maxConcurrent)
	}

	inDegree := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		inDegree[id] = d
	}

	completions := make(chan completion)
	inFlight := 0
	step := 0
	halted := false

	launch := func(nodeID string) {
		if halted || rc.ctxDone() {
			return
		}
		step++
		inFlight++
		rc.setNodeStatus(nodeID, NodeRunning)
		go e.runNode(g, rc, nodeID, step, sem, completions)
	}

	for _, id := range g.NodeIDs() {
		if inDegree[id] == 0 {
			launch(id)
		}
	}

	for inFlight > 0 {
		c := <-completions
		inFlight--

		if c.skipped {
			rc.setNodeStatus(c.nodeID, NodeSkipped)
			continue
		}

		node := g.Node(c.nodeID)
		latency := time.Since(c.started)

		if c.err != nil {
			if halted || rc.Cancelled() {
				// The node unwound because the run was cancelled under it,
				// either externally or by an earlier failure; that is not a
				// node failure of its own.
				rc.setNodeStatus(c.nodeID, NodeSkipped)
				continue
			}
			rc.setNodeStatus(c.nodeID, NodeFailed)
			failure := newProcessError(c.nodeID, c.err)
			rc.recordError(c.nodeID, failure)
			halted = true
			e.cfg.metrics.RecordNodeLatency(node.Type(), latency, "error")
			e.cfg.metrics.RecordNodeFailure(node.Type(), failure.Code)
			e.emit(rc, c.step, c.nodeID, emit.MsgNodeError, map[string]any{
				"error": failure.Error(),
				"code":  failure.Code,
			})
			continue
		}

		if halted || rc.ctxDone() {
			// Late success after a failure or cancel: discard outputs.
			rc.setNodeStatus(c.nodeID, NodeSkipped)
			continue
		}

		rc.storeResult(c.nodeID, c.outputs)
		rc.setNodeStatus(c.nodeID, NodeDone)
		e.cfg.metrics.RecordNodeLatency(node.Type(), latency, "success")
		e.emit(rc, c.step, c.nodeID, emit.MsgNodeEnd, map[string]any{
			"latency_ms": latency.Milliseconds(),
		})

		for _, succ := range g.successors[c.nodeID] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				launch(succ)
			}
		}
	}

	// Nodes never dispatched (downstream of a failure, or stranded by
	// cancellation) are skipped, not failed.
	for _, id := range g.NodeIDs() {
		if rc.NodeStatus(id) == NodePending {
			rc.setNodeStatus(id, NodeSkipped)
		}
	}

	return e.finish(rc, step)
}

// runNode executes one node in its own goroutine: acquire a concurrency
// slot, resolve effective inputs, invoke Process, report the completion.
func (e *Executor) runNode(g *Graph, rc *RunContext, nodeID string, step int, sem chan struct{}, completions chan<- completion) {
	if sem != nil {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-rc.Context().Done():
			completions <- completion{nodeID: nodeID, step: step, skipped: true}
			return
		}
	}
	if rc.ctxDone() {
		completions <- completion{nodeID: nodeID, step: step, skipped: true}
		return
	}

	started := time.Now()
	node := g.Node(nodeID)

	inputs, err := resolveInputs(g, rc, nodeID)
	if err != nil {
		completions <- completion{nodeID: nodeID, step: step, err: err, started: started}
		return
	}

	pctx := withRunID(withExecutor(rc.Context(), e), rc.RunID())
	if e.cfg.defaultNodeTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(pctx, e.cfg.defaultNodeTimeout)
		defer cancel()
	}

	e.cfg.metrics.NodeStarted()
	e.emit(rc, step, nodeID, emit.MsgNodeStart, map[string]any{"type": node.Type()})

	outputs, err := node.Process(pctx, inputs)
	e.cfg.metrics.NodeFinished()

	if err != nil {
		completions <- completion{nodeID: nodeID, step: step, err: err, started: started}
		return
	}
	if outputs == nil {
		outputs = map[string]any{}
	}
	completions <- completion{nodeID: nodeID, step: step, outputs: outputs, started: started}
}

// finish decides the terminal status: a recorded failure wins over
// cancellation, cancellation wins over completion.
func (e *Executor) finish(rc *RunContext, step int) error {
	switch {
	case rc.Err() != nil:
		rc.setStatus(RunError)
		e.cfg.metrics.RecordRunOutcome(RunError)
		e.emit(rc, step, rc.FailedNodeID(), emit.MsgRunEnd, map[string]any{
			"status": string(RunError),
			"error":  rc.Err().Error(),
		})
		return rc.Err()
	case rc.Cancelled() || rc.ctxDone():
		rc.setStatus(RunCancelled)
		e.cfg.metrics.RecordRunOutcome(RunCancelled)
		e.emit(rc, step, "", emit.MsgRunCancelled, nil)
		return context.Cause(rc.Context())
	default:
		rc.setStatus(RunCompleted)
		e.cfg.metrics.RecordRunOutcome(RunCompleted)
		e.emit(rc, step, "", emit.MsgRunEnd, map[string]any{
			"status": string(RunCompleted),
		})
		return nil
	}
}

func (e *Executor) emit(rc *RunContext, step int, nodeID, msg string, meta map[string]any) {
	e.cfg.emitter.Emit(emit.Event{
		RunID:  rc.RunID(),
		Step:   step,
		NodeID: nodeID,
		Msg:    msg,
		Meta:   meta,
	})
}

// ctxDone reports whether the run's cancel signal has tripped.
func (rc *RunContext) ctxDone() bool {
	select {
	case <-rc.ctx.Done():
		return true
	default:
		return false
	}
}

// context plumbing so a ForEach node can recursively invoke the executor
// that dispatched it (same scheduler, new child RunContext).

type ctxKey int

const (
	executorKey ctxKey = iota
	runIDKey
)

func withExecutor(ctx context.Context, e *Executor) context.Context {
	return context.WithValue(ctx, executorKey, e)
}

// withRunID carries the dispatching run's id into Process, so nested
// control nodes can tag their events with the run that owns them.
func withRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

func runIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// executorFrom retrieves the dispatching executor, falling back to a default
// one so control nodes keep working when Process is invoked directly.
func executorFrom(ctx context.Context) *Executor {
	if e, ok := ctx.Value(executorKey).(*Executor); ok {
		return e
	}
	e, _ := NewExecutor()
	return e
}
