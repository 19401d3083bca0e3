// Package emit provides execution event emission for workflow runs.
package emit

// Event messages emitted by the executor and the ForEach engine. Emitters
// and tests match on these instead of free-form strings.
const (
	MsgRunStart         = "run_start"
	MsgRunEnd           = "run_end"
	MsgRunCancelled     = "run_cancelled"
	MsgNodeStart        = "node_start"
	MsgNodeEnd          = "node_end"
	MsgNodeError        = "node_error"
	MsgForEachIterStart = "foreach_iteration_start"
	MsgForEachIterEnd   = "foreach_iteration_end"
	MsgForEachIterError = "foreach_iteration_error"
	MsgForEachAborted   = "foreach_aborted"
)

// Event is one observability record from a workflow run.
//
// Events cover node dispatch and completion, node failures, run lifecycle
// transitions, and ForEach iteration boundaries. They are fire-and-forget:
// the executor never blocks on an emitter and ignores emitter behavior.
type Event struct {
	// RunID identifies the run (top-level or ForEach sub-run) that emitted
	// this event.
	RunID string

	// Step is the dispatch sequence number within the run (1-indexed).
	// Zero for run-level events.
	Step int

	// NodeID identifies the node concerned, empty for run-level events.
	NodeID string

	// Msg is one of the Msg* constants.
	Msg string

	// Meta carries event-specific structured data. Common keys:
	//   - "latency_ms": node execution duration
	//   - "error", "code": failure details
	//   - "type": node type name on node_start
	//   - "index", "item": ForEach iteration identity
	Meta map[string]interface{}
}
