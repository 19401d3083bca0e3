// Package flow provides a typed, port-based workflow graph execution runtime.
package flow

import (
	"errors"
	"fmt"
)

// Error codes used by EngineError and NodeError. Codes are stable strings so
// callers can switch on them without depending on error message text.
const (
	CodeGraphValidation   = "GRAPH_VALIDATION"
	CodeCyclicGraph       = "CYCLIC_GRAPH"
	CodeUnknownNodeType   = "UNKNOWN_NODE_TYPE"
	CodeMissingInput      = "MISSING_REQUIRED_INPUT"
	CodeTypeMismatch      = "TYPE_MISMATCH"
	CodeTypeCoercion      = "TYPE_COERCION"
	CodeNodeProcess       = "NODE_PROCESS"
	CodeInvalidItems      = "INVALID_FOREACH_ITEMS"
	CodeInvalidSubGraph   = "INVALID_SUB_WORKFLOW"
	CodeIteration         = "ITERATION_ERROR"
	CodeCancelled         = "CANCELLED"
	CodeInvalidOption     = "INVALID_OPTION"
	CodeDuplicateNode     = "DUPLICATE_NODE"
	CodeExecutorMisuse    = "EXECUTOR_MISUSE"
	CodeInvalidPortOption = "INVALID_PORT_OPTION"
)

// ErrCancelled is the cause recorded when a run is cancelled externally.
// Use errors.Is to detect it on node or run errors.
var ErrCancelled = errors.New("run cancelled")

// EngineError represents a failure in the engine itself: graph validation,
// configuration, registry lookups. It carries a stable Code for programmatic
// handling.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error [%s]: %s", e.Code, e.Message)
}

// NodeError represents a failure attributed to a single node: a missing
// required input, a type mismatch during port resolution, or an error
// returned by the node's Process.
//
// NodeError wraps the original cause, so errors.Is/errors.As see through it.
type NodeError struct {
	Message string
	Code    string
	NodeID  string
	Cause   error
}

func (e *NodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("node %s [%s]: %s: %v", e.NodeID, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("node %s [%s]: %s", e.NodeID, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As chains.
func (e *NodeError) Unwrap() error {
	return e.Cause
}

// newMissingInputError reports a required input port that no connection,
// constant, or default could satisfy.
func newMissingInputError(nodeID, port string) *NodeError {
	return &NodeError{
		Message: fmt.Sprintf("required input port %q has no connection, constant, or default", port),
		Code:    CodeMissingInput,
		NodeID:  nodeID,
	}
}

func newTypeMismatchError(nodeID, port string, want PortType, got any) *NodeError {
	return &NodeError{
		Message: fmt.Sprintf("input port %q expects %s, got %T", port, want, got),
		Code:    CodeTypeMismatch,
		NodeID:  nodeID,
	}
}

func newCoercionError(nodeID, port string, cause error) *NodeError {
	return &NodeError{
		Message: fmt.Sprintf("input port %q: string to %s parse failed", port, TypeJSON),
		Code:    CodeTypeCoercion,
		NodeID:  nodeID,
		Cause:   cause,
	}
}

func newProcessError(nodeID string, cause error) *NodeError {
	// Preserve structured node errors raised inside Process (for example a
	// ForEach engine reporting INVALID_FOREACH_ITEMS).
	var ne *NodeError
	if errors.As(cause, &ne) {
		return ne
	}
	return &NodeError{
		Message: "process failed",
		Code:    CodeNodeProcess,
		NodeID:  nodeID,
		Cause:   cause,
	}
}
