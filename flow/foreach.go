package flow

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nodeflow/nodeflow-go/flow/emit"
)

// ForEach is the fan-out engine: its Process materializes a fresh sub-graph
// per input item and runs it through the dispatching executor under a child
// RunContext, with bounded concurrency when parallel is true.
//
// The sub_workflow description is validated once before iterating; every
// iteration then rebuilds fresh node instances from it, so no state leaks
// between iterations. Each sub-graph node that declares the foreach_item /
// foreach_index / foreach_global_vars input ports (minimally ForEachItem)
// has those constants overwritten with the iteration's item, index and
// global variables.
//
// ForEach always reports partial work: per-item failures increment
// error_count and land in the errors output, and when continue_on_error is
// false the remaining iterations are aborted but the ForEach node itself
// still succeeds, surfacing what was accumulated. Results are compacted to
// the successful iterations in ascending original item index.
type ForEach struct {
	BaseNode
	reg *Registry
}

// newForEachFactory binds the ForEach node type to the registry it
// materializes sub-graphs from.
func newForEachFactory(reg *Registry) Factory {
	return func(id string, _ map[string]any) (Node, error) {
		return &ForEach{
			BaseNode: NewBaseNode(id, "ForEach",
				Ports(
					InPort("items", TypeArray, true),
					InPort("sub_workflow", TypeJSON, true),
					InPort("result_node_id", TypeString, true),
					InPort("result_port_name", TypeString, true),
					InPortDefault("parallel", TypeBoolean, false),
					InPortDefault("continue_on_error", TypeBoolean, false),
					InPort("max_iterations", TypeNumber, false),
					InPort("max_workers", TypeNumber, false),
					InPortDefault("global_vars", TypeObject, map[string]any{}),
				),
				Ports(
					OutPort("results", TypeArray),
					OutPort("sub_workflow_results", TypeArray),
					OutPort("item_value", TypeAny),
					OutPort("current_index", TypeNumber),
					OutPort("total_count", TypeNumber),
					OutPort("success_count", TypeNumber),
					OutPort("error_count", TypeNumber),
					OutPort("errors", TypeArray),
				),
			),
			reg: reg,
		}, nil
	}
}

// iterationOutcome captures one iteration's result slot, written at the
// captured index and compacted after all iterations settle.
type iterationOutcome struct {
	ran        bool
	succeeded  bool
	value      any
	subResults map[string]map[string]any
	errEntry   map[string]any
}

func (n *ForEach) Process(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	items, ok := toAnySlice(inputs["items"])
	if !ok {
		return nil, &NodeError{
			Message: fmt.Sprintf("items must be an array, got %T", inputs["items"]),
			Code:    CodeInvalidItems,
			NodeID:  n.ID(),
		}
	}

	def, err := DefinitionFromValue(inputs["sub_workflow"])
	if err != nil {
		return nil, n.invalidSubWorkflow(err)
	}
	// Validate the plan once; iterations re-materialize from the same
	// description without re-validating.
	probe, err := BuildGraph(n.reg, def)
	if err != nil {
		return nil, n.invalidSubWorkflow(err)
	}

	resultNodeID, _ := inputs["result_node_id"].(string)
	resultPortName, _ := inputs["result_port_name"].(string)
	resultNode := probe.Node(resultNodeID)
	if resultNode == nil {
		return nil, n.invalidSubWorkflow(fmt.Errorf("result node %q not present in sub-workflow", resultNodeID))
	}
	if _, declared := resultNode.OutputPorts()[resultPortName]; !declared {
		return nil, n.invalidSubWorkflow(fmt.Errorf("result node %q declares no output port %q", resultNodeID, resultPortName))
	}

	count := len(items)
	if maxIter, ok := asNumber(inputs["max_iterations"]); ok && int(maxIter) < count {
		count = int(maxIter)
	}
	if count < 0 {
		count = 0
	}
	items = items[:count]

	globalVars, _ := inputs["global_vars"].(map[string]any)
	parallel, _ := inputs["parallel"].(bool)
	continueOnError, _ := inputs["continue_on_error"].(bool)

	exec := executorFrom(ctx)

	outcomes := make([]iterationOutcome, count)
	if parallel {
		n.runParallel(ctx, exec, def, items, globalVars, resultNodeID, resultPortName, continueOnError, inputs, outcomes)
	} else {
		n.runSerial(ctx, exec, def, items, globalVars, resultNodeID, resultPortName, continueOnError, outcomes)
	}

	return n.collect(items, outcomes), nil
}

func (n *ForEach) runSerial(ctx context.Context, exec *Executor, def Definition, items []any, globalVars map[string]any, resultNodeID, resultPortName string, continueOnError bool, outcomes []iterationOutcome) {
	for i := range items {
		if ctx.Err() != nil {
			return
		}
		outcomes[i] = n.runIteration(ctx, exec, def, i, items[i], globalVars, resultNodeID, resultPortName)
		if !outcomes[i].succeeded && !continueOnError {
			n.emitAborted(ctx, exec, i)
			return
		}
	}
}

func (n *ForEach) runParallel(ctx context.Context, exec *Executor, def Definition, items []any, globalVars map[string]any, resultNodeID, resultPortName string, continueOnError bool, inputs map[string]any, outcomes []iterationOutcome) {
	workers := exec.cfg.foreachDefaultWorkers
	if w, ok := asNumber(inputs["max_workers"]); ok && int(w) >= 1 {
		workers = int(w)
	}
	if workers > len(items) {
		workers = len(items)
	}
	if workers < 1 {
		workers = 1
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var aborted atomic.Bool

	// Iterations start in ascending index order; completion order is not
	// deterministic, which is why outcomes are written at the captured
	// index and compacted afterwards.
	for i := range items {
		if aborted.Load() || ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		if aborted.Load() || ctx.Err() != nil {
			<-sem
			break
		}
		wg.Add(1)
		go func(idx int, item any) {
			defer wg.Done()
			defer func() { <-sem }()
			outcome := n.runIteration(ctx, exec, def, idx, item, globalVars, resultNodeID, resultPortName)
			outcomes[idx] = outcome
			if !outcome.succeeded && !continueOnError && !aborted.Swap(true) {
				n.emitAborted(ctx, exec, idx)
			}
		}(i, items[i])
	}
	wg.Wait()
}

// runIteration materializes one fresh sub-graph, injects the iteration
// values, and drives it under a child RunContext chained to the parent's
// cancel signal.
func (n *ForEach) runIteration(ctx context.Context, exec *Executor, def Definition, index int, item any, globalVars map[string]any, resultNodeID, resultPortName string) iterationOutcome {
	outcome := iterationOutcome{ran: true}

	g, err := BuildGraph(n.reg, def)
	if err != nil {
		// The plan validated before iterating, so this is unreachable short
		// of a racing registry mutation; treat it as an iteration error.
		return n.failedOutcome(index, item, err, nil)
	}
	injectIterationValues(g, item, index, globalVars)

	child := NewRunContext(ctx, "")
	exec.cfg.emitter.Emit(emit.Event{
		RunID:  child.RunID(),
		NodeID: n.ID(),
		Msg:    emit.MsgForEachIterStart,
		Meta:   map[string]any{"index": index},
	})

	if err := exec.Run(ctx, g, child); err != nil {
		exec.cfg.metrics.RecordForEachIteration("error")
		exec.cfg.emitter.Emit(emit.Event{
			RunID:  child.RunID(),
			NodeID: n.ID(),
			Msg:    emit.MsgForEachIterError,
			Meta:   map[string]any{"index": index, "error": err.Error()},
		})
		return n.failedOutcome(index, item, err, child.Results())
	}

	outputs, _ := child.Result(resultNodeID)
	outcome.succeeded = true
	outcome.value = outputs[resultPortName]
	outcome.subResults = child.Results()
	exec.cfg.metrics.RecordForEachIteration("success")
	exec.cfg.emitter.Emit(emit.Event{
		RunID:  child.RunID(),
		NodeID: n.ID(),
		Msg:    emit.MsgForEachIterEnd,
		Meta:   map[string]any{"index": index},
	})
	return outcome
}

func (n *ForEach) failedOutcome(index int, item any, err error, partial map[string]map[string]any) iterationOutcome {
	iterErr := &NodeError{
		Message: fmt.Sprintf("iteration %d failed", index),
		Code:    CodeIteration,
		NodeID:  n.ID(),
		Cause:   err,
	}
	entry := map[string]any{
		"index": float64(index),
		"item":  item,
		"error": iterErr.Error(),
	}
	if partial != nil {
		entry["partial_results"] = partial
	}
	return iterationOutcome{ran: true, errEntry: entry}
}

// collect compacts per-index outcomes into the ForEach output ports.
// results holds the successful values in ascending original index; errors
// holds one entry per failed iteration, each with a unique index.
func (n *ForEach) collect(items []any, outcomes []iterationOutcome) map[string]any {
	results := []any{}
	subResults := []any{}
	errList := []any{}
	successCount, errorCount := 0, 0
	lastIndex := -1

	for i, o := range outcomes {
		if !o.ran {
			continue
		}
		lastIndex = i
		if o.succeeded {
			successCount++
			results = append(results, o.value)
			subResults = append(subResults, map[string]any{
				"index":   float64(i),
				"results": o.subResults,
			})
		} else {
			errorCount++
			errList = append(errList, o.errEntry)
		}
	}
	sort.SliceStable(errList, func(a, b int) bool {
		fa, _ := asNumber(errList[a].(map[string]any)["index"])
		fb, _ := asNumber(errList[b].(map[string]any)["index"])
		return fa < fb
	})

	var itemValue any
	if lastIndex >= 0 {
		itemValue = items[lastIndex]
	}

	return map[string]any{
		"results":              results,
		"sub_workflow_results": subResults,
		"item_value":           itemValue,
		"current_index":        float64(lastIndex),
		"total_count":          float64(len(items)),
		"success_count":        float64(successCount),
		"error_count":          float64(errorCount),
		"errors":               errList,
	}
}

func (n *ForEach) emitAborted(ctx context.Context, exec *Executor, index int) {
	exec.cfg.emitter.Emit(emit.Event{
		RunID:  runIDFrom(ctx),
		NodeID: n.ID(),
		Msg:    emit.MsgForEachAborted,
		Meta:   map[string]any{"index": index},
	})
}

func (n *ForEach) invalidSubWorkflow(cause error) *NodeError {
	return &NodeError{
		Message: "invalid sub-workflow",
		Code:    CodeInvalidSubGraph,
		NodeID:  n.ID(),
		Cause:   cause,
	}
}

// injectIterationValues overwrites the foreach_* static constants on every
// sub-graph node that declares the injection ports.
func injectIterationValues(g *Graph, item any, index int, globalVars map[string]any) {
	if globalVars == nil {
		globalVars = map[string]any{}
	}
	for id, node := range g.nodes {
		ports := node.InputPorts()
		if _, ok := ports["foreach_item"]; ok {
			g.inputValues[id]["foreach_item"] = item
		}
		if _, ok := ports["foreach_index"]; ok {
			g.inputValues[id]["foreach_index"] = float64(index)
		}
		if _, ok := ports["foreach_global_vars"]; ok {
			g.inputValues[id]["foreach_global_vars"] = globalVars
		}
	}
}

// toAnySlice normalizes any slice kind to []any.
func toAnySlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
