package flow_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nodeflow/nodeflow-go/flow"
	"github.com/nodeflow/nodeflow-go/flow/emit"
)

// subWorkflow builds the JSON-shaped value a ForEach node takes on its
// sub_workflow input.
func subWorkflow(nodes map[string]any, conns ...map[string]any) map[string]any {
	cs := make([]any, len(conns))
	for i, c := range conns {
		cs[i] = c
	}
	return map[string]any{"nodes": nodes, "connections": cs}
}

func subConn(fromNode, fromPort, toNode, toPort string) map[string]any {
	return map[string]any{
		"from_node": fromNode, "from_port": fromPort,
		"to_node": toNode, "to_port": toPort,
	}
}

// stripSubWorkflow is a two-node sub-workflow: entry item -> TextStrip.
func stripSubWorkflow() map[string]any {
	return subWorkflow(
		map[string]any{
			"entry": map[string]any{"type": "ForEachItem"},
			"strip": map[string]any{"type": "TextStrip"},
		},
		subConn("entry", "item", "strip", "text"),
	)
}

func foreachOutput(t *testing.T, rc *flow.RunContext) map[string]any {
	t.Helper()
	out, ok := rc.Result("each")
	if !ok {
		t.Fatal("ForEach node produced no result")
	}
	return out
}

func TestForEachSerial(t *testing.T) {
	reg := newTestRegistry(t)
	def := flow.Definition{
		Nodes: map[string]flow.NodeDef{
			"each": {Type: "ForEach", Inputs: map[string]any{
				"items":            []any{" a", " b ", "c "},
				"sub_workflow":     stripSubWorkflow(),
				"result_node_id":   "strip",
				"result_port_name": "text",
			}},
		},
	}

	rc, err := runDefinition(t, reg, def)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := foreachOutput(t, rc)

	results, _ := out["results"].([]any)
	want := []any{"a", "b", "c"}
	if len(results) != len(want) {
		t.Fatalf("expected %d results, got %v", len(want), results)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("results[%d] = %v, want %v", i, results[i], want[i])
		}
	}

	if out["total_count"] != float64(3) || out["success_count"] != float64(3) || out["error_count"] != float64(0) {
		t.Errorf("unexpected counts: %v", out)
	}
	if out["current_index"] != float64(2) || out["item_value"] != "c " {
		t.Errorf("unexpected progress outputs: %v / %v", out["current_index"], out["item_value"])
	}
	if errs, _ := out["errors"].([]any); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}

	sub, _ := out["sub_workflow_results"].([]any)
	if len(sub) != 3 {
		t.Fatalf("expected 3 sub-workflow result entries, got %d", len(sub))
	}
	first, _ := sub[0].(map[string]any)
	if first["index"] != float64(0) {
		t.Errorf("sub result entries should carry their index, got %v", first)
	}
}

func TestForEachParallelBoundedWorkers(t *testing.T) {
	reg := newTestRegistry(t)
	var inFlight, peak atomic.Int64
	if err := reg.Register("test", "SlowDouble", func(id string, _ map[string]any) (flow.Node, error) {
		return &flow.NodeFunc{
			BaseNode: flow.NewBaseNode(id, "SlowDouble",
				flow.Ports(flow.InPort("n", flow.TypeNumber, true)),
				flow.Ports(flow.OutPort("result", flow.TypeNumber)),
			),
			Fn: func(_ context.Context, in map[string]any) (map[string]any, error) {
				cur := inFlight.Add(1)
				for {
					p := peak.Load()
					if cur <= p || peak.CompareAndSwap(p, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				inFlight.Add(-1)
				n, _ := in["n"].(float64)
				return map[string]any{"result": n * 2}, nil
			},
		}, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	items := make([]any, 20)
	for i := range items {
		items[i] = float64(i + 1)
	}
	def := flow.Definition{
		Nodes: map[string]flow.NodeDef{
			"each": {Type: "ForEach", Inputs: map[string]any{
				"items": items,
				"sub_workflow": subWorkflow(
					map[string]any{
						"entry": map[string]any{"type": "ForEachItem"},
						"dbl":   map[string]any{"type": "SlowDouble"},
					},
					subConn("entry", "item", "dbl", "n"),
				),
				"result_node_id":   "dbl",
				"result_port_name": "result",
				"parallel":         true,
				"max_workers":      float64(4),
			}},
		},
	}

	rc, err := runDefinition(t, reg, def)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := foreachOutput(t, rc)

	results, _ := out["results"].([]any)
	if len(results) != 20 {
		t.Fatalf("expected 20 results, got %d", len(results))
	}
	// Compaction preserves ascending original item order regardless of
	// completion order.
	for i, r := range results {
		if r != float64((i+1)*2) {
			t.Errorf("results[%d] = %v, want %v", i, r, float64((i+1)*2))
		}
	}
	if got := peak.Load(); got > 4 {
		t.Errorf("observed %d concurrent iterations, max_workers is 4", got)
	}
}

// failOnBad passes numbers through and fails on anything else.
func registerFailOnBad(t *testing.T, reg *flow.Registry) {
	t.Helper()
	err := reg.Register("test", "FailOnBad", func(id string, _ map[string]any) (flow.Node, error) {
		return &flow.NodeFunc{
			BaseNode: flow.NewBaseNode(id, "FailOnBad",
				flow.Ports(flow.InPort("v", flow.TypeAny, true)),
				flow.Ports(flow.OutPort("v", flow.TypeAny)),
			),
			Fn: func(_ context.Context, in map[string]any) (map[string]any, error) {
				if _, ok := in["v"].(float64); !ok {
					return nil, fmt.Errorf("not a number: %v", in["v"])
				}
				return map[string]any{"v": in["v"]}, nil
			},
		}, nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func checkSubWorkflow() map[string]any {
	return subWorkflow(
		map[string]any{
			"entry": map[string]any{"type": "ForEachItem"},
			"check": map[string]any{"type": "FailOnBad"},
		},
		subConn("entry", "item", "check", "v"),
	)
}

func TestForEachContinueOnError(t *testing.T) {
	reg := newTestRegistry(t)
	registerFailOnBad(t, reg)

	def := flow.Definition{
		Nodes: map[string]flow.NodeDef{
			"each": {Type: "ForEach", Inputs: map[string]any{
				"items":             []any{float64(1), "bad", float64(3)},
				"sub_workflow":      checkSubWorkflow(),
				"result_node_id":    "check",
				"result_port_name":  "v",
				"continue_on_error": true,
			}},
		},
	}

	rc, err := runDefinition(t, reg, def)
	if err != nil {
		t.Fatalf("outer run must succeed with continue_on_error, got %v", err)
	}
	if rc.Status() != flow.RunCompleted {
		t.Fatalf("expected completed, got %s", rc.Status())
	}
	out := foreachOutput(t, rc)

	results, _ := out["results"].([]any)
	if len(results) != 2 || results[0] != float64(1) || results[1] != float64(3) {
		t.Errorf("expected compacted [1 3], got %v", results)
	}
	if out["success_count"] != float64(2) || out["error_count"] != float64(1) || out["total_count"] != float64(3) {
		t.Errorf("unexpected counts: %v", out)
	}

	errList, _ := out["errors"].([]any)
	if len(errList) != 1 {
		t.Fatalf("expected one error entry, got %v", errList)
	}
	entry, _ := errList[0].(map[string]any)
	if entry["index"] != float64(1) || entry["item"] != "bad" {
		t.Errorf("error entry should carry index and item, got %v", entry)
	}
	if msg, _ := entry["error"].(string); msg == "" {
		t.Error("error entry should carry a message")
	}
}

func TestForEachAbortOnFirstError(t *testing.T) {
	reg := newTestRegistry(t)
	registerFailOnBad(t, reg)

	def := flow.Definition{
		Nodes: map[string]flow.NodeDef{
			"each": {Type: "ForEach", Inputs: map[string]any{
				"items":            []any{float64(1), "bad", float64(3)},
				"sub_workflow":     checkSubWorkflow(),
				"result_node_id":   "check",
				"result_port_name": "v",
			}},
		},
	}

	emitter := emit.NewBufferedEmitter()
	rc, err := runDefinition(t, reg, def, flow.WithEmitter(emitter))
	if err != nil {
		t.Fatalf("ForEach reports partial work; the node itself succeeds: %v", err)
	}
	if rc.Status() != flow.RunCompleted {
		t.Fatalf("expected completed, got %s", rc.Status())
	}
	out := foreachOutput(t, rc)

	// Iteration 2 never ran: aborted after the first failure.
	if out["success_count"] != float64(1) || out["error_count"] != float64(1) {
		t.Errorf("unexpected counts after abort: %v", out)
	}
	if out["total_count"] != float64(3) {
		t.Errorf("total_count reports all supplied items, got %v", out["total_count"])
	}
	results, _ := out["results"].([]any)
	if len(results) != 1 || results[0] != float64(1) {
		t.Errorf("expected only the first result, got %v", results)
	}

	// The aborted event is filed under the owning run, not an empty id.
	aborted := emitter.HistoryWithFilter(rc.RunID(), emit.HistoryFilter{Msg: emit.MsgForEachAborted})
	if len(aborted) != 1 {
		t.Fatalf("expected one aborted event in the parent run's history, got %d", len(aborted))
	}
	if aborted[0].NodeID != "each" || aborted[0].Meta["index"] != 1 {
		t.Errorf("unexpected aborted event: %+v", aborted[0])
	}
}

func TestForEachMaxIterations(t *testing.T) {
	reg := newTestRegistry(t)
	def := flow.Definition{
		Nodes: map[string]flow.NodeDef{
			"each": {Type: "ForEach", Inputs: map[string]any{
				"items":            []any{" a", " b", " c", " d"},
				"sub_workflow":     stripSubWorkflow(),
				"result_node_id":   "strip",
				"result_port_name": "text",
				"max_iterations":   float64(2),
			}},
		},
	}

	rc, err := runDefinition(t, reg, def)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := foreachOutput(t, rc)

	results, _ := out["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("expected truncation to 2 iterations, got %v", results)
	}
	if out["total_count"] != float64(2) {
		t.Errorf("total_count reflects the truncated run, got %v", out["total_count"])
	}
}

func TestForEachGlobalVars(t *testing.T) {
	reg := newTestRegistry(t)
	def := flow.Definition{
		Nodes: map[string]flow.NodeDef{
			"each": {Type: "ForEach", Inputs: map[string]any{
				"items": []any{"x"},
				"sub_workflow": subWorkflow(map[string]any{
					"entry": map[string]any{"type": "ForEachItem"},
				}),
				"result_node_id":   "entry",
				"result_port_name": "global_vars",
				"global_vars":      map[string]any{"tenant": "acme"},
			}},
		},
	}

	rc, err := runDefinition(t, reg, def)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := foreachOutput(t, rc)
	results, _ := out["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("expected one result, got %v", results)
	}
	gv, _ := results[0].(map[string]any)
	if gv["tenant"] != "acme" {
		t.Errorf("global_vars should reach the entry node, got %v", results[0])
	}
}

func TestForEachInvalidSubWorkflow(t *testing.T) {
	reg := newTestRegistry(t)

	run := func(t *testing.T, inputs map[string]any) error {
		t.Helper()
		base := map[string]any{
			"items":            []any{"x"},
			"sub_workflow":     stripSubWorkflow(),
			"result_node_id":   "strip",
			"result_port_name": "text",
		}
		for k, v := range inputs {
			base[k] = v
		}
		_, err := runDefinition(t, reg, flow.Definition{
			Nodes: map[string]flow.NodeDef{
				"each": {Type: "ForEach", Inputs: base},
			},
		})
		return err
	}

	t.Run("missing result node", func(t *testing.T) {
		err := run(t, map[string]any{"result_node_id": "ghost"})
		var ne *flow.NodeError
		if !errors.As(err, &ne) || ne.Code != flow.CodeInvalidSubGraph {
			t.Fatalf("expected INVALID_SUB_WORKFLOW, got %v", err)
		}
	})

	t.Run("undeclared result port", func(t *testing.T) {
		err := run(t, map[string]any{"result_port_name": "nope"})
		var ne *flow.NodeError
		if !errors.As(err, &ne) || ne.Code != flow.CodeInvalidSubGraph {
			t.Fatalf("expected INVALID_SUB_WORKFLOW, got %v", err)
		}
	})

	t.Run("cyclic sub-workflow", func(t *testing.T) {
		err := run(t, map[string]any{"sub_workflow": subWorkflow(
			map[string]any{
				"entry": map[string]any{"type": "ForEachItem"},
				"a":     map[string]any{"type": "TextStrip"},
				"b":     map[string]any{"type": "TextStrip"},
			},
			subConn("a", "text", "b", "text"),
			subConn("b", "text", "a", "text"),
		), "result_node_id": "a", "result_port_name": "text"})
		var ne *flow.NodeError
		if !errors.As(err, &ne) || ne.Code != flow.CodeInvalidSubGraph {
			t.Fatalf("expected INVALID_SUB_WORKFLOW, got %v", err)
		}
	})

	t.Run("unknown node type", func(t *testing.T) {
		err := run(t, map[string]any{"sub_workflow": subWorkflow(
			map[string]any{
				"entry": map[string]any{"type": "ForEachItem"},
				"x":     map[string]any{"type": "NoSuchType"},
			},
		), "result_node_id": "entry", "result_port_name": "item"})
		var ne *flow.NodeError
		if !errors.As(err, &ne) || ne.Code != flow.CodeInvalidSubGraph {
			t.Fatalf("expected INVALID_SUB_WORKFLOW, got %v", err)
		}
	})
}

func TestForEachInvalidItems(t *testing.T) {
	reg := newTestRegistry(t)
	node, err := reg.New("ForEach", "each", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Invoking Process directly bypasses port coercion, which is how a
	// non-array can reach the items check at all.
	_, err = node.Process(context.Background(), map[string]any{
		"items":            "not a list",
		"sub_workflow":     stripSubWorkflow(),
		"result_node_id":   "strip",
		"result_port_name": "text",
	})
	var ne *flow.NodeError
	if !errors.As(err, &ne) || ne.Code != flow.CodeInvalidItems {
		t.Fatalf("expected INVALID_FOREACH_ITEMS, got %v", err)
	}
}

func TestForEachCancellationPropagates(t *testing.T) {
	reg := newTestRegistry(t)
	iterRunning := make(chan struct{}, 1)
	if err := reg.Register("test", "Hang", func(id string, _ map[string]any) (flow.Node, error) {
		return &flow.NodeFunc{
			BaseNode: flow.NewBaseNode(id, "Hang",
				flow.Ports(flow.InPort("v", flow.TypeAny, false)),
				flow.Ports(flow.OutPort("v", flow.TypeAny)),
			),
			Fn: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
				select {
				case iterRunning <- struct{}{}:
				default:
				}
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	g, err := flow.BuildGraph(reg, flow.Definition{
		Nodes: map[string]flow.NodeDef{
			"each": {Type: "ForEach", Inputs: map[string]any{
				"items": []any{"a", "b", "c"},
				"sub_workflow": subWorkflow(
					map[string]any{
						"entry": map[string]any{"type": "ForEachItem"},
						"hang":  map[string]any{"type": "Hang"},
					},
					subConn("entry", "item", "hang", "v"),
				),
				"result_node_id":   "hang",
				"result_port_name": "v",
			}},
		},
	})
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	exec, _ := flow.NewExecutor()
	rc := flow.NewRunContext(context.Background(), "")
	go func() {
		<-iterRunning
		rc.Cancel()
	}()

	done := make(chan error, 1)
	go func() { done <- exec.Run(context.Background(), g, rc) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not reach the running iteration")
	}
	if rc.Status() != flow.RunCancelled {
		t.Fatalf("expected cancelled, got %s", rc.Status())
	}
}
