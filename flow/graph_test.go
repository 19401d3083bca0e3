package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// passNode builds a do-nothing node with the given ports for structural
// tests.
func passNode(id string, inputs, outputs map[string]PortDescriptor) Node {
	return &NodeFunc{
		BaseNode: NewBaseNode(id, "test", inputs, outputs),
		Fn: func(_ context.Context, in map[string]any) (map[string]any, error) {
			return map[string]any{}, nil
		},
	}
}

func simpleNode(id string) Node {
	return passNode(id,
		Ports(InPort("in", TypeAny, false)),
		Ports(OutPort("out", TypeAny)),
	)
}

func TestGraphValidate(t *testing.T) {
	t.Run("valid chain", func(t *testing.T) {
		g := NewGraph()
		for _, id := range []string{"a", "b", "c"} {
			if err := g.AddNode(simpleNode(id), nil); err != nil {
				t.Fatalf("AddNode: %v", err)
			}
		}
		mustConnect(t, g, "a", "out", "b", "in")
		mustConnect(t, g, "b", "out", "c", "in")

		if err := g.Validate(); err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
	})

	t.Run("cycle rejected", func(t *testing.T) {
		g := NewGraph()
		for _, id := range []string{"a", "b", "c"} {
			_ = g.AddNode(simpleNode(id), nil)
		}
		mustConnect(t, g, "a", "out", "b", "in")
		mustConnect(t, g, "b", "out", "c", "in")
		mustConnect(t, g, "c", "out", "a", "in")

		err := g.Validate()
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != CodeCyclicGraph {
			t.Fatalf("expected CYCLIC_GRAPH, got %v", err)
		}
		for _, id := range []string{"a", "b", "c"} {
			if !strings.Contains(ee.Message, id) {
				t.Errorf("cycle error should name node %q: %s", id, ee.Message)
			}
		}
	})

	t.Run("node downstream of a cycle reported as unorderable", func(t *testing.T) {
		g := NewGraph()
		for _, id := range []string{"a", "b", "c"} {
			_ = g.AddNode(simpleNode(id), nil)
		}
		// a and b form the cycle; c only hangs off it, but it can never be
		// ordered either.
		mustConnect(t, g, "a", "out", "b", "in")
		mustConnect(t, g, "b", "out", "a", "in")
		mustConnect(t, g, "b", "out", "c", "in")

		err := g.Validate()
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != CodeCyclicGraph {
			t.Fatalf("expected CYCLIC_GRAPH, got %v", err)
		}
		for _, id := range []string{"a", "b", "c"} {
			if !strings.Contains(ee.Message, id) {
				t.Errorf("unorderable set should include %q: %s", id, ee.Message)
			}
		}
	})

	t.Run("self loop rejected", func(t *testing.T) {
		g := NewGraph()
		_ = g.AddNode(simpleNode("a"), nil)
		mustConnect(t, g, "a", "out", "a", "in")

		err := g.Validate()
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != CodeCyclicGraph {
			t.Fatalf("expected CYCLIC_GRAPH, got %v", err)
		}
	})

	t.Run("dangling source node", func(t *testing.T) {
		g := NewGraph()
		_ = g.AddNode(simpleNode("a"), nil)
		mustConnect(t, g, "ghost", "out", "a", "in")

		err := g.Validate()
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != CodeGraphValidation {
			t.Fatalf("expected GRAPH_VALIDATION, got %v", err)
		}
	})

	t.Run("unknown output port", func(t *testing.T) {
		g := NewGraph()
		_ = g.AddNode(simpleNode("a"), nil)
		_ = g.AddNode(simpleNode("b"), nil)
		mustConnect(t, g, "a", "nope", "b", "in")

		if err := g.Validate(); err == nil {
			t.Fatal("expected validation failure for unknown output port")
		}
	})

	t.Run("input port used as source", func(t *testing.T) {
		g := NewGraph()
		_ = g.AddNode(simpleNode("a"), nil)
		_ = g.AddNode(simpleNode("b"), nil)
		// "in" exists on a, but only as an input port.
		mustConnect(t, g, "a", "in", "b", "in")

		if err := g.Validate(); err == nil {
			t.Fatal("expected validation failure for input port as source")
		}
	})

	t.Run("duplicate target port", func(t *testing.T) {
		g := NewGraph()
		_ = g.AddNode(simpleNode("a"), nil)
		_ = g.AddNode(simpleNode("b"), nil)
		_ = g.AddNode(simpleNode("c"), nil)
		mustConnect(t, g, "a", "out", "c", "in")
		mustConnect(t, g, "b", "out", "c", "in")

		err := g.Validate()
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != CodeGraphValidation {
			t.Fatalf("expected GRAPH_VALIDATION, got %v", err)
		}
	})

	t.Run("incompatible port types", func(t *testing.T) {
		g := NewGraph()
		_ = g.AddNode(passNode("a", nil, Ports(OutPort("n", TypeNumber))), nil)
		_ = g.AddNode(passNode("b", Ports(InPort("s", TypeString, true)), nil), nil)
		mustConnect(t, g, "a", "n", "b", "s")

		if err := g.Validate(); err == nil {
			t.Fatal("expected validation failure for number into string")
		}
	})

	t.Run("exact duplicate connection deduplicated", func(t *testing.T) {
		g := NewGraph()
		_ = g.AddNode(simpleNode("a"), nil)
		_ = g.AddNode(simpleNode("b"), nil)
		mustConnect(t, g, "a", "out", "b", "in")
		mustConnect(t, g, "a", "out", "b", "in")

		if err := g.Validate(); err != nil {
			t.Fatalf("duplicate 4-tuple should dedupe, got %v", err)
		}
		if len(g.Connections()) != 1 {
			t.Errorf("expected 1 connection after dedupe, got %d", len(g.Connections()))
		}
	})

	t.Run("duplicate node id rejected", func(t *testing.T) {
		g := NewGraph()
		if err := g.AddNode(simpleNode("a"), nil); err != nil {
			t.Fatalf("first AddNode: %v", err)
		}
		err := g.AddNode(simpleNode("a"), nil)
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != CodeDuplicateNode {
			t.Fatalf("expected DUPLICATE_NODE, got %v", err)
		}
	})
}

func mustConnect(t *testing.T, g *Graph, fromNode, fromPort, toNode, toPort string) {
	t.Helper()
	err := g.AddConnection(Connection{
		FromNode: fromNode, FromPort: fromPort,
		ToNode: toNode, ToPort: toPort,
	})
	if err != nil {
		t.Fatalf("AddConnection: %v", err)
	}
}
