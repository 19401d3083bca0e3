package flow

import (
	"context"
	"errors"
	"testing"
)

func resolveFixture(t *testing.T, statics map[string]any, connect bool) (*Graph, *RunContext) {
	t.Helper()
	g := NewGraph()
	src := passNode("src", nil, Ports(
		OutPort("out", TypeString),
		OutPort("maybe", TypeString),
	))
	dst := passNode("dst", Ports(
		InPort("text", TypeString, true),
		InPortDefault("sep", TypeString, ","),
		InPort("extra", TypeString, false),
	), nil)
	if err := g.AddNode(src, nil); err != nil {
		t.Fatalf("AddNode src: %v", err)
	}
	if err := g.AddNode(dst, statics); err != nil {
		t.Fatalf("AddNode dst: %v", err)
	}
	if connect {
		mustConnect(t, g, "src", "out", "dst", "text")
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return g, NewRunContext(context.Background(), "")
}

func TestResolveInputs(t *testing.T) {
	t.Run("connection overrides static constant", func(t *testing.T) {
		g, rc := resolveFixture(t, map[string]any{"text": "constant"}, true)
		rc.storeResult("src", map[string]any{"out": "wired"})

		in, err := resolveInputs(g, rc, "dst")
		if err != nil {
			t.Fatalf("resolveInputs: %v", err)
		}
		if in["text"] != "wired" {
			t.Errorf("connection should win over constant, got %q", in["text"])
		}
	})

	t.Run("unemitted source port falls back to constant", func(t *testing.T) {
		g := NewGraph()
		src := passNode("src", nil, Ports(OutPort("maybe", TypeString)))
		dst := passNode("dst", Ports(InPort("text", TypeString, true)), nil)
		_ = g.AddNode(src, nil)
		_ = g.AddNode(dst, map[string]any{"text": "constant"})
		mustConnect(t, g, "src", "maybe", "dst", "text")
		if err := g.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}

		rc := NewRunContext(context.Background(), "")
		// src completed but did not emit "maybe" (a branch not taken).
		rc.storeResult("src", map[string]any{})

		in, err := resolveInputs(g, rc, "dst")
		if err != nil {
			t.Fatalf("resolveInputs: %v", err)
		}
		if in["text"] != "constant" {
			t.Errorf("expected fallback to constant, got %q", in["text"])
		}
	})

	t.Run("static constant used without connection", func(t *testing.T) {
		g, rc := resolveFixture(t, map[string]any{"text": "constant"}, false)

		in, err := resolveInputs(g, rc, "dst")
		if err != nil {
			t.Fatalf("resolveInputs: %v", err)
		}
		if in["text"] != "constant" {
			t.Errorf("expected constant, got %q", in["text"])
		}
	})

	t.Run("default fills optional port", func(t *testing.T) {
		g, rc := resolveFixture(t, map[string]any{"text": "x"}, false)

		in, err := resolveInputs(g, rc, "dst")
		if err != nil {
			t.Fatalf("resolveInputs: %v", err)
		}
		if in["sep"] != "," {
			t.Errorf("expected default separator, got %v", in["sep"])
		}
	})

	t.Run("optional port without default is absent", func(t *testing.T) {
		g, rc := resolveFixture(t, map[string]any{"text": "x"}, false)

		in, err := resolveInputs(g, rc, "dst")
		if err != nil {
			t.Fatalf("resolveInputs: %v", err)
		}
		if _, present := in["extra"]; present {
			t.Errorf("extra should be absent, got %v", in["extra"])
		}
	})

	t.Run("required port with nothing supplying it fails", func(t *testing.T) {
		g, rc := resolveFixture(t, nil, false)

		_, err := resolveInputs(g, rc, "dst")
		var ne *NodeError
		if !errors.As(err, &ne) || ne.Code != CodeMissingInput {
			t.Fatalf("expected MISSING_REQUIRED_INPUT, got %v", err)
		}
		if ne.NodeID != "dst" {
			t.Errorf("expected dst blamed, got %q", ne.NodeID)
		}
	})

	t.Run("required port wired to pending upstream fails", func(t *testing.T) {
		// The connection exists but src has not completed; during a real run
		// the scheduler never resolves dst before src, so an empty store here
		// means nothing supplies the port.
		g, rc := resolveFixture(t, nil, true)

		_, err := resolveInputs(g, rc, "dst")
		var ne *NodeError
		if !errors.As(err, &ne) || ne.Code != CodeMissingInput {
			t.Fatalf("expected MISSING_REQUIRED_INPUT, got %v", err)
		}
	})

	t.Run("resolved values are coerced", func(t *testing.T) {
		g := NewGraph()
		dst := passNode("dst", Ports(InPort("config", TypeJSON, true)), nil)
		_ = g.AddNode(dst, map[string]any{"config": `{"k": true}`})
		if err := g.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
		rc := NewRunContext(context.Background(), "")

		in, err := resolveInputs(g, rc, "dst")
		if err != nil {
			t.Fatalf("resolveInputs: %v", err)
		}
		m, ok := in["config"].(map[string]any)
		if !ok || m["k"] != true {
			t.Errorf("expected parsed object, got %#v", in["config"])
		}
	})

	t.Run("port options enforced on resolved value", func(t *testing.T) {
		g := NewGraph()
		dst := passNode("dst", Ports(PortDescriptor{
			Name:     "mode",
			Type:     TypeString,
			Required: true,
			Options:  []any{"a", "b"},
		}), nil)
		_ = g.AddNode(dst, map[string]any{"mode": "c"})
		if err := g.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
		rc := NewRunContext(context.Background(), "")

		_, err := resolveInputs(g, rc, "dst")
		var ne *NodeError
		if !errors.As(err, &ne) || ne.Code != CodeInvalidPortOption {
			t.Fatalf("expected INVALID_PORT_OPTION, got %v", err)
		}
	})
}
