package nodes

import (
	"context"
	"fmt"

	"github.com/nodeflow/nodeflow-go/flow"
)

// ListLength counts the elements of its list input.
type ListLength struct {
	flow.BaseNode
}

func NewListLength(id string, _ map[string]any) (flow.Node, error) {
	return &ListLength{BaseNode: flow.NewBaseNode(id, "ListLength",
		flow.Ports(flow.InPort("list", flow.TypeArray, true)),
		flow.Ports(flow.OutPort("length", flow.TypeNumber)),
	)}, nil
}

func (n *ListLength) Process(_ context.Context, inputs map[string]any) (map[string]any, error) {
	list, _ := inputs["list"].([]any)
	return map[string]any{"length": float64(len(list))}, nil
}

// ListIndex selects one element by zero-based index. Negative indexes count
// from the end; out-of-range indexes fail the node.
type ListIndex struct {
	flow.BaseNode
}

func NewListIndex(id string, _ map[string]any) (flow.Node, error) {
	return &ListIndex{BaseNode: flow.NewBaseNode(id, "ListIndex",
		flow.Ports(
			flow.InPort("list", flow.TypeArray, true),
			flow.InPort("index", flow.TypeNumber, true),
		),
		flow.Ports(flow.OutPort("item", flow.TypeAny)),
	)}, nil
}

func (n *ListIndex) Process(_ context.Context, inputs map[string]any) (map[string]any, error) {
	list, _ := inputs["list"].([]any)
	f, _ := inputs["index"].(float64)
	idx := int(f)
	if idx < 0 {
		idx += len(list)
	}
	if idx < 0 || idx >= len(list) {
		return nil, fmt.Errorf("index %d out of range for list of length %d", int(f), len(list))
	}
	return map[string]any{"item": list[idx]}, nil
}

// ListAppend appends a single item to a list, emitting a new list; the
// input list is never mutated.
type ListAppend struct {
	flow.BaseNode
}

func NewListAppend(id string, _ map[string]any) (flow.Node, error) {
	return &ListAppend{BaseNode: flow.NewBaseNode(id, "ListAppend",
		flow.Ports(
			flow.InPortDefault("list", flow.TypeArray, []any{}),
			flow.InPort("item", flow.TypeAny, true),
		),
		flow.Ports(flow.OutPort("list", flow.TypeArray)),
	)}, nil
}

func (n *ListAppend) Process(_ context.Context, inputs map[string]any) (map[string]any, error) {
	list, _ := inputs["list"].([]any)
	out := make([]any, 0, len(list)+1)
	out = append(out, list...)
	out = append(out, inputs["item"])
	return map[string]any{"list": out}, nil
}
