package nodes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nodeflow/nodeflow-go/flow"
)

// JsonParse decodes a JSON string into a value.
type JsonParse struct {
	flow.BaseNode
}

func NewJsonParse(id string, _ map[string]any) (flow.Node, error) {
	return &JsonParse{BaseNode: flow.NewBaseNode(id, "JsonParse",
		flow.Ports(flow.InPort("json_string", flow.TypeString, true)),
		flow.Ports(flow.OutPort("json_object", flow.TypeJSON)),
	)}, nil
}

func (n *JsonParse) Process(_ context.Context, inputs map[string]any) (map[string]any, error) {
	raw, _ := inputs["json_string"].(string)
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parsing json: %w", err)
	}
	return map[string]any{"json_object": parsed}, nil
}

// JsonExtract reads a value out of a JSON object by dotted path, with
// integer segments indexing arrays. A missing path emits the default input
// when one is supplied and fails the node otherwise.
type JsonExtract struct {
	flow.BaseNode
}

func NewJsonExtract(id string, _ map[string]any) (flow.Node, error) {
	return &JsonExtract{BaseNode: flow.NewBaseNode(id, "JsonExtract",
		flow.Ports(
			flow.InPort("json_object", flow.TypeJSON, true),
			flow.InPort("path", flow.TypeString, true),
			flow.InPort("default", flow.TypeAny, false),
		),
		flow.Ports(flow.OutPort("value", flow.TypeAny)),
	)}, nil
}

func (n *JsonExtract) Process(_ context.Context, inputs map[string]any) (map[string]any, error) {
	path, _ := inputs["path"].(string)
	value, found := flow.LookupPath(inputs["json_object"], path)
	if !found {
		if def, ok := inputs["default"]; ok {
			return map[string]any{"value": def}, nil
		}
		return nil, fmt.Errorf("path %q not found", path)
	}
	return map[string]any{"value": value}, nil
}
