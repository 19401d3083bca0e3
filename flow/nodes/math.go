package nodes

import (
	"context"
	"fmt"

	"github.com/nodeflow/nodeflow-go/flow"
)

// MathOperation applies a binary arithmetic operation to its two numeric
// inputs. Division by zero is a node failure, not a NaN.
type MathOperation struct {
	flow.BaseNode
}

func NewMathOperation(id string, _ map[string]any) (flow.Node, error) {
	return &MathOperation{BaseNode: flow.NewBaseNode(id, "MathOperation",
		flow.Ports(
			flow.InPort("a", flow.TypeNumber, true),
			flow.InPort("b", flow.TypeNumber, true),
			flow.PortDescriptor{
				Name:    "operation",
				Type:    flow.TypeString,
				Default: "add",
				Options: []any{"add", "subtract", "multiply", "divide"},
			},
		),
		flow.Ports(flow.OutPort("result", flow.TypeNumber)),
	)}, nil
}

func (n *MathOperation) Process(_ context.Context, inputs map[string]any) (map[string]any, error) {
	a, _ := inputs["a"].(float64)
	b, _ := inputs["b"].(float64)
	operation, _ := inputs["operation"].(string)

	var result float64
	switch operation {
	case "add":
		result = a + b
	case "subtract":
		result = a - b
	case "multiply":
		result = a * b
	case "divide":
		if b == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		result = a / b
	default:
		return nil, fmt.Errorf("unknown operation %q", operation)
	}
	return map[string]any{"result": result}, nil
}
