package flow

import "context"

// Node is the unit of computation in a workflow graph.
//
// A node declares typed input and output ports and implements Process, the
// sole mutative operation. The executor resolves the node's effective inputs
// (connections override constants, constants override defaults) and invokes
// Process exactly once per run. Process returns a map from output port name
// to produced value; ports absent from the map are treated as not emitted,
// which downstream optional inputs must tolerate.
//
// Process implementations that perform I/O or spawn sub-runs must honor ctx
// cancellation at their suspension points. The runtime never forcibly kills
// a running node.
type Node interface {
	// ID returns the node's graph-unique identifier.
	ID() string

	// Type returns the registry type name this node was built from.
	Type() string

	// InputPorts returns the declared input descriptors keyed by port name.
	InputPorts() map[string]PortDescriptor

	// OutputPorts returns the declared output descriptors keyed by port name.
	OutputPorts() map[string]PortDescriptor

	// Process computes outputs from the resolved effective inputs.
	Process(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

// BaseNode carries the identity and port declarations shared by every node
// implementation. Embed it and implement Process.
//
// Example:
//
//	type Upper struct{ flow.BaseNode }
//
//	func NewUpper(id string) *Upper {
//		return &Upper{BaseNode: flow.NewBaseNode(id, "Upper",
//			flow.Ports(flow.InPort("text", flow.TypeString, true)),
//			flow.Ports(flow.OutPort("text", flow.TypeString)),
//		)}
//	}
type BaseNode struct {
	id       string
	nodeType string
	inputs   map[string]PortDescriptor
	outputs  map[string]PortDescriptor
}

// NewBaseNode builds the embeddable identity/port holder.
func NewBaseNode(id, nodeType string, inputs, outputs map[string]PortDescriptor) BaseNode {
	return BaseNode{id: id, nodeType: nodeType, inputs: inputs, outputs: outputs}
}

func (b *BaseNode) ID() string   { return b.id }
func (b *BaseNode) Type() string { return b.nodeType }

func (b *BaseNode) InputPorts() map[string]PortDescriptor  { return b.inputs }
func (b *BaseNode) OutputPorts() map[string]PortDescriptor { return b.outputs }

// Ports collects descriptors into the map shape nodes declare.
func Ports(descs ...PortDescriptor) map[string]PortDescriptor {
	m := make(map[string]PortDescriptor, len(descs))
	for _, d := range descs {
		m[d.Name] = d
	}
	return m
}

// NodeFunc adapts a plain function into a Node. Useful in tests and for
// one-off leaf nodes that don't warrant a named type.
type NodeFunc struct {
	BaseNode
	Fn func(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

// Process invokes the wrapped function.
func (n *NodeFunc) Process(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	return n.Fn(ctx, inputs)
}
