package flow

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a fresh node instance.
//
// The build-time inputs map is the node's static input_values from the
// workflow description. Most factories ignore it; count-parameterized nodes
// (Switch, Merge) read their port counts from it so their declared ports
// match the workflow that instantiates them.
type Factory func(id string, inputs map[string]any) (Node, error)

// NodeInfo describes a registered node type for read-only introspection,
// typically consumed by workflow editors.
type NodeInfo struct {
	Category string                    `json:"category"`
	Type     string                    `json:"type"`
	Inputs   map[string]PortDescriptor `json:"inputs"`
	Outputs  map[string]PortDescriptor `json:"outputs"`
}

// Registry maps string node type names to factories.
//
// A Registry is populated at service start (RegisterControls, plus whatever
// leaf library the host wires in) and is read-only afterwards. It is safe
// for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	category  map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		category:  make(map[string]string),
	}
}

// Register adds a node type under a category. Registering a type name twice
// is an error; node types are process-wide contracts, not override points.
func (r *Registry) Register(category, nodeType string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[nodeType]; exists {
		return &EngineError{
			Message: fmt.Sprintf("node type %q already registered", nodeType),
			Code:    CodeDuplicateNode,
		}
	}
	r.factories[nodeType] = f
	r.category[nodeType] = category
	return nil
}

// Has reports whether a node type is registered.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[nodeType]
	return ok
}

// New materializes a fresh node of the given type.
//
// Returns an EngineError with code UNKNOWN_NODE_TYPE for unregistered types.
func (r *Registry) New(nodeType, id string, inputs map[string]any) (Node, error) {
	r.mu.RLock()
	f, ok := r.factories[nodeType]
	r.mu.RUnlock()

	if !ok {
		return nil, &EngineError{
			Message: fmt.Sprintf("unknown node type %q", nodeType),
			Code:    CodeUnknownNodeType,
		}
	}
	node, err := f(id, inputs)
	if err != nil {
		return nil, fmt.Errorf("building node %q of type %q: %w", id, nodeType, err)
	}
	return node, nil
}

// List returns every registered type with its port descriptors, sorted by
// category then type name.
//
// Descriptors are read off a probe instance built with empty inputs, so
// count-parameterized nodes report their default port layout.
func (r *Registry) List() []NodeInfo {
	r.mu.RLock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	r.mu.RUnlock()

	sort.Strings(types)
	infos := make([]NodeInfo, 0, len(types))
	for _, t := range types {
		probe, err := r.New(t, "probe", nil)
		if err != nil {
			continue
		}
		r.mu.RLock()
		cat := r.category[t]
		r.mu.RUnlock()
		infos = append(infos, NodeInfo{
			Category: cat,
			Type:     t,
			Inputs:   probe.InputPorts(),
			Outputs:  probe.OutputPorts(),
		})
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].Category != infos[j].Category {
			return infos[i].Category < infos[j].Category
		}
		return infos[i].Type < infos[j].Type
	})
	return infos
}
