package flow

import (
	"encoding/json"
	"fmt"
	"sort"
)

// NodeDef is the JSON description of one node in a workflow.
//
// Saved workflows in the wild use both "inputs" and "input_values" for the
// static constants; both are accepted. When a file carries both, "inputs"
// wins per key.
type NodeDef struct {
	Type        string         `json:"type"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	InputValues map[string]any `json:"input_values,omitempty"`
}

// ConnectionDef mirrors Connection in the workflow JSON schema.
type ConnectionDef struct {
	FromNode string `json:"from_node"`
	FromPort string `json:"from_port"`
	ToNode   string `json:"to_node"`
	ToPort   string `json:"to_port"`
}

// Definition is the persisted JSON shape of a workflow graph:
//
//	{
//	  "nodes": { "<node_id>": { "type": "...", "inputs": { ... } }, ... },
//	  "connections": [
//	    { "from_node": "...", "from_port": "...",
//	      "to_node": "...", "to_port": "..." }, ...
//	  ]
//	}
//
// The same shape is embedded as a ForEach node's sub_workflow input.
type Definition struct {
	Nodes       map[string]NodeDef `json:"nodes"`
	Connections []ConnectionDef    `json:"connections"`
}

// StaticInputs merges the two accepted constant aliases for a node.
func (d NodeDef) StaticInputs() map[string]any {
	if d.InputValues == nil && d.Inputs == nil {
		return map[string]any{}
	}
	merged := make(map[string]any, len(d.InputValues)+len(d.Inputs))
	for k, v := range d.InputValues {
		merged[k] = v
	}
	for k, v := range d.Inputs {
		merged[k] = v
	}
	return merged
}

// ParseDefinition decodes workflow JSON.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parsing workflow json: %w", err)
	}
	return def, nil
}

// DefinitionFromValue converts an already-decoded JSON value (for example a
// ForEach sub_workflow input) into a Definition via a marshal round-trip.
func DefinitionFromValue(v any) (Definition, error) {
	if def, ok := v.(Definition); ok {
		return def, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Definition{}, fmt.Errorf("encoding sub-workflow value: %w", err)
	}
	return ParseDefinition(raw)
}

// BuildGraph materializes a validated Graph from a definition, creating one
// fresh node per entry through the registry.
//
// Node ids are instantiated in sorted order so that registry errors are
// deterministic across runs.
func BuildGraph(reg *Registry, def Definition) (*Graph, error) {
	g := NewGraph()

	ids := make([]string, 0, len(def.Nodes))
	for id := range def.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		nd := def.Nodes[id]
		statics := nd.StaticInputs()
		node, err := reg.New(nd.Type, id, statics)
		if err != nil {
			return nil, err
		}
		if err := g.AddNode(node, statics); err != nil {
			return nil, err
		}
	}

	for _, c := range def.Connections {
		conn := Connection{
			FromNode: c.FromNode,
			FromPort: c.FromPort,
			ToNode:   c.ToNode,
			ToPort:   c.ToPort,
		}
		if err := g.AddConnection(conn); err != nil {
			return nil, err
		}
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// ParseWorkflow decodes workflow JSON and builds the validated graph in one
// step.
func ParseWorkflow(reg *Registry, data []byte) (*Graph, error) {
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, err
	}
	return BuildGraph(reg, def)
}
