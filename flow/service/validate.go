package service

import (
	"fmt"

	"github.com/nodeflow/nodeflow-go/flow"
)

// ValidateRequest is a sub-workflow validation request from a UI: the
// embedded graph plus the result extraction target a ForEach node would
// use.
type ValidateRequest struct {
	Nodes          map[string]flow.NodeDef `json:"nodes"`
	Connections    []flow.ConnectionDef    `json:"connections"`
	ResultNodeID   string                  `json:"result_node_id"`
	ResultPortName string                  `json:"result_port_name"`
}

// ValidateResult carries hard errors (the sub-workflow cannot run) and
// warnings (it can run but looks suspicious).
type ValidateResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValidateSubWorkflow checks a sub-workflow description without executing
// it. Errors include: node types unknown to the registry, no ForEachItem
// entry node, a missing result node, a result port the result node does not
// declare, and any structural failure (cycles, dangling connections,
// duplicate targets). Orphan nodes are warnings.
func (m *Manager) ValidateSubWorkflow(req ValidateRequest) ValidateResult {
	result := ValidateResult{Errors: []string{}, Warnings: []string{}}

	hasForEachItem := false
	typesOK := true
	for id, nd := range req.Nodes {
		if !m.reg.Has(nd.Type) {
			result.Errors = append(result.Errors, fmt.Sprintf("node %q has unknown type %q", id, nd.Type))
			typesOK = false
			continue
		}
		if nd.Type == "ForEachItem" {
			hasForEachItem = true
		}
	}
	if !hasForEachItem {
		result.Errors = append(result.Errors, "sub-workflow has no ForEachItem entry node")
	}

	_, hasResultNode := req.Nodes[req.ResultNodeID]
	if !hasResultNode {
		result.Errors = append(result.Errors, fmt.Sprintf("result node %q not present in sub-workflow", req.ResultNodeID))
	}

	if typesOK {
		def := flow.Definition{Nodes: req.Nodes, Connections: req.Connections}
		g, err := flow.BuildGraph(m.reg, def)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		} else {
			if hasResultNode {
				node := g.Node(req.ResultNodeID)
				if _, declared := node.OutputPorts()[req.ResultPortName]; !declared {
					result.Errors = append(result.Errors,
						fmt.Sprintf("result node %q declares no output port %q", req.ResultNodeID, req.ResultPortName))
				}
			}
			result.Warnings = append(result.Warnings, orphanWarnings(req)...)
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// orphanWarnings flags nodes no connection touches. A single-node
// sub-workflow is legitimately connection-free, so it is exempt.
func orphanWarnings(req ValidateRequest) []string {
	if len(req.Nodes) <= 1 {
		return nil
	}
	connected := make(map[string]bool)
	for _, c := range req.Connections {
		connected[c.FromNode] = true
		connected[c.ToNode] = true
	}
	var warnings []string
	for id := range req.Nodes {
		if !connected[id] {
			warnings = append(warnings, fmt.Sprintf("node %q is not connected to any other node", id))
		}
	}
	return warnings
}
