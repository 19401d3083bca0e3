package flow

import (
	"fmt"
	"sort"
)

// Connection routes one node's output port to another node's input port.
//
// Invariants enforced by Graph.Validate:
//  1. All four endpoints refer to existing nodes and ports.
//  2. FromPort is an output port; ToPort is an input port.
//  3. At most one connection targets a given (ToNode, ToPort) pair.
//  4. Port types are compatible (see compatibleTypes).
type Connection struct {
	FromNode string `json:"from_node"`
	FromPort string `json:"from_port"`
	ToNode   string `json:"to_node"`
	ToPort   string `json:"to_port"`
}

// Graph is an acyclic collection of nodes and connections.
//
// Build one with AddNode/AddConnection, then call Validate before handing
// it to an Executor. A Graph is not safe for concurrent mutation; once
// validated it is read-only during execution.
type Graph struct {
	nodes       map[string]Node
	inputValues map[string]map[string]any
	connections []Connection
	connSet     map[Connection]bool

	// derived by Validate
	inbound    map[string]map[string]Connection
	successors map[string][]string
	inDegree   map[string]int
	validated  bool
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:       make(map[string]Node),
		inputValues: make(map[string]map[string]any),
		connSet:     make(map[Connection]bool),
	}
}

// AddNode registers a node and its static input constants. The constants
// are the workflow description's input_values for this node; an inbound
// connection on the same port overrides them at resolution time.
func (g *Graph) AddNode(node Node, inputValues map[string]any) error {
	id := node.ID()
	if id == "" {
		return &EngineError{Message: "node id must be non-empty", Code: CodeGraphValidation}
	}
	if _, exists := g.nodes[id]; exists {
		return &EngineError{
			Message: fmt.Sprintf("duplicate node id %q", id),
			Code:    CodeDuplicateNode,
		}
	}
	g.nodes[id] = node
	if inputValues == nil {
		inputValues = map[string]any{}
	}
	g.inputValues[id] = inputValues
	g.validated = false
	return nil
}

// AddConnection appends a connection. Exact duplicates (same 4-tuple) are
// silently dropped; two distinct connections to the same target port are
// rejected at Validate.
func (g *Graph) AddConnection(c Connection) error {
	if c.FromNode == "" || c.FromPort == "" || c.ToNode == "" || c.ToPort == "" {
		return &EngineError{
			Message: "connection endpoints must all be non-empty",
			Code:    CodeGraphValidation,
		}
	}
	if g.connSet[c] {
		return nil
	}
	g.connSet[c] = true
	g.connections = append(g.connections, c)
	g.validated = false
	return nil
}

// Node returns the node registered under id, or nil.
func (g *Graph) Node(id string) Node { return g.nodes[id] }

// NodeIDs returns all node ids in sorted order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// InputValues returns the static constants for a node.
func (g *Graph) InputValues(id string) map[string]any { return g.inputValues[id] }

// Connections returns the connection list. Order is non-semantic.
func (g *Graph) Connections() []Connection {
	out := make([]Connection, len(g.connections))
	copy(out, g.connections)
	return out
}

// Validate checks all structural invariants and precomputes the indexes the
// executor needs: per-node in-degrees, successor lists, and the reverse
// connection index (target node and port to source).
//
// Returns an EngineError with code GRAPH_VALIDATION for endpoint, direction,
// duplicate-target and type failures, or CYCLIC_GRAPH naming the nodes on a
// cycle. A graph that fails Validate must not be executed.
func (g *Graph) Validate() error {
	inbound := make(map[string]map[string]Connection)
	successors := make(map[string][]string)
	inDegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = 0
	}

	for _, c := range g.connections {
		from, ok := g.nodes[c.FromNode]
		if !ok {
			return validationErrorf("connection references unknown source node %q", c.FromNode)
		}
		to, ok := g.nodes[c.ToNode]
		if !ok {
			return validationErrorf("connection references unknown target node %q", c.ToNode)
		}
		fromPort, ok := from.OutputPorts()[c.FromPort]
		if !ok {
			return validationErrorf("node %q has no output port %q", c.FromNode, c.FromPort)
		}
		toPort, ok := to.InputPorts()[c.ToPort]
		if !ok {
			return validationErrorf("node %q has no input port %q", c.ToNode, c.ToPort)
		}
		if !compatibleTypes(fromPort.Type, toPort.Type) {
			return validationErrorf("incompatible connection %s.%s (%s) -> %s.%s (%s)",
				c.FromNode, c.FromPort, fromPort.Type, c.ToNode, c.ToPort, toPort.Type)
		}

		ports := inbound[c.ToNode]
		if ports == nil {
			ports = make(map[string]Connection)
			inbound[c.ToNode] = ports
		}
		if prev, dup := ports[c.ToPort]; dup {
			return validationErrorf("input port %s.%s targeted by both %s.%s and %s.%s",
				c.ToNode, c.ToPort, prev.FromNode, prev.FromPort, c.FromNode, c.FromPort)
		}
		ports[c.ToPort] = c

		successors[c.FromNode] = append(successors[c.FromNode], c.ToNode)
		inDegree[c.ToNode]++
	}

	if err := checkAcyclic(inDegree, successors); err != nil {
		return err
	}

	g.inbound = inbound
	g.successors = successors
	g.inDegree = inDegree
	g.validated = true
	return nil
}

// checkAcyclic runs Kahn's algorithm over a copy of the in-degree map and
// reports the nodes left unordered: those on a cycle, plus any node
// downstream of one.
func checkAcyclic(inDegree map[string]int, successors map[string][]string) error {
	degrees := make(map[string]int, len(inDegree))
	queue := make([]string, 0, len(inDegree))
	for id, d := range inDegree {
		degrees[id] = d
		if d == 0 {
			queue = append(queue, id)
		}
	}

	ordered := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered++
		for _, succ := range successors[id] {
			degrees[succ]--
			if degrees[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if ordered == len(degrees) {
		return nil
	}

	var cyclic []string
	for id, d := range degrees {
		if d > 0 {
			cyclic = append(cyclic, id)
		}
	}
	sort.Strings(cyclic)
	return &EngineError{
		Message: fmt.Sprintf("graph contains a cycle; unorderable nodes (on or downstream of it): %v", cyclic),
		Code:    CodeCyclicGraph,
	}
}

// inboundFor returns the reverse connection index for one node: input port
// name to the connection supplying it. Valid only after Validate.
func (g *Graph) inboundFor(nodeID string) map[string]Connection {
	return g.inbound[nodeID]
}

func validationErrorf(format string, args ...any) *EngineError {
	return &EngineError{
		Message: fmt.Sprintf(format, args...),
		Code:    CodeGraphValidation,
	}
}
