package flow

// resolveInputs computes a node's effective inputs from the graph's static
// constants and the run's result store, applying the precedence order:
//
//  1. inbound connection whose upstream emitted the source port
//  2. static input_values constant
//  3. declared default (optional ports only)
//  4. absent (optional ports with no default)
//  5. MISSING_REQUIRED_INPUT failure
//
// Pure with respect to the graph; reads the result store through the
// RunContext's lock. A failure here is the node's failure, not a scheduler
// bug.
func resolveInputs(g *Graph, rc *RunContext, nodeID string) (map[string]any, error) {
	node := g.Node(nodeID)
	inbound := g.inboundFor(nodeID)
	statics := g.InputValues(nodeID)

	effective := make(map[string]any, len(node.InputPorts()))
	for name, port := range node.InputPorts() {
		value, supplied, err := resolvePort(rc, inbound, statics, nodeID, name)
		if err != nil {
			return nil, err
		}
		if !supplied {
			if port.Required {
				return nil, newMissingInputError(nodeID, name)
			}
			if port.Default == nil {
				continue // port is absent; Process must tolerate it
			}
			value = port.Default
		}

		coerced, err := coercePortValue(nodeID, port, value)
		if err != nil {
			return nil, err
		}
		if err := checkPortOptions(nodeID, port, coerced); err != nil {
			return nil, err
		}
		effective[name] = coerced
	}
	return effective, nil
}

// resolvePort finds the raw value for one input port, or reports that
// nothing supplies it. A connection whose upstream ran but did not emit the
// source port (a Switch branch not taken, say) does not shadow the static
// constant.
func resolvePort(rc *RunContext, inbound map[string]Connection, statics map[string]any, nodeID, port string) (any, bool, error) {
	if conn, ok := inbound[port]; ok {
		if outputs, done := rc.Result(conn.FromNode); done {
			if v, emitted := outputs[conn.FromPort]; emitted {
				return v, true, nil
			}
		}
	}
	if v, ok := statics[port]; ok {
		return v, true, nil
	}
	return nil, false, nil
}
