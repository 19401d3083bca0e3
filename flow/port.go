package flow

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// PortType is the declared value type of a port.
//
// TypeJSON and TypeObject are equivalent at runtime; both accept map values
// and both accept a string on a connection, which triggers a JSON parse on
// read. TypeAny disables type checking on that port.
type PortType string

const (
	TypeString  PortType = "string"
	TypeNumber  PortType = "number"
	TypeBoolean PortType = "boolean"
	TypeArray   PortType = "array"
	TypeObject  PortType = "object"
	TypeJSON    PortType = "json"
	TypeAny     PortType = "any"
)

// PortDescriptor describes a single named input or output of a node.
//
// Fields:
//   - Name: unique within the node's input set (or output set)
//   - Type: declared PortType, checked during port resolution
//   - Required: if true, an input port with no connection, no constant and
//     no default fails the node with MISSING_REQUIRED_INPUT before dispatch
//   - Default: used when Required is false and nothing supplies a value
//   - Options: when non-empty, the supplied value must be a member
type PortDescriptor struct {
	Name     string   `json:"name"`
	Type     PortType `json:"type"`
	Required bool     `json:"required"`
	Default  any      `json:"default,omitempty"`
	Options  []any    `json:"options,omitempty"`
}

// InPort builds an input descriptor. Required ports never carry defaults.
func InPort(name string, t PortType, required bool) PortDescriptor {
	return PortDescriptor{Name: name, Type: t, Required: required}
}

// InPortDefault builds an optional input descriptor with a default value.
func InPortDefault(name string, t PortType, def any) PortDescriptor {
	return PortDescriptor{Name: name, Type: t, Default: def}
}

// OutPort builds an output descriptor.
func OutPort(name string, t PortType) PortDescriptor {
	return PortDescriptor{Name: name, Type: t}
}

// compatibleTypes reports whether a connection from an output of type `from`
// may target an input of type `to`.
//
// Rules: either side any, equal types, json/object interchangeable, or
// string into json/object (parse-on-read).
func compatibleTypes(from, to PortType) bool {
	if from == TypeAny || to == TypeAny {
		return true
	}
	if from == to {
		return true
	}
	if isObjectType(from) && isObjectType(to) {
		return true
	}
	if from == TypeString && isObjectType(to) {
		return true
	}
	return false
}

func isObjectType(t PortType) bool {
	return t == TypeObject || t == TypeJSON
}

// coercePortValue checks a resolved value against the port's declared type
// and applies the single permitted coercion: string into json/object via a
// JSON parse. All other mismatches raise TYPE_MISMATCH.
func coercePortValue(nodeID string, port PortDescriptor, v any) (any, error) {
	if v == nil || port.Type == TypeAny {
		return v, nil
	}
	switch port.Type {
	case TypeString:
		if _, ok := v.(string); !ok {
			return nil, newTypeMismatchError(nodeID, port.Name, port.Type, v)
		}
		return v, nil
	case TypeNumber:
		f, ok := asNumber(v)
		if !ok {
			return nil, newTypeMismatchError(nodeID, port.Name, port.Type, v)
		}
		return f, nil
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return nil, newTypeMismatchError(nodeID, port.Name, port.Type, v)
		}
		return v, nil
	case TypeArray:
		if reflect.ValueOf(v).Kind() != reflect.Slice {
			return nil, newTypeMismatchError(nodeID, port.Name, port.Type, v)
		}
		return v, nil
	case TypeObject, TypeJSON:
		if s, ok := v.(string); ok {
			var parsed any
			if err := json.Unmarshal([]byte(s), &parsed); err != nil {
				return nil, newCoercionError(nodeID, port.Name, err)
			}
			return parsed, nil
		}
		if reflect.ValueOf(v).Kind() != reflect.Map {
			return nil, newTypeMismatchError(nodeID, port.Name, port.Type, v)
		}
		return v, nil
	}
	return v, nil
}

// checkPortOptions enforces the finite admissible-value set, when declared.
func checkPortOptions(nodeID string, port PortDescriptor, v any) error {
	if len(port.Options) == 0 {
		return nil
	}
	for _, opt := range port.Options {
		if looseEquals(opt, v) {
			return nil
		}
	}
	return &NodeError{
		Message: fmt.Sprintf("input port %q: value %v not in declared options", port.Name, v),
		Code:    CodeInvalidPortOption,
		NodeID:  nodeID,
	}
}

// asNumber normalizes the numeric kinds that reach the engine (Go literals
// in tests, float64 from JSON decoding) to float64.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// isEmptyValue implements the emptiness rule shared by Merge and
// PassThrough: nil, empty array, empty map, and whitespace-only strings are
// empty. Zero, false, and 0.0 are NOT empty.
func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x) == ""
	case bool, float64, float32, int, int32, int64, json.Number:
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// looseEquals compares two values with numeric normalization, so that the
// int 3 and the float64 3.0 a JSON decoder produces compare equal.
func looseEquals(a, b any) bool {
	if fa, ok := asNumber(a); ok {
		if fb, ok := asNumber(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}
