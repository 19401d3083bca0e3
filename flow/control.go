package flow

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RegisterControls registers the built-in control node types every registry
// must carry: ForEachItem, Switch, Merge, PassThrough, and ForEach. Their
// semantics are part of the execution model, unlike the pluggable leaf node
// library.
func RegisterControls(reg *Registry) error {
	register := []struct {
		name    string
		factory Factory
	}{
		{"ForEachItem", NewForEachItem},
		{"Switch", NewSwitch},
		{"Merge", NewMerge},
		{"PassThrough", NewPassThrough},
		{"ForEach", newForEachFactory(reg)},
	}
	for _, r := range register {
		if err := reg.Register("control", r.name, r.factory); err != nil {
			return err
		}
	}
	return nil
}

// ForEachItem is the distinguished sub-workflow entry node. The ForEach
// engine overwrites its foreach_* input constants per iteration with the
// current item, index and global variables; Process is a pure pass-through
// onto the item/index/global_vars output ports.
type ForEachItem struct {
	BaseNode
}

// NewForEachItem builds a ForEachItem node. All inputs are optional; they
// are injected by the ForEach engine, not wired by workflow authors.
func NewForEachItem(id string, _ map[string]any) (Node, error) {
	return &ForEachItem{BaseNode: NewBaseNode(id, "ForEachItem",
		Ports(
			InPort("foreach_item", TypeAny, false),
			InPort("foreach_index", TypeNumber, false),
			InPort("foreach_global_vars", TypeObject, false),
		),
		Ports(
			OutPort("item", TypeAny),
			OutPort("index", TypeNumber),
			OutPort("global_vars", TypeObject),
		),
	)}, nil
}

func (n *ForEachItem) Process(_ context.Context, inputs map[string]any) (map[string]any, error) {
	outputs := map[string]any{}
	if v, ok := inputs["foreach_item"]; ok {
		outputs["item"] = v
	}
	if v, ok := inputs["foreach_index"]; ok {
		outputs["index"] = v
	}
	if v, ok := inputs["foreach_global_vars"]; ok {
		outputs["global_vars"] = v
	}
	return outputs, nil
}

// Switch routes its data input to one of output_0..output_{n-1} or
// fallback, driven by a rule list evaluated against dotted field paths.
//
// Each rule is an object {field, operator, value, output_index}. In
// first_match mode the first matching rule (list order) wins and exactly
// one output port is emitted; in all_matches mode every matching rule's
// output receives the data. When no rule matches, fallback receives it.
type Switch struct {
	BaseNode
	outputCount int
}

// NewSwitch builds a Switch. The port count comes from the build-time
// output_count constant (default 1, minimum 1).
func NewSwitch(id string, inputs map[string]any) (Node, error) {
	count := intFromInputs(inputs, "output_count", 1)
	if count < 1 {
		count = 1
	}

	outputs := Ports(OutPort("fallback", TypeAny))
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("output_%d", i)
		outputs[name] = OutPort(name, TypeAny)
	}

	return &Switch{
		BaseNode: NewBaseNode(id, "Switch",
			Ports(
				InPort("data", TypeAny, true),
				InPortDefault("rules", TypeArray, []any{}),
				PortDescriptor{
					Name:    "mode",
					Type:    TypeString,
					Default: "first_match",
					Options: []any{"first_match", "all_matches"},
				},
				InPortDefault("output_count", TypeNumber, float64(1)),
			),
			outputs,
		),
		outputCount: count,
	}, nil
}

func (n *Switch) Process(_ context.Context, inputs map[string]any) (map[string]any, error) {
	data := inputs["data"]
	mode, _ := inputs["mode"].(string)
	rules, _ := inputs["rules"].([]any)

	outputs := map[string]any{}
	matched := false
	for i, raw := range rules {
		rule, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rule %d is not an object", i)
		}
		hit, err := evalRule(data, rule)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if !hit {
			continue
		}

		idx := intFromInputs(rule, "output_index", 0)
		if idx < 0 || idx >= n.outputCount {
			return nil, fmt.Errorf("rule %d routes to output_%d but only %d outputs are declared", i, idx, n.outputCount)
		}
		name := fmt.Sprintf("output_%d", idx)

		matched = true
		if mode == "all_matches" {
			outputs[name] = data
			continue
		}
		// first_match: first rule in list order wins, including when two
		// rules share an output_index.
		outputs[name] = data
		break
	}

	if !matched {
		outputs["fallback"] = data
	}
	return outputs, nil
}

// evalRule resolves the rule's field path against data and applies its
// operator.
func evalRule(data any, rule map[string]any) (bool, error) {
	field, _ := rule["field"].(string)
	operator, _ := rule["operator"].(string)
	expected := rule["value"]

	value, found := LookupPath(data, field)

	switch operator {
	case "is_empty":
		return !found || isEmptyValue(value), nil
	case "is_not_empty":
		return found && !isEmptyValue(value), nil
	}
	if !found {
		return false, nil
	}

	switch operator {
	case "equals":
		return looseEquals(value, expected), nil
	case "not_equals":
		return !looseEquals(value, expected), nil
	case "greater", "greater_equal", "less", "less_equal":
		return compareOrdered(operator, value, expected)
	case "contains":
		return containsValue(value, expected), nil
	case "not_contains":
		return !containsValue(value, expected), nil
	case "starts_with":
		s, ok1 := value.(string)
		prefix, ok2 := expected.(string)
		return ok1 && ok2 && strings.HasPrefix(s, prefix), nil
	case "ends_with":
		s, ok1 := value.(string)
		suffix, ok2 := expected.(string)
		return ok1 && ok2 && strings.HasSuffix(s, suffix), nil
	case "regex":
		pattern, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("regex operator requires a string pattern, got %T", expected)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid regex %q: %w", pattern, err)
		}
		s, ok := value.(string)
		return ok && re.MatchString(s), nil
	}
	return false, fmt.Errorf("unknown operator %q", operator)
}

// LookupPath walks a dotted path through nested maps and slices. Integer
// segments index into arrays. An empty path yields data itself.
//
// Shared by the Switch rule evaluator and the JSON extraction leaf nodes.
func LookupPath(data any, path string) (any, bool) {
	if path == "" {
		return data, true
	}
	current := data
	for _, seg := range strings.Split(path, ".") {
		switch c := current.(type) {
		case map[string]any:
			v, ok := c[seg]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			current = c[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func compareOrdered(operator string, a, b any) (bool, error) {
	var cmp int
	if fa, ok := asNumber(a); ok {
		fb, ok := asNumber(b)
		if !ok {
			return false, nil
		}
		switch {
		case fa < fb:
			cmp = -1
		case fa > fb:
			cmp = 1
		}
	} else if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return false, nil
		}
		cmp = strings.Compare(sa, sb)
	} else {
		return false, fmt.Errorf("operator %q requires numbers or strings, got %T", operator, a)
	}

	switch operator {
	case "greater":
		return cmp > 0, nil
	case "greater_equal":
		return cmp >= 0, nil
	case "less":
		return cmp < 0, nil
	case "less_equal":
		return cmp <= 0, nil
	}
	return false, fmt.Errorf("unknown comparison %q", operator)
}

func containsValue(value, expected any) bool {
	switch c := value.(type) {
	case string:
		s, ok := expected.(string)
		return ok && strings.Contains(c, s)
	case []any:
		for _, item := range c {
			if looseEquals(item, expected) {
				return true
			}
		}
	case map[string]any:
		key, ok := expected.(string)
		if !ok {
			return false
		}
		_, present := c[key]
		return present
	}
	return false
}

// Merge emits the first non-empty input by ascending index.
//
// Emptiness follows isEmptyValue: nil/absent, empty array, empty object and
// whitespace-only strings are empty; zero, false and 0.0 are not. When all
// inputs are empty, selected_index is -1, has_result is false, and the
// output port is absent.
type Merge struct {
	BaseNode
	inputCount int
}

// NewMerge builds a Merge. The port count comes from the build-time
// input_count constant (default 2, minimum 1).
func NewMerge(id string, inputs map[string]any) (Node, error) {
	count := intFromInputs(inputs, "input_count", 2)
	if count < 1 {
		count = 1
	}

	in := Ports(InPortDefault("input_count", TypeNumber, float64(2)))
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("input_%d", i)
		in[name] = InPort(name, TypeAny, false)
	}

	return &Merge{
		BaseNode: NewBaseNode(id, "Merge", in, Ports(
			OutPort("output", TypeAny),
			OutPort("selected_index", TypeNumber),
			OutPort("has_result", TypeBoolean),
		)),
		inputCount: count,
	}, nil
}

func (n *Merge) Process(_ context.Context, inputs map[string]any) (map[string]any, error) {
	for i := 0; i < n.inputCount; i++ {
		v, present := inputs[fmt.Sprintf("input_%d", i)]
		if present && !isEmptyValue(v) {
			return map[string]any{
				"output":         v,
				"selected_index": float64(i),
				"has_result":     true,
			}, nil
		}
	}
	return map[string]any{
		"selected_index": float64(-1),
		"has_result":     false,
	}, nil
}

// PassThrough gates its data input on a control signal: data flows to the
// output only when control is non-empty, or unconditionally when
// pass_on_empty is true.
type PassThrough struct {
	BaseNode
}

// NewPassThrough builds a PassThrough node.
func NewPassThrough(id string, _ map[string]any) (Node, error) {
	return &PassThrough{BaseNode: NewBaseNode(id, "PassThrough",
		Ports(
			InPort("data", TypeAny, false),
			InPort("control", TypeAny, false),
			InPortDefault("pass_on_empty", TypeBoolean, false),
		),
		Ports(OutPort("output", TypeAny)),
	)}, nil
}

func (n *PassThrough) Process(_ context.Context, inputs map[string]any) (map[string]any, error) {
	passOnEmpty, _ := inputs["pass_on_empty"].(bool)
	if !passOnEmpty && isEmptyValue(inputs["control"]) {
		return map[string]any{}, nil
	}
	data, present := inputs["data"]
	if !present {
		return map[string]any{}, nil
	}
	return map[string]any{"output": data}, nil
}

// intFromInputs reads an integer-valued constant from a build-time or rule
// map, tolerating the float64 values JSON decoding produces.
func intFromInputs(inputs map[string]any, key string, def int) int {
	if inputs == nil {
		return def
	}
	if v, ok := inputs[key]; ok {
		if f, ok := asNumber(v); ok {
			return int(f)
		}
	}
	return def
}
