// Package nodes provides the built-in leaf node library: text, list, math
// and JSON processing nodes registered alongside the engine's control
// nodes.
package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/nodeflow/nodeflow-go/flow"
)

// TextInput passes a constant text value into the graph. Typically driven
// entirely by its input_values.
type TextInput struct {
	flow.BaseNode
}

func NewTextInput(id string, _ map[string]any) (flow.Node, error) {
	return &TextInput{BaseNode: flow.NewBaseNode(id, "TextInput",
		flow.Ports(flow.InPort("text", flow.TypeString, true)),
		flow.Ports(flow.OutPort("text", flow.TypeString)),
	)}, nil
}

func (n *TextInput) Process(_ context.Context, inputs map[string]any) (map[string]any, error) {
	return map[string]any{"text": inputs["text"]}, nil
}

// NumberInput passes a constant numeric value into the graph.
type NumberInput struct {
	flow.BaseNode
}

func NewNumberInput(id string, _ map[string]any) (flow.Node, error) {
	return &NumberInput{BaseNode: flow.NewBaseNode(id, "NumberInput",
		flow.Ports(flow.InPort("value", flow.TypeNumber, true)),
		flow.Ports(flow.OutPort("value", flow.TypeNumber)),
	)}, nil
}

func (n *NumberInput) Process(_ context.Context, inputs map[string]any) (map[string]any, error) {
	return map[string]any{"value": inputs["value"]}, nil
}

// TextStrip trims leading and trailing whitespace.
type TextStrip struct {
	flow.BaseNode
}

func NewTextStrip(id string, _ map[string]any) (flow.Node, error) {
	return &TextStrip{BaseNode: flow.NewBaseNode(id, "TextStrip",
		flow.Ports(flow.InPort("text", flow.TypeString, true)),
		flow.Ports(flow.OutPort("text", flow.TypeString)),
	)}, nil
}

func (n *TextStrip) Process(_ context.Context, inputs map[string]any) (map[string]any, error) {
	text, _ := inputs["text"].(string)
	return map[string]any{"text": strings.TrimSpace(text)}, nil
}

// TextToList splits text into a list. Formats:
//   - delimited: split on the delimiter input (default ","), trimming each
//     part and dropping empty parts
//   - lines: split on newlines, keeping non-empty lines
//   - chars: one element per rune
type TextToList struct {
	flow.BaseNode
}

func NewTextToList(id string, _ map[string]any) (flow.Node, error) {
	return &TextToList{BaseNode: flow.NewBaseNode(id, "TextToList",
		flow.Ports(
			flow.InPort("text", flow.TypeString, true),
			flow.PortDescriptor{
				Name:    "format",
				Type:    flow.TypeString,
				Default: "delimited",
				Options: []any{"delimited", "lines", "chars"},
			},
			flow.InPortDefault("delimiter", flow.TypeString, ","),
		),
		flow.Ports(flow.OutPort("list", flow.TypeArray)),
	)}, nil
}

func (n *TextToList) Process(_ context.Context, inputs map[string]any) (map[string]any, error) {
	text, _ := inputs["text"].(string)
	format, _ := inputs["format"].(string)
	delimiter, _ := inputs["delimiter"].(string)

	list := []any{}
	switch format {
	case "lines":
		for _, line := range strings.Split(text, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				list = append(list, line)
			}
		}
	case "chars":
		for _, r := range text {
			list = append(list, string(r))
		}
	default: // delimited
		for _, part := range strings.Split(text, delimiter) {
			if part = strings.TrimSpace(part); part != "" {
				list = append(list, part)
			}
		}
	}
	return map[string]any{"list": list}, nil
}

// ListToText joins list elements with a delimiter, rendering non-string
// elements with %v.
type ListToText struct {
	flow.BaseNode
}

func NewListToText(id string, _ map[string]any) (flow.Node, error) {
	return &ListToText{BaseNode: flow.NewBaseNode(id, "ListToText",
		flow.Ports(
			flow.InPort("list", flow.TypeArray, true),
			flow.InPortDefault("delimiter", flow.TypeString, "\n"),
		),
		flow.Ports(flow.OutPort("text", flow.TypeString)),
	)}, nil
}

func (n *ListToText) Process(_ context.Context, inputs map[string]any) (map[string]any, error) {
	list, _ := inputs["list"].([]any)
	delimiter, _ := inputs["delimiter"].(string)

	parts := make([]string, len(list))
	for i, item := range list {
		if s, ok := item.(string); ok {
			parts[i] = s
		} else {
			parts[i] = fmt.Sprintf("%v", item)
		}
	}
	return map[string]any{"text": strings.Join(parts, delimiter)}, nil
}

// TextCombiner substitutes {text_a}, {text_b} and {text_c} placeholders in
// a prompt template and reports which variables were actually used.
type TextCombiner struct {
	flow.BaseNode
}

func NewTextCombiner(id string, _ map[string]any) (flow.Node, error) {
	return &TextCombiner{BaseNode: flow.NewBaseNode(id, "TextCombiner",
		flow.Ports(
			flow.InPort("prompt", flow.TypeString, true),
			flow.InPort("text_a", flow.TypeString, false),
			flow.InPort("text_b", flow.TypeString, false),
			flow.InPort("text_c", flow.TypeString, false),
		),
		flow.Ports(
			flow.OutPort("combined_text", flow.TypeString),
			flow.OutPort("used_variables", flow.TypeArray),
		),
	)}, nil
}

func (n *TextCombiner) Process(_ context.Context, inputs map[string]any) (map[string]any, error) {
	combined, _ := inputs["prompt"].(string)
	used := []any{}
	for _, name := range []string{"text_a", "text_b", "text_c"} {
		value, present := inputs[name]
		if !present {
			continue
		}
		placeholder := "{" + name + "}"
		if strings.Contains(combined, placeholder) {
			text, _ := value.(string)
			combined = strings.ReplaceAll(combined, placeholder, text)
			used = append(used, name)
		}
	}
	return map[string]any{
		"combined_text":  combined,
		"used_variables": used,
	}, nil
}
