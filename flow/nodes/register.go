package nodes

import "github.com/nodeflow/nodeflow-go/flow"

// RegisterBuiltins registers the leaf node library. Call once at service
// start, after flow.RegisterControls.
func RegisterBuiltins(reg *flow.Registry) error {
	register := []struct {
		category string
		name     string
		factory  flow.Factory
	}{
		{"input", "TextInput", NewTextInput},
		{"input", "NumberInput", NewNumberInput},
		{"text", "TextStrip", NewTextStrip},
		{"text", "TextToList", NewTextToList},
		{"text", "ListToText", NewListToText},
		{"text", "TextCombiner", NewTextCombiner},
		{"math", "MathOperation", NewMathOperation},
		{"list", "ListLength", NewListLength},
		{"list", "ListIndex", NewListIndex},
		{"list", "ListAppend", NewListAppend},
		{"json", "JsonParse", NewJsonParse},
		{"json", "JsonExtract", NewJsonExtract},
	}
	for _, r := range register {
		if err := reg.Register(r.category, r.name, r.factory); err != nil {
			return err
		}
	}
	return nil
}
