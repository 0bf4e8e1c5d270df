package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
)

// bindingPattern matches template expressions of the form {{ref}} where ref
// is "trigger.<path>" or "node.<id>.<path>".
var bindingPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// bindingContext resolves template references against the trigger payload
// and upstream node outputs. Values are addressed through their JSON
// encoding so nested paths work uniformly for both sources.
type bindingContext struct {
	triggerJSON []byte
	outputs     map[string]map[string]any
	outputJSON  map[string][]byte
}

func newBindingContext(trigger domain.TriggerPayload, outputs map[string]map[string]any) (*bindingContext, error) {
	triggerJSON, err := json.Marshal(trigger.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trigger data: %w", err)
	}
	return &bindingContext{
		triggerJSON: triggerJSON,
		outputs:     outputs,
		outputJSON:  make(map[string][]byte),
	}, nil
}

// ResolveBindings returns a copy of cfg with every template expression in
// string values replaced. A string that is exactly one expression resolves
// to the referenced value with its type preserved; expressions embedded in
// longer strings are spliced in as text. Unresolvable references resolve
// to nil / empty text.
func ResolveBindings(cfg map[string]any, trigger domain.TriggerPayload, outputs map[string]map[string]any) (map[string]any, error) {
	if len(cfg) == 0 {
		return map[string]any{}, nil
	}

	bc, err := newBindingContext(trigger, outputs)
	if err != nil {
		return nil, err
	}

	resolved := bc.resolveValue(cfg)
	out, ok := resolved.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("resolved config is not a map")
	}
	return out, nil
}

func (bc *bindingContext) resolveValue(v any) any {
	switch tv := v.(type) {
	case string:
		return bc.resolveString(tv)
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, item := range tv {
			out[k] = bc.resolveValue(item)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = bc.resolveValue(item)
		}
		return out
	default:
		return v
	}
}

func (bc *bindingContext) resolveString(s string) any {
	// Whole-string expression: preserve the referenced value's type.
	if m := bindingPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		val, _ := bc.lookup(m[1])
		return val
	}

	return bindingPattern.ReplaceAllStringFunc(s, func(expr string) string {
		ref := bindingPattern.FindStringSubmatch(expr)[1]
		_, text := bc.lookup(ref)
		return text
	})
}

// lookup resolves a reference to its typed value and text form.
func (bc *bindingContext) lookup(ref string) (any, string) {
	parts := strings.SplitN(ref, ".", 2)
	switch parts[0] {
	case "trigger":
		if len(parts) == 1 {
			return decodeWhole(bc.triggerJSON)
		}
		res := gjson.GetBytes(bc.triggerJSON, parts[1])
		if !res.Exists() {
			return nil, ""
		}
		return res.Value(), res.String()

	case "node":
		if len(parts) < 2 {
			return nil, ""
		}
		rest := strings.SplitN(parts[1], ".", 2)
		nodeID := rest[0]
		data, ok := bc.outputJSONFor(nodeID)
		if !ok {
			return nil, ""
		}
		if len(rest) == 1 {
			return decodeWhole(data)
		}
		res := gjson.GetBytes(data, rest[1])
		if !res.Exists() {
			return nil, ""
		}
		return res.Value(), res.String()
	}
	return nil, ""
}

func (bc *bindingContext) outputJSONFor(nodeID string) ([]byte, bool) {
	if data, ok := bc.outputJSON[nodeID]; ok {
		return data, true
	}
	output, ok := bc.outputs[nodeID]
	if !ok {
		return nil, false
	}
	data, err := json.Marshal(output)
	if err != nil {
		return nil, false
	}
	bc.outputJSON[nodeID] = data
	return data, true
}

func decodeWhole(data []byte) (any, string) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, ""
	}
	return v, string(data)
}
