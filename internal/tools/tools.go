// Package tools defines the capabilities agents may invoke through the LLM
// tool-call protocol and dispatches calls to them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// Tool is a named capability. Parameters is a JSON schema object describing
// the arguments Call expects.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Call        func(ctx context.Context, args json.RawMessage) (string, error)
}

// New builds a Tool whose parameter schema is reflected from In. Arguments
// are decoded into In before fn runs.
func New[In any](name, description string, fn func(ctx context.Context, in In) (string, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Parameters:  schemaFor(reflect.TypeFor[In]()),
		Call: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in In
			if len(args) > 0 && string(args) != "null" {
				if err := json.Unmarshal(args, &in); err != nil {
					return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
				}
			}
			return fn(ctx, in)
		},
	}
}

func schemaFor(t reflect.Type) map[string]any {
	reflector := &jsonschema.Reflector{
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.ReflectFromType(t)

	data, _ := json.Marshal(schema)
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	if m == nil {
		m = map[string]any{}
	}
	delete(m, "$schema")
	delete(m, "$id")
	m["type"] = "object"
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]any{}
	}
	return m
}

// Set is an ordered collection of tools with unique names.
type Set []Tool

func (s Set) Lookup(name string) (Tool, bool) {
	for _, t := range s {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// Subset returns the tools named, in the order given. Unknown names are
// skipped.
func (s Set) Subset(names ...string) Set {
	out := make(Set, 0, len(names))
	for _, n := range names {
		if t, ok := s.Lookup(n); ok {
			out = append(out, t)
		}
	}
	return out
}

func (s Set) Names() []string {
	names := make([]string, len(s))
	for i, t := range s {
		names[i] = t.Name
	}
	return names
}

// Dispatch runs the named tool and returns its output. Failures never
// surface as Go errors: an unknown tool, malformed arguments or a failing
// capability produce a message with isError set, which the caller hands
// back to the model as the tool result.
func (s Set) Dispatch(ctx context.Context, name string, args json.RawMessage) (output string, isError bool) {
	t, ok := s.Lookup(name)
	if !ok {
		return fmt.Sprintf("unknown tool: %s", name), true
	}
	out, err := t.Call(ctx, args)
	if err != nil {
		return fmt.Sprintf("tool %s failed: %v", name, err), true
	}
	return out, false
}
