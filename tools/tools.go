package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema of the arguments object.
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Failure is an error whose text is returned to the model verbatim.
type Failure string

func (f Failure) Error() string { return string(f) }

func failf(format string, a ...any) error {
	return Failure(fmt.Sprintf(format, a...))
}

// Definition is the function declaration sent to the provider.
type Definition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Registry holds all available tools.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	if _, ok := r.tools[t.Name()]; !ok {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get finds a tool by exact name, falling back to the builtin its alias
// belongs to.
func (r *Registry) Get(name string) (Tool, bool) {
	if t, ok := r.tools[name]; ok {
		return t, true
	}
	if k := KindOf(name); k != KindUnknown {
		t, ok := r.tools[k.String()]
		return t, ok
	}
	return nil, false
}

// Names lists registered tools in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Definitions renders every tool for a provider request.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, Definition{
			Type: "function",
			Function: FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// DecodeArgs parses a streamed arguments string. Malformed or empty input
// yields an empty map.
func DecodeArgs(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

func stringParam(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}

func intParam(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func boolParam(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// schema builds an object schema from property name to {type, description}.
func schema(required []string, props map[string]map[string]any) map[string]any {
	properties := make(map[string]any, len(props))
	for name, p := range props {
		properties[name] = p
	}
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, fmt.Errorf("invalid glob pattern '%s': %w", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}
