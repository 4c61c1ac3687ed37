package tools

import (
	"context"
	"strings"

	"github.com/go-logr/logr"
	"github.com/m4xw311/conductor/errors"
)

// Builtins returns the builtin tool set bound to env.
func Builtins(env *Env) []Tool {
	return []Tool{
		&BashTool{env: env},
		&ReadTool{env: env},
		&EditTool{env: env},
		&WriteTool{env: env},
		&GlobTool{env: env},
		&GrepTool{env: env},
		&ListTool{env: env},
		&FileInfoTool{env: env},
		AskUserTool{},
		ConfirmPlanTool{},
		NewWebSearchTool(nil),
		TodoWriteTool{},
	}
}

// NewBuiltinRegistry registers Builtins(env) in a fresh registry.
func NewBuiltinRegistry(env *Env) *Registry {
	r := NewRegistry()
	for _, t := range Builtins(env) {
		r.Register(t)
	}
	return r
}

// Executor runs tool calls by name and always answers with text for the
// model.
type Executor struct {
	registry *Registry
	log      logr.Logger
}

func NewExecutor(registry *Registry, log logr.Logger) *Executor {
	return &Executor{registry: registry, log: log.WithName("executor")}
}

func (x *Executor) Registry() *Registry { return x.registry }

// Execute runs the named tool with its raw JSON arguments. Failures come
// back as text starting with "Error".
func (x *Executor) Execute(ctx context.Context, name, rawArgs string) string {
	t, ok := x.registry.Get(name)
	if !ok {
		x.log.V(1).Info("unknown tool", "name", name)
		return "Error: Unknown tool: " + name
	}
	out, err := t.Execute(ctx, DecodeArgs(rawArgs))
	if err == nil {
		return out
	}
	var f Failure
	if errors.As(err, &f) {
		x.log.V(1).Info("tool failed", "name", name, "reason", firstLine(f.Error()))
		return f.Error()
	}
	x.log.Error(err, "tool error", "name", name)
	return "Error: " + err.Error()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
