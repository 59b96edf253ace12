// Package tools implements the Tool Registry & Sandbox (spec §4.E): a
// name→definition+callable mapping, argument validation before dispatch,
// and the built-in tools themselves.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/miniclaw/internal/providers"
)

// Tool is one callable the Agent Loop may dispatch to on the LLM's behalf.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the tool's JSON Schema "parameters" object.
	Parameters() map[string]interface{}
	// Execute runs the tool. argsJSON is the raw JSON object text the LLM
	// supplied for this call, already validated against Parameters().
	Execute(ctx context.Context, execCtx ExecutionContext, argsJSON string) *Result
}

// Registry holds the set of tools available to the agent. Safe for
// concurrent use; registration is expected at startup, lookups happen on
// every turn.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, rejecting a name collision with an already
// registered tool (names must be unique, per §4.E).
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q is already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// ListDefinitions returns the schema set for inclusion in an LLM request,
// sorted by name for deterministic wire output.
func (r *Registry) ListDefinitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Function.Name < defs[j].Function.Name })
	return defs
}

// Execute validates argsJSON against name's schema, then dispatches.
// Returns a structured error Result rather than a Go error for any
// failure the LLM itself should see and can react to; a missing tool or
// invalid-argument shape never panics the loop.
func (r *Registry) Execute(ctx context.Context, execCtx ExecutionContext, name, argsJSON string) *Result {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return KindResult(ErrNotFound, fmt.Sprintf("no such tool: %s", name))
	}

	if err := ValidateArgs(t.Parameters(), argsJSON); err != nil {
		return KindResult(ErrInvalidArguments, err.Error())
	}

	return t.Execute(ctx, execCtx, argsJSON)
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
