// Package tools provides the tool registry and deterministic stub tools
// for the workflow engine.
//
// Tools are opaque external capabilities satisfying the single execute
// contract in pkg/workflow. The registry maps tool names to
// implementations and is injected into the engine by the host; there is
// no process-wide registry, so independent runs with different tool sets
// can coexist in one process.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tombee/stepflow/pkg/errors"
	"github.com/tombee/stepflow/pkg/workflow"
)

// Registry maintains a collection of registered tools. It is safe for
// concurrent use: parallel-group members look tools up concurrently.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]workflow.Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]workflow.Tool),
	}
}

// Register adds a tool to the registry.
// Returns an error if a tool with the same name is already registered.
func (r *Registry) Register(tool workflow.Tool) error {
	if tool == nil {
		return fmt.Errorf("cannot register nil tool")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.tools[name] = tool
	return nil
}

// Unregister removes a tool from the registry.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return &errors.NotFoundError{Resource: "tool", ID: name}
	}
	delete(r.tools, name)
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (workflow.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, &errors.NotFoundError{Resource: "tool", ID: name}
	}
	return tool, nil
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tools[name]
	return exists
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Func adapts a plain function into a Tool. Hosts wrap their
// capabilities with it instead of defining a type per tool.
type Func struct {
	name        string
	description string
	fn          func(ctx context.Context, params map[string]workflow.Value) (*workflow.ToolResult, error)
}

// NewFunc creates a Tool from a function.
func NewFunc(name, description string, fn func(ctx context.Context, params map[string]workflow.Value) (*workflow.ToolResult, error)) *Func {
	return &Func{name: name, description: description, fn: fn}
}

// Name implements workflow.Tool.
func (f *Func) Name() string { return f.name }

// Description implements workflow.Tool.
func (f *Func) Description() string { return f.description }

// Execute implements workflow.Tool.
func (f *Func) Execute(ctx context.Context, params map[string]workflow.Value) (*workflow.ToolResult, error) {
	return f.fn(ctx, params)
}
