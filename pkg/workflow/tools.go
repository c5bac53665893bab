package workflow

import "context"

// ToolRegistry is the engine's view of the tool catalog. The concrete
// registry lives in pkg/tools; the engine only needs lookup, so the
// interface is declared on the consumer side.
type ToolRegistry interface {
	// Get retrieves a tool by name.
	Get(name string) (Tool, error)

	// Has reports whether a tool is registered.
	Has(name string) bool
}

// Tool is an opaque external capability. The engine never inspects
// tool-internal behavior, only this contract. Implementations must be
// safe to call concurrently from multiple parallel-group members and
// must honor ctx cancellation for timeouts and aborts.
type Tool interface {
	// Name returns the unique tool identifier.
	Name() string

	// Description returns what the tool does.
	Description() string

	// Execute runs the tool with resolved params. A tool-reported
	// failure is returned inside ToolResult with Success false; the
	// error return is reserved for transport-level problems such as a
	// cancelled context.
	Execute(ctx context.Context, params map[string]Value) (*ToolResult, error)
}

// ToolResult is the outcome a tool reports for one invocation.
type ToolResult struct {
	// Success reports whether the tool completed its work
	Success bool `json:"success"`

	// Output is the tool's result value on success
	Output Value `json:"result"`

	// Error describes the failure when Success is false
	Error *ToolFailure `json:"error,omitempty"`
}

// ToolFailure is a tool-reported error.
type ToolFailure struct {
	// Code is a tool-specific error code
	Code string `json:"code"`

	// Message is a human-readable description
	Message string `json:"message"`
}
