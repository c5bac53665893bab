package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tombee/stepflow/pkg/workflow"
)

// Mock mode replaces every tool dispatch with a deterministic stub that
// honors the same execute contract as a live tool. Re-running a
// definition with the same variables against mock tools yields
// bit-identical step results, which is what makes dry runs and engine
// tests reproducible.

// NewMockRegistry builds a registry with a deterministic stub for each
// of the given tool names. The echo and sleep names get their dedicated
// stubs so timeout and data-flow behavior can be exercised in mock runs.
func NewMockRegistry(names ...string) *Registry {
	r := NewRegistry()
	for _, name := range names {
		switch name {
		case "echo":
			_ = r.Register(NewEcho())
		case "sleep":
			_ = r.Register(NewSleep())
		default:
			_ = r.Register(NewStub(name))
		}
	}
	return r
}

// Stub is a deterministic mock for an arbitrary tool: it succeeds and
// returns an object carrying the tool name and the resolved params, so
// downstream templates have something stable to reference.
type Stub struct {
	name string
}

// NewStub creates a deterministic stub for the named tool.
func NewStub(name string) *Stub { return &Stub{name: name} }

// Name implements workflow.Tool.
func (s *Stub) Name() string { return s.name }

// Description implements workflow.Tool.
func (s *Stub) Description() string {
	return fmt.Sprintf("deterministic mock for tool %q", s.name)
}

// Execute implements workflow.Tool.
func (s *Stub) Execute(ctx context.Context, params map[string]workflow.Value) (*workflow.ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fields := make(map[string]workflow.Value, len(params)+1)
	for k, v := range params {
		fields[k] = v
	}
	fields["tool"] = workflow.String(s.name)
	return &workflow.ToolResult{
		Success: true,
		Output:  workflow.Object(fields),
	}, nil
}

// Echo returns its input: a single param passes its value through with
// native type preserved, multiple params come back as an object. It is
// the canonical stub for data-flow tests.
type Echo struct{}

// NewEcho creates an echo tool.
func NewEcho() *Echo { return &Echo{} }

// Name implements workflow.Tool.
func (e *Echo) Name() string { return "echo" }

// Description implements workflow.Tool.
func (e *Echo) Description() string { return "returns its input unchanged" }

// Execute implements workflow.Tool.
func (e *Echo) Execute(ctx context.Context, params map[string]workflow.Value) (*workflow.ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(params) == 1 {
		for _, v := range params {
			return &workflow.ToolResult{Success: true, Output: v}, nil
		}
	}
	fields := make(map[string]workflow.Value, len(params))
	for k, v := range params {
		fields[k] = v
	}
	return &workflow.ToolResult{
		Success: true,
		Output:  workflow.Object(fields),
	}, nil
}

// Sleep blocks for the duration named by its "duration" param (Go
// duration string) and then succeeds. It honors ctx cancellation, which
// makes it the stub of choice for timeout and abort behavior.
type Sleep struct{}

// NewSleep creates a sleep tool.
func NewSleep() *Sleep { return &Sleep{} }

// Name implements workflow.Tool.
func (s *Sleep) Name() string { return "sleep" }

// Description implements workflow.Tool.
func (s *Sleep) Description() string { return "sleeps for the given duration" }

// Execute implements workflow.Tool.
func (s *Sleep) Execute(ctx context.Context, params map[string]workflow.Value) (*workflow.ToolResult, error) {
	d := 100 * time.Millisecond
	if v, ok := params["duration"]; ok {
		str, ok := v.AsString()
		if !ok {
			return &workflow.ToolResult{
				Success: false,
				Error:   &workflow.ToolFailure{Code: "bad_param", Message: "duration must be a duration string"},
			}, nil
		}
		parsed, err := time.ParseDuration(str)
		if err != nil {
			return &workflow.ToolResult{
				Success: false,
				Error:   &workflow.ToolFailure{Code: "bad_param", Message: err.Error()},
			}, nil
		}
		d = parsed
	}

	select {
	case <-time.After(d):
		return &workflow.ToolResult{Success: true, Output: workflow.String("slept " + d.String())}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Flaky fails its first n invocations with the given code, then
// succeeds forever. It exists to exercise the retry policy.
type Flaky struct {
	name     string
	failures int
	code     string

	mu    sync.Mutex
	calls int
}

// NewFlaky creates a tool that fails the first failures calls.
func NewFlaky(name string, failures int, code string) *Flaky {
	return &Flaky{name: name, failures: failures, code: code}
}

// Name implements workflow.Tool.
func (f *Flaky) Name() string { return f.name }

// Description implements workflow.Tool.
func (f *Flaky) Description() string {
	return fmt.Sprintf("fails the first %d calls, then succeeds", f.failures)
}

// Calls returns how many times the tool has been invoked.
func (f *Flaky) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Execute implements workflow.Tool.
func (f *Flaky) Execute(ctx context.Context, params map[string]workflow.Value) (*workflow.ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if call <= f.failures {
		return &workflow.ToolResult{
			Success: false,
			Error: &workflow.ToolFailure{
				Code:    f.code,
				Message: fmt.Sprintf("transient failure on call %d", call),
			},
		}, nil
	}
	return &workflow.ToolResult{
		Success: true,
		Output:  workflow.String(fmt.Sprintf("succeeded on call %d", call)),
	}, nil
}
