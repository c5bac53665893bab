// Copyright 2026 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors defines the typed error taxonomy for stepflow.
//
// Every error the engine records against a step carries a stable Code so
// run reports can be consumed programmatically. Structural errors
// (ValidationError, ConfigError, NotFoundError) are returned to the caller
// directly; runtime errors are captured into step results.
package errors

import (
	"fmt"
	"time"
)

// Code identifies an error category in run reports.
type Code string

const (
	// CodeValidation marks a malformed or inconsistent workflow definition.
	CodeValidation Code = "ValidationError"
	// CodeResolution marks an unresolved or malformed ${...} path.
	CodeResolution Code = "VariableResolutionError"
	// CodeCondition marks a condition that resolved to a non-boolean value.
	CodeCondition Code = "ConditionEvalError"
	// CodeToolExecution wraps a failure reported by a tool.
	CodeToolExecution Code = "ToolExecutionError"
	// CodeTimeout marks a step that exceeded its timeout.
	CodeTimeout Code = "TimeoutError"
	// CodeCancelled marks a step aborted due to a sibling or run abort.
	CodeCancelled Code = "CancellationError"
)

// ValidationError represents a malformed or inconsistent workflow definition.
// It is always raised before any step executes.
type ValidationError struct {
	// Field identifies which part of the definition failed validation,
	// e.g. "steps[2].id" or "steps[1].params.query".
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the definition
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Code returns the taxonomy code for this error.
func (e *ValidationError) Code() Code { return CodeValidation }

// ResolutionError represents an unresolved or malformed ${...} path.
type ResolutionError struct {
	// Path is the expression that failed to resolve, e.g. "steps.fetch.value"
	Path string

	// Reason explains why resolution failed
	Reason string
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve ${%s}: %s", e.Path, e.Reason)
}

// Code returns the taxonomy code for this error.
func (e *ResolutionError) Code() Code { return CodeResolution }

// ConditionError represents a condition expression that did not resolve
// to a boolean value.
type ConditionError struct {
	// Expression is the condition template as written in the definition
	Expression string

	// Reason explains what the expression resolved to instead
	Reason string

	// Cause is the underlying error (e.g. a ResolutionError)
	Cause error
}

// Error implements the error interface.
func (e *ConditionError) Error() string {
	return fmt.Sprintf("condition %q: %s", e.Expression, e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConditionError) Unwrap() error { return e.Cause }

// Code returns the taxonomy code for this error.
func (e *ConditionError) Code() Code { return CodeCondition }

// ToolExecutionError wraps a failure reported by a tool.
type ToolExecutionError struct {
	// Tool is the name of the tool that failed
	Tool string

	// ToolCode is the tool-reported error code, if any
	ToolCode string

	// Message is the tool-reported error message
	Message string

	// Cause is the underlying error for transport-level failures
	Cause error
}

// Error implements the error interface.
func (e *ToolExecutionError) Error() string {
	msg := fmt.Sprintf("tool %s failed", e.Tool)
	if e.ToolCode != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.ToolCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ToolExecutionError) Unwrap() error { return e.Cause }

// Code returns the taxonomy code for this error.
func (e *ToolExecutionError) Code() Code { return CodeToolExecution }

// TimeoutError represents a step that exceeded its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g. "step fetch")
	Operation string

	// Duration is the timeout that was exceeded
	Duration time.Duration

	// Cause is the underlying error (usually context.DeadlineExceeded)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error { return e.Cause }

// Code returns the taxonomy code for this error.
func (e *TimeoutError) Code() Code { return CodeTimeout }

// CancelledError represents a step aborted because a sibling failed or the
// run was cancelled.
type CancelledError struct {
	// Operation describes what was cancelled
	Operation string

	// Cause is the underlying error (usually context.Canceled)
	Cause error
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s cancelled", e.Operation)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancelledError) Unwrap() error { return e.Cause }

// Code returns the taxonomy code for this error.
func (e *CancelledError) Code() Code { return CodeCancelled }

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "tool", "workflow")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConfigError represents configuration problems.
type ConfigError struct {
	// Key is the configuration key that has the problem
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error { return e.Cause }
