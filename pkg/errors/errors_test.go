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

package errors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code Code
	}{
		{"validation", &ValidationError{Field: "steps[0].id", Message: "required"}, CodeValidation},
		{"resolution", &ResolutionError{Path: "steps.x.value", Reason: "unknown step"}, CodeResolution},
		{"condition", &ConditionError{Expression: "${variables.n}", Reason: "not boolean"}, CodeCondition},
		{"tool execution", &ToolExecutionError{Tool: "deploy", Message: "boom"}, CodeToolExecution},
		{"timeout", &TimeoutError{Operation: "step fetch", Duration: time.Second}, CodeTimeout},
		{"cancelled", &CancelledError{Operation: "step fetch"}, CodeCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, Classify(tt.err))
		})
	}
}

func TestCodeStrings(t *testing.T) {
	// Codes appear verbatim in run reports; they are part of the
	// machine-readable surface and must not drift.
	assert.Equal(t, Code("ValidationError"), CodeValidation)
	assert.Equal(t, Code("VariableResolutionError"), CodeResolution)
	assert.Equal(t, Code("ConditionEvalError"), CodeCondition)
	assert.Equal(t, Code("ToolExecutionError"), CodeToolExecution)
	assert.Equal(t, Code("TimeoutError"), CodeTimeout)
	assert.Equal(t, Code("CancellationError"), CodeCancelled)
}

func TestClassifyUnknownError(t *testing.T) {
	assert.Equal(t, CodeToolExecution, Classify(New("plain error")))
	assert.Equal(t, CodeToolExecution, Classify(context.DeadlineExceeded))
}

func TestClassifyWrapped(t *testing.T) {
	inner := &TimeoutError{Operation: "step slow", Duration: time.Second, Cause: context.DeadlineExceeded}
	wrapped := Wrapf(inner, "step %s", "slow")

	assert.Equal(t, CodeTimeout, Classify(wrapped))
	assert.True(t, Is(wrapped, context.DeadlineExceeded))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&ToolExecutionError{Tool: "x"}))
	assert.True(t, IsRetryable(&TimeoutError{Operation: "x"}))
	assert.False(t, IsRetryable(&ResolutionError{Path: "x"}))
	assert.False(t, IsRetryable(&ConditionError{Expression: "x"}))
	assert.False(t, IsRetryable(&CancelledError{Operation: "x"}))
	assert.False(t, IsRetryable(&ValidationError{Message: "x"}))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t,
		"validation failed on steps[1].tool: missing",
		(&ValidationError{Field: "steps[1].tool", Message: "missing"}).Error())
	assert.Equal(t,
		"validation failed: broken",
		(&ValidationError{Message: "broken"}).Error())
	assert.Equal(t,
		"cannot resolve ${steps.x.value}: unknown step",
		(&ResolutionError{Path: "steps.x.value", Reason: "unknown step"}).Error())
	assert.Equal(t,
		"tool deploy failed (quota): limit hit",
		(&ToolExecutionError{Tool: "deploy", ToolCode: "quota", Message: "limit hit"}).Error())
	assert.Equal(t,
		"step fetch timed out after 1s",
		(&TimeoutError{Operation: "step fetch", Duration: time.Second}).Error())
	assert.Equal(t,
		"step fetch cancelled",
		(&CancelledError{Operation: "step fetch"}).Error())
	assert.Equal(t,
		"tool not found: shipit",
		(&NotFoundError{Resource: "tool", ID: "shipit"}).Error())
}

func TestWrapHelpers(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))

	base := New("base")
	wrapped := Wrap(base, "outer")
	require.Error(t, wrapped)
	assert.Equal(t, "outer: base", wrapped.Error())
	assert.Equal(t, base, Unwrap(wrapped))
}

func TestUnwrapChain(t *testing.T) {
	cause := context.Canceled
	err := &CancelledError{Operation: "step s1", Cause: cause}

	assert.True(t, Is(err, context.Canceled))

	var target *CancelledError
	require.True(t, As(Wrap(err, "run"), &target))
	assert.Equal(t, "step s1", target.Operation)
}
