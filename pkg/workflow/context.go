package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/stepflow/pkg/errors"
)

// StepStatus is the terminal state of a step.
type StepStatus string

const (
	// StepSkipped indicates the step's condition evaluated false and its
	// tool was never invoked.
	StepSkipped StepStatus = "skipped"
	// StepSucceeded indicates the step completed and produced a value.
	StepSucceeded StepStatus = "succeeded"
	// StepFailed indicates the step failed after exhausting retries.
	StepFailed StepStatus = "failed"
)

// RunStatus is the overall state of a workflow run.
type RunStatus string

const (
	// RunRunning indicates the run is still executing steps.
	RunRunning RunStatus = "running"
	// RunCompleted indicates every step succeeded or was skipped.
	RunCompleted RunStatus = "completed"
	// RunPartiallyFailed indicates at least one step failed but
	// continue_on_error let the run finish.
	RunPartiallyFailed RunStatus = "partially_failed"
	// RunFailed indicates a failed step or a cancelled context aborted
	// the run.
	RunFailed RunStatus = "failed"
)

// StepError carries the taxonomy code and message for a failed step.
type StepError struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
}

// StepResult is the immutable record of one step's terminal state.
// It is created once, when the step finishes evaluation (including a
// skip), and never mutated afterwards, so readers need no lock once a
// result has been published.
type StepResult struct {
	// StepID is the id of the step this result belongs to
	StepID string `json:"step_id"`

	// Status is the terminal state: skipped, succeeded or failed
	Status StepStatus `json:"status"`

	// Value is the tool output on success. For foreach steps it is the
	// ordered array of per-item values.
	Value Value `json:"value"`

	// Error describes the failure for failed steps
	Error *StepError `json:"error,omitempty"`

	// Attempts counts tool dispatches, including retries
	Attempts int `json:"attempts"`

	// Duration is the wall time from condition check to terminal state
	Duration time.Duration `json:"duration"`

	// Items holds the per-item sub-results of a foreach step, ordered by
	// input index regardless of completion order
	Items []StepResult `json:"items,omitempty"`
}

// ExecutionContext is the mutable, concurrency-guarded run state: the
// resolved variable snapshot and the accumulated step results for one
// run. It is owned by a single engine run and shared by reference with
// the step executors inside a parallel group; a single writer lock
// guards all mutation. It implements Scope for template resolution.
type ExecutionContext struct {
	mu sync.RWMutex

	runID     string
	workflow  string
	variables map[string]Value
	results   map[string]*StepResult
	order     []string
	status    RunStatus
	abortedBy string
	cancelled bool
	startedAt time.Time
	endedAt   time.Time
}

// NewExecutionContext creates the run state for one execution of def.
// Variables are seeded from the definition defaults and overlaid with
// the caller's initial variables.
func NewExecutionContext(def *Definition, initial map[string]Value) *ExecutionContext {
	vars := make(map[string]Value, len(def.Variables)+len(initial))
	for name, v := range def.Variables {
		vars[name] = v
	}
	for name, v := range initial {
		vars[name] = v
	}
	return &ExecutionContext{
		runID:     uuid.NewString(),
		workflow:  def.Name,
		variables: vars,
		results:   make(map[string]*StepResult),
		status:    RunRunning,
		startedAt: time.Now(),
	}
}

// RunID returns the unique identifier of this run.
func (ec *ExecutionContext) RunID() string { return ec.runID }

// Workflow returns the name of the workflow being executed.
func (ec *ExecutionContext) Workflow() string { return ec.workflow }

// Status returns the current run status.
func (ec *ExecutionContext) Status() RunStatus {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.status
}

// LookupVariable implements Scope.
func (ec *ExecutionContext) LookupVariable(name string) (Value, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.variables[name]
	return v, ok
}

// LookupStep implements Scope. The returned result is immutable.
func (ec *ExecutionContext) LookupStep(id string) (*StepResult, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	r, ok := ec.results[id]
	return r, ok
}

// SetVariable updates a workflow variable. The variable store never
// shrinks: there is no delete.
func (ec *ExecutionContext) SetVariable(name string, v Value) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.variables[name] = v
}

// Publish records a step's terminal result. Results are append-only:
// publishing a second result for the same step id is a programming error
// in the engine and is reported as such.
func (ec *ExecutionContext) Publish(result *StepResult) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if _, exists := ec.results[result.StepID]; exists {
		return fmt.Errorf("result for step %q already published", result.StepID)
	}
	ec.results[result.StepID] = result
	ec.order = append(ec.order, result.StepID)
	return nil
}

// Results returns the published step results in publication order.
func (ec *ExecutionContext) Results() []*StepResult {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make([]*StepResult, 0, len(ec.order))
	for _, id := range ec.order {
		out = append(out, ec.results[id])
	}
	return out
}

// AbortedBy returns the id of the step whose failure aborted the run,
// or "" if the run was not aborted.
func (ec *ExecutionContext) AbortedBy() string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.abortedBy
}

// StartedAt returns when the run began.
func (ec *ExecutionContext) StartedAt() time.Time { return ec.startedAt }

// EndedAt returns when the run reached a terminal status.
func (ec *ExecutionContext) EndedAt() time.Time {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.endedAt
}

// abort marks the run as aborted by the given step. Only the first abort
// is recorded.
func (ec *ExecutionContext) abort(stepID string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.abortedBy == "" {
		ec.abortedBy = stepID
	}
}

// Cancelled reports whether the caller's context was cancelled before
// the run could finish its steps.
func (ec *ExecutionContext) Cancelled() bool {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.cancelled
}

// markCancelled records that the run stopped early because the caller's
// context was cancelled, as opposed to a failing step aborting it.
func (ec *ExecutionContext) markCancelled() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.cancelled = true
}

// finalize computes and freezes the terminal run status from the
// published results. An aborted or cancelled run never reports
// completed: steps that were scheduled but never ran do not count as
// succeeded.
func (ec *ExecutionContext) finalize() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.endedAt = time.Now()

	if ec.abortedBy != "" || ec.cancelled {
		ec.status = RunFailed
		return
	}
	for _, r := range ec.results {
		if r.Status == StepFailed {
			ec.status = RunPartiallyFailed
			return
		}
	}
	ec.status = RunCompleted
}
