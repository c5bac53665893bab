package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/tombee/stepflow/pkg/errors"
)

// Executor executes individual workflow steps: condition gate, param
// resolution, tool dispatch bounded by a timeout, and the retry policy.
// It is stateless across steps; all run state lives in the scope it is
// handed, so one Executor serves concurrent steps of a parallel group.
type Executor struct {
	registry   ToolRegistry
	resolver   *Resolver
	conditions *ConditionEvaluator
	defaults   ErrorHandling
	logger     *slog.Logger
	events     *EventEmitter
	runID      string
	workflow   string
}

// NewExecutor creates a step executor dispatching to the given registry
// with the definition's run-wide error handling defaults.
func NewExecutor(registry ToolRegistry, defaults ErrorHandling) *Executor {
	resolver := NewResolver()
	return &Executor{
		registry:   registry,
		resolver:   resolver,
		conditions: NewConditionEvaluator(resolver),
		defaults:   defaults,
		logger:     slog.Default(),
	}
}

// WithLogger sets a custom logger for the executor.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// WithEvents sets the emitter and run identity for step lifecycle
// events. The executor owns the started event because only it knows
// whether the condition gate let the step enter running.
func (e *Executor) WithEvents(events *EventEmitter, runID, workflow string) *Executor {
	e.events = events
	e.runID = runID
	e.workflow = workflow
	return e
}

// Execute runs one concrete step to a terminal StepResult. Expected
// runtime failures (unresolved paths, non-boolean conditions, tool
// errors, timeouts, cancellation) are captured into the result; the
// error return is reserved for structural problems such as a tool
// missing from the registry, which validation should have caught.
func (e *Executor) Execute(ctx context.Context, step *Step, scope Scope) (*StepResult, error) {
	start := time.Now()

	run, err := e.conditions.Evaluate(step.Condition, scope)
	if err != nil {
		return e.failed(step, start, 0, err), nil
	}
	if !run {
		e.logger.Debug("step skipped",
			"step_id", step.ID,
			"condition", step.Condition,
		)
		return &StepResult{
			StepID:   step.ID,
			Status:   StepSkipped,
			Value:    Null(),
			Duration: time.Since(start),
		}, nil
	}

	// Past the gate: the step is running. Skipped steps go straight from
	// pending to their terminal result and never emit a started event.
	e.events.Emit(Event{
		Type:      EventStepStarted,
		RunID:     e.runID,
		Workflow:  e.workflow,
		StepID:    step.ID,
		Timestamp: time.Now(),
	})

	params, err := e.resolver.ResolveParams(step.Params, scope)
	if err != nil {
		return e.failed(step, start, 0, err), nil
	}

	tool, err := e.registry.Get(step.Tool)
	if err != nil {
		// Not a step failure: an unregistered tool is a structural error
		// that validation rejects before any step runs.
		return nil, errors.Wrapf(err, "step %s", step.ID)
	}

	value, attempts, err := e.dispatch(ctx, step, tool, params)
	if err != nil {
		return e.failed(step, start, attempts, err), nil
	}

	e.logger.Debug("step succeeded",
		"step_id", step.ID,
		"tool", step.Tool,
		"attempts", attempts,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &StepResult{
		StepID:   step.ID,
		Status:   StepSucceeded,
		Value:    value,
		Attempts: attempts,
		Duration: time.Since(start),
	}, nil
}

// dispatch invokes the tool, applying the timeout and retry policy.
// It returns the tool output and the number of attempts made.
func (e *Executor) dispatch(ctx context.Context, step *Step, tool Tool, params map[string]Value) (Value, int, error) {
	maxAttempts := 1
	backoff := DefaultBackoff
	multiplier := DefaultBackoffMultiplier

	if step.Retry != nil {
		maxAttempts = step.Retry.MaxRetries + 1
		if step.Retry.Backoff > 0 {
			backoff = step.Retry.Backoff.Std()
		}
		if step.Retry.BackoffMultiplier > 1 {
			multiplier = step.Retry.BackoffMultiplier
		}
	} else if e.defaults.RetryOnFailure {
		maxAttempts = e.defaults.MaxRetries + 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		value, err := e.attempt(ctx, step, tool, params)
		if err == nil {
			return value, attempt, nil
		}
		lastErr = err

		if !errors.IsRetryable(err) || attempt == maxAttempts {
			return Null(), attempt, err
		}

		e.logger.Debug("step attempt failed, retrying",
			"step_id", step.ID,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		// Delay between attempts is monotonically non-decreasing so a
		// failing dependency is never hot-looped.
		select {
		case <-ctx.Done():
			return Null(), attempt, &errors.CancelledError{
				Operation: "step " + step.ID,
				Cause:     ctx.Err(),
			}
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * multiplier)
		}
	}
	return Null(), maxAttempts, lastErr
}

// attempt performs a single bounded tool dispatch.
func (e *Executor) attempt(ctx context.Context, step *Step, tool Tool, params map[string]Value) (Value, error) {
	timeout := e.timeoutFor(step)
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := tool.Execute(attemptCtx, params)
	if err != nil {
		// A cancelled run and an expired step timeout both surface as
		// context errors from the tool; the parent context tells them apart.
		if ctx.Err() != nil {
			return Null(), &errors.CancelledError{
				Operation: "step " + step.ID,
				Cause:     ctx.Err(),
			}
		}
		if attemptCtx.Err() == context.DeadlineExceeded {
			return Null(), &errors.TimeoutError{
				Operation: "step " + step.ID,
				Duration:  timeout,
				Cause:     attemptCtx.Err(),
			}
		}
		return Null(), &errors.ToolExecutionError{
			Tool:    step.Tool,
			Message: err.Error(),
			Cause:   err,
		}
	}

	if result == nil {
		return Null(), &errors.ToolExecutionError{
			Tool:    step.Tool,
			Message: "tool returned no result",
		}
	}
	if !result.Success {
		toolCode, message := "", "tool reported failure"
		if result.Error != nil {
			toolCode = result.Error.Code
			message = result.Error.Message
		}
		return Null(), &errors.ToolExecutionError{
			Tool:     step.Tool,
			ToolCode: toolCode,
			Message:  message,
		}
	}
	return result.Output, nil
}

// timeoutFor returns the effective timeout for a step.
func (e *Executor) timeoutFor(step *Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout.Std()
	}
	if e.defaults.DefaultTimeout > 0 {
		return e.defaults.DefaultTimeout.Std()
	}
	return DefaultStepTimeout
}

// failed builds the terminal result for a failed step.
func (e *Executor) failed(step *Step, start time.Time, attempts int, err error) *StepResult {
	code := errors.Classify(err)
	e.logger.Debug("step failed",
		"step_id", step.ID,
		"code", string(code),
		"attempts", attempts,
		"error", err,
	)
	return &StepResult{
		StepID:   step.ID,
		Status:   StepFailed,
		Value:    Null(),
		Attempts: attempts,
		Duration: time.Since(start),
		Error: &StepError{
			Code:    code,
			Message: err.Error(),
		},
	}
}
