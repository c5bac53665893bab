package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/stepflow/pkg/errors"
)

// DefaultMaxConcurrency bounds the worker pool for parallel groups and
// foreach expansion. Set conservatively; tools are often rate-limited
// external services. Override with WithMaxConcurrency.
const DefaultMaxConcurrency = 4

// Engine is the top-level orchestrator. It validates a definition,
// builds the execution order from the flat step list and its parallel
// groups, drives the step executor and foreach expander against one
// ExecutionContext, and aggregates the final run status.
//
// An Engine is stateless between runs and safe for concurrent use: each
// Run gets its own ExecutionContext and worker pool.
type Engine struct {
	registry       ToolRegistry
	resolver       *Resolver
	expander       *ForeachExpander
	logger         *slog.Logger
	events         *EventEmitter
	maxConcurrency int
}

// NewEngine creates a workflow engine dispatching to the given registry.
func NewEngine(registry ToolRegistry) *Engine {
	resolver := NewResolver()
	return &Engine{
		registry:       registry,
		resolver:       resolver,
		expander:       NewForeachExpander(resolver),
		logger:         slog.Default(),
		maxConcurrency: DefaultMaxConcurrency,
	}
}

// WithLogger sets a custom logger for the engine.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	e.logger = logger
	return e
}

// WithMaxConcurrency sets the worker pool size for parallel groups and
// foreach expansion.
func (e *Engine) WithMaxConcurrency(max int) *Engine {
	if max <= 0 {
		max = DefaultMaxConcurrency
	}
	e.maxConcurrency = max
	return e
}

// WithEvents sets the emitter receiving run lifecycle events.
func (e *Engine) WithEvents(events *EventEmitter) *Engine {
	e.events = events
	return e
}

// Run executes a workflow definition to completion and returns the
// frozen run state. The definition is validated before any step starts;
// a structurally invalid definition never begins a partial run. Expected
// step failures land in the returned ExecutionContext, not in the error
// return, which is reserved for pre-execution and structural errors.
func (e *Engine) Run(ctx context.Context, def *Definition, initial map[string]Value) (*ExecutionContext, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if err := def.ValidateTools(e.registry); err != nil {
		return nil, err
	}

	ec := NewExecutionContext(def, initial)
	executor := NewExecutor(e.registry, def.ErrorHandling).
		WithLogger(e.logger).
		WithEvents(e.events, ec.RunID(), def.Name)
	logger := e.logger.With("run_id", ec.RunID(), "workflow", def.Name)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("run started", "steps", len(def.Steps))
	e.events.Emit(Event{
		Type:      EventRunStarted,
		RunID:     ec.RunID(),
		Workflow:  def.Name,
		Timestamp: time.Now(),
	})

	var structural error
	for _, group := range partitionSteps(def.Steps) {
		if ec.AbortedBy() != "" {
			break
		}
		if runCtx.Err() != nil {
			// The caller's context was cancelled with steps still pending.
			// abort() records the failing step before cancelling runCtx, so
			// reaching here with no abort means an external cancellation.
			logger.Warn("run cancelled", "reason", runCtx.Err())
			ec.markCancelled()
			break
		}
		if len(group) == 1 {
			structural = e.runSequential(runCtx, cancel, executor, &def.Steps[group[0]], def, ec)
		} else {
			structural = e.runParallelGroup(runCtx, cancel, executor, group, def, ec)
		}
		if structural != nil {
			break
		}
	}

	ec.finalize()
	logger.Info("run finished",
		"status", string(ec.Status()),
		"steps_recorded", len(ec.Results()),
		"duration_ms", time.Since(ec.StartedAt()).Milliseconds(),
	)
	e.events.Emit(Event{
		Type:      EventRunFinished,
		RunID:     ec.RunID(),
		Workflow:  def.Name,
		Status:    string(ec.Status()),
		Timestamp: time.Now(),
	})

	if structural != nil {
		return ec, structural
	}
	return ec, nil
}

// runSequential executes one ungrouped step and applies the failure policy.
func (e *Engine) runSequential(ctx context.Context, abort context.CancelFunc, executor *Executor, step *Step, def *Definition, ec *ExecutionContext) error {
	result, err := e.runStep(ctx, executor, step, ec)
	if err != nil {
		return err
	}
	if err := e.record(ec, def, result); err != nil {
		return err
	}
	if result.Status == StepFailed && !def.ErrorHandling.ContinueOnError {
		ec.abort(step.ID)
		abort()
	}
	return nil
}

// runParallelGroup dispatches the members of one parallel group on a
// bounded worker pool and joins on the whole group: nothing after the
// group starts until every member that began execution has produced a
// result. Members that have not started when the run aborts never reach
// running and record no result.
func (e *Engine) runParallelGroup(ctx context.Context, abort context.CancelFunc, executor *Executor, group []int, def *Definition, ec *ExecutionContext) error {
	e.logger.Debug("starting parallel group",
		"group", def.Steps[group[0]].ParallelGroup,
		"members", len(group),
		"max_concurrency", e.maxConcurrency,
	)

	sem := make(chan struct{}, e.maxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var structural error

	for _, idx := range group {
		step := &def.Steps[idx]
		wg.Add(1)
		go func(step *Step) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				// Aborted while queued: the step never reaches running.
				return
			}
			if ctx.Err() != nil {
				return
			}

			result, err := e.runStep(ctx, executor, step, ec)
			if err != nil {
				mu.Lock()
				if structural == nil {
					structural = err
				}
				mu.Unlock()
				abort()
				return
			}
			if err := e.record(ec, def, result); err != nil {
				mu.Lock()
				if structural == nil {
					structural = err
				}
				mu.Unlock()
				abort()
				return
			}
			if result.Status == StepFailed && !def.ErrorHandling.ContinueOnError {
				ec.abort(step.ID)
				abort()
			}
		}(step)
	}

	wg.Wait()
	return structural
}

// runStep executes one definition step, expanding foreach when present.
// The executor emits the started event itself once the condition gate
// passes, so a skipped step only ever produces a completion event.
func (e *Engine) runStep(ctx context.Context, executor *Executor, step *Step, ec *ExecutionContext) (*StepResult, error) {
	if step.Foreach != nil {
		return e.runForeach(ctx, executor, step, ec)
	}
	return executor.Execute(ctx, step, ec)
}

// record publishes a result and emits its completion event.
func (e *Engine) record(ec *ExecutionContext, def *Definition, result *StepResult) error {
	if err := ec.Publish(result); err != nil {
		return err
	}
	e.events.Emit(Event{
		Type:      EventStepCompleted,
		RunID:     ec.RunID(),
		Workflow:  def.Name,
		StepID:    result.StepID,
		Status:    string(result.Status),
		Timestamp: time.Now(),
	})
	return nil
}

// runForeach expands a loop-bearing step and executes the per-item
// clones concurrently on their own bounded pool. Sub-results are placed
// by input index regardless of completion order; all items run to
// completion before the parent settles (fail-last), so a report always
// shows every iteration's outcome.
func (e *Engine) runForeach(ctx context.Context, executor *Executor, step *Step, ec *ExecutionContext) (*StepResult, error) {
	start := time.Now()

	items, err := e.expander.Expand(step, ec)
	if err != nil {
		return &StepResult{
			StepID:   step.ID,
			Status:   StepFailed,
			Value:    Null(),
			Duration: time.Since(start),
			Error: &StepError{
				Code:    errors.Classify(err),
				Message: err.Error(),
			},
		}, nil
	}

	if len(items) == 0 {
		return &StepResult{
			StepID:   step.ID,
			Status:   StepSucceeded,
			Value:    Array(),
			Duration: time.Since(start),
		}, nil
	}

	e.logger.Debug("foreach expanded",
		"step_id", step.ID,
		"items", len(items),
	)

	// Per-step pool, independent of the group pool, so a grouped foreach
	// member cannot starve its own items of workers.
	sem := make(chan struct{}, e.maxConcurrency)
	subResults := make([]*StepResult, len(items))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var structural error

	for _, item := range items {
		wg.Add(1)
		go func(item ForeachItem) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				subResults[item.Index] = cancelledItem(step)
				return
			}

			res, err := executor.Execute(ctx, &item.Step, item.Scope)
			if err != nil {
				mu.Lock()
				if structural == nil {
					structural = err
				}
				mu.Unlock()
				return
			}
			subResults[item.Index] = res
		}(item)
	}

	wg.Wait()
	if structural != nil {
		return nil, structural
	}

	values := make([]Value, len(subResults))
	parent := &StepResult{
		StepID: step.ID,
		Status: StepSucceeded,
		Items:  make([]StepResult, len(subResults)),
	}
	for i, res := range subResults {
		parent.Items[i] = *res
		parent.Attempts += res.Attempts
		values[i] = res.Value
		if res.Status == StepFailed && parent.Error == nil {
			parent.Status = StepFailed
			parent.Error = &StepError{
				Code:    res.Error.Code,
				Message: res.Error.Message,
			}
		}
	}
	parent.Value = Array(values...)
	parent.Duration = time.Since(start)
	return parent, nil
}

// cancelledItem records an iteration that was aborted before it could run.
func cancelledItem(step *Step) *StepResult {
	return &StepResult{
		StepID: step.ID,
		Status: StepFailed,
		Value:  Null(),
		Error: &StepError{
			Code:    errors.CodeCancelled,
			Message: (&errors.CancelledError{Operation: "step " + step.ID}).Error(),
		},
	}
}
