package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stepflow/pkg/errors"
)

func TestRunSequentialDataFlow(t *testing.T) {
	engine := NewEngine(newMockRegistry(echoTool()))

	def := &Definition{
		Name: "chain",
		Steps: []Step{
			{ID: "s1", Tool: "echo", Params: map[string]Value{"v": Number(1)}},
			{ID: "s2", Tool: "echo", Params: map[string]Value{"v": String("${steps.s1.value}")}},
			{ID: "s3", Tool: "echo", Params: map[string]Value{"v": String("got ${steps.s2.value}")}},
		},
	}

	ec, err := engine.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, ec.Status())

	s2, ok := ec.LookupStep("s2")
	require.True(t, ok)
	assert.Equal(t, StepSucceeded, s2.Status)
	assert.Equal(t, Number(1), s2.Value, "single marker passes the number through natively")

	s3, _ := ec.LookupStep("s3")
	assert.Equal(t, String("got 1"), s3.Value)

	results := ec.Results()
	require.Len(t, results, 3)
	assert.Equal(t, []string{"s1", "s2", "s3"},
		[]string{results[0].StepID, results[1].StepID, results[2].StepID})
}

func TestRunInitialVariablesOverride(t *testing.T) {
	engine := NewEngine(newMockRegistry(echoTool()))

	def := &Definition{
		Name:      "vars",
		Variables: map[string]Value{"env": String("dev")},
		Steps: []Step{
			{ID: "s1", Tool: "echo", Params: map[string]Value{"v": String("${variables.env}")}},
		},
	}

	ec, err := engine.Run(context.Background(), def, map[string]Value{"env": String("prod")})
	require.NoError(t, err)

	s1, _ := ec.LookupStep("s1")
	assert.Equal(t, String("prod"), s1.Value)
}

func TestRunSkippedStep(t *testing.T) {
	engine := NewEngine(newMockRegistry(echoTool()))

	def := &Definition{
		Name:      "gated",
		Variables: map[string]Value{"deploy": Bool(false)},
		Steps: []Step{
			{ID: "build", Tool: "echo", Params: map[string]Value{"v": String("artifact")}},
			{ID: "deploy", Tool: "echo", Condition: "${variables.deploy}", Params: map[string]Value{"v": String("x")}},
		},
	}

	ec, err := engine.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, ec.Status(), "skipped steps do not fail the run")
	deploy, _ := ec.LookupStep("deploy")
	assert.Equal(t, StepSkipped, deploy.Status)
}

func TestRunAbortsOnFailure(t *testing.T) {
	echo := echoTool()
	engine := NewEngine(newMockRegistry(echo, failingTool("boom", "bad")))

	def := &Definition{
		Name: "abort",
		Steps: []Step{
			{ID: "first", Tool: "echo", Params: map[string]Value{"v": Number(1)}},
			{ID: "boom", Tool: "boom"},
			{ID: "after", Tool: "echo", Params: map[string]Value{"v": Number(2)}},
		},
	}

	ec, err := engine.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, RunFailed, ec.Status())
	assert.Equal(t, "boom", ec.AbortedBy())

	_, ok := ec.LookupStep("after")
	assert.False(t, ok, "steps after the aborting failure never run")
	assert.Equal(t, 1, echo.callCount())
}

func TestRunContinueOnError(t *testing.T) {
	engine := NewEngine(newMockRegistry(echoTool(), failingTool("boom", "bad")))

	def := &Definition{
		Name: "tolerant",
		Steps: []Step{
			{ID: "boom", Tool: "boom"},
			{ID: "after", Tool: "echo", Params: map[string]Value{"v": Number(2)}},
		},
		ErrorHandling: ErrorHandling{ContinueOnError: true},
	}

	ec, err := engine.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, RunPartiallyFailed, ec.Status())
	assert.Empty(t, ec.AbortedBy())

	after, ok := ec.LookupStep("after")
	require.True(t, ok, "later steps still run under continue_on_error")
	assert.Equal(t, StepSucceeded, after.Status)
}

func TestRunParallelGroupJoinsBeforeNextStep(t *testing.T) {
	engine := NewEngine(newMockRegistry(echoTool()))

	def := &Definition{
		Name: "fanout",
		Steps: []Step{
			{ID: "a", Tool: "echo", ParallelGroup: "g", Params: map[string]Value{"v": String("A")}},
			{ID: "b", Tool: "echo", ParallelGroup: "g", Params: map[string]Value{"v": String("B")}},
			{ID: "c", Tool: "echo", ParallelGroup: "g", Params: map[string]Value{"v": String("C")}},
			{ID: "join", Tool: "echo", Params: map[string]Value{
				"v": String("${steps.a.value}${steps.b.value}${steps.c.value}"),
			}},
		},
	}

	ec, err := engine.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, ec.Status())
	join, ok := ec.LookupStep("join")
	require.True(t, ok)
	assert.Equal(t, String("ABC"), join.Value, "the barrier makes every member visible downstream")
}

func TestRunParallelGroupBoundedConcurrency(t *testing.T) {
	var mu sync.Mutex
	running, peak := 0, 0

	counter := &fakeTool{
		name: "count",
		fn: func(ctx context.Context, params map[string]Value) (*ToolResult, error) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return &ToolResult{Success: true, Output: Null()}, nil
		},
	}

	engine := NewEngine(newMockRegistry(counter)).WithMaxConcurrency(2)

	def := &Definition{
		Name: "bounded",
		Steps: []Step{
			{ID: "a", Tool: "count", ParallelGroup: "g"},
			{ID: "b", Tool: "count", ParallelGroup: "g"},
			{ID: "c", Tool: "count", ParallelGroup: "g"},
			{ID: "d", Tool: "count", ParallelGroup: "g"},
			{ID: "e", Tool: "count", ParallelGroup: "g"},
		},
	}

	ec, err := engine.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, ec.Status())
	assert.Len(t, ec.Results(), 5)
	assert.LessOrEqual(t, peak, 2, "worker pool must bound concurrent dispatches")
}

func TestRunParallelGroupAbortCancelsSiblings(t *testing.T) {
	engine := NewEngine(newMockRegistry(
		failingTool("boom", "bad"),
		slowTool("slow", 2*time.Second),
	))

	def := &Definition{
		Name: "cancel",
		Steps: []Step{
			{ID: "boom", Tool: "boom", ParallelGroup: "g"},
			{ID: "slow", Tool: "slow", ParallelGroup: "g"},
		},
	}

	start := time.Now()
	ec, err := engine.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, RunFailed, ec.Status())
	assert.Equal(t, "boom", ec.AbortedBy())
	assert.Less(t, time.Since(start), time.Second, "abort must cancel the in-flight sibling")

	// The sibling either never started (no result) or was cancelled
	// in flight (failed with a cancellation code).
	if slow, ok := ec.LookupStep("slow"); ok {
		assert.Equal(t, StepFailed, slow.Status)
		require.NotNil(t, slow.Error)
		assert.Equal(t, errors.CodeCancelled, slow.Error.Code)
	}
}

func TestRunForeachOrderedResults(t *testing.T) {
	engine := NewEngine(newMockRegistry(echoTool()))

	def := &Definition{
		Name:      "loop",
		Variables: map[string]Value{"topics": Array(String("AI"), String("ML"))},
		Steps: []Step{
			{
				ID:      "search",
				Tool:    "echo",
				Foreach: &Foreach{Items: "${variables.topics}", ItemVar: "t"},
				Params:  map[string]Value{"q": String("topic ${t} #${t_index}")},
			},
		},
	}

	ec, err := engine.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, ec.Status())

	search, ok := ec.LookupStep("search")
	require.True(t, ok)
	assert.Equal(t, StepSucceeded, search.Status)
	require.Len(t, search.Items, 2)

	assert.Equal(t, Array(String("topic AI #0"), String("topic ML #1")), search.Value,
		"aggregate value is ordered by input index")
	assert.Equal(t, String("topic AI #0"), search.Items[0].Value)
	assert.Equal(t, String("topic ML #1"), search.Items[1].Value)
}

func TestRunForeachEmptyItems(t *testing.T) {
	engine := NewEngine(newMockRegistry(echoTool()))

	def := &Definition{
		Name:      "loop",
		Variables: map[string]Value{"topics": Array()},
		Steps: []Step{
			{
				ID:      "search",
				Tool:    "echo",
				Foreach: &Foreach{Items: "${variables.topics}", ItemVar: "t"},
				Params:  map[string]Value{"q": String("${t}")},
			},
		},
	}

	ec, err := engine.Run(context.Background(), def, nil)
	require.NoError(t, err)

	search, _ := ec.LookupStep("search")
	assert.Equal(t, StepSucceeded, search.Status)
	assert.Equal(t, Array(), search.Value)
	assert.Empty(t, search.Items)
}

func TestRunForeachFailLast(t *testing.T) {
	// Fails only for one specific item; the others must still run.
	picky := &fakeTool{
		name: "picky",
		fn: func(ctx context.Context, params map[string]Value) (*ToolResult, error) {
			if v := params["q"]; v.Equal(String("b")) {
				return &ToolResult{
					Success: false,
					Error:   &ToolFailure{Code: "rejected", Message: "no b allowed"},
				}, nil
			}
			return &ToolResult{Success: true, Output: params["q"]}, nil
		},
	}

	engine := NewEngine(newMockRegistry(picky))

	def := &Definition{
		Name:      "loop",
		Variables: map[string]Value{"items": Array(String("a"), String("b"), String("c"))},
		Steps: []Step{
			{
				ID:      "work",
				Tool:    "picky",
				Foreach: &Foreach{Items: "${variables.items}", ItemVar: "x"},
				Params:  map[string]Value{"q": String("${x}")},
			},
		},
	}

	ec, err := engine.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, RunFailed, ec.Status())

	work, _ := ec.LookupStep("work")
	assert.Equal(t, StepFailed, work.Status)
	require.NotNil(t, work.Error)
	assert.Equal(t, errors.CodeToolExecution, work.Error.Code)

	require.Len(t, work.Items, 3, "all iterations run to completion before the parent settles")
	assert.Equal(t, StepSucceeded, work.Items[0].Status)
	assert.Equal(t, StepFailed, work.Items[1].Status)
	assert.Equal(t, StepSucceeded, work.Items[2].Status)
}

func TestRunForeachNonArrayItems(t *testing.T) {
	engine := NewEngine(newMockRegistry(echoTool()))

	def := &Definition{
		Name:      "loop",
		Variables: map[string]Value{"items": String("oops")},
		Steps: []Step{
			{
				ID:      "work",
				Tool:    "echo",
				Foreach: &Foreach{Items: "${variables.items}", ItemVar: "x"},
				Params:  map[string]Value{"q": String("${x}")},
			},
		},
	}

	ec, err := engine.Run(context.Background(), def, nil)
	require.NoError(t, err)

	work, _ := ec.LookupStep("work")
	assert.Equal(t, StepFailed, work.Status)
	assert.Equal(t, errors.CodeResolution, work.Error.Code)
}

func TestRunValidationFailsFast(t *testing.T) {
	echo := echoTool()
	engine := NewEngine(newMockRegistry(echo))

	def := &Definition{
		Name: "invalid",
		Steps: []Step{
			{ID: "dup", Tool: "echo"},
			{ID: "dup", Tool: "echo"},
		},
	}

	ec, err := engine.Run(context.Background(), def, nil)
	require.Error(t, err)
	assert.Nil(t, ec, "no partial run state for an invalid definition")
	assert.Zero(t, echo.callCount())
}

func TestRunUnknownToolFailsFast(t *testing.T) {
	engine := NewEngine(newMockRegistry(echoTool()))

	def := &Definition{
		Name:  "missing-tool",
		Steps: []Step{{ID: "s1", Tool: "nonexistent"}},
	}

	ec, err := engine.Run(context.Background(), def, nil)
	require.Error(t, err)
	assert.Nil(t, ec)
	var verr *errors.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRunIsDeterministic(t *testing.T) {
	def := &Definition{
		Name:      "repeat",
		Variables: map[string]Value{"topics": Array(String("x"), String("y"))},
		Steps: []Step{
			{ID: "s1", Tool: "echo", Params: map[string]Value{"v": Number(41)}},
			{
				ID:      "s2",
				Tool:    "echo",
				Foreach: &Foreach{Items: "${variables.topics}", ItemVar: "t"},
				Params:  map[string]Value{"v": String("${t}-${steps.s1.value}")},
			},
		},
	}

	run := func() *ExecutionContext {
		engine := NewEngine(newMockRegistry(echoTool()))
		ec, err := engine.Run(context.Background(), def, nil)
		require.NoError(t, err)
		return ec
	}

	first, second := run(), run()
	assert.Equal(t, first.Status(), second.Status())

	a, b := first.Results(), second.Results()
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].StepID, b[i].StepID)
		assert.Equal(t, a[i].Status, b[i].Status)
		assert.True(t, a[i].Value.Equal(b[i].Value),
			"rerunning with identical inputs must produce identical values")
	}
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	events := NewEventEmitter()
	var mu sync.Mutex
	var seen []Event
	events.OnAny(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})

	engine := NewEngine(newMockRegistry(echoTool())).WithEvents(events)

	def := &Definition{
		Name:  "observed",
		Steps: []Step{{ID: "s1", Tool: "echo", Params: map[string]Value{"v": Number(1)}}},
	}

	ec, err := engine.Run(context.Background(), def, nil)
	require.NoError(t, err)

	require.Len(t, seen, 4)
	assert.Equal(t, EventRunStarted, seen[0].Type)
	assert.Equal(t, EventStepStarted, seen[1].Type)
	assert.Equal(t, EventStepCompleted, seen[2].Type)
	assert.Equal(t, string(StepSucceeded), seen[2].Status)
	assert.Equal(t, EventRunFinished, seen[3].Type)
	assert.Equal(t, string(RunCompleted), seen[3].Status)
	for _, ev := range seen {
		assert.Equal(t, ec.RunID(), ev.RunID)
		assert.Equal(t, "observed", ev.Workflow)
	}
}

func TestRunSkippedStepEmitsNoStartEvent(t *testing.T) {
	events := NewEventEmitter()
	var mu sync.Mutex
	started := map[string]int{}
	completed := map[string]string{}
	events.On(EventStepStarted, func(ev Event) {
		mu.Lock()
		started[ev.StepID]++
		mu.Unlock()
	})
	events.On(EventStepCompleted, func(ev Event) {
		mu.Lock()
		completed[ev.StepID] = ev.Status
		mu.Unlock()
	})

	engine := NewEngine(newMockRegistry(echoTool())).WithEvents(events)

	def := &Definition{
		Name:      "gated",
		Variables: map[string]Value{"deploy": Bool(false)},
		Steps: []Step{
			{ID: "build", Tool: "echo", Params: map[string]Value{"v": String("artifact")}},
			{ID: "deploy", Tool: "echo", Condition: "${variables.deploy}", Params: map[string]Value{"v": String("x")}},
		},
	}

	_, err := engine.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, started["build"])
	assert.Zero(t, started["deploy"], "a skipped step never enters running")
	assert.Equal(t, string(StepSkipped), completed["deploy"])
}

func TestRunCancelledContext(t *testing.T) {
	engine := NewEngine(newMockRegistry(slowTool("slow", time.Second), echoTool()))

	def := &Definition{
		Name: "cancelled",
		Steps: []Step{
			{ID: "slow", Tool: "slow"},
			{ID: "after", Tool: "echo", Params: map[string]Value{"v": Number(1)}},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	ec, err := engine.Run(ctx, def, nil)
	require.NoError(t, err)

	assert.Equal(t, RunFailed, ec.Status())

	slow, ok := ec.LookupStep("slow")
	require.True(t, ok)
	assert.Equal(t, StepFailed, slow.Status)
	assert.Equal(t, errors.CodeCancelled, slow.Error.Code)

	_, ok = ec.LookupStep("after")
	assert.False(t, ok, "no steps start after the run context is cancelled")
}

func TestRunCancelledBeforeFirstStep(t *testing.T) {
	echo := echoTool()
	engine := NewEngine(newMockRegistry(echo))

	def := &Definition{
		Name:  "cancelled",
		Steps: []Step{{ID: "s1", Tool: "echo", Params: map[string]Value{"v": Number(1)}}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ec, err := engine.Run(ctx, def, nil)
	require.NoError(t, err)

	assert.Equal(t, RunFailed, ec.Status(), "a run whose steps never ran must not report completed")
	assert.True(t, ec.Cancelled())
	assert.Empty(t, ec.AbortedBy())
	assert.Empty(t, ec.Results())
	assert.Zero(t, echo.callCount())

	report := BuildReport(ec)
	assert.False(t, report.Success)
	assert.Equal(t, RunFailed, report.Status)
}

func TestRunCancelledBetweenStepsContinueOnError(t *testing.T) {
	engine := NewEngine(newMockRegistry(slowTool("slow", time.Second), echoTool()))

	def := &Definition{
		Name: "cancelled",
		Steps: []Step{
			{ID: "slow", Tool: "slow"},
			{ID: "after", Tool: "echo", Params: map[string]Value{"v": Number(1)}},
		},
		ErrorHandling: ErrorHandling{ContinueOnError: true},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	ec, err := engine.Run(ctx, def, nil)
	require.NoError(t, err)

	// continue_on_error tolerates step failures, not a cancelled run:
	// the pending steps never ran, so the run cannot settle as
	// partially failed.
	assert.Equal(t, RunFailed, ec.Status())
	assert.True(t, ec.Cancelled())
	assert.Empty(t, ec.AbortedBy())

	_, ok := ec.LookupStep("after")
	assert.False(t, ok)
}

func TestPartitionSteps(t *testing.T) {
	steps := []Step{
		{ID: "a"},
		{ID: "b", ParallelGroup: "g1"},
		{ID: "c", ParallelGroup: "g1"},
		{ID: "d"},
		{ID: "e", ParallelGroup: "g1"},
		{ID: "f", ParallelGroup: "g2"},
		{ID: "g", ParallelGroup: "g2"},
	}

	groups := partitionSteps(steps)
	require.Len(t, groups, 5)
	assert.Equal(t, []int{0}, groups[0])
	assert.Equal(t, []int{1, 2}, groups[1])
	assert.Equal(t, []int{3}, groups[2])
	assert.Equal(t, []int{4}, groups[3], "a non-consecutive repeat of a group id is its own partition")
	assert.Equal(t, []int{5, 6}, groups[4])
}
