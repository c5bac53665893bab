package tools

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stepflow/pkg/errors"
	"github.com/tombee/stepflow/pkg/workflow"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(NewEcho()))
	assert.True(t, r.Has("echo"))

	tool, err := r.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", tool.Name())

	err = r.Register(NewEcho())
	require.Error(t, err, "duplicate registration is rejected")

	require.Error(t, r.Register(nil))
	require.Error(t, r.Register(NewStub("")))
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("missing")
	require.Error(t, err)
	var nf *errors.NotFoundError
	assert.ErrorAs(t, err, &nf)
	assert.False(t, r.Has("missing"))
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewEcho()))

	require.NoError(t, r.Unregister("echo"))
	assert.False(t, r.Has("echo"))
	require.Error(t, r.Unregister("echo"))
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewStub("zeta")))
	require.NoError(t, r.Register(NewStub("alpha")))
	require.NoError(t, r.Register(NewStub("mid")))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.List())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(NewStub(fmt.Sprintf("tool-%d", i)))
			r.Has("tool-0")
			r.List()
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.List(), 10)
}

func TestFuncAdapter(t *testing.T) {
	double := NewFunc("double", "doubles a number",
		func(ctx context.Context, params map[string]workflow.Value) (*workflow.ToolResult, error) {
			n, ok := params["n"].AsNumber()
			if !ok {
				return &workflow.ToolResult{
					Success: false,
					Error:   &workflow.ToolFailure{Code: "bad_param", Message: "n must be a number"},
				}, nil
			}
			return &workflow.ToolResult{Success: true, Output: workflow.Number(n * 2)}, nil
		})

	assert.Equal(t, "double", double.Name())
	assert.Equal(t, "doubles a number", double.Description())

	res, err := double.Execute(context.Background(), map[string]workflow.Value{
		"n": workflow.Number(21),
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, workflow.Number(42), res.Output)
}
