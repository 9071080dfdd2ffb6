package workflow

import (
	"context"
	"encoding/json"
	"testing"

	isync "github.com/arashen/durable/internal/sync"
	"github.com/arashen/durable/internal/workflowstate"
	"github.com/stretchr/testify/require"
)

// drive is a minimal stand-in for the orchestrator's drive loop, used to
// exercise Context's suspension constructors without pulling in the store or
// the full replay machinery.
func drive(t *testing.T, run func(ctx Context) (any, error), resolve func(s *workflowstate.Suspension) (json.RawMessage, error)) (any, error) {
	t.Helper()

	state := &workflowstate.State{}
	base := workflowstate.WithState(context.Background(), state)

	var result any
	var runErr error

	co := isync.NewCoroutine(base, func(ctx context.Context) error {
		result, runErr = run(NewContext(ctx))
		return runErr
	})

	co.Execute()
	for !co.Finished() {
		val, err := resolve(state.Pending)
		state.ResumeValue, state.ResumeErr = val, err
		co.Execute()
	}

	return result, co.Err()
}

type fakeActivity struct {
	result any
	err    error
}

func (a fakeActivity) Handle() (any, error) { return a.result, a.err }

func TestContext_Execute(t *testing.T) {
	result, err := drive(t,
		func(ctx Context) (any, error) {
			v, err := ctx.Execute(fakeActivity{result: "ok"})
			if err != nil {
				return nil, err
			}
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return nil, err
			}
			return s, nil
		},
		func(s *workflowstate.Suspension) (json.RawMessage, error) {
			require.Equal(t, workflowstate.KindActivity, s.Kind)
			v, err := s.Activity.Handle()
			require.NoError(t, err)
			b, _ := json.Marshal(v)
			return b, nil
		},
	)

	require.NoError(t, err)
	require.Equal(t, "ok", result)
}

func TestContext_Wait(t *testing.T) {
	var gotDuration string

	_, err := drive(t,
		func(ctx Context) (any, error) {
			return nil, ctx.Wait("7 days")
		},
		func(s *workflowstate.Suspension) (json.RawMessage, error) {
			require.Equal(t, workflowstate.KindTimer, s.Kind)
			gotDuration = s.Duration
			return nil, nil
		},
	)

	require.NoError(t, err)
	require.Equal(t, "7 days", gotDuration)
}

func TestContext_SideEffect(t *testing.T) {
	result, err := drive(t,
		func(ctx Context) (any, error) {
			v, err := ctx.SideEffect(func() (any, error) { return 42, nil })
			if err != nil {
				return nil, err
			}
			var n int
			require.NoError(t, json.Unmarshal(v, &n))
			return n, nil
		},
		func(s *workflowstate.Suspension) (json.RawMessage, error) {
			require.Equal(t, workflowstate.KindSideEffect, s.Kind)
			v, err := s.Thunk()
			require.NoError(t, err)
			b, _ := json.Marshal(v)
			return b, nil
		},
	)

	require.NoError(t, err)
	require.Equal(t, 42, result)
}
