package orchestrator_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/arashen/durable/orchestrator"
	"github.com/arashen/durable/registry"
	"github.com/arashen/durable/store"
	"github.com/arashen/durable/store/memory"
	"github.com/arashen/durable/workflow"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

type mockActivity struct {
	name string
}

func (a mockActivity) Handle() (any, error) {
	return "Processed: " + a.name, nil
}

// signupWorkflow signs a new account up, waits seven days, then charges it.
type signupWorkflow struct{}

func (signupWorkflow) Run(ctx workflow.Context) (any, error) {
	signup, err := ctx.Execute(mockActivity{name: "Signup"})
	if err != nil {
		return nil, err
	}

	var signupResult string
	if err := json.Unmarshal(signup, &signupResult); err != nil {
		return nil, err
	}

	if err := ctx.Wait("7 days"); err != nil {
		return nil, err
	}

	charge, err := ctx.Execute(mockActivity{name: "Charge"})
	if err != nil {
		return nil, err
	}

	var chargeResult string
	if err := json.Unmarshal(charge, &chargeResult); err != nil {
		return nil, err
	}

	return "Done: " + signupResult + " -> " + chargeResult, nil
}

func TestOrchestrator_SignupAndChargeAcrossWait(t *testing.T) {
	mockClock := clock.NewMock()
	mockClock.Set(time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC))

	s := memory.NewWithClock(mockClock)
	r := registry.New()
	require.NoError(t, r.RegisterWorkflow("signup", func(json.RawMessage) (workflow.Body, error) {
		return signupWorkflow{}, nil
	}))

	o := orchestrator.New(s, r)

	require.NoError(t, s.Create(t.Context(), "wf-1", "signup", nil))

	result, err := o.Run(t.Context(), "wf-1")
	require.NoError(t, err)
	require.Nil(t, result)

	rec, err := s.Load(t.Context(), "wf-1")
	require.NoError(t, err)
	require.Equal(t, store.StatusSleeping, rec.Status)
	require.NotNil(t, rec.WakeUpTime)
	require.Equal(t, mockClock.Now().Add(7*24*time.Hour), *rec.WakeUpTime)

	history, err := s.History(t.Context(), "wf-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, store.EventActivityCompleted, history[0].Type)

	ready, err := s.PollReady(t.Context(), 10)
	require.NoError(t, err)
	require.Empty(t, ready)

	mockClock.Add(7*24*time.Hour + time.Second)

	ready, err = s.PollReady(t.Context(), 10)
	require.NoError(t, err)
	require.Equal(t, []string{"wf-1"}, ready)

	result, err = o.Run(t.Context(), "wf-1")
	require.NoError(t, err)
	require.Equal(t, "Done: Processed: Signup -> Processed: Charge", result)

	rec, err = s.Load(t.Context(), "wf-1")
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, rec.Status)

	history, err = s.History(t.Context(), "wf-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, store.EventActivityCompleted, history[0].Type)
	require.Equal(t, store.EventTimerCompleted, history[1].Type)
	require.Equal(t, store.EventActivityCompleted, history[2].Type)
}

// reorderedWorkflow is the same shape as signupWorkflow, but a second
// "deploy" of the body swaps the order of its first two suspensions,
// producing a yielded request that doesn't match the recorded history.
type reorderedWorkflow struct{}

func (reorderedWorkflow) Run(ctx workflow.Context) (any, error) {
	if err := ctx.Wait("1 minute"); err != nil {
		return nil, err
	}

	if _, err := ctx.Execute(mockActivity{name: "A"}); err != nil {
		return nil, err
	}

	return nil, nil
}

func TestOrchestrator_NonDeterministicReplayFails(t *testing.T) {
	mockClock := clock.NewMock()
	mockClock.Set(time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC))

	s := memory.NewWithClock(mockClock)

	// Simulate history recorded by an earlier version of the body that
	// executed the activity first.
	require.NoError(t, s.Create(t.Context(), "wf-2", "reordered", nil))
	_, err := s.AppendEvent(t.Context(), "wf-2", store.EventActivityCompleted, json.RawMessage(`"Processed: A"`))
	require.NoError(t, err)

	r := registry.New()
	require.NoError(t, r.RegisterWorkflow("reordered", func(json.RawMessage) (workflow.Body, error) {
		return reorderedWorkflow{}, nil
	}))

	o := orchestrator.New(s, r)

	_, err = o.Run(t.Context(), "wf-2")
	require.ErrorIs(t, err, orchestrator.ErrNonDeterministic)

	rec, err := s.Load(t.Context(), "wf-2")
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, rec.Status)
}

// sideEffectWorkflow runs a single side effect whose result must be stable
// across replay: the underlying thunk must never be invoked more than once.
type sideEffectWorkflow struct {
	source func() (any, error)
}

func (w sideEffectWorkflow) Run(ctx workflow.Context) (any, error) {
	result, err := ctx.SideEffect(w.source)
	if err != nil {
		return nil, err
	}

	var value float64
	if err := json.Unmarshal(result, &value); err != nil {
		return nil, err
	}

	return value, nil
}

func TestOrchestrator_SideEffectNotReinvokedAfterCompletion(t *testing.T) {
	s := memory.New()
	r := registry.New()

	calls := 0
	require.NoError(t, r.RegisterWorkflow("side-effect", func(json.RawMessage) (workflow.Body, error) {
		return sideEffectWorkflow{source: func() (any, error) {
			calls++
			return 0.42, nil
		}}, nil
	}))

	o := orchestrator.New(s, r)

	require.NoError(t, s.Create(t.Context(), "wf-3", "side-effect", nil))

	result, err := o.Run(t.Context(), "wf-3")
	require.NoError(t, err)
	require.Equal(t, 0.42, result)
	require.Equal(t, 1, calls)

	history, err := s.History(t.Context(), "wf-3")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, store.EventSideEffectCompleted, history[0].Type)

	// The workflow is already completed; re-running it is a no-op and must
	// not invoke the thunk again.
	result, err = o.Run(t.Context(), "wf-3")
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, 1, calls)
}

func TestOrchestrator_EmptyBodyCompletesImmediately(t *testing.T) {
	s := memory.New()
	r := registry.New()
	require.NoError(t, r.RegisterWorkflow("empty", func(json.RawMessage) (workflow.Body, error) {
		return emptyWorkflow{}, nil
	}))

	o := orchestrator.New(s, r)

	require.NoError(t, s.Create(t.Context(), "wf-4", "empty", nil))

	result, err := o.Run(t.Context(), "wf-4")
	require.NoError(t, err)
	require.Equal(t, "done", result)

	rec, err := s.Load(t.Context(), "wf-4")
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, rec.Status)

	history, err := s.History(t.Context(), "wf-4")
	require.NoError(t, err)
	require.Empty(t, history)
}

type emptyWorkflow struct{}

func (emptyWorkflow) Run(workflow.Context) (any, error) {
	return "done", nil
}

func TestOrchestrator_UnknownClassFailsWorkflow(t *testing.T) {
	s := memory.New()
	r := registry.New()
	o := orchestrator.New(s, r)

	require.NoError(t, s.Create(t.Context(), "wf-5", "does-not-exist", nil))

	_, err := o.Run(t.Context(), "wf-5")
	require.Error(t, err)

	rec, err := s.Load(t.Context(), "wf-5")
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, rec.Status)
}
