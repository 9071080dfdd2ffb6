package worker_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/arashen/durable/orchestrator"
	"github.com/arashen/durable/registry"
	"github.com/arashen/durable/store"
	"github.com/arashen/durable/store/memory"
	"github.com/arashen/durable/worker"
	"github.com/arashen/durable/workflow"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type failingWorkflow struct{}

func (failingWorkflow) Run(workflow.Context) (any, error) {
	panic("boom")
}

type okWorkflow struct{}

func (okWorkflow) Run(workflow.Context) (any, error) {
	return "ok", nil
}

// TestWorker_RunOnceIsolatesFailures verifies that one failing workflow
// does not stop the batch from driving the rest.
func TestWorker_RunOnceIsolatesFailures(t *testing.T) {
	mockClock := clock.NewMock()
	mockClock.Set(time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC))

	s := memory.NewWithClock(mockClock)
	r := registry.New()
	require.NoError(t, r.RegisterWorkflow("failing", func(json.RawMessage) (workflow.Body, error) {
		return failingWorkflow{}, nil
	}))
	require.NoError(t, r.RegisterWorkflow("ok", func(json.RawMessage) (workflow.Body, error) {
		return okWorkflow{}, nil
	}))

	o := orchestrator.New(s, r)
	w := worker.New(s, o)

	ctx := t.Context()

	require.NoError(t, s.Create(ctx, "w1", "failing", nil))
	require.NoError(t, s.Create(ctx, "w2", "ok", nil))

	past := mockClock.Now().Add(-time.Minute)
	require.NoError(t, s.UpdateStatus(ctx, "w1", store.StatusSleeping, &past))
	require.NoError(t, s.UpdateStatus(ctx, "w2", store.StatusSleeping, &past))

	require.NoError(t, w.RunOnce(ctx))

	rec1, err := s.Load(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, rec1.Status)

	rec2, err := s.Load(ctx, "w2")
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, rec2.Status)
}

func TestWorker_StartStopNoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := memory.New()
	r := registry.New()
	o := orchestrator.New(s, r)

	w := worker.New(s, o, worker.WithInterval(10*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- w.Start(t.Context()) }()

	time.Sleep(30 * time.Millisecond)
	w.Stop()

	require.NoError(t, <-done)
}
