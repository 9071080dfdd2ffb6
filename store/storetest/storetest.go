// Package storetest is a conformance suite run against every store.Store
// backend so behavioral parity across them is a tested property rather than
// an assumption. Each backend's own test file constructs a fresh store and
// calls Run.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/arashen/durable/store"
	"github.com/stretchr/testify/require"
)

// Run exercises store.Store's documented contract against s. advance, if
// non-nil, moves the store's clock forward by d (memory's fake clock plugs in
// here; SQL-backed stores, whose Now() reads wall-clock time, pass nil and the
// suite checks a wake time in the past instead).
func Run(t *testing.T, s store.Store, advance func(d time.Duration)) {
	t.Run("CreateAndLoad", func(t *testing.T) { testCreateAndLoad(t, s) })
	t.Run("DuplicateCreateFails", func(t *testing.T) { testDuplicateCreateFails(t, s) })
	t.Run("LoadMissingFails", func(t *testing.T) { testLoadMissingFails(t, s) })
	t.Run("AppendEventOrder", func(t *testing.T) { testAppendEventOrder(t, s) })
	t.Run("StatusSleepingInvariant", func(t *testing.T) { testStatusSleepingInvariant(t, s) })
	t.Run("PollReadyRespectsWakeTime", func(t *testing.T) { testPollReadyRespectsWakeTime(t, s, advance) })
	t.Run("PollReadyIgnoresOtherStatuses", func(t *testing.T) { testPollReadyIgnoresOtherStatuses(t, s) })
	t.Run("UpdateStatusCAS", func(t *testing.T) { testUpdateStatusCAS(t, s) })
}

func testCreateAndLoad(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "wf-create-load", "signup", []byte(`{"email":"a@b.com"}`)))

	rec, err := s.Load(ctx, "wf-create-load")
	require.NoError(t, err)
	require.Equal(t, "signup", rec.Class)
	require.Equal(t, store.StatusRunning, rec.Status)
	require.Nil(t, rec.WakeUpTime)
	require.JSONEq(t, `{"email":"a@b.com"}`, string(rec.Args))

	hist, err := s.History(ctx, "wf-create-load")
	require.NoError(t, err)
	require.Empty(t, hist)
}

func testDuplicateCreateFails(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "wf-dup", "signup", nil))
	err := s.Create(ctx, "wf-dup", "signup", nil)
	require.ErrorIs(t, err, store.ErrAlreadyExists)
}

func testLoadMissingFails(t *testing.T, s store.Store) {
	_, err := s.Load(context.Background(), "wf-does-not-exist")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testAppendEventOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "wf-history", "signup", nil))

	e1, err := s.AppendEvent(ctx, "wf-history", store.EventActivityCompleted, []byte(`"Processed: Signup"`))
	require.NoError(t, err)
	e2, err := s.AppendEvent(ctx, "wf-history", store.EventTimerCompleted, nil)
	require.NoError(t, err)
	e3, err := s.AppendEvent(ctx, "wf-history", store.EventActivityCompleted, []byte(`"Processed: Charge"`))
	require.NoError(t, err)

	require.Less(t, e1.Seq, e2.Seq)
	require.Less(t, e2.Seq, e3.Seq)

	hist, err := s.History(ctx, "wf-history")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	require.Equal(t, store.EventActivityCompleted, hist[0].Type)
	require.JSONEq(t, `"Processed: Signup"`, string(hist[0].Result))
	require.Equal(t, store.EventTimerCompleted, hist[1].Type)
	require.Nil(t, hist[1].Result)
	require.Equal(t, store.EventActivityCompleted, hist[2].Type)
	require.JSONEq(t, `"Processed: Charge"`, string(hist[2].Result))
}

func testStatusSleepingInvariant(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "wf-sleeping", "signup", nil))

	wake := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, s.UpdateStatus(ctx, "wf-sleeping", store.StatusSleeping, &wake))

	rec, err := s.Load(ctx, "wf-sleeping")
	require.NoError(t, err)
	require.Equal(t, store.StatusSleeping, rec.Status)
	require.NotNil(t, rec.WakeUpTime)
	require.WithinDuration(t, wake, *rec.WakeUpTime, time.Second)

	// Transitioning away from sleeping without a new wake time clears it.
	require.NoError(t, s.UpdateStatus(ctx, "wf-sleeping", store.StatusRunning, nil))

	rec, err = s.Load(ctx, "wf-sleeping")
	require.NoError(t, err)
	require.Equal(t, store.StatusRunning, rec.Status)
	require.Nil(t, rec.WakeUpTime)
}

func testPollReadyRespectsWakeTime(t *testing.T, s store.Store, advance func(d time.Duration)) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "wf-poll-future", "signup", nil))

	now, err := s.Now(ctx)
	require.NoError(t, err)

	future := now.Add(24 * time.Hour)
	require.NoError(t, s.UpdateStatus(ctx, "wf-poll-future", store.StatusSleeping, &future))

	ids, err := s.PollReady(ctx, 10)
	require.NoError(t, err)
	require.NotContains(t, ids, "wf-poll-future")

	if advance == nil {
		// Without a way to move the clock, confirm a due workflow (wake
		// time in the past) is returned instead.
		require.NoError(t, s.Create(ctx, "wf-poll-due", "signup", nil))
		past := now.Add(-time.Second)
		require.NoError(t, s.UpdateStatus(ctx, "wf-poll-due", store.StatusSleeping, &past))

		ids, err = s.PollReady(ctx, 10)
		require.NoError(t, err)
		require.Contains(t, ids, "wf-poll-due")
		return
	}

	advance(25 * time.Hour)

	ids, err = s.PollReady(ctx, 10)
	require.NoError(t, err)
	require.Contains(t, ids, "wf-poll-future")
}

func testPollReadyIgnoresOtherStatuses(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "wf-running", "signup", nil))

	require.NoError(t, s.Create(ctx, "wf-completed", "signup", nil))
	require.NoError(t, s.UpdateStatus(ctx, "wf-completed", store.StatusCompleted, nil))

	ids, err := s.PollReady(ctx, 10)
	require.NoError(t, err)
	require.NotContains(t, ids, "wf-running")
	require.NotContains(t, ids, "wf-completed")
}

func testUpdateStatusCAS(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "wf-cas", "signup", nil))

	wake := time.Now().Add(time.Hour)
	require.NoError(t, s.UpdateStatus(ctx, "wf-cas", store.StatusSleeping, &wake))

	// A CAS from the wrong expected status is rejected.
	err := s.UpdateStatus(ctx, "wf-cas", store.StatusRunning, nil, store.StatusRunning)
	require.ErrorIs(t, err, store.ErrConflict)

	rec, err := s.Load(ctx, "wf-cas")
	require.NoError(t, err)
	require.Equal(t, store.StatusSleeping, rec.Status)

	// A CAS from the right expected status succeeds exactly once.
	require.NoError(t, s.UpdateStatus(ctx, "wf-cas", store.StatusRunning, nil, store.StatusSleeping))

	err = s.UpdateStatus(ctx, "wf-cas", store.StatusRunning, nil, store.StatusSleeping)
	require.ErrorIs(t, err, store.ErrConflict)
}
