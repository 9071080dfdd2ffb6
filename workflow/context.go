package workflow

import (
	"context"
	"encoding/json"

	"github.com/arashen/durable/internal/sync"
	"github.com/arashen/durable/internal/workflowstate"
)

// Context is the only type a workflow Body interacts with. Its three methods
// are the suspension constructors described by the engine: each blocks the
// calling goroutine until the orchestrator resumes it with a result, either
// fetched fresh (the live branch) or replayed from history.
//
// A Context must never be retained past the Run call it was passed into, and
// must never be used concurrently: a workflow body is single-threaded by
// construction.
type Context interface {
	// Execute runs an activity. The first time this suspension is reached
	// for a given workflow, the activity's Handle is invoked and its result
	// checkpointed; every later replay returns the checkpointed result
	// without invoking Handle again.
	Execute(activity Activity) (json.RawMessage, error)

	// Wait suspends the workflow until the given duration has elapsed,
	// surviving process restarts in between. duration must be one of the
	// relative-time expressions documented on ParseDuration.
	Wait(duration string) error

	// SideEffect runs thunk and checkpoints its result the same way Execute
	// checkpoints an activity's result, but without the overhead of a full
	// Activity — useful for small non-deterministic values like random IDs
	// or timestamps that must be stable across replay.
	SideEffect(thunk func() (any, error)) (json.RawMessage, error)
}

type wfContext struct {
	ctx   context.Context
	state *workflowstate.State
}

// NewContext wraps ctx (which must already carry both the coroutine state
// NewCoroutine attaches and the workflowstate.State the orchestrator
// attached) as the Context a Body.Run receives. Only the orchestrator
// package calls this; workflow authors never construct a Context
// themselves.
func NewContext(ctx context.Context) Context {
	return &wfContext{ctx: ctx, state: workflowstate.FromContext(ctx)}
}

func (c *wfContext) Execute(activity Activity) (json.RawMessage, error) {
	c.state.Pending = &workflowstate.Suspension{
		Kind:     workflowstate.KindActivity,
		Activity: activity,
	}
	sync.Yield(c.ctx)
	return c.state.ResumeValue, c.state.ResumeErr
}

func (c *wfContext) Wait(duration string) error {
	c.state.Pending = &workflowstate.Suspension{
		Kind:     workflowstate.KindTimer,
		Duration: duration,
	}
	sync.Yield(c.ctx)
	return c.state.ResumeErr
}

func (c *wfContext) SideEffect(thunk func() (any, error)) (json.RawMessage, error) {
	c.state.Pending = &workflowstate.Suspension{
		Kind:  workflowstate.KindSideEffect,
		Thunk: thunk,
	}
	sync.Yield(c.ctx)
	return c.state.ResumeValue, c.state.ResumeErr
}
