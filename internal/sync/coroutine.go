// Package sync provides the cooperative suspension primitive the orchestrator
// uses to drive a workflow body: a single goroutine that blocks on a channel
// whenever the body yields, and is unblocked by the driver to resume exactly
// where it left off.
//
// This is deliberately smaller than a general-purpose coroutine scheduler:
// there is no Channel, Selector or WaitGroup here, because a workflow body
// never runs more than one suspension at a time (no parallel fan-out).
package sync

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// DeadlockDetection bounds how long Execute will wait for the body to either
// yield again or finish before concluding it is stuck.
const DeadlockDetection = 40 * time.Second

// ErrAlreadyFinished is recovered internally when a coroutine that has
// already finished is asked to yield again during teardown.
var ErrAlreadyFinished = errors.New("coroutine already finished")

// Coroutine is a single workflow body running on its own goroutine,
// cooperatively stepped by the orchestrator.
type Coroutine interface {
	// Execute resumes the coroutine and blocks until it yields again or
	// finishes.
	Execute()

	// Exit unblocks a currently-yielded coroutine and tears it down without
	// letting it run any further body code.
	Exit()

	Blocked() bool
	Finished() bool

	// Err returns the error the body returned, if any, once Finished.
	Err() error
}

type coState struct {
	blocking chan struct{} // signals the coroutine is about to block
	unblock  chan struct{} // signals the coroutine may continue

	blocked    atomic.Bool
	finished   atomic.Bool
	shouldExit atomic.Bool

	err error
}

// NewCoroutine starts fn on its own goroutine and returns a handle to step
// it. fn receives ctx, which carries this coroutine's state so that Yield
// can find its way back to the right blocking/unblock pair.
func NewCoroutine(ctx context.Context, fn func(context.Context) error) Coroutine {
	s := &coState{
		blocking: make(chan struct{}, 1),
		unblock:  make(chan struct{}),
	}
	s.blocked.Store(true)

	ctx = withCoState(ctx, s)

	go func() {
		defer s.finish()
		defer func() {
			if r := recover(); r != nil {
				if err, ok := r.(error); ok && errors.Is(err, ErrAlreadyFinished) {
					return
				}
				s.err = fmt.Errorf("workflow body panicked: %v", r)
			}
		}()

		// Block immediately; the first Execute() call starts the body.
		s.yield(false)

		s.err = fn(ctx)
	}()

	return s
}

func (s *coState) finish() {
	s.finished.Store(true)
	s.blocking <- struct{}{}
}

func (s *coState) Blocked() bool  { return s.blocked.Load() }
func (s *coState) Finished() bool { return s.finished.Load() }
func (s *coState) Err() error     { return s.err }

// Yield is called from inside the workflow body (via the workflow.Context
// suspension constructors) to hand control back to the driver.
func (s *coState) Yield() {
	s.yield(true)
}

func (s *coState) yield(markBlocking bool) {
	if markBlocking {
		if s.shouldExit.Load() {
			panic(ErrAlreadyFinished)
		}

		s.blocked.Store(true)
		s.blocking <- struct{}{}
	}

	<-s.unblock

	if s.shouldExit.Load() {
		// Goexit runs deferred functions, including finish(), which marks
		// the coroutine finished and unblocks any pending Execute().
		runtime.Goexit()
	}

	s.blocked.Store(false)
}

func (s *coState) Execute() {
	if s.Finished() {
		return
	}

	t := time.NewTimer(DeadlockDetection)
	defer t.Stop()

	s.unblock <- struct{}{}

	runtime.Gosched()

	select {
	case <-s.blocking:
	case <-t.C:
		panic("workflow body deadlocked: no suspension or return within " + DeadlockDetection.String())
	}
}

func (s *coState) Exit() {
	if s.Finished() {
		return
	}

	s.shouldExit.Store(true)
	s.Execute()
}

type coStateKey struct{}

func withCoState(ctx context.Context, s *coState) context.Context {
	return context.WithValue(ctx, coStateKey{}, s)
}

func getCoState(ctx context.Context) *coState {
	s, ok := ctx.Value(coStateKey{}).(*coState)
	if !ok {
		panic("sync: context was not created by NewCoroutine")
	}
	return s
}

// Yield suspends the calling workflow body until the orchestrator calls
// Execute again. It must be called with the context passed into the
// coroutine's function, or one derived from it.
func Yield(ctx context.Context) {
	getCoState(ctx).Yield()
}
