// Package orchestrator implements the replay loop: the single place that
// drives a workflow.Body from its persisted history and any newly-live
// suspensions, one step at a time, through the cooperative coroutine in
// internal/sync.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arashen/durable/internal/sync"
	"github.com/arashen/durable/internal/workflowstate"
	durablelog "github.com/arashen/durable/log"
	"github.com/arashen/durable/registry"
	"github.com/arashen/durable/store"
	"github.com/arashen/durable/workflow"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNonDeterministic is returned when a replayed suspension's kind does not
// match the history event at the same position — the body took a different
// path than the one its history was recorded against.
var ErrNonDeterministic = errors.New("orchestrator: workflow replay diverged from recorded history")

// Orchestrator drives workflow instances against a store and registry.
type Orchestrator struct {
	store    store.Store
	registry *registry.Registry
	tracer   trace.Tracer
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithTracer overrides the default otel.Tracer("github.com/arashen/durable/orchestrator").
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

// New creates an Orchestrator backed by s, resolving workflow classes
// through r.
func New(s store.Store, r *registry.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    s,
		registry: r,
		tracer:   otel.Tracer("github.com/arashen/durable/orchestrator"),
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Run drives the workflow identified by id for one activation: from its
// current persisted state (cold, or woken from a sleeping timer) through
// either live execution or history replay, until the body suspends on a
// timer (returning with the workflow left sleeping) or finishes (completed
// or failed).
//
// The returned value is the body's final result when this call is the one
// that completes it; it is not persisted and is only useful to an in-process
// caller driving a workflow directly rather than through a worker poll loop.
func (o *Orchestrator) Run(ctx context.Context, id string) (any, error) {
	rec, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading workflow %q: %w", id, err)
	}

	if rec.Status.Terminal() {
		return nil, nil
	}

	isWake := rec.Status == store.StatusSleeping

	ctx, span := o.tracer.Start(ctx, rec.Class, trace.WithAttributes(
		attribute.String(durablelog.InstanceIDKey, id),
		attribute.String(durablelog.ClassKey, rec.Class),
		attribute.Bool(durablelog.IsWakeKey, isWake),
	))
	defer span.End()

	logger := o.logger.With(
		slog.String(durablelog.InstanceIDKey, id),
		slog.String(durablelog.ClassKey, rec.Class),
	)

	if isWake {
		// Single-winner compare-and-swap transition: only the caller that
		// flips sleeping -> running proceeds. A loser treats this Run as a
		// no-op rather than erroring, since another orchestrator is already
		// driving this instance.
		if err := o.store.UpdateStatus(ctx, id, store.StatusRunning, nil, store.StatusSleeping); err != nil {
			if errors.Is(err, store.ErrConflict) {
				logger.Debug("lost wake race, skipping")
				return nil, nil
			}
			return nil, fmt.Errorf("transitioning %q out of sleep: %w", id, err)
		}

		if _, err := o.store.AppendEvent(ctx, id, store.EventTimerCompleted, nil); err != nil {
			return nil, fmt.Errorf("recording wake for %q: %w", id, err)
		}

		logger.Debug("woke from timer")
	}

	body, err := o.registry.Build(rec.Class, rec.Args)
	if err != nil {
		o.fail(ctx, id, logger, span, err)
		return nil, err
	}

	history, err := o.store.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading history for %q: %w", id, err)
	}

	logger = logger.With(slog.Int(durablelog.HistoryLenKey, len(history)))

	state := &workflowstate.State{}
	coCtx := workflowstate.WithState(ctx, state)

	var finalResult any
	co := sync.NewCoroutine(coCtx, func(ctx context.Context) error {
		result, err := body.Run(workflow.NewContext(ctx))
		finalResult = result
		return err
	})

	co.Execute()

	cursor := 0

	for !co.Finished() {
		susp := state.Pending
		state.Pending = nil

		if susp == nil {
			// Malformed yield: resume with a null value rather than failing
			// the workflow outright.
			state.ResumeValue = nil
			state.ResumeErr = nil
			co.Execute()
			continue
		}

		replaying := cursor < len(history)

		if replaying {
			event := history[cursor]
			if event.Type != eventTypeFor(susp.Kind) {
				co.Exit()
				err := fmt.Errorf("%w: expected %s, recorded event was %s (seq %d)",
					ErrNonDeterministic, eventTypeFor(susp.Kind), event.Type, event.Seq)
				o.fail(ctx, id, logger, span, err)
				return nil, err
			}

			logger.Debug("replaying history event",
				slog.Bool(durablelog.IsReplayingKey, true),
				slog.String(durablelog.EventTypeKey, string(event.Type)),
				slog.Int64(durablelog.SeqKey, event.Seq),
			)

			cursor++
			state.ResumeValue = event.Result
			state.ResumeErr = nil
			co.Execute()
			continue
		}

		logger.Debug("executing live suspension", slog.String(durablelog.ActivityKindKey, susp.Kind.String()))

		switch susp.Kind {
		case workflowstate.KindActivity:
			result, err := susp.Activity.Handle()
			if err != nil {
				co.Exit()
				o.fail(ctx, id, logger, span, err)
				return nil, err
			}

			encoded, err := json.Marshal(result)
			if err != nil {
				co.Exit()
				o.fail(ctx, id, logger, span, err)
				return nil, err
			}

			if _, err := o.store.AppendEvent(ctx, id, store.EventActivityCompleted, encoded); err != nil {
				co.Exit()
				return nil, fmt.Errorf("recording activity result for %q: %w", id, err)
			}

			state.ResumeValue = encoded
			state.ResumeErr = nil
			co.Execute()

		case workflowstate.KindSideEffect:
			result, err := susp.Thunk()
			if err != nil {
				co.Exit()
				o.fail(ctx, id, logger, span, err)
				return nil, err
			}

			encoded, err := json.Marshal(result)
			if err != nil {
				co.Exit()
				o.fail(ctx, id, logger, span, err)
				return nil, err
			}

			if _, err := o.store.AppendEvent(ctx, id, store.EventSideEffectCompleted, encoded); err != nil {
				co.Exit()
				return nil, fmt.Errorf("recording side effect result for %q: %w", id, err)
			}

			state.ResumeValue = encoded
			state.ResumeErr = nil
			co.Execute()

		case workflowstate.KindTimer:
			duration, err := workflow.ParseDuration(susp.Duration)
			if err != nil {
				co.Exit()
				o.fail(ctx, id, logger, span, err)
				return nil, err
			}

			now, err := o.store.Now(ctx)
			if err != nil {
				co.Exit()
				return nil, fmt.Errorf("reading store clock: %w", err)
			}

			wake := now.Add(duration)
			if err := o.store.UpdateStatus(ctx, id, store.StatusSleeping, &wake); err != nil {
				co.Exit()
				return nil, fmt.Errorf("scheduling wake for %q: %w", id, err)
			}

			logger.Debug("suspended on timer",
				slog.Time(durablelog.NowKey, now),
				slog.Time(durablelog.AtKey, wake),
				slog.Int64(durablelog.DurationKey, duration.Milliseconds()),
			)
			co.Exit()
			return nil, nil

		default:
			co.Exit()
			err := fmt.Errorf("orchestrator: unknown suspension kind %v", susp.Kind)
			o.fail(ctx, id, logger, span, err)
			return nil, err
		}
	}

	if err := co.Err(); err != nil {
		o.fail(ctx, id, logger, span, err)
		return nil, err
	}

	if err := o.store.UpdateStatus(ctx, id, store.StatusCompleted, nil); err != nil {
		return nil, fmt.Errorf("completing %q: %w", id, err)
	}

	logger.Info("workflow completed")
	span.SetStatus(codes.Ok, "")

	return finalResult, nil
}

func (o *Orchestrator) fail(ctx context.Context, id string, logger *slog.Logger, span trace.Span, cause error) {
	logger.Error("workflow failed", "error", cause)
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	if err := o.store.UpdateStatus(ctx, id, store.StatusFailed, nil); err != nil {
		logger.Error("failed to persist failed status", "error", err)
	}
}

func eventTypeFor(kind workflowstate.Kind) store.EventType {
	switch kind {
	case workflowstate.KindActivity:
		return store.EventActivityCompleted
	case workflowstate.KindTimer:
		return store.EventTimerCompleted
	case workflowstate.KindSideEffect:
		return store.EventSideEffectCompleted
	default:
		return ""
	}
}
