// Package worker provides the wall-clock progress loop: poll the store for
// workflows whose timers have elapsed, and drive each one through the
// orchestrator.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arashen/durable/orchestrator"
	"github.com/arashen/durable/store"
)

// DefaultInterval is how often Start polls the store when no interval is
// given.
const DefaultInterval = time.Second

// DefaultBatchSize bounds how many ready workflows a single poll drives.
const DefaultBatchSize = 10

// Worker polls a store for workflows ready to resume and drives them
// through an orchestrator.Orchestrator. A Worker is safe to Stop from any
// goroutine while Start is running in another.
type Worker struct {
	store        store.Store
	orchestrator *orchestrator.Orchestrator
	interval     time.Duration
	batchSize    int
	logger       *slog.Logger

	stop chan struct{}
	once sync.Once
}

// Option configures a Worker.
type Option func(*Worker)

// WithInterval overrides DefaultInterval.
func WithInterval(interval time.Duration) Option {
	return func(w *Worker) { w.interval = interval }
}

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(w *Worker) { w.batchSize = n }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// New creates a Worker driving workflows in s through o.
func New(s store.Store, o *orchestrator.Orchestrator, opts ...Option) *Worker {
	w := &Worker{
		store:        s,
		orchestrator: o,
		interval:     DefaultInterval,
		batchSize:    DefaultBatchSize,
		logger:       slog.Default(),
		stop:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Start polls the store every interval until ctx is cancelled or Stop is
// called, driving every ready workflow id returned by each poll. It blocks
// until the loop exits.
func (w *Worker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("poll failed", "error", err)
			}
		}
	}
}

// RunOnce polls the store once and drives every returned id to its next
// suspension point, sequentially. A failure driving one workflow is logged
// and does not prevent the remaining ids in the batch from running.
func (w *Worker) RunOnce(ctx context.Context) error {
	ids, err := w.store.PollReady(ctx, w.batchSize)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if _, err := w.orchestrator.Run(ctx, id); err != nil {
			w.logger.Error("workflow run failed", "workflow_id", id, "error", err)
		}
	}

	return nil
}

// Stop signals Start's loop to exit after its current iteration. It is safe
// to call more than once.
func (w *Worker) Stop() {
	w.once.Do(func() { close(w.stop) })
}
