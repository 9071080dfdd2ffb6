// Package store defines the persistence contract the orchestrator and
// worker rely on: an append-only history per workflow, a mutable workflow
// record, and the clock the engine's time arithmetic is defined against.
//
// Four implementations ship in subpackages: memory (for tests), sqlite
// (default embedded deployment), postgres and mysql.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status is a workflow instance's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSleeping  Status = "sleeping"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrNotFound is returned by Load when no workflow exists with the
	// given id.
	ErrNotFound = errors.New("store: workflow not found")

	// ErrAlreadyExists is returned by Create when id is already in use.
	ErrAlreadyExists = errors.New("store: workflow already exists")

	// ErrConflict is returned by UpdateStatus when the expected current
	// status does not match what is stored, signalling that another
	// orchestrator has already transitioned this workflow. Callers use
	// this to implement a compare-and-swap status transition so that at
	// most one orchestrator ever drives a given workflow at a time.
	ErrConflict = errors.New("store: status does not match expected value")
)

// EventType enumerates the three kinds of checkpointed suspensions.
type EventType string

const (
	EventActivityCompleted   EventType = "activity_completed"
	EventTimerCompleted      EventType = "timer_completed"
	EventSideEffectCompleted EventType = "side_effect_completed"
)

// Record is a workflow instance's mutable state.
type Record struct {
	ID         string
	Class      string
	Args       json.RawMessage
	Status     Status
	WakeUpTime *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Event is one entry in a workflow's append-only history, in the order it
// was appended.
type Event struct {
	WorkflowID string
	Seq        int64
	Type       EventType
	Result     json.RawMessage
	CreatedAt  time.Time
}

// Store is the persistence boundary the orchestrator and worker depend on.
// All methods are synchronous; a Store implementation owns its own
// connection pooling and transactional boundaries.
type Store interface {
	// Create inserts a new workflow record with status running and no
	// history. It returns ErrAlreadyExists if id is already in use.
	Create(ctx context.Context, id, class string, args json.RawMessage) error

	// Load returns the current record for id, or ErrNotFound.
	Load(ctx context.Context, id string) (*Record, error)

	// AppendEvent appends one history event for id, stamped with the
	// store's current time. Event order within a workflow is the insertion
	// order of AppendEvent calls.
	AppendEvent(ctx context.Context, id string, eventType EventType, result json.RawMessage) (*Event, error)

	// History returns the full ordered history for id, oldest first.
	History(ctx context.Context, id string) ([]*Event, error)

	// UpdateStatus transitions id to status. If wakeUpTime is non-nil it is
	// stored; otherwise, if status is not StatusSleeping, any existing wake
	// time is cleared. If expected is non-empty, the update only applies
	// when the stored status currently equals expected, returning
	// ErrConflict otherwise — the compare-and-swap primitive used to keep
	// at most one orchestrator driving a workflow at a time.
	UpdateStatus(ctx context.Context, id string, status Status, wakeUpTime *time.Time, expected ...Status) error

	// PollReady returns up to limit ids whose status is StatusSleeping and
	// whose wake_up_time is at or before now(). Ordering across calls is
	// unspecified but must be fair over time.
	PollReady(ctx context.Context, limit int) ([]string, error)

	// Now returns the store's current time, so tests can substitute a fake
	// clock without the orchestrator or worker needing to know.
	Now(ctx context.Context) (time.Time, error)
}
