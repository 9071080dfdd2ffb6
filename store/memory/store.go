// Package memory is an in-process store.Store, guarded by a single mutex.
// It is meant for tests, not for production use: nothing here survives a
// process restart.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/arashen/durable/store"
	"github.com/benbjohnson/clock"
)

type workflowState struct {
	record  store.Record
	history []*store.Event
}

// Store is a mutex-guarded, map-backed store.Store.
type Store struct {
	mu    sync.Mutex
	wfs   map[string]*workflowState
	clock clock.Clock
}

// New creates an empty Store using the real wall clock.
func New() *Store {
	return NewWithClock(clock.New())
}

// NewWithClock creates an empty Store using c as its time source, letting
// tests substitute a clock.Mock to control wake times deterministically.
func NewWithClock(c clock.Clock) *Store {
	return &Store{
		wfs:   make(map[string]*workflowState),
		clock: c,
	}
}

func (s *Store) Now(ctx context.Context) (time.Time, error) {
	return s.clock.Now(), nil
}

func (s *Store) Create(ctx context.Context, id, class string, args json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wfs[id]; ok {
		return store.ErrAlreadyExists
	}

	now := s.clock.Now()
	s.wfs[id] = &workflowState{
		record: store.Record{
			ID:        id,
			Class:     class,
			Args:      args,
			Status:    store.StatusRunning,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	return nil
}

func (s *Store) Load(ctx context.Context, id string) (*store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.wfs[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	rec := wf.record
	return &rec, nil
}

func (s *Store) AppendEvent(ctx context.Context, id string, eventType store.EventType, result json.RawMessage) (*store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.wfs[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	event := &store.Event{
		WorkflowID: id,
		Seq:        int64(len(wf.history)) + 1,
		Type:       eventType,
		Result:     result,
		CreatedAt:  s.clock.Now(),
	}
	wf.history = append(wf.history, event)

	return event, nil
}

func (s *Store) History(ctx context.Context, id string) ([]*store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.wfs[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	out := make([]*store.Event, len(wf.history))
	copy(out, wf.history)
	return out, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status store.Status, wakeUpTime *time.Time, expected ...store.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.wfs[id]
	if !ok {
		return store.ErrNotFound
	}

	if len(expected) > 0 && wf.record.Status != expected[0] {
		return store.ErrConflict
	}

	wf.record.Status = status
	if wakeUpTime != nil {
		t := *wakeUpTime
		wf.record.WakeUpTime = &t
	} else if status != store.StatusSleeping {
		wf.record.WakeUpTime = nil
	}
	wf.record.UpdatedAt = s.clock.Now()

	return nil
}

func (s *Store) PollReady(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	var ids []string
	for id, wf := range s.wfs {
		if wf.record.Status != store.StatusSleeping {
			continue
		}
		if wf.record.WakeUpTime == nil || wf.record.WakeUpTime.After(now) {
			continue
		}
		ids = append(ids, id)
	}

	// Map iteration order is random; sort so tests relying on PollReady's
	// output are reproducible. This is an in-process fairness tie-breaker,
	// not a durability guarantee.
	sort.Strings(ids)

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	return ids, nil
}
