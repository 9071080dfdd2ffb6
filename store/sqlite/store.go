// Package sqlite is the default embedded store.Store backend: a single
// SQLite file (or in-memory database), no external service to run.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/arashen/durable/store"
	goerrors "github.com/go-errors/errors"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

// NewInMemory opens a process-local, in-memory SQLite database in shared-cache
// mode, so every Store opened with NewInMemory in the same process sees the
// same database. Useful for tests that want SQL semantics without a file on
// disk.
func NewInMemory() (*Store, error) {
	return open("file::memory:?cache=shared")
}

// New opens (creating if necessary) the SQLite database at path.
func New(path string) (*Store, error) {
	return open(fmt.Sprintf("file:%s", path))
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", goerrors.Wrap(err, 0))
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Now(ctx context.Context) (time.Time, error) {
	return time.Now().UTC(), nil
}

func (s *Store) Create(ctx context.Context, id, class string, args json.RawMessage) error {
	now := time.Now().UTC()

	if args == nil {
		args = json.RawMessage("null")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, class, args, status, wake_up_time, created_at, updated_at)
		 VALUES (?, ?, ?, ?, NULL, ?, ?)`,
		id, class, string(args), store.StatusRunning, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("creating workflow %q: %w", id, goerrors.Wrap(err, 0))
	}

	return nil
}

func (s *Store) Load(ctx context.Context, id string) (*store.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT class, args, status, wake_up_time, created_at, updated_at
		 FROM workflows WHERE id = ?`, id)

	var (
		class, args, status  string
		wakeUpTime           sql.NullTime
		createdAt, updatedAt time.Time
	)

	if err := row.Scan(&class, &args, &status, &wakeUpTime, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("loading workflow %q: %w", id, goerrors.Wrap(err, 0))
	}

	rec := &store.Record{
		ID:        id,
		Class:     class,
		Args:      json.RawMessage(args),
		Status:    store.Status(status),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
	if wakeUpTime.Valid {
		t := wakeUpTime.Time
		rec.WakeUpTime = &t
	}

	return rec, nil
}

func (s *Store) AppendEvent(ctx context.Context, id string, eventType store.EventType, result json.RawMessage) (*store.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM workflows WHERE id = ?`, id).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, goerrors.Wrap(err, 0)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM history WHERE workflow_id = ?`, id).Scan(&seq); err != nil {
		return nil, goerrors.Wrap(err, 0)
	}

	now := time.Now().UTC()

	var resultStr sql.NullString
	if result != nil {
		resultStr = sql.NullString{String: string(result), Valid: true}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history (workflow_id, seq, event_type, result, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, seq, string(eventType), resultStr, now,
	); err != nil {
		return nil, fmt.Errorf("appending event to %q: %w", id, goerrors.Wrap(err, 0))
	}

	if err := tx.Commit(); err != nil {
		return nil, goerrors.Wrap(err, 0)
	}

	return &store.Event{
		WorkflowID: id,
		Seq:        seq,
		Type:       eventType,
		Result:     result,
		CreatedAt:  now,
	}, nil
}

func (s *Store) History(ctx context.Context, id string) ([]*store.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, event_type, result, created_at FROM history WHERE workflow_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}
	defer rows.Close()

	var events []*store.Event
	for rows.Next() {
		var (
			seq       int64
			eventType string
			result    sql.NullString
			createdAt time.Time
		)
		if err := rows.Scan(&seq, &eventType, &result, &createdAt); err != nil {
			return nil, goerrors.Wrap(err, 0)
		}

		e := &store.Event{
			WorkflowID: id,
			Seq:        seq,
			Type:       store.EventType(eventType),
			CreatedAt:  createdAt,
		}
		if result.Valid {
			e.Result = json.RawMessage(result.String)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status store.Status, wakeUpTime *time.Time, expected ...store.Status) error {
	now := time.Now().UTC()

	query := `UPDATE workflows SET status = ?, updated_at = ?`
	args := []any{string(status), now}

	if wakeUpTime != nil {
		query += `, wake_up_time = ?`
		args = append(args, *wakeUpTime)
	} else if status != store.StatusSleeping {
		query += `, wake_up_time = NULL`
	}

	query += ` WHERE id = ?`
	args = append(args, id)

	if len(expected) > 0 {
		query += ` AND status = ?`
		args = append(args, string(expected[0]))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating status of %q: %w", id, goerrors.Wrap(err, 0))
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return goerrors.Wrap(err, 0)
	}

	if rows == 0 {
		if _, err := s.Load(ctx, id); err != nil {
			return err
		}
		if len(expected) > 0 {
			return store.ErrConflict
		}
	}

	return nil
}

func (s *Store) PollReady(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM workflows WHERE status = ? AND wake_up_time <= ? ORDER BY wake_up_time ASC LIMIT ?`,
		store.StatusSleeping, time.Now().UTC(), limit,
	)
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, goerrors.Wrap(err, 0)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces SQLite's result code in the error text;
	// there is no typed sentinel to compare against.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
