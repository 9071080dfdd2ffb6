// Package postgres is a store.Store backend for PostgreSQL, using
// golang-migrate to apply its schema and pgx's database/sql driver for
// queries.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/arashen/durable/store"
	goerrors "github.com/go-errors/errors"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	db *sql.DB
}

// New opens a connection to dsn and applies pending migrations.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	return s, nil
}

// NewWithDB wraps an existing *sql.DB, useful when the caller manages the
// connection pool itself (e.g. shares it with other stores). Migrations are
// still applied.
func NewWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("applying migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	driver, err := postgres.WithInstance(s.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}

	return nil
}

// Close releases the underlying connection pool.
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
		 VALUES ($1, $2, $3, $4, NULL, $5, $5)`,
		id, class, string(args), store.StatusRunning, now,
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
		 FROM workflows WHERE id = $1`, id)

	var (
		class, status        string
		args                 []byte
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
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM workflows WHERE id = $1`, id).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM history WHERE workflow_id = $1`, id).Scan(&seq); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	var resultArg any
	if result != nil {
		resultArg = string(result)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history (workflow_id, seq, event_type, result, created_at) VALUES ($1, $2, $3, $4, $5)`,
		id, seq, string(eventType), resultArg, now,
	); err != nil {
		return nil, fmt.Errorf("appending event to %q: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
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
		`SELECT seq, event_type, result, created_at FROM history WHERE workflow_id = $1 ORDER BY seq ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*store.Event
	for rows.Next() {
		var (
			seq       int64
			eventType string
			result    []byte
			createdAt time.Time
		)
		if err := rows.Scan(&seq, &eventType, &result, &createdAt); err != nil {
			return nil, err
		}

		e := &store.Event{
			WorkflowID: id,
			Seq:        seq,
			Type:       store.EventType(eventType),
			CreatedAt:  createdAt,
		}
		if result != nil {
			e.Result = json.RawMessage(result)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status store.Status, wakeUpTime *time.Time, expected ...store.Status) error {
	now := time.Now().UTC()

	var b strings.Builder
	b.WriteString(`UPDATE workflows SET status = $1, updated_at = $2`)
	args := []any{string(status), now}

	if wakeUpTime != nil {
		args = append(args, *wakeUpTime)
		fmt.Fprintf(&b, `, wake_up_time = $%d`, len(args))
	} else if status != store.StatusSleeping {
		b.WriteString(`, wake_up_time = NULL`)
	}

	args = append(args, id)
	fmt.Fprintf(&b, ` WHERE id = $%d`, len(args))

	if len(expected) > 0 {
		args = append(args, string(expected[0]))
		fmt.Fprintf(&b, ` AND status = $%d`, len(args))
	}

	res, err := s.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return fmt.Errorf("updating status of %q: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
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
		`SELECT id FROM workflows WHERE status = $1 AND wake_up_time <= $2 ORDER BY wake_up_time ASC LIMIT $3`,
		store.StatusSleeping, time.Now().UTC(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func isUniqueViolation(err error) bool {
	// pgx surfaces PostgreSQL's SQLSTATE 23505 in the error text when not
	// unwrapped into a *pgconn.PgError; string matching keeps this store
	// independent of pgx's internal error types.
	return err != nil && strings.Contains(err.Error(), "duplicate key value")
}
