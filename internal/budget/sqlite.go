package budget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS user_health_points (
    user_id TEXT PRIMARY KEY,
    current_points INTEGER NOT NULL,
    max_points INTEGER NOT NULL,
    last_regeneration_at INTEGER NOT NULL,
    last_query_at INTEGER NOT NULL DEFAULT 0
);`

// SQLiteStore persists ledgers in a SQLite table.
//
// The pool holds a single connection and every Update runs inside a
// BEGIN IMMEDIATE transaction, so read-modify-write cycles are serialized
// across the process and against other writers of the same file.
type SQLiteStore struct {
	db     *sql.DB
	closed atomic.Bool
}

// OpenSQLiteStore opens (and creates if needed) the ledger database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening budget database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating budget schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (State, bool, error) {
	var (
		s              State
		regen, queried int64
	)
	err := row.Scan(&s.Current, &s.Max, &regen, &queried)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	s.LastRegenAt = time.Unix(0, regen).UTC()
	if queried != 0 {
		s.LastQueryAt = time.Unix(0, queried).UTC()
	}
	return s, true, nil
}

const selectState = `SELECT current_points, max_points, last_regeneration_at, last_query_at
FROM user_health_points WHERE user_id = ?`

func (s *SQLiteStore) Load(ctx context.Context, userID string) (State, bool, error) {
	if s.closed.Load() {
		return State{}, false, ErrStoreClosed
	}
	st, ok, err := scanState(s.db.QueryRowContext(ctx, selectState, userID))
	if err != nil {
		return State{}, false, fmt.Errorf("loading health points: %w", err)
	}
	return st, ok, nil
}

func (s *SQLiteStore) Update(ctx context.Context, userID string, fn UpdateFunc) (State, error) {
	if s.closed.Load() {
		return State{}, ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return State{}, fmt.Errorf("beginning budget transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	current, exists, err := scanState(tx.QueryRowContext(ctx, selectState, userID))
	if err != nil {
		return State{}, fmt.Errorf("loading health points: %w", err)
	}

	next, err := fn(current, exists)
	if err != nil {
		return current, err
	}

	var queried int64
	if !next.LastQueryAt.IsZero() {
		queried = next.LastQueryAt.UnixNano()
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO user_health_points (user_id, current_points, max_points, last_regeneration_at, last_query_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
    current_points = excluded.current_points,
    max_points = excluded.max_points,
    last_regeneration_at = excluded.last_regeneration_at,
    last_query_at = excluded.last_query_at`,
		userID, next.Current, next.Max, next.LastRegenAt.UnixNano(), queried)
	if err != nil {
		return State{}, fmt.Errorf("saving health points: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return State{}, fmt.Errorf("committing health points: %w", err)
	}
	return next, nil
}

func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
