// Package sqlite keeps history events in a local SQLite file, the default
// sink when a DSN has no scheme.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/runvisor/internal/history"
)

const createTable = `CREATE TABLE IF NOT EXISTS runtime_history(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	occurred_at TIMESTAMP NOT NULL,
	type TEXT NOT NULL,
	runtime TEXT NOT NULL,
	pid INTEGER NOT NULL,
	from_state TEXT,
	to_state TEXT,
	detail TEXT
)`

type Sink struct {
	db     *sql.DB
	insert *sql.Stmt
}

// New opens "sqlite:///path.db", "/path.db" or ":memory:".
func New(dsn string) (*Sink, error) {
	path := strings.TrimSpace(dsn)
	if strings.HasPrefix(strings.ToLower(path), "sqlite://") {
		path = path[len("sqlite://"):]
	}
	if path == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if path != ":memory:" && !strings.Contains(path, "?") {
		// the agent and an operator's sqlite3 shell may read concurrently
		path += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(2000)"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; :memory: databases are per connection
	db.SetMaxOpenConns(1)

	s := &Sink{db: db}
	if err := s.prepare(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) prepare(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create runtime_history: %w", err)
	}
	stmt, err := s.db.PrepareContext(ctx,
		`INSERT INTO runtime_history(occurred_at, type, runtime, pid, from_state, to_state, detail)
		 VALUES(?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''))`)
	if err != nil {
		return err
	}
	s.insert = stmt
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.insert.ExecContext(ctx,
		e.OccurredAt.UTC(), string(e.Type), e.Runtime, e.PID, e.From, e.To, e.Detail)
	return err
}

// Count returns the number of stored events of type t (all types when empty).
func (s *Sink) Count(ctx context.Context, t history.EventType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runtime_history WHERE ? = '' OR type = ?`, string(t), string(t)).Scan(&n)
	return n, err
}

func (s *Sink) Close() error {
	if s.insert != nil {
		_ = s.insert.Close()
	}
	return s.db.Close()
}
