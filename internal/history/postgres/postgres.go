// Package postgres stores history events in a PostgreSQL table through a
// pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loykin/runvisor/internal/history"
)

const connectTimeout = 10 * time.Second

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runtime_history(
		id BIGSERIAL PRIMARY KEY,
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		type TEXT NOT NULL,
		runtime TEXT NOT NULL,
		pid INTEGER NOT NULL,
		from_state TEXT,
		to_state TEXT,
		detail TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS runtime_history_runtime_at ON runtime_history(runtime, occurred_at)`,
}

type Sink struct {
	pool *pgxpool.Pool
}

// New connects with a postgres:// URL and creates the table when missing.
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty PostgreSQL DSN")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	// supervision emits a handful of events per minute at most
	cfg.MaxConns = 2

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("create runtime_history: %w", err)
		}
	}
	return &Sink{pool: pool}, nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runtime_history(occurred_at, type, runtime, pid, from_state, to_state, detail)
		 VALUES($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))`,
		e.OccurredAt.UTC(), string(e.Type), e.Runtime, e.PID, e.From, e.To, e.Detail)
	return err
}

// Transitions returns the recorded state changes of runtime, oldest first.
func (s *Sink) Transitions(ctx context.Context, runtime string) ([]history.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT occurred_at, pid, COALESCE(from_state, ''), COALESCE(to_state, '')
		 FROM runtime_history WHERE runtime = $1 AND type = $2 ORDER BY id`,
		runtime, string(history.EventTransition))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []history.Event
	for rows.Next() {
		e := history.Event{Type: history.EventTransition, Runtime: runtime}
		if err := rows.Scan(&e.OccurredAt, &e.PID, &e.From, &e.To); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	s.pool.Close()
	return nil
}
