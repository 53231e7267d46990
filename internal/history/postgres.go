package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS pipeline_events (
    id BIGSERIAL PRIMARY KEY,
    run_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    mode TEXT NOT NULL,
    rtmp_url TEXT NOT NULL DEFAULT '',
    peer TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    occurred_at TIMESTAMPTZ NOT NULL
)`

// PostgresStore persists pipeline events to a Postgres table, allowing the
// event log to survive daemon restarts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a Postgres-backed event store using the provided DSN
// and ensures the events table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres history dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres history config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres history pool: %w", err)
	}
	if _, err := pool.Exec(ctx, createEventsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure pipeline_events table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Append inserts the event.
func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres history pool not configured")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO pipeline_events (run_id, kind, mode, rtmp_url, peer, detail, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, event.RunID, string(event.Kind), event.Mode, event.RTMPURL, event.Peer, event.Detail, event.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("append pipeline event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("postgres history pool not configured")
	}
	if limit <= 0 {
		limit = DefaultMemoryCapacity
	}
	rows, err := s.pool.Query(ctx, `
SELECT run_id, kind, mode, rtmp_url, peer, detail, occurred_at
FROM pipeline_events
ORDER BY occurred_at DESC, id DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pipeline events: %w", err)
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var event Event
		var kind string
		if err := rows.Scan(&event.RunID, &kind, &event.Mode, &event.RTMPURL, &event.Peer, &event.Detail, &event.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		event.Kind = EventKind(kind)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipeline events: %w", err)
	}
	return events, nil
}

// Close releases the Postgres connection pool resources.
func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
