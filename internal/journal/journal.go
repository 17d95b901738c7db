// Package journal persists completion acknowledgments in PostgreSQL so a
// site can audit which calls were actually announced and how.
//
// The journal is an optional [report.Sink]: it receives the same
// fire-and-forget completions as the socket and never affects the queue.
//
// Usage:
//
//	store, err := journal.Open(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	reporter := report.New(report.WithSink(store))
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/callout/pkg/announce"
)

const ddlDeliveries = `
CREATE TABLE IF NOT EXISTS deliveries (
    id              BIGSERIAL    PRIMARY KEY,
    announcement_id TEXT         NOT NULL,
    request_id      TEXT         NOT NULL DEFAULT '',
    ticket_label    TEXT         NOT NULL DEFAULT '',
    counter_label   TEXT         NOT NULL DEFAULT '',
    is_urgent       BOOLEAN      NOT NULL DEFAULT false,
    method          TEXT         NOT NULL,
    status          TEXT         NOT NULL,
    degraded        BOOLEAN      NOT NULL DEFAULT false,
    screen_id       TEXT         NOT NULL DEFAULT '',
    completed_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_deliveries_completed_at
    ON deliveries (completed_at);

CREATE INDEX IF NOT EXISTS idx_deliveries_request_id
    ON deliveries (request_id);
`

// Migrate creates the journal table if it does not exist. It is idempotent
// and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlDeliveries); err != nil {
		return fmt.Errorf("journal migrate: %w", err)
	}
	return nil
}

// Store is the PostgreSQL-backed delivery journal. All operations are safe
// for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	screenID string
}

// Open connects to the database at dsn, verifies the connection and runs
// [Migrate]. screenID tags every row written by this terminal.
func Open(ctx context.Context, dsn, screenID string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, screenID: screenID}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks database reachability, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Name implements the reporter sink contract.
func (s *Store) Name() string { return "journal" }

// Send appends c to the journal.
func (s *Store) Send(ctx context.Context, c announce.Completion) error {
	const q = `
		INSERT INTO deliveries
		    (announcement_id, request_id, ticket_label, counter_label, is_urgent,
		     method, status, degraded, screen_id, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, q,
		c.AnnouncementID,
		c.RequestID,
		c.TicketLabel,
		c.CounterLabel,
		c.IsUrgent,
		string(c.Method),
		string(c.Status),
		c.Degraded,
		s.screenID,
		c.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}
	return nil
}

// Recent returns completions from the last window, newest first, at most
// limit rows. A non-positive limit means no limit.
func (s *Store) Recent(ctx context.Context, window time.Duration, limit int) ([]announce.Completion, error) {
	q := `
		SELECT announcement_id, request_id, ticket_label, counter_label, is_urgent,
		       method, status, degraded, completed_at
		FROM   deliveries
		WHERE  completed_at >= now() - ($1::bigint * interval '1 microsecond')
		ORDER  BY completed_at DESC, id DESC`
	args := []any{window.Microseconds()}
	if limit > 0 {
		q += "\nLIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	return collectCompletions(rows)
}

// collectCompletions scans pgx rows into completions.
func collectCompletions(rows pgx.Rows) ([]announce.Completion, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (announce.Completion, error) {
		var (
			c              announce.Completion
			method, status string
		)
		if err := row.Scan(
			&c.AnnouncementID,
			&c.RequestID,
			&c.TicketLabel,
			&c.CounterLabel,
			&c.IsUrgent,
			&method,
			&status,
			&c.Degraded,
			&c.CompletedAt,
		); err != nil {
			return announce.Completion{}, err
		}
		c.Method = announce.Method(method)
		c.Status = announce.Status(status)
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: scan rows: %w", err)
	}
	if out == nil {
		out = []announce.Completion{}
	}
	return out, nil
}
