// Package pgcounter provides a PostgreSQL-backed window counter store.
//
// Counters live in one row per (counter key, resource, window kind). Increments run
// in a single transaction that locks every window row of the call, so two
// concurrent requests touching the same counter serialize while unrelated
// identities never contend.
package pgcounter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/uniedit/creditgate/internal/port/outbound"
)

// Store is a PostgreSQL-backed window counter store.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ outbound.WindowCounterPort = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default none).
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed window counter store.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) table() string { return s.tablePrefix + "rate_window_counters" }

// EnsureSchema creates the counter table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			identity_key TEXT NOT NULL,
			resource TEXT NOT NULL,
			window_kind TEXT NOT NULL,
			window_start TIMESTAMPTZ NOT NULL,
			count BIGINT NOT NULL DEFAULT 0 CHECK (count >= 0),
			PRIMARY KEY (identity_key, resource, window_kind)
		);
		CREATE INDEX IF NOT EXISTS %[1]s_window_start_idx ON %[1]s (window_start);
	`, s.table())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("pgcounter: ensure schema: %w", err)
	}
	return nil
}

// IncrementIfUnder increments every window if all are below their limit.
func (s *Store) IncrementIfUnder(ctx context.Context, scope, resource string, windows []outbound.CounterWindow) (*outbound.CounterResult, error) {
	if len(windows) == 0 {
		return &outbound.CounterResult{Allowed: true}, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgcounter: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Upsert and lock each window row, restarting it when a newer window has begun.
	//    Rows are touched in request order, which is the same for every caller.
	counts := make([]int64, len(windows))
	allowed := true
	for i, win := range windows {
		err := tx.QueryRow(ctx, fmt.Sprintf(`
			INSERT INTO %[1]s AS c (identity_key, resource, window_kind, window_start, count)
			VALUES ($1, $2, $3, $4, 0)
			ON CONFLICT (identity_key, resource, window_kind) DO UPDATE
			SET window_start = GREATEST(c.window_start, EXCLUDED.window_start),
			    count = CASE WHEN c.window_start < EXCLUDED.window_start THEN 0 ELSE c.count END
			RETURNING count`, s.table()),
			win.CounterKey(scope), resource, string(win.Kind), win.Start,
		).Scan(&counts[i])
		if err != nil {
			return nil, fmt.Errorf("pgcounter: upsert %s window: %w", win.Kind, err)
		}
		if counts[i] >= win.Limit {
			allowed = false
		}
	}

	// 2. Denied: roll back so the attempt leaves no trace.
	if !allowed {
		return &outbound.CounterResult{Allowed: false, Counts: counts}, nil
	}

	// 3. Increment every window.
	for i, win := range windows {
		err := tx.QueryRow(ctx, fmt.Sprintf(`
			UPDATE %s SET count = count + 1
			WHERE identity_key = $1 AND resource = $2 AND window_kind = $3
			RETURNING count`, s.table()),
			win.CounterKey(scope), resource, string(win.Kind),
		).Scan(&counts[i])
		if err != nil {
			return nil, fmt.Errorf("pgcounter: increment %s window: %w", win.Kind, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("pgcounter: commit: %w", err)
	}
	return &outbound.CounterResult{Allowed: true, Counts: counts}, nil
}

// Decrement gives back one slot in every window row still on the given window.
func (s *Store) Decrement(ctx context.Context, scope, resource string, windows []outbound.CounterWindow) error {
	for _, win := range windows {
		_, err := s.pool.Exec(ctx, fmt.Sprintf(`
			UPDATE %s SET count = count - 1
			WHERE identity_key = $1 AND resource = $2 AND window_kind = $3
			  AND window_start = $4 AND count > 0`, s.table()),
			win.CounterKey(scope), resource, string(win.Kind), win.Start,
		)
		if err != nil {
			return fmt.Errorf("pgcounter: decrement %s window: %w", win.Kind, err)
		}
	}
	return nil
}

// Counts returns the current counts without mutating them.
// A row from an older window counts as zero.
func (s *Store) Counts(ctx context.Context, scope, resource string, windows []outbound.CounterWindow) ([]int64, error) {
	counts := make([]int64, len(windows))
	for i, win := range windows {
		err := s.pool.QueryRow(ctx, fmt.Sprintf(`
			SELECT count FROM %s
			WHERE identity_key = $1 AND resource = $2 AND window_kind = $3 AND window_start >= $4`, s.table()),
			win.CounterKey(scope), resource, string(win.Kind), win.Start,
		).Scan(&counts[i])
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("pgcounter: read %s window: %w", win.Kind, err)
		}
	}
	return counts, nil
}

// Sweep deletes counters whose window started before the cutoff.
func (s *Store) Sweep(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE window_start < $1`, s.table()), before)
	if err != nil {
		return 0, fmt.Errorf("pgcounter: sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}
