//go:build integration

package pgcounter_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniedit/creditgate/internal/adapter/outbound/pgcounter"
	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/outbound"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/creditgate_test?sslmode=disable"
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func newTestStore(t *testing.T, pool *pgxpool.Pool) *pgcounter.Store {
	t.Helper()
	prefix := fmt.Sprintf("test_%s_", strings.ToLower(t.Name()))
	s := pgcounter.New(pool, pgcounter.WithTablePrefix(prefix))

	ctx := context.Background()
	require.NoError(t, s.EnsureSchema(ctx))
	t.Cleanup(func() {
		pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %srate_window_counters", prefix))
	})
	return s
}

func windowsAt(now time.Time, hourly, daily int64) []outbound.CounterWindow {
	hour := now.Truncate(time.Hour)
	day := now.Truncate(24 * time.Hour)
	return []outbound.CounterWindow{
		{Kind: model.WindowKindHourly, Start: hour, End: hour.Add(time.Hour), Limit: hourly},
		{Kind: model.WindowKindDaily, Start: day, End: day.Add(24 * time.Hour), Limit: daily},
	}
}

func TestIncrementAndDeny(t *testing.T) {
	store := newTestStore(t, newTestPool(t))
	ctx := context.Background()
	windows := windowsAt(time.Now().UTC(), 3, 9)

	for i := 0; i < 3; i++ {
		res, err := store.IncrementIfUnder(ctx, "dev:1", "generation", windows)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := store.IncrementIfUnder(ctx, "dev:1", "generation", windows)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, []int64{3, 3}, res.Counts)
}

func TestWindowRollover(t *testing.T) {
	store := newTestStore(t, newTestPool(t))
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.IncrementIfUnder(ctx, "dev:1", "generation", windowsAt(now, 1, 9))
	require.NoError(t, err)

	res, err := store.IncrementIfUnder(ctx, "dev:1", "generation", windowsAt(now.Add(time.Hour), 1, 9))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.Counts[0])
}

func TestSweep(t *testing.T) {
	store := newTestStore(t, newTestPool(t))
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.IncrementIfUnder(ctx, "dev:1", "generation", windowsAt(now.Add(-72*time.Hour), 5, 9))
	require.NoError(t, err)

	n, err := store.Sweep(ctx, now.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestConcurrentNoOverAdmission(t *testing.T) {
	store := newTestStore(t, newTestPool(t))
	ctx := context.Background()
	windows := windowsAt(time.Now().UTC(), 5, 100)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.IncrementIfUnder(ctx, "acct:race", "generation", windows)
			if err == nil && res.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), admitted.Load())
}

func TestCountsWithoutRows(t *testing.T) {
	store := newTestStore(t, newTestPool(t))
	ctx := context.Background()

	counts, err := store.Counts(ctx, "dev:unseen", "generation", windowsAt(time.Now().UTC(), 3, 9))
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0}, counts)
}

func TestDecrement(t *testing.T) {
	store := newTestStore(t, newTestPool(t))
	ctx := context.Background()
	now := time.Now().UTC()
	windows := windowsAt(now, 3, 9)

	for i := 0; i < 2; i++ {
		_, err := store.IncrementIfUnder(ctx, "dev:1", "generation", windows)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Decrement(ctx, "dev:1", "generation", windows))
	}

	counts, err := store.Counts(ctx, "dev:1", "generation", windows)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0}, counts)
}

func TestNamedWindowsShareCounter(t *testing.T) {
	store := newTestStore(t, newTestPool(t))
	ctx := context.Background()
	now := time.Now().UTC()

	sessionWindows := func(session string) []outbound.CounterWindow {
		own := windowsAt(now, 3, 9)
		device := windowsAt(now, 3, 9)
		for i := range own {
			own[i].Key = session
		}
		return append(own, device...)
	}

	for _, session := range []string{"sess:a", "sess:b", "sess:c"} {
		res, err := store.IncrementIfUnder(ctx, "dev:1", "generation", sessionWindows(session))
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := store.IncrementIfUnder(ctx, "dev:1", "generation", sessionWindows("sess:d"))
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, []int64{0, 0, 3, 3}, res.Counts)
}
