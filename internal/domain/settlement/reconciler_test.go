package settlement

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uniedit/creditgate/internal/adapter/outbound/memory"
	"github.com/uniedit/creditgate/internal/adapter/outbound/postgres"
	"github.com/uniedit/creditgate/internal/domain/ledger"
	"github.com/uniedit/creditgate/internal/domain/ratelimit"
	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/outbound"
	"github.com/uniedit/creditgate/internal/shared/clock"
	"github.com/uniedit/creditgate/internal/shared/database"
	"go.uber.org/zap"
)

var (
	start = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	anon  = model.Identity{Key: "dev:abc", Tier: model.TierAnonymous, Source: model.IdentitySourceDevice}
)

type fixture struct {
	reconciler *Reconciler
	ledger     *ledger.Ledger
	limiter    *ratelimit.Limiter
	requests   outbound.UsageRequestDatabasePort
	clock      *clock.FakeClock
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewInMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	clk := clock.NewFakeClock(start)
	cal := clock.UTCCalendar()
	f := &fixture{
		ledger:   ledger.NewLedger(postgres.NewLedgerAdapter(db), cal, clk, nil, nil, zap.NewNop()),
		limiter:  ratelimit.NewLimiter(memory.NewWindowCounter(), cal, clk, nil, nil, zap.NewNop()),
		requests: postgres.NewUsageRequestAdapter(db),
		clock:    clk,
	}
	f.reconciler = NewReconciler(f.requests, f.ledger, f.limiter, clk, nil, nil, zap.NewNop())
	return f
}

// reserve places a reservation and optionally records its usage row in status.
func (f *fixture) reserve(t *testing.T, id string, status model.UsageStatus) {
	t.Helper()
	ctx := context.Background()
	_, err := f.ledger.Reserve(ctx, anon, 1, id)
	require.NoError(t, err)
	if status == "" {
		return
	}
	require.NoError(t, f.requests.Create(ctx, &model.UsageRequest{
		ID:              id,
		IdentityKey:     anon.Key,
		Status:          status,
		CreditsReserved: 1,
		Prompt:          "p",
		ImageCount:      1,
		CreatedAt:       f.clock.Now(),
	}))
}

func (f *fixture) total(t *testing.T) int64 {
	t.Helper()
	view, err := f.ledger.Balance(context.Background(), anon)
	require.NoError(t, err)
	return view.Total
}

func (f *fixture) assertReconciles(t *testing.T) {
	t.Helper()
	report, err := f.ledger.Reconcile(context.Background(), anon.Key)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestReconciler_ExpiresStuckRequest(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.reserve(t, "req-1", model.UsageStatusReserved)
	assert.Equal(t, int64(2), f.total(t))

	f.clock.Advance(6 * time.Minute)
	run, err := f.reconciler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), run.Expired)
	assert.Zero(t, run.Released)

	stored, err := f.requests.GetByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.UsageStatusExpired, stored.Status)
	assert.Equal(t, "expired:grace_period", stored.FailureCode)
	assert.Equal(t, int64(3), f.total(t))
	f.assertReconciles(t)

	// The late provider result can no longer win the row
	moved, err := f.requests.Transition(ctx, "req-1", model.UsageStatusReserved, model.UsageStatusCommitted, &model.UsageSettlement{SettledAt: f.clock.Now()})
	require.NoError(t, err)
	assert.False(t, moved)

	// A second sweep finds nothing to do
	run, err = f.reconciler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, run.Expired+run.Released+run.Committed)
}

func TestReconciler_LeavesRecentRequests(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.reserve(t, "req-1", model.UsageStatusReserved)

	f.clock.Advance(time.Minute)
	run, err := f.reconciler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, run.Expired)

	stored, err := f.requests.GetByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.UsageStatusReserved, stored.Status)
}

func TestReconciler_SettlesHalfSettledReservations(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.reserve(t, "req-committed", model.UsageStatusCommitted)
	f.reserve(t, "req-released", model.UsageStatusReleased)
	f.reserve(t, "req-orphan", "")

	f.clock.Advance(10 * time.Minute)
	run, err := f.reconciler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), run.Committed)
	assert.Equal(t, int64(2), run.Released)
	assert.Zero(t, run.Conflicts)

	pending, err := f.ledger.PendingReservations(ctx, f.clock.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Only the committed request keeps its credit
	assert.Equal(t, int64(2), f.total(t))
	assert.ErrorIs(t, f.ledger.Release(ctx, "req-committed"), ledger.ErrReservationCommitted)
	f.assertReconciles(t)
}

func TestReconciler_CommittedLedgerIsAConflict(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.reserve(t, "req-1", model.UsageStatusReserved)
	require.NoError(t, f.ledger.Commit(ctx, "req-1"))

	f.clock.Advance(6 * time.Minute)
	run, err := f.reconciler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), run.Conflicts)
	assert.Equal(t, int64(2), f.total(t))
}

func TestReconciler_SweepsCounters(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.limiter.CheckAndIncrement(ctx, anon, model.ResourceGeneration)
	require.NoError(t, err)

	f.clock.Advance(72 * time.Hour)
	run, err := f.reconciler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), run.CountersSwept)
}

type MockRequests struct {
	mock.Mock
	outbound.UsageRequestDatabasePort
}

func (m *MockRequests) ListByStatusBefore(ctx context.Context, status model.UsageStatus, before time.Time, limit int) ([]*model.UsageRequest, error) {
	args := m.Called(ctx, status, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.UsageRequest), args.Error(1)
}

func TestReconciler_FailedPassDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.limiter.CheckAndIncrement(ctx, anon, model.ResourceGeneration)
	require.NoError(t, err)

	requests := new(MockRequests)
	requests.On("ListByStatusBefore", mock.Anything, model.UsageStatusReserved, mock.Anything, 100).
		Return(nil, errors.New("connection refused"))
	r := NewReconciler(requests, f.ledger, f.limiter, f.clock, nil, nil, zap.NewNop())

	f.clock.Advance(72 * time.Hour)
	run, err := r.RunOnce(ctx)
	assert.ErrorContains(t, err, "list stuck requests")
	assert.Equal(t, int64(2), run.CountersSwept)
}

func TestReconciler_StartStop(t *testing.T) {
	f := setup(t)
	f.reconciler.config.Interval = 10 * time.Millisecond
	f.reserve(t, "req-1", model.UsageStatusReserved)
	f.clock.Advance(6 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.reconciler.Start(ctx)
	f.reconciler.Start(ctx)

	assert.Eventually(t, func() bool {
		stored, err := f.requests.GetByID(context.Background(), "req-1")
		return err == nil && stored.Status == model.UsageStatusExpired
	}, 2*time.Second, 10*time.Millisecond)

	f.reconciler.Stop()
	f.reconciler.Stop()
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(nil)
	assert.Equal(t, DefaultConfig(), cfg)
}
