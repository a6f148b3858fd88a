package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uniedit/creditgate/internal/adapter/outbound/memory"
	"github.com/uniedit/creditgate/internal/adapter/outbound/postgres"
	"github.com/uniedit/creditgate/internal/domain/identity"
	"github.com/uniedit/creditgate/internal/domain/ledger"
	"github.com/uniedit/creditgate/internal/domain/ratelimit"
	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/inbound"
	"github.com/uniedit/creditgate/internal/port/outbound"
	"github.com/uniedit/creditgate/internal/shared/clock"
	"github.com/uniedit/creditgate/internal/shared/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// --- Mock implementations ---

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Generate(ctx context.Context, prompt string, count int) ([]model.GeneratedImage, error) {
	args := m.Called(ctx, prompt, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.GeneratedImage), args.Error(1)
}

type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) CheckAndIncrement(ctx context.Context, id model.Identity, resource string) (*model.RateDecision, error) {
	args := m.Called(ctx, id, resource)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RateDecision), args.Error(1)
}

func (m *MockLimiter) Peek(ctx context.Context, id model.Identity, resource string) (*model.RateDecision, error) {
	args := m.Called(ctx, id, resource)
	return args.Get(0).(*model.RateDecision), args.Error(1)
}

func (m *MockLimiter) Refund(ctx context.Context, id model.Identity, resource string) error {
	args := m.Called(ctx, id, resource)
	return args.Error(0)
}

func (m *MockLimiter) SweepExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// --- Fixture ---

const sessionID = "6f1c1d0e-4a53-4d55-9b8a-3c2f5f1e9a10"

var (
	testNow      = time.Date(2026, 3, 10, 14, 20, 0, 0, time.UTC)
	sessions     = identity.NewSessionSigner("test-session-secret")
	deviceHash   = identity.DeviceHash(&model.RequestSignals{})
	sessionToken = sessions.Sign(sessionID, deviceHash)
	sessionKey   = model.SessionKeyPrefix + sessionID
	session      = model.Identity{
		Key:       sessionKey,
		Tier:      model.TierAnonymous,
		Source:    model.IdentitySourceSession,
		DeviceKey: model.DeviceKeyPrefix + deviceHash,
	}
	oneImage = []model.GeneratedImage{{URL: "https://cdn.example.com/1.png"}}
)

type fixture struct {
	orchestrator *Orchestrator
	db           *gorm.DB
	ledger       *ledger.Ledger
	limiter      *ratelimit.Limiter
	requests     outbound.UsageRequestDatabasePort
	provider     *MockProvider
	clock        *clock.FakeClock
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewInMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	clk := clock.NewFakeClock(testNow)
	cal := clock.UTCCalendar()
	logger := zap.NewNop()

	f := &fixture{
		db:       db,
		ledger:   ledger.NewLedger(postgres.NewLedgerAdapter(db), cal, clk, nil, nil, logger),
		limiter:  ratelimit.NewLimiter(memory.NewWindowCounter(), cal, clk, nil, nil, logger),
		requests: postgres.NewUsageRequestAdapter(db),
		provider: new(MockProvider),
		clock:    clk,
	}
	f.orchestrator = f.build(f.limiter)
	return f
}

func (f *fixture) build(limiter inbound.RateLimiter) *Orchestrator {
	return f.buildWith(limiter, f.ledger, f.requests)
}

func (f *fixture) buildWith(limiter inbound.RateLimiter, creditLedger inbound.CreditLedger, requests outbound.UsageRequestDatabasePort) *Orchestrator {
	cfg := DefaultConfig()
	cfg.ProviderTimeout = 50 * time.Millisecond
	return NewOrchestrator(identity.NewResolver(nil, sessions, zap.NewNop()), limiter, creditLedger, requests, f.provider, f.clock, cfg, nil, zap.NewNop())
}

// unseenLedger reports every reference as never reserved, as a submission
// racing another one for the same id observes it.
type unseenLedger struct {
	*ledger.Ledger
}

func (unseenLedger) ReservationStatus(ctx context.Context, reference string) (*model.ReservationStatus, error) {
	return &model.ReservationStatus{State: model.ReservationStateNone}, nil
}

// brokenTransitions fails every status transition.
type brokenTransitions struct {
	outbound.UsageRequestDatabasePort
}

func (brokenTransitions) Transition(ctx context.Context, id string, from, to model.UsageStatus, settlement *model.UsageSettlement) (bool, error) {
	return false, errors.New("connection reset by peer")
}

func (f *fixture) transactionCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.CreditTransaction{}).Count(&n).Error)
	return n
}

func (f *fixture) balance(t *testing.T) *model.BalanceView {
	t.Helper()
	view, err := f.ledger.Balance(context.Background(), session)
	require.NoError(t, err)
	return view
}

func (f *fixture) assertReconciles(t *testing.T) {
	t.Helper()
	report, err := f.ledger.Reconcile(context.Background(), sessionKey)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func generation(id string, count int) *model.GenerationRequest {
	return &model.GenerationRequest{
		RequestID: id,
		Prompt:    "a lighthouse at dusk",
		Count:     count,
		Signals:   model.RequestSignals{SessionToken: sessionToken},
	}
}

// --- Tests ---

func TestOrchestrator_Success(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.provider.On("Generate", mock.Anything, "a lighthouse at dusk", 1).Return(oneImage, nil).Once()

	result, err := f.orchestrator.Handle(ctx, generation("req-1", 1))
	require.NoError(t, err)
	assert.Equal(t, model.SettlementOutcomeOK, result.Outcome)
	assert.Equal(t, oneImage, result.Images)
	assert.Equal(t, int64(1), result.CreditsCharged)
	assert.Equal(t, sessionKey, result.Identity.Key)
	assert.Empty(t, result.MintedSessionToken)
	require.NotNil(t, result.RateDecision)
	assert.Equal(t, int64(2), result.RateDecision.RemainingHourly)

	stored, err := f.requests.GetByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.UsageStatusCommitted, stored.Status)
	assert.Equal(t, oneImage, stored.Outputs)
	assert.Equal(t, int64(2), f.balance(t).FreeRemaining)

	pending, err := f.ledger.PendingReservations(ctx, testNow.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	f.assertReconciles(t)
}

func TestOrchestrator_IdempotentRetry(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.provider.On("Generate", mock.Anything, mock.Anything, 2).Return(oneImage, nil).Once()

	first, err := f.orchestrator.Handle(ctx, generation("req-1", 2))
	require.NoError(t, err)
	txns := f.transactionCount(t)
	remaining := f.balance(t).Total

	second, err := f.orchestrator.Handle(ctx, generation("req-1", 2))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Images, second.Images)
	assert.Equal(t, first.CreditsCharged, second.CreditsCharged)
	assert.Equal(t, first.Outcome, second.Outcome)

	assert.Equal(t, txns, f.transactionCount(t))
	assert.Equal(t, remaining, f.balance(t).Total)
	f.provider.AssertNumberOfCalls(t, "Generate", 1)

	// The replay consumed no rate slot either
	d, err := f.limiter.Peek(ctx, session, model.ResourceGeneration)
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.RemainingHourly)
}

func TestOrchestrator_ProviderTimeoutRefunds(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	before := f.balance(t)

	f.provider.On("Generate", mock.Anything, mock.Anything, 1).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	result, err := f.orchestrator.Handle(ctx, generation("req-1", 1))
	assert.ErrorIs(t, err, ErrProviderTransient)
	require.NotNil(t, result)
	assert.Equal(t, model.SettlementOutcomeFailed, result.Outcome)

	stored, err := f.requests.GetByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.UsageStatusReleased, stored.Status)
	assert.Equal(t, "transient:timeout", stored.FailureCode)
	assert.Equal(t, model.SettlementOutcomeFailed, stored.Status.Outcome())

	after := f.balance(t)
	assert.Equal(t, before.Total, after.Total)
	assert.Equal(t, before.FreeRemaining, after.FreeRemaining)
	f.assertReconciles(t)

	// A retry with the same id replays the failure
	_, err = f.orchestrator.Handle(ctx, generation("req-1", 1))
	assert.ErrorIs(t, err, ErrProviderTransient)
	f.provider.AssertNumberOfCalls(t, "Generate", 1)
}

func TestOrchestrator_PermanentProviderError(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.provider.On("Generate", mock.Anything, mock.Anything, 1).
		Return(nil, outbound.NewPermanentProviderError("content_policy_violation", errors.New("prompt rejected")))

	_, err := f.orchestrator.Handle(ctx, generation("req-1", 1))
	assert.ErrorIs(t, err, ErrProviderPermanent)
	assert.NotContains(t, err.Error(), "prompt rejected")

	stored, err := f.requests.GetByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "permanent:content_policy_violation", stored.FailureCode)
	assert.Equal(t, int64(3), f.balance(t).Total)

	_, err = f.orchestrator.Handle(ctx, generation("req-1", 1))
	assert.ErrorIs(t, err, ErrProviderPermanent)
}

func TestOrchestrator_RateLimitedTouchesNoCredit(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.ledger.AddCredits(ctx, sessionKey, 10, model.TransactionKindPurchase, "pay-1")
	require.NoError(t, err)
	f.provider.On("Generate", mock.Anything, mock.Anything, 1).Return(oneImage, nil)

	for i := 1; i <= 3; i++ {
		_, err := f.orchestrator.Handle(ctx, generation(fmt.Sprintf("req-%d", i), 1))
		require.NoError(t, err)
	}
	before := f.balance(t)
	txns := f.transactionCount(t)

	result, err := f.orchestrator.Handle(ctx, generation("req-4", 1))
	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 40*time.Minute, limited.RetryAfter)
	require.NotNil(t, result.RateDecision)
	assert.False(t, result.RateDecision.Allowed)

	assert.Equal(t, before, f.balance(t))
	assert.Equal(t, txns, f.transactionCount(t))
	stored, err := f.requests.GetByID(ctx, "req-4")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestOrchestrator_InsufficientCreditKeepsRateSlot(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.orchestrator.Handle(ctx, generation("req-1", 4))
	assert.ErrorIs(t, err, ErrInsufficientCredit)
	f.provider.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)

	d, err := f.limiter.Peek(ctx, session, model.ResourceGeneration)
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.RemainingHourly)
	assert.Equal(t, int64(3), f.balance(t).Total)
}

func TestOrchestrator_LateResultAfterExpiry(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	f.provider.On("Generate", mock.Anything, mock.Anything, 1).
		Run(func(args mock.Arguments) {
			// The reconciler expires the request while the provider is still working
			moved, err := f.requests.Transition(ctx, "req-1", model.UsageStatusReserved, model.UsageStatusExpired, &model.UsageSettlement{
				FailureCode: ExpiredFailureCode,
				SettledAt:   testNow,
			})
			require.NoError(t, err)
			require.True(t, moved)
			require.NoError(t, f.ledger.Release(ctx, "req-1"))
		}).
		Return(oneImage, nil)

	result, err := f.orchestrator.Handle(ctx, generation("req-1", 1))
	assert.ErrorIs(t, err, ErrProviderTransient)
	assert.Equal(t, model.SettlementOutcomeFailed, result.Outcome)
	assert.Empty(t, result.Images)

	stored, err := f.requests.GetByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.UsageStatusExpired, stored.Status)

	// Never re-committed
	assert.ErrorIs(t, f.ledger.Commit(ctx, "req-1"), ledger.ErrReservationReleased)
	assert.Equal(t, int64(3), f.balance(t).Total)
	f.assertReconciles(t)
}

func TestOrchestrator_ExistingRequests(t *testing.T) {
	ctx := context.Background()

	t.Run("in progress", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.requests.Create(ctx, &model.UsageRequest{
			ID: "req-1", IdentityKey: sessionKey, Status: model.UsageStatusReserved,
			CreditsReserved: 1, Prompt: "a lighthouse at dusk", ImageCount: 1, CreatedAt: testNow,
		}))

		_, err := f.orchestrator.Handle(ctx, generation("req-1", 1))
		assert.ErrorIs(t, err, ErrRequestInProgress)
	})

	t.Run("different request under the same id", func(t *testing.T) {
		f := setup(t)
		f.provider.On("Generate", mock.Anything, mock.Anything, 1).Return(oneImage, nil).Once()
		_, err := f.orchestrator.Handle(ctx, generation("req-1", 1))
		require.NoError(t, err)

		other := generation("req-1", 1)
		other.Prompt = "a different prompt"
		_, err = f.orchestrator.Handle(ctx, other)
		assert.ErrorIs(t, err, ErrIdempotencyConflict)
	})

	t.Run("account request replayed by someone else", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.requests.Create(ctx, &model.UsageRequest{
			ID: "req-1", IdentityKey: "acct:42", Status: model.UsageStatusCommitted,
			CreditsReserved: 1, Prompt: "a lighthouse at dusk", ImageCount: 1, CreatedAt: testNow,
		}))

		_, err := f.orchestrator.Handle(ctx, generation("req-1", 1))
		assert.ErrorIs(t, err, ErrIdempotencyConflict)
	})
}

func TestOrchestrator_ReservationWithoutUsageRow(t *testing.T) {
	ctx := context.Background()

	t.Run("released reservation replays as a refunded failure", func(t *testing.T) {
		f := setup(t)
		_, err := f.ledger.Reserve(ctx, session, 1, "req-x")
		require.NoError(t, err)
		require.NoError(t, f.ledger.Release(ctx, "req-x"))

		for i := 0; i < 3; i++ {
			result, err := f.orchestrator.Handle(ctx, generation("req-x", 1))
			assert.ErrorIs(t, err, ErrProviderTransient)
			require.NotNil(t, result)
			assert.True(t, result.Replayed)
			assert.Equal(t, model.SettlementOutcomeFailed, result.Outcome)
		}

		d, err := f.limiter.Peek(ctx, session, model.ResourceGeneration)
		require.NoError(t, err)
		assert.Equal(t, int64(3), d.RemainingHourly)
		assert.Equal(t, int64(3), f.balance(t).Total)
		f.provider.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
		f.assertReconciles(t)
	})

	t.Run("pending reservation is in progress without a rate slot", func(t *testing.T) {
		f := setup(t)
		_, err := f.ledger.Reserve(ctx, session, 1, "req-x")
		require.NoError(t, err)

		_, err = f.orchestrator.Handle(ctx, generation("req-x", 1))
		assert.ErrorIs(t, err, ErrRequestInProgress)

		d, err := f.limiter.Peek(ctx, session, model.ResourceGeneration)
		require.NoError(t, err)
		assert.Equal(t, int64(3), d.RemainingHourly)
	})

	t.Run("account reservation presented by someone else", func(t *testing.T) {
		f := setup(t)
		account := model.Identity{Key: "acct:42", Tier: model.TierRegistered, Source: model.IdentitySourceAccount, AccountID: "42"}
		_, err := f.ledger.Reserve(ctx, account, 1, "req-x")
		require.NoError(t, err)

		_, err = f.orchestrator.Handle(ctx, generation("req-x", 1))
		assert.ErrorIs(t, err, ErrIdempotencyConflict)
	})

	t.Run("losing a reservation race gives the rate slot back", func(t *testing.T) {
		f := setup(t)
		_, err := f.ledger.Reserve(ctx, session, 1, "req-x")
		require.NoError(t, err)
		o := f.buildWith(f.limiter, unseenLedger{f.ledger}, f.requests)

		_, err = o.Handle(ctx, generation("req-x", 1))
		assert.ErrorIs(t, err, ErrRequestInProgress)

		d, err := f.limiter.Peek(ctx, session, model.ResourceGeneration)
		require.NoError(t, err)
		assert.Equal(t, int64(3), d.RemainingHourly)
		assert.Equal(t, int64(9), d.RemainingDaily)
	})
}

func TestOrchestrator_FailedSettlementStillRefunds(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.provider.On("Generate", mock.Anything, mock.Anything, 1).
		Return(nil, outbound.NewTransientProviderError("upstream_unavailable", errors.New("503")))
	o := f.buildWith(f.limiter, f.ledger, brokenTransitions{f.requests})

	result, err := o.Handle(ctx, generation("req-1", 1))
	assert.ErrorIs(t, err, ErrProviderTransient)
	assert.Equal(t, model.SettlementOutcomeFailed, result.Outcome)

	// The credit is back even though the row could not be moved
	assert.Equal(t, int64(3), f.balance(t).Total)
	pending, err := f.ledger.PendingReservations(ctx, testNow.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stored, err := f.requests.GetByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.UsageStatusReserved, stored.Status)

	// The reconciler's later release is a no-op
	require.NoError(t, f.ledger.Release(ctx, "req-1"))
	assert.Equal(t, int64(3), f.balance(t).Total)
	f.assertReconciles(t)
}

func TestOrchestrator_FailsClosedOnRateStorage(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	limiter := new(MockLimiter)
	limiter.On("CheckAndIncrement", mock.Anything, session, model.ResourceGeneration).
		Return(nil, fmt.Errorf("%w: dial tcp", ratelimit.ErrStorageUnavailable))
	o := f.build(limiter)

	_, err := o.Handle(ctx, generation("req-1", 1))
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.NotContains(t, err.Error(), "dial tcp")
	assert.Zero(t, f.transactionCount(t))
	f.provider.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_Validation(t *testing.T) {
	f := setup(t)
	cases := map[string]*model.GenerationRequest{
		"missing id":     {Prompt: "x", Count: 1},
		"long id":        {RequestID: strings.Repeat("a", 129), Prompt: "x", Count: 1},
		"missing prompt": {RequestID: "req-1", Prompt: "  ", Count: 1},
		"zero count":     {RequestID: "req-1", Prompt: "x", Count: 0},
		"too many":       {RequestID: "req-1", Prompt: "x", Count: 5},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.orchestrator.Handle(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	_, err := f.orchestrator.Handle(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestOrchestrator_ConcurrentTabs(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.ledger.AddCredits(ctx, sessionKey, 10, model.TransactionKindPurchase, "pay-1")
	require.NoError(t, err)
	f.provider.On("Generate", mock.Anything, mock.Anything, 1).Return(oneImage, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, limited int
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.orchestrator.Handle(ctx, generation(fmt.Sprintf("tab-%d", i), 1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrRateLimited):
				limited++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, ok)
	assert.Equal(t, 7, limited)
	assert.Equal(t, int64(10), f.balance(t).Total)
	f.assertReconciles(t)
}
