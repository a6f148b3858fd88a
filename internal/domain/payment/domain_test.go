package payment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uniedit/creditgate/internal/adapter/outbound/postgres"
	"github.com/uniedit/creditgate/internal/domain/ledger"
	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/inbound"
	"github.com/uniedit/creditgate/internal/port/outbound"
	"github.com/uniedit/creditgate/internal/shared/clock"
	"github.com/uniedit/creditgate/internal/shared/database"
	"go.uber.org/zap"
)

// --- Mock Implementations ---

type MockWebhookPort struct {
	mock.Mock
}

func (m *MockWebhookPort) Name() string {
	return "stripe"
}

func (m *MockWebhookPort) ParseEvent(payload []byte, signature string) (*model.PaymentEvent, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentEvent), args.Error(1)
}

func setupPayment(t *testing.T) (inbound.PaymentDomain, *ledger.Ledger, *MockWebhookPort) {
	t.Helper()
	db, err := database.NewInMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	ledgerDB := postgres.NewLedgerAdapter(db)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	l := ledger.NewLedger(ledgerDB, clock.UTCCalendar(), clk, nil, nil, zap.NewNop())
	webhook := new(MockWebhookPort)
	return NewPaymentDomain(l, ledgerDB, []outbound.PaymentWebhookPort{webhook}, zap.NewNop()), l, webhook
}

func storedTotal(t *testing.T, l *ledger.Ledger, key string) int64 {
	t.Helper()
	report, err := l.Reconcile(context.Background(), key)
	require.NoError(t, err)
	require.True(t, report.Consistent)
	return report.BalanceTotal
}

func TestPaymentDomain_HandleWebhook(t *testing.T) {
	ctx := context.Background()

	t.Run("purchase credits the paid pool once", func(t *testing.T) {
		d, l, webhook := setupPayment(t)
		event := &model.PaymentEvent{
			Type:        model.PaymentEventCreditsPurchased,
			IdentityKey: "acct:42",
			Amount:      100,
			Reference:   "cs_test_1",
		}
		webhook.On("ParseEvent", []byte("payload"), "sig").Return(event, nil).Twice()

		got, err := d.HandleWebhook(ctx, "stripe", []byte("payload"), "sig")
		require.NoError(t, err)
		assert.Equal(t, "stripe", got.Source)
		assert.Equal(t, int64(100), storedTotal(t, l, "acct:42"))

		// Redelivery
		_, err = d.HandleWebhook(ctx, "stripe", []byte("payload"), "sig")
		require.NoError(t, err)
		assert.Equal(t, int64(100), storedTotal(t, l, "acct:42"))
		webhook.AssertExpectations(t)
	})

	t.Run("bad signature", func(t *testing.T) {
		d, _, webhook := setupPayment(t)
		webhook.On("ParseEvent", mock.Anything, "bad").Return(nil, errors.New("signature mismatch"))

		_, err := d.HandleWebhook(ctx, "stripe", []byte("payload"), "bad")
		assert.ErrorIs(t, err, ErrInvalidWebhook)
	})

	t.Run("unknown provider", func(t *testing.T) {
		d, _, _ := setupPayment(t)
		_, err := d.HandleWebhook(ctx, "paypal", []byte("payload"), "sig")
		assert.ErrorIs(t, err, ErrProviderNotAvailable)
	})

	t.Run("ignored event type", func(t *testing.T) {
		d, _, webhook := setupPayment(t)
		webhook.On("ParseEvent", mock.Anything, mock.Anything).Return(&model.PaymentEvent{Type: model.PaymentEventIgnored}, nil)

		got, err := d.HandleWebhook(ctx, "stripe", []byte("payload"), "sig")
		require.NoError(t, err)
		assert.Equal(t, model.PaymentEventIgnored, got.Type)
	})
}

func TestPaymentDomain_ApplyEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("refund never takes more than the paid pool", func(t *testing.T) {
		d, l, _ := setupPayment(t)
		applied, err := d.ApplyEvent(ctx, &model.PaymentEvent{Type: model.PaymentEventCreditsPurchased, IdentityKey: "sess:abc", Amount: 10, Reference: "cs_1"})
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = d.ApplyEvent(ctx, &model.PaymentEvent{Type: model.PaymentEventCreditsRefunded, IdentityKey: "sess:abc", Amount: 25, Reference: "ch_1:2500"})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, int64(0), storedTotal(t, l, "sess:abc"))

		applied, err = d.ApplyEvent(ctx, &model.PaymentEvent{Type: model.PaymentEventCreditsRefunded, IdentityKey: "sess:abc", Amount: 25, Reference: "ch_1:2500"})
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("rejects malformed events", func(t *testing.T) {
		d, _, _ := setupPayment(t)
		for name, event := range map[string]*model.PaymentEvent{
			"no identity":    {Type: model.PaymentEventCreditsPurchased, Amount: 1, Reference: "r"},
			"bad prefix":     {Type: model.PaymentEventCreditsPurchased, IdentityKey: "user:1", Amount: 1, Reference: "r"},
			"zero amount":    {Type: model.PaymentEventCreditsPurchased, IdentityKey: "acct:1", Reference: "r"},
			"no reference":   {Type: model.PaymentEventCreditsPurchased, IdentityKey: "acct:1", Amount: 1},
			"unknown type":   {Type: "chargeback", IdentityKey: "acct:1", Amount: 1, Reference: "r"},
			"bare prefix id": {Type: model.PaymentEventCreditsPurchased, IdentityKey: "acct:", Amount: 1, Reference: "r"},
		} {
			_, err := d.ApplyEvent(ctx, event)
			assert.ErrorIs(t, err, ErrInvalidEvent, name)
		}
	})
}

func TestPaymentDomain_Grant(t *testing.T) {
	ctx := context.Background()

	t.Run("bonus grant by default", func(t *testing.T) {
		d, _, _ := setupPayment(t)
		result, err := d.Grant(ctx, &model.GrantRequest{IdentityKey: "acct:7", Amount: 5, Reference: "launch-promo"})
		require.NoError(t, err)
		assert.True(t, result.Applied)
		require.NotNil(t, result.Balance)
		assert.Equal(t, int64(5), result.Balance.BonusCredits)

		result, err = d.Grant(ctx, &model.GrantRequest{IdentityKey: "acct:7", Amount: 5, Reference: "launch-promo"})
		require.NoError(t, err)
		assert.False(t, result.Applied)
		assert.Equal(t, int64(5), result.Balance.BonusCredits)
	})

	t.Run("rejects purchase kind", func(t *testing.T) {
		d, _, _ := setupPayment(t)
		_, err := d.Grant(ctx, &model.GrantRequest{IdentityKey: "acct:7", Amount: 5, Kind: model.TransactionKindPurchase, Reference: "x"})
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		d, _, _ := setupPayment(t)
		_, err := d.Grant(ctx, &model.GrantRequest{IdentityKey: "acct:7", Amount: -1, Reference: "x"})
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})
}
