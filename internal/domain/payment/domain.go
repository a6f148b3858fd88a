package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/uniedit/creditgate/internal/domain/ledger"
	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/inbound"
	"github.com/uniedit/creditgate/internal/port/outbound"
	"go.uber.org/zap"
)

const maxIdentityKeyLength = 160

// paymentDomain implements inbound.PaymentDomain.
type paymentDomain struct {
	ledger   inbound.CreditLedger
	balances outbound.LedgerDatabasePort
	webhooks map[string]outbound.PaymentWebhookPort
	logger   *zap.Logger
}

// NewPaymentDomain creates a new payment domain service.
func NewPaymentDomain(
	creditLedger inbound.CreditLedger,
	balances outbound.LedgerDatabasePort,
	webhooks []outbound.PaymentWebhookPort,
	logger *zap.Logger,
) inbound.PaymentDomain {
	byName := make(map[string]outbound.PaymentWebhookPort, len(webhooks))
	for _, w := range webhooks {
		byName[w.Name()] = w
	}
	return &paymentDomain{
		ledger:   creditLedger,
		balances: balances,
		webhooks: byName,
		logger:   logger.Named("payment"),
	}
}

// HandleWebhook verifies a provider webhook and applies the event it carries.
// Redelivery of the same payment is a no-op.
func (d *paymentDomain) HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (*model.PaymentEvent, error) {
	parser, ok := d.webhooks[provider]
	if !ok {
		return nil, ErrProviderNotAvailable
	}

	event, err := parser.ParseEvent(payload, signature)
	if err != nil {
		d.logger.Warn("rejected webhook",
			zap.String("provider", provider),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	event.Source = provider

	if _, err := d.ApplyEvent(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// ApplyEvent credits or debits the ledger for one payment event.
func (d *paymentDomain) ApplyEvent(ctx context.Context, event *model.PaymentEvent) (bool, error) {
	if event == nil || event.Type == model.PaymentEventIgnored {
		return false, nil
	}
	if !validIdentityKey(event.IdentityKey) {
		return false, fmt.Errorf("%w: identity key %q", ErrInvalidEvent, event.IdentityKey)
	}
	if event.Amount <= 0 {
		return false, fmt.Errorf("%w: amount %d", ErrInvalidEvent, event.Amount)
	}
	if event.Reference == "" {
		return false, fmt.Errorf("%w: missing reference", ErrInvalidEvent)
	}

	var (
		applied bool
		err     error
	)
	switch event.Type {
	case model.PaymentEventCreditsPurchased:
		applied, err = d.ledger.AddCredits(ctx, event.IdentityKey, event.Amount, model.TransactionKindPurchase, event.Reference)
	case model.PaymentEventCreditsRefunded:
		applied, err = d.ledger.RefundCredits(ctx, event.IdentityKey, event.Amount, event.Reference)
	default:
		return false, fmt.Errorf("%w: type %q", ErrInvalidEvent, event.Type)
	}
	if err != nil {
		return false, err
	}

	if applied {
		d.logger.Info("payment event applied",
			zap.String("type", string(event.Type)),
			zap.String("identity", event.IdentityKey),
			zap.Int64("amount", event.Amount),
			zap.String("reference", event.Reference),
			zap.String("source", event.Source),
		)
	} else {
		d.logger.Info("payment event already applied, skipping",
			zap.String("type", string(event.Type)),
			zap.String("reference", event.Reference),
		)
	}
	return applied, nil
}

// Grant awards bonus or extra free credits outside of a payment.
func (d *paymentDomain) Grant(ctx context.Context, req *model.GrantRequest) (*model.GrantResult, error) {
	if req == nil {
		return nil, ErrInvalidGrant
	}
	kind := req.Kind
	if kind == "" {
		kind = model.TransactionKindBonusGrant
	}
	if kind != model.TransactionKindBonusGrant && kind != model.TransactionKindFreeGrant {
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidGrant, kind)
	}
	if !validIdentityKey(req.IdentityKey) {
		return nil, fmt.Errorf("%w: identity key %q", ErrInvalidGrant, req.IdentityKey)
	}

	applied, err := d.ledger.AddCredits(ctx, req.IdentityKey, req.Amount, kind, req.Reference)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) || errors.Is(err, ledger.ErrInvalidReference) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGrant, err)
		}
		return nil, err
	}

	result := &model.GrantResult{Applied: applied}
	b, err := d.balances.GetBalance(ctx, req.IdentityKey)
	if err != nil {
		d.logger.Warn("failed to read balance after grant", zap.String("identity", req.IdentityKey), zap.Error(err))
		return result, nil
	}
	if b != nil {
		result.Balance = b.ToView()
	}
	return result, nil
}

func validIdentityKey(key string) bool {
	if key == "" || len(key) > maxIdentityKeyLength {
		return false
	}
	for _, prefix := range []string{model.AccountKeyPrefix, model.SessionKeyPrefix, model.DeviceKeyPrefix} {
		if strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
			return true
		}
	}
	return false
}
