package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/outbound"
)

// Metadata keys set on the checkout session and its payment intent.
const (
	MetadataIdentityKey = "identity_key"
	MetadataCredits     = "credits"
)

// ErrNoSecret is returned when webhooks arrive without a configured signing secret.
var ErrNoSecret = errors.New("stripe webhook secret not configured")

// webhookParser implements outbound.PaymentWebhookPort for Stripe.
type webhookParser struct {
	secret string
}

// NewWebhookParser creates a Stripe webhook parser.
func NewWebhookParser(secret string) outbound.PaymentWebhookPort {
	return &webhookParser{secret: secret}
}

// Name returns the payment provider name.
func (p *webhookParser) Name() string {
	return "stripe"
}

// ParseEvent verifies the Stripe-Signature header and converts the event.
// Event types that do not move credits come back as PaymentEventIgnored.
func (p *webhookParser) ParseEvent(payload []byte, signature string) (*model.PaymentEvent, error) {
	if p.secret == "" {
		return nil, ErrNoSecret
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", outbound.ErrInvalidWebhook, err)
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return parseCheckoutSession(&event)
	case "charge.refunded":
		return parseChargeRefunded(&event)
	default:
		return &model.PaymentEvent{Type: model.PaymentEventIgnored, Reference: event.ID}, nil
	}
}

func parseCheckoutSession(event *stripe.Event) (*model.PaymentEvent, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: parse checkout session: %v", outbound.ErrInvalidWebhook, err)
	}

	// Delayed payment methods complete later with async_payment_succeeded
	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		return &model.PaymentEvent{Type: model.PaymentEventIgnored, Reference: session.ID}, nil
	}

	identityKey := session.Metadata[MetadataIdentityKey]
	if identityKey == "" {
		identityKey = session.ClientReferenceID
	}
	credits, err := metadataCredits(session.Metadata)
	if err != nil {
		return nil, err
	}

	return &model.PaymentEvent{
		Type:        model.PaymentEventCreditsPurchased,
		IdentityKey: strings.TrimSpace(identityKey),
		Amount:      credits,
		Reference:   session.ID,
	}, nil
}

// parseChargeRefunded converts the newly refunded share of a charge into credits.
// The reference carries the cumulative refunded amount so each partial refund
// applies once.
func parseChargeRefunded(event *stripe.Event) (*model.PaymentEvent, error) {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return nil, fmt.Errorf("%w: parse charge: %v", outbound.ErrInvalidWebhook, err)
	}
	if charge.Amount <= 0 {
		return nil, fmt.Errorf("%w: charge %s has no amount", outbound.ErrInvalidWebhook, charge.ID)
	}

	credits, err := metadataCredits(charge.Metadata)
	if err != nil {
		return nil, err
	}

	var previous int64
	if v, ok := event.Data.PreviousAttributes["amount_refunded"].(float64); ok {
		previous = int64(v)
	}
	refunded := creditsFor(credits, charge.AmountRefunded, charge.Amount) - creditsFor(credits, previous, charge.Amount)
	if refunded <= 0 {
		return &model.PaymentEvent{Type: model.PaymentEventIgnored, Reference: charge.ID}, nil
	}

	return &model.PaymentEvent{
		Type:        model.PaymentEventCreditsRefunded,
		IdentityKey: strings.TrimSpace(charge.Metadata[MetadataIdentityKey]),
		Amount:      refunded,
		Reference:   charge.ID + ":" + strconv.FormatInt(charge.AmountRefunded, 10),
	}, nil
}

// creditsFor returns the credits covered by amount out of total, rounded up.
func creditsFor(credits, amount, total int64) int64 {
	if amount <= 0 {
		return 0
	}
	if amount >= total {
		return credits
	}
	return (credits*amount + total - 1) / total
}

func metadataCredits(metadata map[string]string) (int64, error) {
	raw := metadata[MetadataCredits]
	credits, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || credits <= 0 {
		return 0, fmt.Errorf("%w: invalid credits metadata %q", outbound.ErrInvalidWebhook, raw)
	}
	return credits, nil
}

// Compile-time check
var _ outbound.PaymentWebhookPort = (*webhookParser)(nil)
