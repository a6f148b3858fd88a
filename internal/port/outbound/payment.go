package outbound

import (
	"errors"

	"github.com/uniedit/creditgate/internal/model"
)

// ErrInvalidWebhook is returned when a webhook payload fails verification or parsing.
var ErrInvalidWebhook = errors.New("invalid webhook")

// PaymentWebhookPort verifies and normalizes payment provider webhooks.
type PaymentWebhookPort interface {
	// Name returns the payment provider name.
	Name() string

	// ParseEvent verifies the signature and converts the payload into a payment event.
	ParseEvent(payload []byte, signature string) (*model.PaymentEvent, error)
}
