package inbound

import (
	"context"

	"github.com/uniedit/creditgate/internal/model"
)

// PaymentDomain applies payment notifications and internal grants to the ledger.
type PaymentDomain interface {
	HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (*model.PaymentEvent, error)
	ApplyEvent(ctx context.Context, event *model.PaymentEvent) (bool, error)
	Grant(ctx context.Context, req *model.GrantRequest) (*model.GrantResult, error)
}
