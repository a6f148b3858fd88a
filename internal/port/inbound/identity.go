package inbound

import (
	"context"

	"github.com/uniedit/creditgate/internal/model"
)

// IdentityResolver resolves a request to the identity it is charged against.
type IdentityResolver interface {
	// Resolve never fails; callers always get a best-effort identity.
	Resolve(ctx context.Context, signals *model.RequestSignals) *model.Resolution
}
