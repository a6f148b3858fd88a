package inbound

import (
	"context"

	"github.com/uniedit/creditgate/internal/model"
)

// UsageOrchestrator runs a generation request through quota, credit and provider.
// On error the result may still be non-nil, carrying the resolved identity
// and rate decision for response headers.
type UsageOrchestrator interface {
	Handle(ctx context.Context, req *model.GenerationRequest) (*model.GenerationResult, error)
}

// SettlementReconciler resolves reservations left behind by interrupted requests.
type SettlementReconciler interface {
	Start(ctx context.Context)
	Stop()
	RunOnce(ctx context.Context) (*model.SettlementRun, error)
}
