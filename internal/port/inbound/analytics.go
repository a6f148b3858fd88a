package inbound

import (
	"context"

	"github.com/uniedit/creditgate/internal/model"
)

// AnalyticsDomain is the read-only admin query surface.
type AnalyticsDomain interface {
	ListTransactions(ctx context.Context, filter *model.TransactionFilter) (*model.PaginatedResponse[*model.CreditTransaction], error)
	ListUsageRequests(ctx context.Context, filter *model.UsageFilter) (*model.PaginatedResponse[*model.UsageRequest], error)
	UsageSummary(ctx context.Context) (*model.UsageSummary, error)
	GetBalance(ctx context.Context, identityKey string) (*model.CreditBalance, error)
	Reconcile(ctx context.Context, identityKey string) (*model.ReconciliationReport, error)
	CounterSnapshot(ctx context.Context, identityKey string, tier model.Tier, resource string) (*model.RateDecision, error)
}
