package analytics

import (
	"context"
	"errors"
	"fmt"

	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/inbound"
	"github.com/uniedit/creditgate/internal/port/outbound"
	"go.uber.org/zap"
)

var (
	// ErrBalanceNotFound is returned when an identity has no balance row.
	ErrBalanceNotFound = errors.New("balance not found")

	// ErrInvalidQuery is returned when a query parameter is invalid.
	ErrInvalidQuery = errors.New("invalid query")
)

// analyticsDomain implements inbound.AnalyticsDomain. It never writes.
type analyticsDomain struct {
	ledgerDB outbound.LedgerDatabasePort
	requests outbound.UsageRequestDatabasePort
	ledger   inbound.CreditLedger
	limiter  inbound.RateLimiter
	logger   *zap.Logger
}

// NewAnalyticsDomain creates a new analytics domain service.
func NewAnalyticsDomain(
	ledgerDB outbound.LedgerDatabasePort,
	requests outbound.UsageRequestDatabasePort,
	creditLedger inbound.CreditLedger,
	limiter inbound.RateLimiter,
	logger *zap.Logger,
) inbound.AnalyticsDomain {
	return &analyticsDomain{
		ledgerDB: ledgerDB,
		requests: requests,
		ledger:   creditLedger,
		limiter:  limiter,
		logger:   logger.Named("analytics"),
	}
}

func (d *analyticsDomain) ListTransactions(ctx context.Context, filter *model.TransactionFilter) (*model.PaginatedResponse[*model.CreditTransaction], error) {
	if filter == nil {
		filter = &model.TransactionFilter{}
	}
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidQuery, filter.Kind)
	}
	filter.DefaultPagination()

	txns, total, err := d.ledgerDB.ListTransactions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return model.NewPaginatedResponse(txns, total, filter.Page, filter.PageSize), nil
}

func (d *analyticsDomain) ListUsageRequests(ctx context.Context, filter *model.UsageFilter) (*model.PaginatedResponse[*model.UsageRequest], error) {
	if filter == nil {
		filter = &model.UsageFilter{}
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidQuery, filter.Status)
	}
	filter.DefaultPagination()

	reqs, total, err := d.requests.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list usage requests: %w", err)
	}
	return model.NewPaginatedResponse(reqs, total, filter.Page, filter.PageSize), nil
}

func (d *analyticsDomain) UsageSummary(ctx context.Context) (*model.UsageSummary, error) {
	counts, err := d.requests.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count usage requests: %w", err)
	}
	summary := &model.UsageSummary{ByStatus: make(map[model.UsageStatus]int64, len(counts))}
	for status, n := range counts {
		summary.ByStatus[status] = n
		summary.Total += n
	}
	return summary, nil
}

// GetBalance returns the stored row as-is, without applying a pending daily reset.
func (d *analyticsDomain) GetBalance(ctx context.Context, identityKey string) (*model.CreditBalance, error) {
	b, err := d.ledgerDB.GetBalance(ctx, identityKey)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if b == nil {
		return nil, ErrBalanceNotFound
	}
	return b, nil
}

func (d *analyticsDomain) Reconcile(ctx context.Context, identityKey string) (*model.ReconciliationReport, error) {
	return d.ledger.Reconcile(ctx, identityKey)
}

// CounterSnapshot reports the current windows for an identity without consuming a slot.
func (d *analyticsDomain) CounterSnapshot(ctx context.Context, identityKey string, tier model.Tier, resource string) (*model.RateDecision, error) {
	if identityKey == "" {
		return nil, fmt.Errorf("%w: identity key is required", ErrInvalidQuery)
	}
	if tier == "" {
		tier = model.TierAnonymous
	}
	if !tier.IsValid() {
		return nil, fmt.Errorf("%w: tier %q", ErrInvalidQuery, tier)
	}
	if resource == "" {
		resource = model.ResourceGeneration
	}
	return d.limiter.Peek(ctx, model.Identity{Key: identityKey, Tier: tier}, resource)
}
