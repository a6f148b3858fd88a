package inbound

import (
	"context"

	"github.com/uniedit/creditgate/internal/model"
)

// RateLimiter admits or denies requests against tier-specific window quotas.
type RateLimiter interface {
	// CheckAndIncrement consumes one slot in every window if all have room.
	CheckAndIncrement(ctx context.Context, identity model.Identity, resource string) (*model.RateDecision, error)

	// Refund gives back the slot a CheckAndIncrement took for a request that never ran.
	Refund(ctx context.Context, identity model.Identity, resource string) error

	// Peek reports the current decision without consuming a slot.
	Peek(ctx context.Context, identity model.Identity, resource string) (*model.RateDecision, error)

	// SweepExpired removes counters past the retention period.
	SweepExpired(ctx context.Context) (int64, error)
}
