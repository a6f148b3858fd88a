package inbound

import (
	"context"
	"time"

	"github.com/uniedit/creditgate/internal/model"
)

// CreditLedger owns credit balances and the transaction log.
type CreditLedger interface {
	Reserve(ctx context.Context, identity model.Identity, amount int64, reference string) (*model.Reservation, error)
	Commit(ctx context.Context, reference string) error
	Release(ctx context.Context, reference string) error

	// ReservationStatus reports whether reference was reserved and how it settled.
	ReservationStatus(ctx context.Context, reference string) (*model.ReservationStatus, error)

	// AddCredits reports whether the credits were applied; false means the reference was already used.
	AddCredits(ctx context.Context, identityKey string, amount int64, kind model.TransactionKind, reference string) (bool, error)
	RefundCredits(ctx context.Context, identityKey string, amount int64, reference string) (bool, error)

	Balance(ctx context.Context, identity model.Identity) (*model.BalanceView, error)
	Reconcile(ctx context.Context, identityKey string) (*model.ReconciliationReport, error)
	PendingReservations(ctx context.Context, before time.Time, limit int) ([]*model.Reservation, error)
}
