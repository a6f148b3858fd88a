package outbound

import (
	"context"
	"errors"
	"time"

	"github.com/uniedit/creditgate/internal/model"
)

// Persistence sentinels shared by the database adapters.
var (
	ErrVersionConflict = errors.New("balance version conflict")
	ErrDuplicateKey    = errors.New("duplicate key")
)

// LedgerDatabasePort defines credit ledger persistence operations.
type LedgerDatabasePort interface {
	// InTx runs fn inside a single database transaction. Returning an error rolls it back.
	InTx(ctx context.Context, fn func(tx LedgerTxPort) error) error

	// GetBalance gets the stored balance row without applying any reset.
	GetBalance(ctx context.Context, identityKey string) (*model.CreditBalance, error)

	// GetTransactionByDedupeKey gets a transaction by its dedupe key.
	GetTransactionByDedupeKey(ctx context.Context, dedupeKey string) (*model.CreditTransaction, error)

	// ListTransactions lists transactions matching the filter, newest first.
	ListTransactions(ctx context.Context, filter *model.TransactionFilter) ([]*model.CreditTransaction, int64, error)

	// SumDeltas returns the number of transactions and the sum of their deltas for an identity.
	SumDeltas(ctx context.Context, identityKey string) (count int64, sum int64, err error)

	// ListPendingReservations lists reservations created before the cutoff that have no settlement.
	ListPendingReservations(ctx context.Context, before time.Time, limit int) ([]*model.CreditTransaction, error)
}

// LedgerTxPort is the view of the ledger tables inside a transaction.
type LedgerTxPort interface {
	// GetBalance gets the balance row, nil if none exists.
	GetBalance(ctx context.Context, identityKey string) (*model.CreditBalance, error)

	// CreateBalance inserts a balance row. Returns false if the row already exists.
	CreateBalance(ctx context.Context, balance *model.CreditBalance) (bool, error)

	// CompareAndSwapBalance writes the balance if its stored version equals expectedVersion.
	// On success balance.Version is advanced. Returns ErrVersionConflict otherwise.
	CompareAndSwapBalance(ctx context.Context, balance *model.CreditBalance, expectedVersion int64) error

	// InsertTransaction appends a transaction. Returns false if its dedupe key is taken.
	InsertTransaction(ctx context.Context, txn *model.CreditTransaction) (bool, error)

	// GetTransactionByDedupeKey gets a transaction by its dedupe key, nil if none exists.
	GetTransactionByDedupeKey(ctx context.Context, dedupeKey string) (*model.CreditTransaction, error)
}

// UsageRequestDatabasePort defines usage request persistence operations.
type UsageRequestDatabasePort interface {
	// Create inserts a usage request. Returns ErrDuplicateKey if the ID is taken.
	Create(ctx context.Context, req *model.UsageRequest) error

	// GetByID gets a usage request, nil if none exists.
	GetByID(ctx context.Context, id string) (*model.UsageRequest, error)

	// Transition moves a request from one status to another only if it is still in from.
	// Returns false when the request was not in from.
	Transition(ctx context.Context, id string, from, to model.UsageStatus, settlement *model.UsageSettlement) (bool, error)

	// ListByStatusBefore lists requests in a status created before the cutoff, oldest first.
	ListByStatusBefore(ctx context.Context, status model.UsageStatus, before time.Time, limit int) ([]*model.UsageRequest, error)

	// List lists usage requests matching the filter, newest first.
	List(ctx context.Context, filter *model.UsageFilter) ([]*model.UsageRequest, int64, error)

	// CountByStatus counts requests per status.
	CountByStatus(ctx context.Context) (map[model.UsageStatus]int64, error)
}
