package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/outbound"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ledgerAdapter implements outbound.LedgerDatabasePort.
type ledgerAdapter struct {
	db *gorm.DB
}

// NewLedgerAdapter creates a new credit ledger database adapter.
func NewLedgerAdapter(db *gorm.DB) outbound.LedgerDatabasePort {
	return &ledgerAdapter{db: db}
}

func (a *ledgerAdapter) InTx(ctx context.Context, fn func(tx outbound.LedgerTxPort) error) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ledgerTx{db: tx})
	})
}

func (a *ledgerAdapter) GetBalance(ctx context.Context, identityKey string) (*model.CreditBalance, error) {
	return getBalance(a.db.WithContext(ctx), identityKey)
}

func (a *ledgerAdapter) GetTransactionByDedupeKey(ctx context.Context, dedupeKey string) (*model.CreditTransaction, error) {
	return getTransactionByDedupeKey(a.db.WithContext(ctx), dedupeKey)
}

func (a *ledgerAdapter) ListTransactions(ctx context.Context, filter *model.TransactionFilter) ([]*model.CreditTransaction, int64, error) {
	filter.DefaultPagination()

	query := a.db.WithContext(ctx).Model(&model.CreditTransaction{})
	if filter.IdentityKey != "" {
		query = query.Where("identity_key = ?", filter.IdentityKey)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Reference != "" {
		query = query.Where("reference = ?", filter.Reference)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var txns []*model.CreditTransaction
	err := query.
		Order("created_at DESC, id DESC").
		Offset(filter.Offset()).
		Limit(filter.PageSize).
		Find(&txns).Error
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

func (a *ledgerAdapter) SumDeltas(ctx context.Context, identityKey string) (int64, int64, error) {
	var result struct {
		Count int64
		Total int64
	}
	err := a.db.WithContext(ctx).
		Model(&model.CreditTransaction{}).
		Select("COUNT(*) AS count, COALESCE(SUM(delta), 0) AS total").
		Where("identity_key = ?", identityKey).
		Scan(&result).Error
	if err != nil {
		return 0, 0, err
	}
	return result.Count, result.Total, nil
}

func (a *ledgerAdapter) ListPendingReservations(ctx context.Context, before time.Time, limit int) ([]*model.CreditTransaction, error) {
	var txns []*model.CreditTransaction
	err := a.db.WithContext(ctx).
		Where("kind = ? AND created_at < ?", model.TransactionKindReservation, before).
		Where(`NOT EXISTS (
			SELECT 1 FROM credit_transactions s
			WHERE s.identity_key = credit_transactions.identity_key
			AND s.reference = credit_transactions.reference
			AND s.kind IN ?)`,
			[]model.TransactionKind{model.TransactionKindCommit, model.TransactionKindRelease}).
		Order("created_at ASC").
		Limit(limit).
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// ledgerTx implements outbound.LedgerTxPort on an open gorm transaction.
type ledgerTx struct {
	db *gorm.DB
}

func (t *ledgerTx) GetBalance(ctx context.Context, identityKey string) (*model.CreditBalance, error) {
	return getBalance(t.db.WithContext(ctx), identityKey)
}

func (t *ledgerTx) CreateBalance(ctx context.Context, balance *model.CreditBalance) (bool, error) {
	res := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(balance)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (t *ledgerTx) CompareAndSwapBalance(ctx context.Context, balance *model.CreditBalance, expectedVersion int64) error {
	now := time.Now().UTC()
	res := t.db.WithContext(ctx).
		Model(&model.CreditBalance{}).
		Where("identity_key = ? AND version = ?", balance.IdentityKey, expectedVersion).
		Updates(map[string]any{
			"free_used_today":      balance.FreeUsedToday,
			"free_daily_allowance": balance.FreeDailyAllowance,
			"free_reset_date":      balance.FreeResetDate,
			"free_tier":            balance.FreeTier,
			"bonus_credits":        balance.BonusCredits,
			"paid_credits":         balance.PaidCredits,
			"version":              expectedVersion + 1,
			"updated_at":           now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return outbound.ErrVersionConflict
	}
	balance.Version = expectedVersion + 1
	balance.UpdatedAt = now
	return nil
}

func (t *ledgerTx) InsertTransaction(ctx context.Context, txn *model.CreditTransaction) (bool, error) {
	res := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(txn)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (t *ledgerTx) GetTransactionByDedupeKey(ctx context.Context, dedupeKey string) (*model.CreditTransaction, error) {
	return getTransactionByDedupeKey(t.db.WithContext(ctx), dedupeKey)
}

func getBalance(db *gorm.DB, identityKey string) (*model.CreditBalance, error) {
	var balance model.CreditBalance
	err := db.First(&balance, "identity_key = ?", identityKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &balance, nil
}

func getTransactionByDedupeKey(db *gorm.DB, dedupeKey string) (*model.CreditTransaction, error) {
	var txn model.CreditTransaction
	err := db.First(&txn, "dedupe_key = ?", dedupeKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}
