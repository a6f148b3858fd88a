package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/outbound"
	"github.com/uniedit/creditgate/internal/shared/database"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewInMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return db
}

func strPtr(s string) *string { return &s }

func newTxn(identity string, kind model.TransactionKind, delta int64, ref string, dedupe *string, at time.Time) *model.CreditTransaction {
	return &model.CreditTransaction{
		ID:          uuid.New(),
		IdentityKey: identity,
		Kind:        kind,
		Delta:       delta,
		Reference:   ref,
		DedupeKey:   dedupe,
		CreatedAt:   at,
	}
}

func TestLedgerAdapter_BalanceCAS(t *testing.T) {
	db := setupTestDB(t)
	adapter := NewLedgerAdapter(db)
	ctx := context.Background()

	balance := &model.CreditBalance{
		IdentityKey:        "dev:a",
		FreeDailyAllowance: 3,
		FreeResetDate:      "2026-03-10",
		CreatedAt:          time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	}

	err := adapter.InTx(ctx, func(tx outbound.LedgerTxPort) error {
		created, err := tx.CreateBalance(ctx, balance)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = tx.CreateBalance(ctx, &model.CreditBalance{IdentityKey: "dev:a", FreeResetDate: "2026-03-10"})
		require.NoError(t, err)
		assert.False(t, created)
		return nil
	})
	require.NoError(t, err)

	t.Run("swap with current version", func(t *testing.T) {
		err := adapter.InTx(ctx, func(tx outbound.LedgerTxPort) error {
			b, err := tx.GetBalance(ctx, "dev:a")
			require.NoError(t, err)
			b.FreeUsedToday = 1
			return tx.CompareAndSwapBalance(ctx, b, b.Version)
		})
		require.NoError(t, err)

		stored, err := adapter.GetBalance(ctx, "dev:a")
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.FreeUsedToday)
		assert.Equal(t, int64(1), stored.Version)
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		err := adapter.InTx(ctx, func(tx outbound.LedgerTxPort) error {
			b, err := tx.GetBalance(ctx, "dev:a")
			require.NoError(t, err)
			b.FreeUsedToday = 2
			return tx.CompareAndSwapBalance(ctx, b, b.Version-1)
		})
		assert.ErrorIs(t, err, outbound.ErrVersionConflict)

		stored, err := adapter.GetBalance(ctx, "dev:a")
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.FreeUsedToday)
	})

	t.Run("missing balance is nil", func(t *testing.T) {
		b, err := adapter.GetBalance(ctx, "dev:none")
		require.NoError(t, err)
		assert.Nil(t, b)
	})
}

func TestLedgerAdapter_InsertTransactionDedupe(t *testing.T) {
	db := setupTestDB(t)
	adapter := NewLedgerAdapter(db)
	ctx := context.Background()
	now := time.Now().UTC()

	err := adapter.InTx(ctx, func(tx outbound.LedgerTxPort) error {
		ok, err := tx.InsertTransaction(ctx, newTxn("dev:a", model.TransactionKindReservation, -1, "r1", strPtr("reserve:r1"), now))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.InsertTransaction(ctx, newTxn("dev:a", model.TransactionKindReservation, -1, "r1", strPtr("reserve:r1"), now))
		require.NoError(t, err)
		assert.False(t, ok)

		// Transactions without a dedupe key never collide
		for i := 0; i < 2; i++ {
			ok, err = tx.InsertTransaction(ctx, newTxn("dev:a", model.TransactionKindFreeGrant, 3, "", nil, now))
			require.NoError(t, err)
			assert.True(t, ok)
		}
		return nil
	})
	require.NoError(t, err)

	txn, err := adapter.GetTransactionByDedupeKey(ctx, "reserve:r1")
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.Equal(t, int64(-1), txn.Delta)

	count, sum, err := adapter.SumDeltas(ctx, "dev:a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.Equal(t, int64(5), sum)
}

func TestLedgerAdapter_InTxRollsBack(t *testing.T) {
	db := setupTestDB(t)
	adapter := NewLedgerAdapter(db)
	ctx := context.Background()

	err := adapter.InTx(ctx, func(tx outbound.LedgerTxPort) error {
		_, err := tx.InsertTransaction(ctx, newTxn("dev:a", model.TransactionKindPurchase, 10, "p1", strPtr("purchase:p1"), time.Now().UTC()))
		require.NoError(t, err)
		return outbound.ErrVersionConflict
	})
	assert.ErrorIs(t, err, outbound.ErrVersionConflict)

	txn, err := adapter.GetTransactionByDedupeKey(ctx, "purchase:p1")
	require.NoError(t, err)
	assert.Nil(t, txn)
}

func TestLedgerAdapter_ListPendingReservations(t *testing.T) {
	db := setupTestDB(t)
	adapter := NewLedgerAdapter(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	old := now.Add(-time.Hour)

	err := adapter.InTx(ctx, func(tx outbound.LedgerTxPort) error {
		for _, txn := range []*model.CreditTransaction{
			newTxn("dev:a", model.TransactionKindReservation, -1, "open", strPtr("reserve:open"), old),
			newTxn("dev:a", model.TransactionKindReservation, -1, "done", strPtr("reserve:done"), old),
			newTxn("dev:a", model.TransactionKindCommit, 0, "done", strPtr("settle:done"), old),
			newTxn("dev:a", model.TransactionKindReservation, -1, "fresh", strPtr("reserve:fresh"), now),
		} {
			if _, err := tx.InsertTransaction(ctx, txn); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	pending, err := adapter.ListPendingReservations(ctx, now.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "open", pending[0].Reference)
}

func TestLedgerAdapter_ListTransactions(t *testing.T) {
	db := setupTestDB(t)
	adapter := NewLedgerAdapter(db)
	ctx := context.Background()
	now := time.Now().UTC()

	err := adapter.InTx(ctx, func(tx outbound.LedgerTxPort) error {
		for i, kind := range []model.TransactionKind{model.TransactionKindFreeGrant, model.TransactionKindPurchase, model.TransactionKindPurchase} {
			txn := newTxn("dev:a", kind, 1, "", nil, now.Add(time.Duration(i)*time.Second))
			if _, err := tx.InsertTransaction(ctx, txn); err != nil {
				return err
			}
		}
		_, err := tx.InsertTransaction(ctx, newTxn("dev:b", model.TransactionKindPurchase, 1, "", nil, now))
		return err
	})
	require.NoError(t, err)

	txns, total, err := adapter.ListTransactions(ctx, &model.TransactionFilter{IdentityKey: "dev:a", Kind: model.TransactionKindPurchase})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, txns, 2)
	assert.True(t, txns[0].CreatedAt.After(txns[1].CreatedAt))

	_, total, err = adapter.ListTransactions(ctx, &model.TransactionFilter{PaginationRequest: model.PaginationRequest{Page: 1, PageSize: 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
}
