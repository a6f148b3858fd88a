package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/outbound"
	"go.uber.org/zap"
)

// AddCredits adds amount to the pool matching kind. With a reference the call
// is idempotent and reports false when the reference was already applied.
func (l *Ledger) AddCredits(ctx context.Context, identityKey string, amount int64, kind model.TransactionKind, reference string) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	if identityKey == "" {
		return false, fmt.Errorf("%w: identity key", ErrInvalidReference)
	}

	var dedupeKey string
	switch kind {
	case model.TransactionKindPurchase:
		dedupeKey = purchaseKeyPrefix
	case model.TransactionKindBonusGrant, model.TransactionKindFreeGrant:
		dedupeKey = grantKeyPrefix
	default:
		return false, ErrInvalidKind
	}
	if reference == "" {
		dedupeKey = ""
	} else {
		dedupeKey += reference
	}

	applied := false
	err := l.inTx(ctx, "add_credits", func(tx outbound.LedgerTxPort) error {
		applied = false
		if dedupeKey != "" {
			existing, err := tx.GetTransactionByDedupeKey(ctx, dedupeKey)
			if err != nil {
				return err
			}
			if existing != nil {
				return nil
			}
		}

		now := l.clock.Now()
		ld, err := l.loadUnmetered(ctx, tx, identityKey, now)
		if err != nil {
			return err
		}
		b := ld.balance

		txn := newTransaction(identityKey, kind, reference, dedupeKey, now)
		txn.Delta = amount
		switch kind {
		case model.TransactionKindPurchase:
			b.PaidCredits += amount
			txn.PaidDelta = amount
		case model.TransactionKindBonusGrant:
			b.BonusCredits += amount
			txn.BonusDelta = amount
		case model.TransactionKindFreeGrant:
			l.startFreeDay(ld, now)
			b.FreeDailyAllowance += amount
			txn.FreeDelta = amount
		}
		txn.LedgerDay = b.FreeResetDate

		saved, err := l.save(ctx, tx, ld, txn)
		if err != nil {
			return err
		}
		if !saved {
			return errAlreadyApplied
		}
		applied = true
		return nil
	})
	if errors.Is(err, errAlreadyApplied) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if applied {
		l.metrics.RecordGrant(kind.String(), amount)
		l.logger.Info("credits added",
			zap.String("identity", identityKey),
			zap.String("kind", kind.String()),
			zap.Int64("amount", amount),
			zap.String("reference", reference),
		)
	}
	return applied, nil
}

// startFreeDay moves a stale free pool onto today so an extra free grant
// lands in the current day. The tier part is applied by the next metered request.
func (l *Ledger) startFreeDay(ld *loaded, now time.Time) {
	b := ld.balance
	today := l.calendar.Day(now)
	if b.FreeResetDate == today {
		return
	}

	before := b.FreeRemaining()
	b.FreeDailyAllowance = 0
	b.FreeUsedToday = 0
	b.FreeResetDate = today
	b.FreeTier = ""
	if before != 0 {
		ld.pending = append(ld.pending, l.freeGrant(b, -before, "daily_reset", now))
	}
}

// RefundCredits takes up to amount back out of the paid pool after a payment refund.
// The paid pool never goes negative; credits already spent stay spent.
func (l *Ledger) RefundCredits(ctx context.Context, identityKey string, amount int64, reference string) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	if reference == "" {
		return false, ErrInvalidReference
	}
	dedupeKey := refundKeyPrefix + reference

	applied := false
	var deducted int64
	err := l.inTx(ctx, "refund_credits", func(tx outbound.LedgerTxPort) error {
		applied, deducted = false, 0
		existing, err := tx.GetTransactionByDedupeKey(ctx, dedupeKey)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}

		now := l.clock.Now()
		ld, err := l.loadUnmetered(ctx, tx, identityKey, now)
		if err != nil {
			return err
		}
		b := ld.balance

		deducted = min(amount, b.PaidCredits)
		b.PaidCredits -= deducted

		txn := newTransaction(identityKey, model.TransactionKindRefund, reference, dedupeKey, now)
		txn.Delta = -deducted
		txn.PaidDelta = -deducted
		txn.LedgerDay = b.FreeResetDate

		saved, err := l.save(ctx, tx, ld, txn)
		if err != nil {
			return err
		}
		if !saved {
			return errAlreadyApplied
		}
		applied = true
		return nil
	})
	if errors.Is(err, errAlreadyApplied) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if applied {
		l.logger.Info("credits refunded",
			zap.String("identity", identityKey),
			zap.Int64("requested", amount),
			zap.Int64("deducted", deducted),
			zap.String("reference", reference),
		)
	}
	return applied, nil
}

// Balance returns the balance as the identity's next request would see it.
// A pending daily reset is persisted; an unknown identity is not created.
func (l *Ledger) Balance(ctx context.Context, identity model.Identity) (*model.BalanceView, error) {
	stored, err := l.db.GetBalance(ctx, identity.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: balance: %v", ErrStorageUnavailable, err)
	}
	if stored == nil {
		now := l.clock.Now()
		fresh := &model.CreditBalance{
			IdentityKey:        identity.Key,
			FreeDailyAllowance: l.config.allowance(identity.Tier),
			FreeResetDate:      l.calendar.Day(now),
			FreeTier:           identity.Tier,
		}
		return fresh.ToView(), nil
	}

	var view *model.BalanceView
	err = l.inTx(ctx, "balance", func(tx outbound.LedgerTxPort) error {
		ld, err := l.load(ctx, tx, identity, l.clock.Now())
		if err != nil {
			return err
		}
		if ld.dirty {
			if _, err := l.save(ctx, tx, ld, nil); err != nil {
				return err
			}
		}
		view = ld.balance.ToView()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Reconcile sums every transaction delta of the identity and compares it with the stored balance.
func (l *Ledger) Reconcile(ctx context.Context, identityKey string) (*model.ReconciliationReport, error) {
	count, sum, err := l.db.SumDeltas(ctx, identityKey)
	if err != nil {
		return nil, fmt.Errorf("%w: sum deltas: %v", ErrStorageUnavailable, err)
	}
	b, err := l.db.GetBalance(ctx, identityKey)
	if err != nil {
		return nil, fmt.Errorf("%w: balance: %v", ErrStorageUnavailable, err)
	}

	var total int64
	if b != nil {
		total = b.Total()
	}

	report := &model.ReconciliationReport{
		IdentityKey:      identityKey,
		TransactionCount: count,
		LedgerTotal:      sum,
		BalanceTotal:     total,
		Consistent:       sum == total,
	}
	if !report.Consistent {
		l.logger.Error("ledger out of balance",
			zap.String("identity", identityKey),
			zap.Int64("ledger_total", sum),
			zap.Int64("balance_total", total),
		)
	}
	return report, nil
}

// ReservationStatus reports whether reference was reserved and how it settled.
func (l *Ledger) ReservationStatus(ctx context.Context, reference string) (*model.ReservationStatus, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, ErrInvalidReference
	}

	res, err := l.db.GetTransactionByDedupeKey(ctx, reserveKeyPrefix+reference)
	if err != nil {
		return nil, fmt.Errorf("%w: reservation status: %v", ErrStorageUnavailable, err)
	}
	if res == nil {
		return &model.ReservationStatus{State: model.ReservationStateNone}, nil
	}

	status := &model.ReservationStatus{
		State:       model.ReservationStatePending,
		IdentityKey: res.IdentityKey,
		Amount:      -res.Delta,
	}
	settled, err := l.db.GetTransactionByDedupeKey(ctx, settleKeyPrefix+reference)
	if err != nil {
		return nil, fmt.Errorf("%w: reservation status: %v", ErrStorageUnavailable, err)
	}
	if settled != nil {
		switch settled.Kind {
		case model.TransactionKindCommit:
			status.State = model.ReservationStateCommitted
		case model.TransactionKindRelease:
			status.State = model.ReservationStateReleased
		}
	}
	return status, nil
}

// PendingReservations lists reservations created before the cutoff that were never settled.
func (l *Ledger) PendingReservations(ctx context.Context, before time.Time, limit int) ([]*model.Reservation, error) {
	txns, err := l.db.ListPendingReservations(ctx, before, limit)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: pending reservations: %v", ErrStorageUnavailable, err)
	}

	out := make([]*model.Reservation, 0, len(txns))
	for _, txn := range txns {
		out = append(out, &model.Reservation{
			Reference:   txn.Reference,
			IdentityKey: txn.IdentityKey,
			Amount:      -txn.Delta,
			Draw: model.Draw{
				Free:  -txn.FreeDelta,
				Bonus: -txn.BonusDelta,
				Paid:  -txn.PaidDelta,
			},
			BalanceAfter: txn.BalanceAfter,
			CreatedAt:    txn.CreatedAt,
		})
	}
	return out, nil
}
