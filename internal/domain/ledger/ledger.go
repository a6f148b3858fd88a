package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/inbound"
	"github.com/uniedit/creditgate/internal/port/outbound"
	"github.com/uniedit/creditgate/internal/shared/clock"
	"github.com/uniedit/creditgate/internal/utils/metrics"
	"go.uber.org/zap"
)

// Dedupe key prefixes. Commit and release share the settle prefix so a
// reservation can only ever be settled one way.
const (
	reserveKeyPrefix  = "reserve:"
	settleKeyPrefix   = "settle:"
	purchaseKeyPrefix = "purchase:"
	grantKeyPrefix    = "grant:"
	refundKeyPrefix   = "refund:"
)

// Ledger implements the credit ledger on top of optimistic row versions.
// Every mutation reads the balance, computes the new state and writes it back
// with a compare-and-swap on the version, together with its transaction rows,
// in one database transaction.
type Ledger struct {
	db       outbound.LedgerDatabasePort
	calendar *clock.Calendar
	clock    clock.Clock
	config   *Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// Compile-time interface check
var _ inbound.CreditLedger = (*Ledger)(nil)

// NewLedger creates a new credit ledger.
func NewLedger(
	db outbound.LedgerDatabasePort,
	calendar *clock.Calendar,
	clk clock.Clock,
	cfg *Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Ledger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Ledger{
		db:       db,
		calendar: calendar,
		clock:    clk,
		config:   cfg,
		metrics:  m,
		logger:   logger.Named("ledger"),
	}
}

// inTx runs fn in a transaction, retrying on version conflicts.
// Non-domain failures come back wrapped in ErrStorageUnavailable.
func (l *Ledger) inTx(ctx context.Context, op string, fn func(tx outbound.LedgerTxPort) error) error {
	for attempt := 1; attempt <= l.config.MaxVersionRetries; attempt++ {
		err := l.db.InTx(ctx, fn)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, outbound.ErrVersionConflict):
			l.metrics.RecordConflict("balance_version")
			l.logger.Debug("balance version conflict, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
			)
			continue
		case isDomainError(err):
			return err
		default:
			return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
		}
	}
	return fmt.Errorf("%w: %s: too many version conflicts", ErrStorageUnavailable, op)
}

// Reserve draws amount from the identity's pools in the configured order.
func (l *Ledger) Reserve(ctx context.Context, identity model.Identity, amount int64, reference string) (*model.Reservation, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(reference) == "" {
		return nil, ErrInvalidReference
	}

	var reservation *model.Reservation
	err := l.inTx(ctx, "reserve", func(tx outbound.LedgerTxPort) error {
		existing, err := tx.GetTransactionByDedupeKey(ctx, reserveKeyPrefix+reference)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrDuplicateReservation
		}

		now := l.clock.Now()
		ld, err := l.load(ctx, tx, identity, now)
		if err != nil {
			return err
		}
		b := ld.balance
		if b.Total() < amount {
			return ErrInsufficientCredit
		}

		draw := l.draw(b, amount)
		txn := newTransaction(identity.Key, model.TransactionKindReservation, reference, reserveKeyPrefix+reference, now)
		txn.Delta = -amount
		txn.FreeDelta = -draw.Free
		txn.BonusDelta = -draw.Bonus
		txn.PaidDelta = -draw.Paid
		txn.LedgerDay = b.FreeResetDate

		saved, err := l.save(ctx, tx, ld, txn)
		if err != nil {
			return err
		}
		if !saved {
			return ErrDuplicateReservation
		}

		reservation = &model.Reservation{
			Reference:    reference,
			IdentityKey:  identity.Key,
			Amount:       amount,
			Draw:         draw,
			BalanceAfter: txn.BalanceAfter,
			CreatedAt:    now,
		}
		return nil
	})

	switch {
	case err == nil:
		l.metrics.RecordReservation("reserved")
		l.logger.Debug("credits reserved",
			zap.String("identity", identity.Key),
			zap.String("reference", reference),
			zap.Int64("amount", amount),
			zap.Int64("free", reservation.Draw.Free),
			zap.Int64("bonus", reservation.Draw.Bonus),
			zap.Int64("paid", reservation.Draw.Paid),
		)
		return reservation, nil
	case errors.Is(err, ErrInsufficientCredit):
		l.metrics.RecordReservation("insufficient")
	case errors.Is(err, ErrDuplicateReservation):
		l.metrics.RecordReservation("duplicate")
	default:
		l.metrics.RecordReservation("error")
	}
	return nil, err
}

// draw takes amount out of b in pool order. The caller has checked b.Total() >= amount.
func (l *Ledger) draw(b *model.CreditBalance, amount int64) model.Draw {
	var d model.Draw
	left := amount
	for _, pool := range l.config.PoolOrder {
		if left == 0 {
			break
		}
		take := min(left, b.Available(pool))
		switch pool {
		case model.PoolFree:
			b.FreeUsedToday += take
			d.Free += take
		case model.PoolBonus:
			b.BonusCredits -= take
			d.Bonus += take
		case model.PoolPaid:
			b.PaidCredits -= take
			d.Paid += take
		}
		left -= take
	}
	return d
}

// Commit makes a reservation permanent. Committing twice is a no-op.
func (l *Ledger) Commit(ctx context.Context, reference string) error {
	err := l.inTx(ctx, "commit", func(tx outbound.LedgerTxPort) error {
		res, err := l.settleable(ctx, tx, reference)
		if err != nil {
			return err
		}

		b, err := tx.GetBalance(ctx, res.IdentityKey)
		if err != nil {
			return err
		}

		now := l.clock.Now()
		txn := newTransaction(res.IdentityKey, model.TransactionKindCommit, reference, settleKeyPrefix+reference, now)
		txn.LedgerDay = res.LedgerDay
		if b != nil {
			txn.BalanceAfter = b.Total()
		}
		inserted, err := tx.InsertTransaction(ctx, txn)
		if err != nil {
			return err
		}
		if !inserted {
			return errAlreadySettled
		}
		return nil
	})
	return l.resolveSettle(ctx, reference, model.TransactionKindCommit, err)
}

// Release refunds a reservation to the pools it was drawn from, in reverse order.
// The free part is only refunded within the ledger day it was drawn on; after the
// daily reset that allowance no longer exists.
func (l *Ledger) Release(ctx context.Context, reference string) error {
	var forfeited int64
	err := l.inTx(ctx, "release", func(tx outbound.LedgerTxPort) error {
		forfeited = 0
		res, err := l.settleable(ctx, tx, reference)
		if err != nil {
			return err
		}

		b, err := tx.GetBalance(ctx, res.IdentityKey)
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("balance missing for reservation %s", reference)
		}
		ld := &loaded{balance: b, version: b.Version}

		now := l.clock.Now()
		txn := newTransaction(res.IdentityKey, model.TransactionKindRelease, reference, settleKeyPrefix+reference, now)
		txn.LedgerDay = res.LedgerDay

		for i := len(l.config.PoolOrder) - 1; i >= 0; i-- {
			switch l.config.PoolOrder[i] {
			case model.PoolPaid:
				b.PaidCredits += -res.PaidDelta
				txn.PaidDelta = -res.PaidDelta
			case model.PoolBonus:
				b.BonusCredits += -res.BonusDelta
				txn.BonusDelta = -res.BonusDelta
			case model.PoolFree:
				if res.LedgerDay != b.FreeResetDate {
					forfeited = -res.FreeDelta
					continue
				}
				b.FreeUsedToday = max(b.FreeUsedToday+res.FreeDelta, 0)
				txn.FreeDelta = -res.FreeDelta
			}
		}
		txn.Delta = txn.FreeDelta + txn.BonusDelta + txn.PaidDelta

		saved, err := l.save(ctx, tx, ld, txn)
		if err != nil {
			return err
		}
		if !saved {
			return errAlreadySettled
		}
		return nil
	})

	if err == nil && forfeited > 0 {
		l.logger.Info("free credits not refunded after daily reset",
			zap.String("reference", reference),
			zap.Int64("forfeited", forfeited),
		)
	}
	return l.resolveSettle(ctx, reference, model.TransactionKindRelease, err)
}

// settleable returns the reservation for reference if it has not been settled yet.
func (l *Ledger) settleable(ctx context.Context, tx outbound.LedgerTxPort, reference string) (*model.CreditTransaction, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, ErrInvalidReference
	}

	settled, err := tx.GetTransactionByDedupeKey(ctx, settleKeyPrefix+reference)
	if err != nil {
		return nil, err
	}
	if settled != nil {
		return nil, errAlreadySettled
	}

	res, err := tx.GetTransactionByDedupeKey(ctx, reserveKeyPrefix+reference)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrReservationNotFound
	}
	return res, nil
}

// resolveSettle maps an already-settled reservation to success or a conflict error.
func (l *Ledger) resolveSettle(ctx context.Context, reference string, want model.TransactionKind, err error) error {
	if !errors.Is(err, errAlreadySettled) {
		return err
	}

	settled, lookupErr := l.db.GetTransactionByDedupeKey(ctx, settleKeyPrefix+reference)
	if lookupErr != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, lookupErr)
	}
	if settled == nil {
		return fmt.Errorf("%w: settlement for %s vanished", ErrStorageUnavailable, reference)
	}
	if settled.Kind == want {
		return nil
	}

	l.metrics.RecordConflict("settle_" + want.String())
	l.logger.Warn("settlement conflict",
		zap.String("reference", reference),
		zap.String("wanted", want.String()),
		zap.String("existing", settled.Kind.String()),
	)
	if settled.Kind == model.TransactionKindRelease {
		return ErrReservationReleased
	}
	return ErrReservationCommitted
}
