package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/outbound"
)

// epochDay marks a balance that has never been through a daily reset.
const epochDay = "1970-01-01"

// loaded is a balance read inside a transaction, with the reset already applied in memory.
type loaded struct {
	balance *model.CreditBalance
	// version is the stored version the final write must match.
	version int64
	// pending holds transactions produced by the reset that must be written with the mutation.
	pending []*model.CreditTransaction
	// dirty is true when the in-memory balance differs from the stored row.
	dirty bool
}

// load reads the balance for a metered identity, creating it on first contact
// and applying the lazy daily reset and tier adjustment.
func (l *Ledger) load(ctx context.Context, tx outbound.LedgerTxPort, identity model.Identity, now time.Time) (*loaded, error) {
	today := l.calendar.Day(now)

	b, err := tx.GetBalance(ctx, identity.Key)
	if err != nil {
		return nil, err
	}

	if b == nil {
		b = &model.CreditBalance{
			IdentityKey:        identity.Key,
			FreeDailyAllowance: l.config.allowance(identity.Tier),
			FreeResetDate:      today,
			FreeTier:           identity.Tier,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		created, err := tx.CreateBalance(ctx, b)
		if err != nil {
			return nil, err
		}
		if !created {
			// Another request created the row first; start over on the stored row
			return nil, outbound.ErrVersionConflict
		}
		out := &loaded{balance: b, version: b.Version}
		if grant := b.FreeRemaining(); grant != 0 {
			out.pending = append(out.pending, l.freeGrant(b, grant, "daily_reset", now))
		}
		return out, nil
	}

	out := &loaded{balance: b, version: b.Version}
	before := b.FreeRemaining()

	switch {
	case b.FreeResetDate != today:
		b.FreeDailyAllowance = l.config.allowance(identity.Tier)
		b.FreeUsedToday = 0
		b.FreeResetDate = today
		b.FreeTier = identity.Tier
		out.dirty = true
		if delta := b.FreeRemaining() - before; delta != 0 {
			out.pending = append(out.pending, l.freeGrant(b, delta, "daily_reset", now))
		}

	case b.FreeTier != identity.Tier:
		// Same day, different tier: swap the tier part of the allowance and keep extra grants
		allowance := b.FreeDailyAllowance - l.config.allowance(b.FreeTier) + l.config.allowance(identity.Tier)
		if allowance < b.FreeUsedToday {
			allowance = b.FreeUsedToday
		}
		b.FreeDailyAllowance = allowance
		b.FreeTier = identity.Tier
		out.dirty = true
		if delta := b.FreeRemaining() - before; delta != 0 {
			out.pending = append(out.pending, l.freeGrant(b, delta, "tier_change", now))
		}
	}

	return out, nil
}

// loadUnmetered reads the balance for credit top-ups, creating an empty row if needed.
// The free pool is left alone; the first metered request applies the tier allowance.
func (l *Ledger) loadUnmetered(ctx context.Context, tx outbound.LedgerTxPort, identityKey string, now time.Time) (*loaded, error) {
	b, err := tx.GetBalance(ctx, identityKey)
	if err != nil {
		return nil, err
	}
	if b != nil {
		return &loaded{balance: b, version: b.Version}, nil
	}

	b = &model.CreditBalance{
		IdentityKey:   identityKey,
		FreeResetDate: epochDay,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	created, err := tx.CreateBalance(ctx, b)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, outbound.ErrVersionConflict
	}
	return &loaded{balance: b, version: b.Version}, nil
}

// save writes the reset transactions, then txn if given, then swaps the balance in.
func (l *Ledger) save(ctx context.Context, tx outbound.LedgerTxPort, ld *loaded, txn *model.CreditTransaction) (bool, error) {
	if txn != nil && !txn.Kind.IsValid() {
		return false, ErrInvalidKind
	}
	for _, p := range ld.pending {
		if _, err := tx.InsertTransaction(ctx, p); err != nil {
			return false, err
		}
	}
	if txn != nil {
		txn.BalanceAfter = ld.balance.Total()
		inserted, err := tx.InsertTransaction(ctx, txn)
		if err != nil {
			return false, err
		}
		if !inserted {
			return false, nil
		}
	}
	if err := tx.CompareAndSwapBalance(ctx, ld.balance, ld.version); err != nil {
		return false, err
	}
	return true, nil
}

// freeGrant records a change of the free pool that no caller asked for.
func (l *Ledger) freeGrant(b *model.CreditBalance, delta int64, reason string, now time.Time) *model.CreditTransaction {
	return &model.CreditTransaction{
		ID:           uuid.New(),
		IdentityKey:  b.IdentityKey,
		Kind:         model.TransactionKindFreeGrant,
		Delta:        delta,
		BalanceAfter: b.Total(),
		Reference:    reason + ":" + b.FreeResetDate,
		FreeDelta:    delta,
		LedgerDay:    b.FreeResetDate,
		CreatedAt:    now,
	}
}

func newTransaction(identityKey string, kind model.TransactionKind, reference, dedupeKey string, now time.Time) *model.CreditTransaction {
	txn := &model.CreditTransaction{
		ID:          uuid.New(),
		IdentityKey: identityKey,
		Kind:        kind,
		Reference:   reference,
		CreatedAt:   now,
	}
	if dedupeKey != "" {
		txn.DedupeKey = &dedupeKey
	}
	return txn
}
