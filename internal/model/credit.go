package model

import (
	"time"

	"github.com/google/uuid"
)

// Pool identifies one of the credit pools a balance is split into.
type Pool string

const (
	PoolFree  Pool = "free"
	PoolBonus Pool = "bonus"
	PoolPaid  Pool = "paid"
)

// String returns the string representation of the pool.
func (p Pool) String() string {
	return string(p)
}

// IsValid checks if the pool is valid.
func (p Pool) IsValid() bool {
	switch p {
	case PoolFree, PoolBonus, PoolPaid:
		return true
	}
	return false
}

// TransactionKind is the closed set of ledger transaction kinds.
type TransactionKind string

const (
	TransactionKindFreeGrant   TransactionKind = "free_grant"
	TransactionKindBonusGrant  TransactionKind = "bonus_grant"
	TransactionKindPurchase    TransactionKind = "purchase"
	TransactionKindReservation TransactionKind = "reservation"
	TransactionKindCommit      TransactionKind = "commit"
	TransactionKindRelease     TransactionKind = "release"
	TransactionKindRefund      TransactionKind = "refund"
)

// String returns the string representation of the kind.
func (k TransactionKind) String() string {
	return string(k)
}

// IsValid checks if the kind is valid.
func (k TransactionKind) IsValid() bool {
	switch k {
	case TransactionKindFreeGrant, TransactionKindBonusGrant, TransactionKindPurchase,
		TransactionKindReservation, TransactionKindCommit, TransactionKindRelease, TransactionKindRefund:
		return true
	}
	return false
}

// IsSettlement returns true for the kinds that close a reservation.
func (k TransactionKind) IsSettlement() bool {
	return k == TransactionKindCommit || k == TransactionKindRelease
}

// CreditBalance is the per-identity credit state. One row per identity, never deleted.
type CreditBalance struct {
	IdentityKey        string    `json:"identity_key" gorm:"primaryKey;size:160"`
	FreeUsedToday      int64     `json:"free_used_today" gorm:"not null;default:0;check:chk_free_used,free_used_today >= 0"`
	FreeDailyAllowance int64     `json:"free_daily_allowance" gorm:"not null;default:0;check:chk_free_allowance,free_daily_allowance >= 0"`
	FreeResetDate      string    `json:"free_reset_date" gorm:"not null;size:10"`
	FreeTier           Tier      `json:"free_tier" gorm:"not null;default:'';size:32"`
	BonusCredits       int64     `json:"bonus_credits" gorm:"not null;default:0;check:chk_bonus_credits,bonus_credits >= 0"`
	PaidCredits        int64     `json:"paid_credits" gorm:"not null;default:0;check:chk_paid_credits,paid_credits >= 0"`
	Version            int64     `json:"version" gorm:"not null;default:0"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName returns the table name.
func (CreditBalance) TableName() string {
	return "credit_balances"
}

// FreeRemaining returns the unused part of today's free allowance.
func (b *CreditBalance) FreeRemaining() int64 {
	if r := b.FreeDailyAllowance - b.FreeUsedToday; r > 0 {
		return r
	}
	return 0
}

// Available returns the amount held in the given pool.
func (b *CreditBalance) Available(p Pool) int64 {
	switch p {
	case PoolFree:
		return b.FreeRemaining()
	case PoolBonus:
		return b.BonusCredits
	case PoolPaid:
		return b.PaidCredits
	}
	return 0
}

// Total returns the sum of all pools.
func (b *CreditBalance) Total() int64 {
	return b.FreeRemaining() + b.BonusCredits + b.PaidCredits
}

// CreditTransaction is an immutable ledger entry.
type CreditTransaction struct {
	ID           uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	IdentityKey  string          `json:"identity_key" gorm:"not null;size:160;index:idx_credit_tx_identity,priority:1"`
	Kind         TransactionKind `json:"kind" gorm:"not null;size:32"`
	Delta        int64           `json:"delta" gorm:"not null"`
	BalanceAfter int64           `json:"balance_after" gorm:"not null"`
	Reference    string          `json:"reference" gorm:"size:255;index"`
	DedupeKey    *string         `json:"-" gorm:"size:300;uniqueIndex"`
	FreeDelta    int64           `json:"free_delta" gorm:"not null;default:0"`
	BonusDelta   int64           `json:"bonus_delta" gorm:"not null;default:0"`
	PaidDelta    int64           `json:"paid_delta" gorm:"not null;default:0"`
	LedgerDay    string          `json:"ledger_day" gorm:"size:10"`
	CreatedAt    time.Time       `json:"created_at" gorm:"not null;index:idx_credit_tx_identity,priority:2"`
}

// TableName returns the table name.
func (CreditTransaction) TableName() string {
	return "credit_transactions"
}

// Draw is the per-pool split of an amount taken from or returned to a balance.
type Draw struct {
	Free  int64 `json:"free"`
	Bonus int64 `json:"bonus"`
	Paid  int64 `json:"paid"`
}

// Total returns the sum of the draw.
func (d Draw) Total() int64 {
	return d.Free + d.Bonus + d.Paid
}

// Reservation is a hold on credits made on behalf of a usage request.
type Reservation struct {
	Reference    string    `json:"reference"`
	IdentityKey  string    `json:"identity_key"`
	Amount       int64     `json:"amount"`
	Draw         Draw      `json:"draw"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// ReservationState is how far a reservation has progressed.
type ReservationState string

const (
	ReservationStateNone      ReservationState = "none"
	ReservationStatePending   ReservationState = "pending"
	ReservationStateCommitted ReservationState = "committed"
	ReservationStateReleased  ReservationState = "released"
)

// ReservationStatus is the ledger's view of one reference.
type ReservationStatus struct {
	State       ReservationState `json:"state"`
	IdentityKey string           `json:"identity_key,omitempty"`
	Amount      int64            `json:"amount"`
}

// BalanceView is the caller-facing snapshot of a balance.
type BalanceView struct {
	IdentityKey        string `json:"identity_key"`
	FreeRemaining      int64  `json:"free_remaining"`
	FreeDailyAllowance int64  `json:"free_daily_allowance"`
	FreeResetDate      string `json:"free_reset_date"`
	BonusCredits       int64  `json:"bonus_credits"`
	PaidCredits        int64  `json:"paid_credits"`
	Total              int64  `json:"total"`
}

// ToView converts the balance to its caller-facing view.
func (b *CreditBalance) ToView() *BalanceView {
	return &BalanceView{
		IdentityKey:        b.IdentityKey,
		FreeRemaining:      b.FreeRemaining(),
		FreeDailyAllowance: b.FreeDailyAllowance,
		FreeResetDate:      b.FreeResetDate,
		BonusCredits:       b.BonusCredits,
		PaidCredits:        b.PaidCredits,
		Total:              b.Total(),
	}
}

// ReconciliationReport compares the replayed ledger with the stored balance.
type ReconciliationReport struct {
	IdentityKey      string `json:"identity_key"`
	TransactionCount int64  `json:"transaction_count"`
	LedgerTotal      int64  `json:"ledger_total"`
	BalanceTotal     int64  `json:"balance_total"`
	Consistent       bool   `json:"consistent"`
}
