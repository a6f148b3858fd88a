package model

// PaymentEventType represents an event delivered by the payment collaborator.
type PaymentEventType string

const (
	PaymentEventCreditsPurchased PaymentEventType = "credits_purchased"
	PaymentEventCreditsRefunded  PaymentEventType = "credits_refunded"
	PaymentEventIgnored          PaymentEventType = "ignored"
)

// PaymentEvent is a normalized payment notification.
// Reference is the payment-side identifier and makes the event idempotent.
type PaymentEvent struct {
	Type        PaymentEventType `json:"type"`
	IdentityKey string           `json:"identity_key"`
	Amount      int64            `json:"amount"`
	Reference   string           `json:"reference"`
	Source      string           `json:"source"`
}

// GrantRequest is an internal request to award credits outside of a payment.
type GrantRequest struct {
	IdentityKey string          `json:"identity_key" binding:"required,max=160"`
	Amount      int64           `json:"amount" binding:"required,gt=0"`
	Kind        TransactionKind `json:"kind"`
	Reference   string          `json:"reference" binding:"required,max=255"`
}

// GrantResult reports whether a grant changed the balance.
type GrantResult struct {
	Applied bool         `json:"applied"`
	Balance *BalanceView `json:"balance,omitempty"`
}
