package ledger

import "errors"

// Domain errors for the credit ledger.
var (
	// ErrInsufficientCredit is an expected outcome, not a fault.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrStorageUnavailable wraps persistence failures. Callers should retry with backoff.
	ErrStorageUnavailable = errors.New("ledger storage unavailable")

	// Reservation errors
	ErrDuplicateReservation = errors.New("reservation already exists for reference")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrReservationReleased  = errors.New("reservation already released")
	ErrReservationCommitted = errors.New("reservation already committed")

	// Validation errors
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrInvalidKind      = errors.New("invalid transaction kind")
	ErrInvalidReference = errors.New("reference is required")
	ErrInvalidPoolOrder = errors.New("invalid pool order")
)

// Internal race outcomes. Returning them rolls back the transaction.
var (
	errAlreadySettled = errors.New("reservation settled concurrently")
	errAlreadyApplied = errors.New("reference applied concurrently")
)

// domainErrors pass through the retry loop unchanged; anything else is a storage fault.
var domainErrors = []error{
	ErrInsufficientCredit,
	ErrDuplicateReservation,
	ErrReservationNotFound,
	ErrReservationReleased,
	ErrReservationCommitted,
	ErrInvalidAmount,
	ErrInvalidKind,
	ErrInvalidReference,
	errAlreadySettled,
	errAlreadyApplied,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
