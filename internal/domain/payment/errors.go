package payment

import "errors"

var (
	// ErrProviderNotAvailable is returned when no webhook parser is registered for a provider.
	ErrProviderNotAvailable = errors.New("provider not available")

	// ErrInvalidWebhook is returned when a webhook fails signature verification or parsing.
	ErrInvalidWebhook = errors.New("invalid webhook")

	// ErrInvalidEvent is returned when a payment event is missing its identity, amount or reference.
	ErrInvalidEvent = errors.New("invalid payment event")

	// ErrInvalidGrant is returned when a grant request is malformed.
	ErrInvalidGrant = errors.New("invalid grant")
)
