package outbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/uniedit/creditgate/internal/model"
)

// GenerationProviderPort defines the image generation backend.
type GenerationProviderPort interface {
	// Generate produces count images for the prompt.
	Generate(ctx context.Context, prompt string, count int) ([]model.GeneratedImage, error)
}

// ProviderErrorKind classifies provider failures.
type ProviderErrorKind string

const (
	ProviderErrorTransient ProviderErrorKind = "transient"
	ProviderErrorPermanent ProviderErrorKind = "permanent"
)

// ProviderError is returned by generation providers.
type ProviderError struct {
	Kind       ProviderErrorKind
	Code       string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s error (%s): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("provider %s error (%s)", e.Kind, e.Code)
}

// Unwrap returns the wrapped error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewTransientProviderError wraps err as a retryable provider failure.
func NewTransientProviderError(code string, err error) *ProviderError {
	return &ProviderError{Kind: ProviderErrorTransient, Code: code, Err: err}
}

// NewPermanentProviderError wraps err as a non-retryable provider failure.
func NewPermanentProviderError(code string, err error) *ProviderError {
	return &ProviderError{Kind: ProviderErrorPermanent, Code: code, Err: err}
}

// IsPermanentProviderError reports whether err is a non-retryable provider failure.
// Anything not explicitly permanent is treated as transient.
func IsPermanentProviderError(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == ProviderErrorPermanent
	}
	return false
}

// ProviderErrorCode returns the provider error code, or fallback if err carries none.
func ProviderErrorCode(err error, fallback string) string {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Code != "" {
		return pe.Code
	}
	return fallback
}
