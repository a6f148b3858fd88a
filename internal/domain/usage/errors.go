package usage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uniedit/creditgate/internal/model"
)

var (
	// ErrInvalidRequest is returned when the request fails validation.
	ErrInvalidRequest = errors.New("invalid generation request")

	// ErrRateLimited is matched by every RateLimitedError.
	ErrRateLimited = errors.New("rate limited")

	// ErrInsufficientCredit is returned when the balance cannot cover the request.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrProviderTransient is returned when generation failed and may succeed on retry.
	// The reservation has been released.
	ErrProviderTransient = errors.New("generation failed, retry later")

	// ErrProviderPermanent is returned when generation failed for good.
	// The reservation has been released.
	ErrProviderPermanent = errors.New("generation failed")

	// ErrStorageUnavailable is returned when a quota or credit check could not run.
	// The request is denied.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrRequestInProgress is returned when a request with the same id has not settled yet.
	ErrRequestInProgress = errors.New("request already in progress")

	// ErrIdempotencyConflict is returned when a request id is reused for a different request.
	ErrIdempotencyConflict = errors.New("request id reused for a different request")
)

// RateLimitedError is returned when a rate window is exhausted.
type RateLimitedError struct {
	RetryAfter time.Duration
	Decision   *model.RateDecision
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Is matches ErrRateLimited.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// Failure codes stored on released usage requests, formatted "<kind>:<detail>".
const (
	failureKindTransient = "transient"
	failureKindPermanent = "permanent"
	failureKindExpired   = "expired"
)

// FailureCode builds the failure code stored on a usage request.
func FailureCode(kind, detail string) string {
	return kind + ":" + detail
}

// ExpiredFailureCode is stored on requests expired by the reconciler.
var ExpiredFailureCode = FailureCode(failureKindExpired, "grace_period")

// failureError maps a stored failure code back to the error returned to the caller.
func failureError(code string) error {
	if strings.HasPrefix(code, failureKindPermanent+":") {
		return ErrProviderPermanent
	}
	return ErrProviderTransient
}
