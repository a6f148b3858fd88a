package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Common error types.
var (
	ErrBadRequest         = errors.New("bad request")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("resource not found")
	ErrConflict           = errors.New("resource conflict")
	ErrRateLimited        = errors.New("rate limited")
	ErrPaymentRequired    = errors.New("payment required")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrUnprocessable      = errors.New("unprocessable")
)

// AppError represents an application error with HTTP status and error code.
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	StatusCode int            `json:"-"`
	RetryAfter time.Duration  `json:"-"`
	Err        error          `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails attaches response details.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// RetryAfterSeconds returns the Retry-After header value, rounded up to whole seconds.
func (e *AppError) RetryAfterSeconds() string {
	if e.RetryAfter <= 0 {
		return ""
	}
	secs := int64((e.RetryAfter + time.Second - 1) / time.Second)
	return strconv.FormatInt(secs, 10)
}

// ErrorResponse represents the JSON error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ToResponse converts an AppError to ErrorResponse.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:    e.Code,
			Message: e.Message,
			Details: e.Details,
		},
	}
}

// NewAppError creates a new application error.
func NewAppError(code string, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// BadRequest creates a bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       "INVALID_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        ErrBadRequest,
	}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return &AppError{
		Code:       "UNAUTHORIZED",
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Err:        ErrUnauthorized,
	}
}

// NotFound creates a not found error.
func NotFound(resource string) *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// Conflict creates a conflict error.
func Conflict(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
		Err:        ErrConflict,
	}
}

// RateLimited creates a rate limited error carrying the retry delay.
func RateLimited(retryAfter time.Duration) *AppError {
	return &AppError{
		Code:       "RATE_LIMITED",
		Message:    "too many requests",
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
		Err:        ErrRateLimited,
	}
}

// InsufficientCredit creates a payment required error.
func InsufficientCredit() *AppError {
	return &AppError{
		Code:       "INSUFFICIENT_CREDIT",
		Message:    "not enough credits for this request",
		StatusCode: http.StatusPaymentRequired,
		Err:        ErrPaymentRequired,
	}
}

// ProviderTransient creates a retryable upstream failure.
func ProviderTransient() *AppError {
	return &AppError{
		Code:       "PROVIDER_UNAVAILABLE",
		Message:    "image generation is temporarily unavailable, please retry",
		StatusCode: http.StatusServiceUnavailable,
		Err:        ErrServiceUnavailable,
	}
}

// ProviderPermanent creates a non-retryable upstream failure with a generic message.
func ProviderPermanent() *AppError {
	return &AppError{
		Code:       "GENERATION_FAILED",
		Message:    "the request could not be processed",
		StatusCode: http.StatusUnprocessableEntity,
		Err:        ErrUnprocessable,
	}
}

// StorageUnavailable creates a fail-closed storage error.
func StorageUnavailable() *AppError {
	return &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    "service temporarily unavailable",
		StatusCode: http.StatusServiceUnavailable,
		Err:        ErrServiceUnavailable,
	}
}

// Internal creates an internal error.
func Internal(err error) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
