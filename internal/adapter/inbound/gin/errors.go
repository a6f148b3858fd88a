package gin

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/uniedit/creditgate/internal/domain/analytics"
	"github.com/uniedit/creditgate/internal/domain/ledger"
	"github.com/uniedit/creditgate/internal/domain/payment"
	"github.com/uniedit/creditgate/internal/domain/usage"
	apperrors "github.com/uniedit/creditgate/internal/shared/errors"
	"go.uber.org/zap"
)

// toAppError maps domain errors to HTTP errors. Storage and provider detail
// never reaches the caller.
func toAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var limited *usage.RateLimitedError
	switch {
	case errors.As(err, &limited):
		appErr = apperrors.RateLimited(limited.RetryAfter)
		if d := limited.Decision; d != nil {
			appErr.WithDetails(map[string]any{
				"retry_after_seconds": int64((limited.RetryAfter + time.Second - 1) / time.Second),
				"remaining_hourly":    d.RemainingHourly,
				"remaining_daily":     d.RemainingDaily,
				"hourly_reset_at":     d.HourlyResetAt,
				"daily_reset_at":      d.DailyResetAt,
			})
		}
		return appErr

	case errors.Is(err, usage.ErrRateLimited):
		return apperrors.RateLimited(0)

	case errors.Is(err, usage.ErrInsufficientCredit), errors.Is(err, ledger.ErrInsufficientCredit):
		return apperrors.InsufficientCredit()

	case errors.Is(err, usage.ErrProviderTransient):
		return apperrors.ProviderTransient()

	case errors.Is(err, usage.ErrProviderPermanent):
		return apperrors.ProviderPermanent()

	case errors.Is(err, usage.ErrStorageUnavailable), errors.Is(err, ledger.ErrStorageUnavailable):
		return apperrors.StorageUnavailable()

	case errors.Is(err, usage.ErrInvalidRequest),
		errors.Is(err, analytics.ErrInvalidQuery),
		errors.Is(err, payment.ErrInvalidGrant),
		errors.Is(err, payment.ErrInvalidEvent):
		return apperrors.BadRequest(err.Error())

	case errors.Is(err, payment.ErrInvalidWebhook):
		return apperrors.BadRequest("invalid webhook")

	case errors.Is(err, payment.ErrProviderNotAvailable):
		return apperrors.NotFound("payment provider")

	case errors.Is(err, usage.ErrRequestInProgress):
		return apperrors.Conflict("REQUEST_IN_PROGRESS", "a request with this id is still being processed")

	case errors.Is(err, usage.ErrIdempotencyConflict):
		return apperrors.Conflict("IDEMPOTENCY_CONFLICT", "request id was already used for a different request")

	case errors.Is(err, analytics.ErrBalanceNotFound):
		return apperrors.NotFound("balance")

	default:
		return apperrors.Internal(err)
	}
}

// handleError writes the HTTP response for err.
func handleError(c *gin.Context, logger *zap.Logger, err error) {
	appErr := toAppError(err)
	if appErr.StatusCode >= 500 {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err),
		)
	}
	_ = c.Error(err)

	if retry := appErr.RetryAfterSeconds(); retry != "" {
		c.Header("Retry-After", retry)
	}
	c.AbortWithStatusJSON(appErr.StatusCode, appErr.ToResponse())
}
