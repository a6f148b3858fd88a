package gin

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/inbound"
	apperrors "github.com/uniedit/creditgate/internal/shared/errors"
	"go.uber.org/zap"
)

// maxWebhookBytes matches Stripe's recommended payload limit.
const maxWebhookBytes = 65536

// paymentHandler implements inbound.PaymentHttpPort.
type paymentHandler struct {
	payments inbound.PaymentDomain
	logger   *zap.Logger
}

// NewPaymentHandler creates a new payment HTTP handler.
func NewPaymentHandler(payments inbound.PaymentDomain, logger *zap.Logger) inbound.PaymentHttpPort {
	return &paymentHandler{
		payments: payments,
		logger:   logger.Named("http.payment"),
	}
}

// HandleStripeWebhook applies a Stripe event to the ledger.
//
//	@Summary	Stripe webhook
//	@Tags		Payment
//	@Accept		json
//	@Produce	json
//	@Param		Stripe-Signature	header		string	true	"Stripe signature"
//	@Success	200					{object}	map[string]string
//	@Failure	400					{object}	apperrors.ErrorResponse
//	@Router		/api/v1/webhooks/stripe [post]
func (h *paymentHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		handleError(c, h.logger, apperrors.BadRequest("failed to read body"))
		return
	}

	event, err := h.payments.HandleWebhook(c.Request.Context(), "stripe", payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "type": event.Type})
}

// HandleAlipayNotify applies an Alipay async notification to the ledger.
// Alipay retries until the body is exactly "success".
//
//	@Summary	Alipay notification
//	@Tags		Payment
//	@Accept		x-www-form-urlencoded
//	@Produce	plain
//	@Success	200	{string}	string	"success"
//	@Failure	400	{string}	string	"fail"
//	@Router		/api/v1/webhooks/alipay [post]
func (h *paymentHandler) HandleAlipayNotify(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.String(http.StatusBadRequest, "fail")
		return
	}

	if _, err := h.payments.HandleWebhook(c.Request.Context(), "alipay", payload, ""); err != nil {
		appErr := toAppError(err)
		if appErr.StatusCode >= http.StatusInternalServerError {
			h.logger.Error("alipay notification failed", zap.Error(err))
		}
		c.String(appErr.StatusCode, "fail")
		return
	}
	c.String(http.StatusOK, "success")
}

// Grant awards bonus or free credits.
//
//	@Summary	Grant credits
//	@Tags		Internal
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		request	body		model.GrantRequest	true	"Grant"
//	@Success	200		{object}	model.GrantResult
//	@Failure	400		{object}	apperrors.ErrorResponse
//	@Router		/internal/v1/credits/grants [post]
func (h *paymentHandler) Grant(c *gin.Context) {
	var req model.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, h.logger, apperrors.BadRequest(err.Error()))
		return
	}

	result, err := h.payments.Grant(c.Request.Context(), &req)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Compile-time check
var _ inbound.PaymentHttpPort = (*paymentHandler)(nil)
