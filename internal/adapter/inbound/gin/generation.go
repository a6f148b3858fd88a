package gin

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/inbound"
	apperrors "github.com/uniedit/creditgate/internal/shared/errors"
	"go.uber.org/zap"
)

// IdempotencyKeyHeader may carry the request id instead of the body.
const IdempotencyKeyHeader = "Idempotency-Key"

// GenerateRequest is the body of a generation request.
type GenerateRequest struct {
	RequestID string `json:"request_id"`
	Prompt    string `json:"prompt" binding:"required"`
	N         int    `json:"n"`
}

// BalanceResponse is the caller's credit balance.
type BalanceResponse struct {
	Tier model.Tier `json:"tier"`
	*model.BalanceView
}

// RateStatusResponse is the caller's remaining rate quota.
type RateStatusResponse struct {
	Tier              model.Tier `json:"tier"`
	RetryAfterSeconds int64      `json:"retry_after_seconds"`
	*model.RateDecision
}

// generationHandler implements inbound.GenerationHttpPort.
type generationHandler struct {
	orchestrator inbound.UsageOrchestrator
	resolver     inbound.IdentityResolver
	ledger       inbound.CreditLedger
	limiter      inbound.RateLimiter
	session      SessionConfig
	logger       *zap.Logger
}

// NewGenerationHandler creates a new generation HTTP handler.
func NewGenerationHandler(
	orchestrator inbound.UsageOrchestrator,
	resolver inbound.IdentityResolver,
	creditLedger inbound.CreditLedger,
	limiter inbound.RateLimiter,
	session SessionConfig,
	logger *zap.Logger,
) inbound.GenerationHttpPort {
	return &generationHandler{
		orchestrator: orchestrator,
		resolver:     resolver,
		ledger:       creditLedger,
		limiter:      limiter,
		session:      session,
		logger:       logger.Named("http.generation"),
	}
}

// Generate runs one metered image generation.
//
//	@Summary		Generate images
//	@Description	Charges credits and the hourly/daily quota, then calls the image provider. Retries with the same request_id replay the stored result.
//	@Tags			Generation
//	@Accept			json
//	@Produce		json
//	@Param			Idempotency-Key	header		string			false	"Request id when not in the body"
//	@Param			request			body		GenerateRequest	true	"Generation request"
//	@Success		200				{object}	model.GenerationResult
//	@Failure		400				{object}	apperrors.ErrorResponse	"Invalid request"
//	@Failure		402				{object}	apperrors.ErrorResponse	"Insufficient credit"
//	@Failure		409				{object}	apperrors.ErrorResponse	"Request in progress or id reused"
//	@Failure		422				{object}	apperrors.ErrorResponse	"Generation rejected"
//	@Failure		429				{object}	apperrors.ErrorResponse	"Rate limited"
//	@Failure		503				{object}	apperrors.ErrorResponse	"Temporarily unavailable"
//	@Router			/api/v1/images/generations [post]
func (h *generationHandler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, h.logger, apperrors.BadRequest("invalid request body"))
		return
	}
	if req.RequestID == "" {
		req.RequestID = strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	}
	if req.N == 0 {
		req.N = 1
	}

	result, err := h.orchestrator.Handle(c.Request.Context(), &model.GenerationRequest{
		RequestID: req.RequestID,
		Prompt:    req.Prompt,
		Count:     req.N,
		Signals:   signalsFrom(c),
	})
	if result != nil {
		tagIdentity(c, result.Identity)
		writeSession(c, h.session, result.MintedSessionToken)
		writeRateHeaders(c, result.RateDecision)
	}
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetBalance returns the caller's credit balance.
//
//	@Summary		Get credit balance
//	@Tags			Generation
//	@Produce		json
//	@Success		200	{object}	BalanceResponse
//	@Failure		503	{object}	apperrors.ErrorResponse	"Temporarily unavailable"
//	@Router			/api/v1/credits/balance [get]
func (h *generationHandler) GetBalance(c *gin.Context) {
	signals := signalsFrom(c)
	res := h.resolver.Resolve(c.Request.Context(), &signals)
	tagIdentity(c, res.Identity)
	writeSession(c, h.session, res.MintedSessionToken)

	view, err := h.ledger.Balance(c.Request.Context(), res.Identity)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, BalanceResponse{Tier: res.Identity.Tier, BalanceView: view})
}

// GetRateStatus returns the caller's remaining quota without consuming it.
//
//	@Summary		Get rate limit status
//	@Tags			Generation
//	@Produce		json
//	@Success		200	{object}	RateStatusResponse
//	@Failure		503	{object}	apperrors.ErrorResponse	"Temporarily unavailable"
//	@Router			/api/v1/ratelimit [get]
func (h *generationHandler) GetRateStatus(c *gin.Context) {
	signals := signalsFrom(c)
	res := h.resolver.Resolve(c.Request.Context(), &signals)
	tagIdentity(c, res.Identity)
	writeSession(c, h.session, res.MintedSessionToken)

	decision, err := h.limiter.Peek(c.Request.Context(), res.Identity, model.ResourceGeneration)
	if err != nil {
		h.logger.Warn("rate status unavailable", zap.String("identity", res.Identity.Key), zap.Error(err))
		handleError(c, h.logger, apperrors.StorageUnavailable())
		return
	}
	writeRateHeaders(c, decision)

	c.JSON(http.StatusOK, RateStatusResponse{
		Tier:              res.Identity.Tier,
		RetryAfterSeconds: int64((decision.RetryAfter + time.Second - 1) / time.Second),
		RateDecision:      decision,
	})
}

// Compile-time check
var _ inbound.GenerationHttpPort = (*generationHandler)(nil)
