package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/inbound"
	apperrors "github.com/uniedit/creditgate/internal/shared/errors"
	"go.uber.org/zap"
)

// analyticsHandler implements inbound.AnalyticsHttpPort.
type analyticsHandler struct {
	analytics inbound.AnalyticsDomain
	logger    *zap.Logger
}

// NewAnalyticsHandler creates a new admin analytics HTTP handler.
func NewAnalyticsHandler(analytics inbound.AnalyticsDomain, logger *zap.Logger) inbound.AnalyticsHttpPort {
	return &analyticsHandler{
		analytics: analytics,
		logger:    logger.Named("http.analytics"),
	}
}

// ListTransactions lists ledger transactions.
//
//	@Summary	List credit transactions
//	@Tags		Admin
//	@Produce	json
//	@Security	BearerAuth
//	@Param		identity_key	query		string	false	"Identity key"
//	@Param		kind			query		string	false	"Transaction kind"
//	@Param		reference		query		string	false	"Reference"
//	@Param		page			query		int		false	"Page"
//	@Param		page_size		query		int		false	"Page size"
//	@Success	200				{object}	model.PaginatedResponse[model.CreditTransaction]
//	@Router		/api/v1/admin/transactions [get]
func (h *analyticsHandler) ListTransactions(c *gin.Context) {
	var filter model.TransactionFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		handleError(c, h.logger, apperrors.BadRequest("invalid query"))
		return
	}

	resp, err := h.analytics.ListTransactions(c.Request.Context(), &filter)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListUsageRequests lists usage requests.
//
//	@Summary	List usage requests
//	@Tags		Admin
//	@Produce	json
//	@Security	BearerAuth
//	@Param		identity_key	query		string	false	"Identity key"
//	@Param		status			query		string	false	"Status"
//	@Param		page			query		int		false	"Page"
//	@Param		page_size		query		int		false	"Page size"
//	@Success	200				{object}	model.PaginatedResponse[model.UsageRequest]
//	@Router		/api/v1/admin/usage-requests [get]
func (h *analyticsHandler) ListUsageRequests(c *gin.Context) {
	var filter model.UsageFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		handleError(c, h.logger, apperrors.BadRequest("invalid query"))
		return
	}

	resp, err := h.analytics.ListUsageRequests(c.Request.Context(), &filter)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetUsageSummary counts usage requests by status.
//
//	@Summary	Usage summary
//	@Tags		Admin
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	model.UsageSummary
//	@Router		/api/v1/admin/usage-summary [get]
func (h *analyticsHandler) GetUsageSummary(c *gin.Context) {
	summary, err := h.analytics.UsageSummary(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetBalance returns the stored balance row of an identity.
//
//	@Summary	Get stored balance
//	@Tags		Admin
//	@Produce	json
//	@Security	BearerAuth
//	@Param		identity_key	path		string	true	"Identity key"
//	@Success	200				{object}	model.CreditBalance
//	@Failure	404				{object}	apperrors.ErrorResponse
//	@Router		/api/v1/admin/balances/{identity_key} [get]
func (h *analyticsHandler) GetBalance(c *gin.Context) {
	balance, err := h.analytics.GetBalance(c.Request.Context(), c.Param("identity_key"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

// Reconcile compares an identity's balance with its transaction log.
//
//	@Summary	Reconciliation report
//	@Tags		Admin
//	@Produce	json
//	@Security	BearerAuth
//	@Param		identity_key	path		string	true	"Identity key"
//	@Success	200				{object}	model.ReconciliationReport
//	@Router		/api/v1/admin/balances/{identity_key}/reconciliation [get]
func (h *analyticsHandler) Reconcile(c *gin.Context) {
	report, err := h.analytics.Reconcile(c.Request.Context(), c.Param("identity_key"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetCounters reports the rate windows of an identity without consuming them.
//
//	@Summary	Rate counter snapshot
//	@Tags		Admin
//	@Produce	json
//	@Security	BearerAuth
//	@Param		identity_key	path		string	true	"Identity key"
//	@Param		tier			query		string	false	"Tier (default anonymous)"
//	@Param		resource		query		string	false	"Resource (default generation)"
//	@Success	200				{object}	model.RateDecision
//	@Router		/api/v1/admin/counters/{identity_key} [get]
func (h *analyticsHandler) GetCounters(c *gin.Context) {
	decision, err := h.analytics.CounterSnapshot(c.Request.Context(),
		c.Param("identity_key"),
		model.Tier(c.Query("tier")),
		c.Query("resource"),
	)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// Compile-time check
var _ inbound.AnalyticsHttpPort = (*analyticsHandler)(nil)
