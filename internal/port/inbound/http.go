package inbound

import "github.com/gin-gonic/gin"

// GenerationHttpPort serves the caller-facing generation API.
type GenerationHttpPort interface {
	Generate(c *gin.Context)
	GetBalance(c *gin.Context)
	GetRateStatus(c *gin.Context)
}

// AnalyticsHttpPort serves read-only admin analytics.
type AnalyticsHttpPort interface {
	ListTransactions(c *gin.Context)
	ListUsageRequests(c *gin.Context)
	GetUsageSummary(c *gin.Context)
	GetBalance(c *gin.Context)
	Reconcile(c *gin.Context)
	GetCounters(c *gin.Context)
}

// PaymentHttpPort serves payment webhooks and internal grants.
type PaymentHttpPort interface {
	HandleStripeWebhook(c *gin.Context)
	HandleAlipayNotify(c *gin.Context)
	Grant(c *gin.Context)
}
