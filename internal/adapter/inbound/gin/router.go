package gin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/uniedit/creditgate/internal/port/inbound"
	"github.com/uniedit/creditgate/internal/utils/metrics"
	"github.com/uniedit/creditgate/internal/utils/middleware"
	"go.uber.org/zap"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RouterConfig holds router configuration.
type RouterConfig struct {
	Mode         string
	AdminToken   string
	ServiceToken string
	CORS         middleware.CORSConfig
	Swagger      bool
	HealthChecks map[string]HealthCheck
}

// Handlers groups the HTTP ports served by the router.
type Handlers struct {
	Generation inbound.GenerationHttpPort
	Analytics  inbound.AnalyticsHttpPort
	Payment    inbound.PaymentHttpPort
}

// NewRouter creates the gin engine with middleware and all routes.
func NewRouter(cfg *RouterConfig, h *Handlers, m *metrics.Metrics, logger *zap.Logger) *gin.Engine {
	switch cfg.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(cfg.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics(m))
	r.Use(middleware.CORS(cfg.CORS))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", readiness(cfg.HealthChecks))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.Swagger {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/images/generations", h.Generation.Generate)
		v1.GET("/credits/balance", h.Generation.GetBalance)
		v1.GET("/ratelimit", h.Generation.GetRateStatus)
		v1.POST("/webhooks/stripe", h.Payment.HandleStripeWebhook)
		v1.POST("/webhooks/alipay", h.Payment.HandleAlipayNotify)
	}

	admin := v1.Group("/admin", middleware.RequireToken("admin", cfg.AdminToken))
	{
		admin.GET("/transactions", h.Analytics.ListTransactions)
		admin.GET("/usage-requests", h.Analytics.ListUsageRequests)
		admin.GET("/usage-summary", h.Analytics.GetUsageSummary)
		admin.GET("/balances/:identity_key", h.Analytics.GetBalance)
		admin.GET("/balances/:identity_key/reconciliation", h.Analytics.Reconcile)
		admin.GET("/counters/:identity_key", h.Analytics.GetCounters)
	}

	internal := r.Group("/internal/v1", middleware.RequireToken("service", cfg.ServiceToken))
	{
		internal.POST("/credits/grants", h.Payment.Grant)
	}

	return r
}

func readiness(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = "unavailable"
				continue
			}
			results[name] = "ok"
		}
		c.JSON(status, gin.H{"checks": results})
	}
}
