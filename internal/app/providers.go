package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	// Domains
	"github.com/uniedit/creditgate/internal/domain/analytics"
	"github.com/uniedit/creditgate/internal/domain/identity"
	"github.com/uniedit/creditgate/internal/domain/ledger"
	"github.com/uniedit/creditgate/internal/domain/payment"
	"github.com/uniedit/creditgate/internal/domain/ratelimit"
	"github.com/uniedit/creditgate/internal/domain/settlement"
	"github.com/uniedit/creditgate/internal/domain/usage"

	// Inbound adapters
	ginadapter "github.com/uniedit/creditgate/internal/adapter/inbound/gin"

	// Outbound adapters
	"github.com/uniedit/creditgate/internal/adapter/outbound/alipay"
	"github.com/uniedit/creditgate/internal/adapter/outbound/generation"
	"github.com/uniedit/creditgate/internal/adapter/outbound/memory"
	"github.com/uniedit/creditgate/internal/adapter/outbound/pgcounter"
	"github.com/uniedit/creditgate/internal/adapter/outbound/postgres"
	redisadapter "github.com/uniedit/creditgate/internal/adapter/outbound/redis"
	"github.com/uniedit/creditgate/internal/adapter/outbound/stripe"
	"github.com/uniedit/creditgate/internal/adapter/outbound/token"

	// Ports
	"github.com/uniedit/creditgate/internal/port/inbound"
	"github.com/uniedit/creditgate/internal/port/outbound"

	// Infrastructure
	"github.com/uniedit/creditgate/internal/infra/httpclient"
	"github.com/uniedit/creditgate/internal/shared/cache"
	"github.com/uniedit/creditgate/internal/shared/clock"
	"github.com/uniedit/creditgate/internal/shared/config"
	"github.com/uniedit/creditgate/internal/shared/database"
	"github.com/uniedit/creditgate/internal/shared/logger"
	"github.com/uniedit/creditgate/internal/utils/metrics"
	"github.com/uniedit/creditgate/internal/utils/middleware"
)

// ===== Infrastructure Providers =====

// InfraSet provides infrastructure dependencies.
var InfraSet = wire.NewSet(
	ProvideLogger,
	ProvideDatabase,
	ProvideRedisClient,
	ProvidePgxPool,
	ProvideHTTPClient,
	ProvideClock,
	ProvideCalendar,
	ProvideMetrics,
)

// ProvideLogger creates the zap logger.
func ProvideLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return log, func() { _ = log.Sync() }, nil
}

// ProvideDatabase opens the ledger database and migrates it when enabled.
func ProvideDatabase(cfg *config.Config, log *zap.Logger) (*gorm.DB, func(), error) {
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("init database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			_ = database.Close(db)
			return nil, nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	cleanup := func() {
		if err := database.Close(db); err != nil {
			log.Warn("close database", zap.Error(err))
		}
	}
	return db, cleanup, nil
}

// ProvideRedisClient connects to Redis when it backs the rate counters.
// Other backends get a nil client.
func ProvideRedisClient(cfg *config.Config, log *zap.Logger) (goredis.UniversalClient, func(), error) {
	if cfg.RateLimit.Backend != "redis" {
		return nil, func() {}, nil
	}
	client, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("init redis: %w", err)
	}
	cleanup := func() {
		if err := cache.Close(client); err != nil {
			log.Warn("close redis", zap.Error(err))
		}
	}
	return client, cleanup, nil
}

// ProvidePgxPool opens a pgx pool when Postgres backs the rate counters.
// Other backends get a nil pool.
func ProvidePgxPool(cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if cfg.RateLimit.Backend != "postgres" {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL())
	if err != nil {
		return nil, nil, fmt.Errorf("init pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, pool.Close, nil
}

// ProvideHTTPClient creates a shared HTTP client with connection pooling.
func ProvideHTTPClient(cfg *config.Config) *http.Client {
	return httpclient.New(&cfg.HTTPClient)
}

// ProvideClock returns the wall clock.
func ProvideClock() clock.Clock {
	return clock.Real{}
}

// ProvideCalendar builds the window calendar shared by the limiter and the ledger.
func ProvideCalendar(cfg *config.Config) (*clock.Calendar, error) {
	return clock.NewCalendar(cfg.RateLimit.Location, cfg.RateLimit.ResetHour)
}

// ProvideMetrics creates a metrics instance.
func ProvideMetrics() *metrics.Metrics {
	return metrics.New("creditgate")
}

// ===== Rate Limit Providers =====

// RateLimitSet provides the window counter store and the limiter.
var RateLimitSet = wire.NewSet(
	ProvideWindowCounter,
	ProvideRateLimiter,
)

// ProvideWindowCounter selects the counter store for the configured backend.
func ProvideWindowCounter(
	cfg *config.Config,
	redisClient goredis.UniversalClient,
	pool *pgxpool.Pool,
	log *zap.Logger,
) (outbound.WindowCounterPort, error) {
	switch cfg.RateLimit.Backend {
	case "redis":
		return redisadapter.NewWindowCounter(redisClient), nil
	case "postgres":
		store := pgcounter.New(pool, pgcounter.WithTablePrefix(cfg.RateLimit.TablePrefix))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure counter schema: %w", err)
		}
		return store, nil
	case "memory":
		log.Warn("using in-process rate counters; limits are not shared between replicas")
		return memory.NewWindowCounter(), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimit.Backend)
	}
}

// ProvideRateLimiter creates the rate limiter.
func ProvideRateLimiter(
	counter outbound.WindowCounterPort,
	calendar *clock.Calendar,
	clk clock.Clock,
	cfg *config.Config,
	m *metrics.Metrics,
	log *zap.Logger,
) inbound.RateLimiter {
	return ratelimit.NewLimiter(counter, calendar, clk, ratelimit.ConfigFrom(&cfg.RateLimit), m, log)
}

// ===== Ledger Providers =====

// LedgerSet provides the credit ledger and its storage.
var LedgerSet = wire.NewSet(
	postgres.NewLedgerAdapter,
	postgres.NewUsageRequestAdapter,
	ProvideCreditLedger,
)

// ProvideCreditLedger creates the credit ledger.
func ProvideCreditLedger(
	db outbound.LedgerDatabasePort,
	calendar *clock.Calendar,
	clk clock.Clock,
	cfg *config.Config,
	m *metrics.Metrics,
	log *zap.Logger,
) (inbound.CreditLedger, error) {
	ledgerCfg, err := ledger.ConfigFrom(&cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("ledger config: %w", err)
	}
	return ledger.NewLedger(db, calendar, clk, ledgerCfg, m, log), nil
}

// ===== Usage Providers =====

// UsageSet provides identity resolution, generation, orchestration and settlement.
var UsageSet = wire.NewSet(
	ProvideTokenVerifier,
	ProvideSessionSigner,
	ProvideIdentityResolver,
	ProvideGenerationProvider,
	ProvideOrchestrator,
	ProvideReconciler,
)

// ProvideTokenVerifier creates the account token verifier.
// Without a secret, bearer tokens are ignored and callers fall back to
// session and device identities.
func ProvideTokenVerifier(cfg *config.Config, clk clock.Clock, log *zap.Logger) outbound.AccountTokenPort {
	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwt_secret not set; account tokens are disabled")
		return nil
	}
	return token.NewJWTVerifier(cfg.Auth.JWTSecret, clk)
}

// ProvideSessionSigner creates the anonymous session token signer.
func ProvideSessionSigner(cfg *config.Config, log *zap.Logger) *identity.SessionSigner {
	if cfg.Auth.SessionSecret == "" {
		log.Warn("auth.session_secret not set; using a random key, sessions reset on restart")
	}
	return identity.NewSessionSigner(cfg.Auth.SessionSecret)
}

// ProvideIdentityResolver creates the identity resolver.
func ProvideIdentityResolver(tokens outbound.AccountTokenPort, sessions *identity.SessionSigner, log *zap.Logger) inbound.IdentityResolver {
	return identity.NewResolver(tokens, sessions, log)
}

// ProvideGenerationProvider creates the image generation client.
func ProvideGenerationProvider(cfg *config.Config, client *http.Client, log *zap.Logger) outbound.GenerationProviderPort {
	return generation.NewOpenAIProvider(client, generation.ConfigFrom(&cfg.Provider), log)
}

// ProvideOrchestrator creates the usage orchestrator.
func ProvideOrchestrator(
	resolver inbound.IdentityResolver,
	limiter inbound.RateLimiter,
	creditLedger inbound.CreditLedger,
	requests outbound.UsageRequestDatabasePort,
	provider outbound.GenerationProviderPort,
	clk clock.Clock,
	cfg *config.Config,
	m *metrics.Metrics,
	log *zap.Logger,
) inbound.UsageOrchestrator {
	return usage.NewOrchestrator(resolver, limiter, creditLedger, requests, provider, clk, usage.ConfigFrom(&cfg.Usage), m, log)
}

// ProvideReconciler creates the settlement reconciler.
func ProvideReconciler(
	requests outbound.UsageRequestDatabasePort,
	creditLedger inbound.CreditLedger,
	limiter inbound.RateLimiter,
	clk clock.Clock,
	cfg *config.Config,
	m *metrics.Metrics,
	log *zap.Logger,
) inbound.SettlementReconciler {
	return settlement.NewReconciler(requests, creditLedger, limiter, clk, settlement.ConfigFrom(&cfg.Settlement), m, log)
}

// ===== Payment and Analytics Providers =====

// PaymentSet provides payment intake.
var PaymentSet = wire.NewSet(
	ProvideWebhookParsers,
	payment.NewPaymentDomain,
)

// ProvideWebhookParsers returns the configured payment webhook parsers.
func ProvideWebhookParsers(cfg *config.Config, log *zap.Logger) []outbound.PaymentWebhookPort {
	var parsers []outbound.PaymentWebhookPort
	if cfg.Payment.StripeWebhookSecret != "" {
		parsers = append(parsers, stripe.NewWebhookParser(cfg.Payment.StripeWebhookSecret))
	} else {
		log.Warn("payment.stripe_webhook_secret not set; stripe webhooks are disabled")
	}
	if cfg.Payment.AlipayPublicKey != "" {
		parsers = append(parsers, alipay.NewNotifyParser(alipay.Config{
			AppID:     cfg.Payment.AlipayAppID,
			PublicKey: cfg.Payment.AlipayPublicKey,
		}))
	}
	return parsers
}

// AnalyticsSet provides the read-only admin views.
var AnalyticsSet = wire.NewSet(
	analytics.NewAnalyticsDomain,
)

// ===== HTTP Providers =====

// HTTPSet provides the HTTP handlers and router.
var HTTPSet = wire.NewSet(
	ProvideGenerationHandler,
	ginadapter.NewAnalyticsHandler,
	ginadapter.NewPaymentHandler,
	ProvideRouter,
)

// ProvideGenerationHandler creates the public generation handler.
func ProvideGenerationHandler(
	orchestrator inbound.UsageOrchestrator,
	resolver inbound.IdentityResolver,
	creditLedger inbound.CreditLedger,
	limiter inbound.RateLimiter,
	cfg *config.Config,
	log *zap.Logger,
) inbound.GenerationHttpPort {
	session := ginadapter.SessionConfig{
		TTL:          cfg.Auth.SessionTTL,
		SecureCookie: cfg.Server.Mode == gin.ReleaseMode,
	}
	return ginadapter.NewGenerationHandler(orchestrator, resolver, creditLedger, limiter, session, log)
}

// ProvideRouter builds the gin engine with all routes.
func ProvideRouter(
	cfg *config.Config,
	generationHandler inbound.GenerationHttpPort,
	analyticsHandler inbound.AnalyticsHttpPort,
	paymentHandler inbound.PaymentHttpPort,
	db *gorm.DB,
	redisClient goredis.UniversalClient,
	pool *pgxpool.Pool,
	m *metrics.Metrics,
	log *zap.Logger,
) *gin.Engine {
	cors := middleware.DefaultCORSConfig()
	if len(cfg.Server.AllowedOrigins) > 0 {
		cors.AllowOrigins = cfg.Server.AllowedOrigins
	}

	checks := map[string]ginadapter.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	if pool != nil {
		checks["counters"] = pool.Ping
	}

	return ginadapter.NewRouter(&ginadapter.RouterConfig{
		Mode:         cfg.Server.Mode,
		AdminToken:   cfg.Auth.AdminToken,
		ServiceToken: cfg.Auth.ServiceToken,
		CORS:         cors,
		Swagger:      cfg.Server.Mode != gin.ReleaseMode,
		HealthChecks: checks,
	}, &ginadapter.Handlers{
		Generation: generationHandler,
		Analytics:  analyticsHandler,
		Payment:    paymentHandler,
	}, m, log)
}

// ===== Combined Sets =====

// AppSet combines all provider sets.
var AppSet = wire.NewSet(
	InfraSet,
	RateLimitSet,
	LedgerSet,
	UsageSet,
	PaymentSet,
	AnalyticsSet,
	HTTPSet,
)
