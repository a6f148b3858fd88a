package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "redis", cfg.RateLimit.Backend)
	assert.Equal(t, "UTC", cfg.RateLimit.Location)
	assert.Equal(t, WindowLimits{Hourly: 3, Daily: 9}, cfg.RateLimit.Limits["anonymous"]["generation"])
	assert.Equal(t, WindowLimits{Hourly: 50, Daily: 150}, cfg.RateLimit.Limits["paid"]["generation"])
	assert.Equal(t, []string{"bonus", "free", "paid"}, cfg.Ledger.PoolOrder)
	assert.Equal(t, int64(5), cfg.Ledger.FreeDailyAllowance["registered"])
	assert.Equal(t, int64(1), cfg.Usage.CreditsPerImage)
	assert.Equal(t, 5*time.Minute, cfg.Settlement.GracePeriod)
	assert.True(t, cfg.Settlement.Enabled)
	assert.Equal(t, uint32(5), cfg.Provider.FailureThreshold)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("CREDITGATE_RATELIMIT_BACKEND", "memory")
	t.Setenv("CREDITGATE_SERVER_ADDRESS", ":9090")
	t.Setenv("CREDITGATE_JWT_SECRET", "s3cret")
	t.Setenv("CREDITGATE_SESSION_SECRET", "sess-s3cret")
	t.Setenv("CREDITGATE_STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("CREDITGATE_PROVIDER_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "sess-s3cret", cfg.Auth.SessionSecret)
	assert.Equal(t, "whsec_test", cfg.Payment.StripeWebhookSecret)
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)
}

func TestLoad_InvalidBackend(t *testing.T) {
	t.Setenv("CREDITGATE_RATELIMIT_BACKEND", "etcd")

	_, err := Load()
	assert.ErrorContains(t, err, "ratelimit.backend")
}

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "postgres"},
		RateLimit: RateLimitConfig{
			Backend:  "redis",
			Location: "UTC",
			Limits: map[string]map[string]WindowLimits{
				"anonymous": {"generation": {Hourly: 3, Daily: 9}},
			},
		},
		Ledger:     LedgerConfig{MaxVersionRetries: 5},
		Usage:      UsageConfig{CreditsPerImage: 1, MaxImages: 4, ProviderTimeout: time.Minute},
		Settlement: SettlementConfig{GracePeriod: 5 * time.Minute},
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "unknown database driver",
			mutate:  func(c *Config) { c.Database.Driver = "mysql" },
			wantErr: "database.driver",
		},
		{
			name: "postgres counters on sqlite",
			mutate: func(c *Config) {
				c.Database.Driver = "sqlite"
				c.RateLimit.Backend = "postgres"
			},
			wantErr: "requires database.driver postgres",
		},
		{
			name:    "reset hour out of range",
			mutate:  func(c *Config) { c.RateLimit.ResetHour = 24 },
			wantErr: "ratelimit.reset_hour",
		},
		{
			name:    "unknown location",
			mutate:  func(c *Config) { c.RateLimit.Location = "Mars/Olympus" },
			wantErr: "ratelimit.location",
		},
		{
			name:    "negative limit",
			mutate:  func(c *Config) { c.RateLimit.Limits["anonymous"]["generation"] = WindowLimits{Hourly: -1} },
			wantErr: "limits must be non-negative",
		},
		{
			name:    "zero credits per image",
			mutate:  func(c *Config) { c.Usage.CreditsPerImage = 0 },
			wantErr: "usage.credits_per_image",
		},
		{
			name:    "grace period shorter than provider timeout",
			mutate:  func(c *Config) { c.Settlement.GracePeriod = 30 * time.Second },
			wantErr: "settlement.grace_period",
		},
		{
			name:    "no version retries",
			mutate:  func(c *Config) { c.Ledger.MaxVersionRetries = 0 },
			wantErr: "ledger.max_version_retries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_URL(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "credits", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/credits?sslmode=disable", c.URL())
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=credits sslmode=disable", c.DSN())
}
