package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Usage      UsageConfig      `mapstructure:"usage"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	HTTPClient HTTPClientConfig `mapstructure:"http_client"`
	Payment    PaymentConfig    `mapstructure:"payment"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Mode            string        `mapstructure:"mode"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as expected by pgxpool.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds token configuration for callers and operators.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	SessionSecret string        `mapstructure:"session_secret"`
	AdminToken    string        `mapstructure:"admin_token"`
	ServiceToken  string        `mapstructure:"service_token"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
}

// WindowLimits holds the per-window limits of one resource.
type WindowLimits struct {
	Hourly int64 `mapstructure:"hourly"`
	Daily  int64 `mapstructure:"daily"`
}

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	// Backend selects the window counter store: redis, postgres or memory.
	Backend   string `mapstructure:"backend"`
	Location  string `mapstructure:"location"`
	ResetHour int    `mapstructure:"reset_hour"`
	// Limits is keyed by tier, then by resource.
	Limits           map[string]map[string]WindowLimits `mapstructure:"limits"`
	CounterRetention time.Duration                      `mapstructure:"counter_retention"`
	TablePrefix      string                             `mapstructure:"table_prefix"`
}

// LedgerConfig holds credit ledger configuration.
type LedgerConfig struct {
	PoolOrder          []string         `mapstructure:"pool_order"`
	FreeDailyAllowance map[string]int64 `mapstructure:"free_daily_allowance"`
	MaxVersionRetries  int              `mapstructure:"max_version_retries"`
}

// UsageConfig holds usage orchestrator configuration.
type UsageConfig struct {
	CreditsPerImage int64         `mapstructure:"credits_per_image"`
	MaxImages       int           `mapstructure:"max_images"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	SettleTimeout   time.Duration `mapstructure:"settle_timeout"`
}

// SettlementConfig holds settlement reconciler configuration.
type SettlementConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
	BatchSize   int           `mapstructure:"batch_size"`
}

// ProviderConfig holds generation provider configuration.
type ProviderConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Model            string        `mapstructure:"model"`
	Size             string        `mapstructure:"size"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	SuccessThreshold uint32        `mapstructure:"success_threshold"`
	CircuitTimeout   time.Duration `mapstructure:"circuit_timeout"`
}

// HTTPClientConfig holds HTTP client configuration for connection pooling.
type HTTPClientConfig struct {
	// Connection pool settings
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `mapstructure:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`

	// Timeout settings
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	TLSHandshakeTimeout time.Duration `mapstructure:"tls_handshake_timeout"`
	ResponseTimeout     time.Duration `mapstructure:"response_timeout"`
	KeepAlive           time.Duration `mapstructure:"keep_alive"`
}

// PaymentConfig holds payment collaborator configuration.
type PaymentConfig struct {
	StripeWebhookSecret string `mapstructure:"stripe_webhook_secret"`
	AlipayAppID         string `mapstructure:"alipay_app_id"`
	AlipayPublicKey     string `mapstructure:"alipay_public_key"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/creditgate")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("CREDITGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Secrets may come from the environment without a config file entry
	if secret := os.Getenv("CREDITGATE_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if secret := os.Getenv("CREDITGATE_SESSION_SECRET"); secret != "" {
		cfg.Auth.SessionSecret = secret
	}
	if password := os.Getenv("CREDITGATE_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if password := os.Getenv("CREDITGATE_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if key := os.Getenv("CREDITGATE_PROVIDER_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if secret := os.Getenv("CREDITGATE_STRIPE_WEBHOOK_SECRET"); secret != "" {
		cfg.Payment.StripeWebhookSecret = secret
	}
	if key := os.Getenv("CREDITGATE_ALIPAY_PUBLIC_KEY"); key != "" {
		cfg.Payment.AlipayPublicKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks invariants that would otherwise surface as runtime failures.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	if c.RateLimit.Backend == "postgres" && c.Database.Driver != "postgres" {
		return fmt.Errorf("ratelimit.backend: postgres backend requires database.driver postgres")
	}
	switch c.RateLimit.Backend {
	case "redis", "postgres", "memory":
	default:
		return fmt.Errorf("ratelimit.backend: unknown backend %q", c.RateLimit.Backend)
	}
	if c.RateLimit.ResetHour < 0 || c.RateLimit.ResetHour > 23 {
		return fmt.Errorf("ratelimit.reset_hour: must be within 0..23, got %d", c.RateLimit.ResetHour)
	}
	if _, err := time.LoadLocation(c.RateLimit.Location); err != nil {
		return fmt.Errorf("ratelimit.location: %w", err)
	}
	for tier, resources := range c.RateLimit.Limits {
		for resource, l := range resources {
			if l.Hourly < 0 || l.Daily < 0 {
				return fmt.Errorf("ratelimit.limits.%s.%s: limits must be non-negative", tier, resource)
			}
		}
	}
	if c.Usage.CreditsPerImage <= 0 {
		return fmt.Errorf("usage.credits_per_image: must be positive")
	}
	if c.Usage.MaxImages <= 0 {
		return fmt.Errorf("usage.max_images: must be positive")
	}
	if c.Usage.ProviderTimeout <= 0 {
		return fmt.Errorf("usage.provider_timeout: must be positive")
	}
	if c.Settlement.GracePeriod <= c.Usage.ProviderTimeout {
		return fmt.Errorf("settlement.grace_period: must exceed usage.provider_timeout")
	}
	if c.Ledger.MaxVersionRetries <= 0 {
		return fmt.Errorf("ledger.max_version_retries: must be positive")
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.sqlite_path", "creditgate.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "creditgate")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.session_ttl", 365*24*time.Hour)

	// Rate limit defaults
	v.SetDefault("ratelimit.backend", "redis")
	v.SetDefault("ratelimit.location", "UTC")
	v.SetDefault("ratelimit.reset_hour", 0)
	v.SetDefault("ratelimit.counter_retention", 48*time.Hour)
	v.SetDefault("ratelimit.table_prefix", "")
	v.SetDefault("ratelimit.limits", map[string]any{
		"anonymous":  map[string]any{"generation": map[string]any{"hourly": 3, "daily": 9}},
		"registered": map[string]any{"generation": map[string]any{"hourly": 5, "daily": 15}},
		"paid":       map[string]any{"generation": map[string]any{"hourly": 50, "daily": 150}},
		"premium":    map[string]any{"generation": map[string]any{"hourly": 100, "daily": 300}},
	})

	// Ledger defaults
	v.SetDefault("ledger.pool_order", []string{"bonus", "free", "paid"})
	v.SetDefault("ledger.free_daily_allowance", map[string]any{
		"anonymous":  3,
		"registered": 5,
		"paid":       5,
		"premium":    10,
	})
	v.SetDefault("ledger.max_version_retries", 5)

	// Usage defaults
	v.SetDefault("usage.credits_per_image", 1)
	v.SetDefault("usage.max_images", 4)
	v.SetDefault("usage.provider_timeout", 60*time.Second)
	v.SetDefault("usage.settle_timeout", 10*time.Second)

	// Settlement defaults
	v.SetDefault("settlement.enabled", true)
	v.SetDefault("settlement.interval", time.Minute)
	v.SetDefault("settlement.grace_period", 5*time.Minute)
	v.SetDefault("settlement.batch_size", 100)

	// Provider defaults
	v.SetDefault("provider.base_url", "https://api.openai.com")
	v.SetDefault("provider.model", "dall-e-3")
	v.SetDefault("provider.size", "1024x1024")
	v.SetDefault("provider.failure_threshold", 5)
	v.SetDefault("provider.success_threshold", 2)
	v.SetDefault("provider.circuit_timeout", 60*time.Second)

	// HTTP client defaults
	v.SetDefault("http_client.max_idle_conns", 100)
	v.SetDefault("http_client.max_idle_conns_per_host", 10)
	v.SetDefault("http_client.max_conns_per_host", 50)
	v.SetDefault("http_client.idle_conn_timeout", 90*time.Second)
	v.SetDefault("http_client.dial_timeout", 10*time.Second)
	v.SetDefault("http_client.tls_handshake_timeout", 10*time.Second)
	v.SetDefault("http_client.response_timeout", 120*time.Second)
	v.SetDefault("http_client.keep_alive", 30*time.Second)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
