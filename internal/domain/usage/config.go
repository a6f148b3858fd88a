package usage

import (
	"time"

	"github.com/uniedit/creditgate/internal/shared/config"
)

// Config holds usage orchestrator configuration.
type Config struct {
	// CreditsPerImage is the credit cost of one generated image.
	CreditsPerImage int64

	// MaxImages is the largest count accepted per request.
	MaxImages int

	// MaxPromptLength bounds the prompt in characters.
	MaxPromptLength int

	// ProviderTimeout is the hard timeout of the provider call.
	ProviderTimeout time.Duration

	// SettleTimeout bounds the commit or release after the provider returns.
	// It runs detached from the caller's context.
	SettleTimeout time.Duration
}

// maxRequestIDLength matches the usage_requests.id column.
const maxRequestIDLength = 128

// DefaultConfig returns default usage configuration.
func DefaultConfig() *Config {
	return &Config{
		CreditsPerImage: 1,
		MaxImages:       4,
		MaxPromptLength: 4000,
		ProviderTimeout: 60 * time.Second,
		SettleTimeout:   10 * time.Second,
	}
}

// ConfigFrom builds the orchestrator configuration, keeping defaults for unset values.
func ConfigFrom(cfg *config.UsageConfig) *Config {
	out := DefaultConfig()
	if cfg == nil {
		return out
	}
	if cfg.CreditsPerImage > 0 {
		out.CreditsPerImage = cfg.CreditsPerImage
	}
	if cfg.MaxImages > 0 {
		out.MaxImages = cfg.MaxImages
	}
	if cfg.ProviderTimeout > 0 {
		out.ProviderTimeout = cfg.ProviderTimeout
	}
	if cfg.SettleTimeout > 0 {
		out.SettleTimeout = cfg.SettleTimeout
	}
	return out
}
