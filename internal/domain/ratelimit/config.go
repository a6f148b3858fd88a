package ratelimit

import (
	"time"

	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/shared/config"
)

// WindowLimits holds the hourly and daily limits of one (tier, resource) pair.
type WindowLimits struct {
	Hourly int64
	Daily  int64
}

// Config holds rate limiter configuration.
type Config struct {
	// Limits is keyed by tier, then by resource. Missing pairs are denied.
	Limits map[model.Tier]map[string]WindowLimits

	// Retention is how long counters are kept after their window started.
	Retention time.Duration
}

// DefaultConfig returns the default tier table for image generation.
func DefaultConfig() *Config {
	return &Config{
		Limits: map[model.Tier]map[string]WindowLimits{
			model.TierAnonymous:  {model.ResourceGeneration: {Hourly: 3, Daily: 9}},
			model.TierRegistered: {model.ResourceGeneration: {Hourly: 5, Daily: 15}},
			model.TierPaid:       {model.ResourceGeneration: {Hourly: 50, Daily: 150}},
			model.TierPremium:    {model.ResourceGeneration: {Hourly: 100, Daily: 300}},
		},
		Retention: 48 * time.Hour,
	}
}

// ConfigFrom converts the loaded configuration section.
func ConfigFrom(cfg *config.RateLimitConfig) *Config {
	out := &Config{
		Limits:    make(map[model.Tier]map[string]WindowLimits, len(cfg.Limits)),
		Retention: cfg.CounterRetention,
	}
	for tier, resources := range cfg.Limits {
		limits := make(map[string]WindowLimits, len(resources))
		for resource, l := range resources {
			limits[resource] = WindowLimits{Hourly: l.Hourly, Daily: l.Daily}
		}
		out.Limits[model.Tier(tier)] = limits
	}
	return out
}

// lookup returns the limits for the pair; ok is false when none are configured.
func (c *Config) lookup(tier model.Tier, resource string) (WindowLimits, bool) {
	resources, ok := c.Limits[tier]
	if !ok {
		return WindowLimits{}, false
	}
	l, ok := resources[resource]
	return l, ok
}
