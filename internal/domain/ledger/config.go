package ledger

import (
	"fmt"

	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/shared/config"
)

// Config holds credit ledger configuration.
type Config struct {
	// PoolOrder is the order pools are drawn from on reserve. Release refunds in reverse.
	PoolOrder []model.Pool

	// FreeDailyAllowance is the free allowance granted per ledger day, by tier.
	FreeDailyAllowance map[model.Tier]int64

	// MaxVersionRetries bounds optimistic concurrency retries per operation.
	MaxVersionRetries int
}

// DefaultConfig returns default ledger configuration.
func DefaultConfig() *Config {
	return &Config{
		PoolOrder: []model.Pool{model.PoolBonus, model.PoolFree, model.PoolPaid},
		FreeDailyAllowance: map[model.Tier]int64{
			model.TierAnonymous:  3,
			model.TierRegistered: 5,
			model.TierPaid:       5,
			model.TierPremium:    10,
		},
		MaxVersionRetries: 5,
	}
}

// ConfigFrom converts and validates the loaded configuration section.
func ConfigFrom(cfg *config.LedgerConfig) (*Config, error) {
	order, err := ParsePoolOrder(cfg.PoolOrder)
	if err != nil {
		return nil, err
	}

	allowance := make(map[model.Tier]int64, len(cfg.FreeDailyAllowance))
	for tier, amount := range cfg.FreeDailyAllowance {
		t := model.Tier(tier)
		if !t.IsValid() {
			return nil, fmt.Errorf("free daily allowance: unknown tier %q", tier)
		}
		if amount < 0 {
			return nil, fmt.Errorf("free daily allowance: negative amount for %q", tier)
		}
		allowance[t] = amount
	}

	return &Config{
		PoolOrder:          order,
		FreeDailyAllowance: allowance,
		MaxVersionRetries:  cfg.MaxVersionRetries,
	}, nil
}

// ParsePoolOrder validates that every pool appears exactly once.
func ParsePoolOrder(names []string) ([]model.Pool, error) {
	if len(names) != 3 {
		return nil, fmt.Errorf("%w: want 3 pools, got %d", ErrInvalidPoolOrder, len(names))
	}

	seen := make(map[model.Pool]bool, 3)
	order := make([]model.Pool, 0, 3)
	for _, name := range names {
		p := model.Pool(name)
		if !p.IsValid() {
			return nil, fmt.Errorf("%w: unknown pool %q", ErrInvalidPoolOrder, name)
		}
		if seen[p] {
			return nil, fmt.Errorf("%w: duplicate pool %q", ErrInvalidPoolOrder, name)
		}
		seen[p] = true
		order = append(order, p)
	}
	return order, nil
}

// allowance returns the free daily allowance of a tier. Unknown tiers get none.
func (c *Config) allowance(tier model.Tier) int64 {
	return c.FreeDailyAllowance[tier]
}
