package app

import "github.com/uniedit/creditgate/internal/shared/config"

// LoadConfig loads the application configuration.
func LoadConfig() (*config.Config, error) {
	return config.Load()
}
