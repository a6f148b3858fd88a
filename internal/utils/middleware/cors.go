package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Headers the identity collaborator reads and writes.
const (
	SessionTokenHeader = "X-Session-Token"
	ViewportHeader     = "X-Viewport"
	TimezoneHeader     = "X-Timezone"
)

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSConfig returns the default CORS configuration.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Authorization", RequestIDHeader,
			SessionTokenHeader, ViewportHeader, TimezoneHeader,
		},
		ExposeHeaders: []string{
			"Content-Length", "Retry-After", RequestIDHeader, SessionTokenHeader,
			"X-RateLimit-Remaining-Hour", "X-RateLimit-Remaining-Day",
		},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
}

// CORS returns a CORS middleware with the given configuration.
// Credentials are only allowed for explicit origins.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	allowCredentials := cfg.AllowCredentials
	for _, origin := range cfg.AllowOrigins {
		if origin == "*" {
			allowCredentials = false
		}
	}
	return cors.New(cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     cfg.AllowMethods,
		AllowHeaders:     cfg.AllowHeaders,
		ExposeHeaders:    cfg.ExposeHeaders,
		AllowCredentials: allowCredentials,
		MaxAge:           cfg.MaxAge,
	})
}
