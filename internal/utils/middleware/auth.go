package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apperrors "github.com/uniedit/creditgate/internal/shared/errors"
)

const (
	// AuthorizationHeader is the header key for authorization.
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer tokens.
	BearerPrefix = "Bearer "
	// CallerKey is the context key for the authenticated caller role.
	CallerKey = "caller"
)

// RequireToken returns a middleware that admits only requests bearing token.
// An empty token disables the guarded routes entirely.
func RequireToken(role, token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				apperrors.NewAppError("NOT_CONFIGURED", role+" access is not configured", http.StatusServiceUnavailable, nil).ToResponse())
			return
		}

		got := ExtractBearerToken(c)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apperrors.Unauthorized("").ToResponse())
			return
		}

		c.Set(CallerKey, role)
		c.Next()
	}
}

// ExtractBearerToken extracts the bearer token from the Authorization header.
func ExtractBearerToken(c *gin.Context) string {
	auth := c.GetHeader(AuthorizationHeader)
	if len(auth) <= len(BearerPrefix) || !strings.EqualFold(auth[:len(BearerPrefix)], BearerPrefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(BearerPrefix):])
}
