package gin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/utils/middleware"
	"github.com/uniedit/creditgate/internal/utils/requestctx"
)

// SessionCookieName is the cookie carrying the anonymous session token.
const SessionCookieName = "sid"

// SessionConfig controls how minted session tokens are handed to the caller.
type SessionConfig struct {
	TTL          time.Duration
	SecureCookie bool
}

// signalsFrom collects the identity signals of a request.
// The session header wins over the cookie.
func signalsFrom(c *gin.Context) model.RequestSignals {
	session := c.GetHeader(middleware.SessionTokenHeader)
	if session == "" {
		session, _ = c.Cookie(SessionCookieName)
	}
	return model.RequestSignals{
		BearerToken:  middleware.ExtractBearerToken(c),
		SessionToken: session,
		UserAgent:    c.Request.UserAgent(),
		Viewport:     c.GetHeader(middleware.ViewportHeader),
		Timezone:     c.GetHeader(middleware.TimezoneHeader),
	}
}

// writeSession returns a freshly minted session token in both the header and the cookie.
func writeSession(c *gin.Context, cfg SessionConfig, token string) {
	if token == "" {
		return
	}
	c.Header(middleware.SessionTokenHeader, token)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, token, int(cfg.TTL.Seconds()), "/", "", cfg.SecureCookie || c.Request.TLS != nil, true)
}

// writeRateHeaders exposes the remaining window quota.
func writeRateHeaders(c *gin.Context, d *model.RateDecision) {
	if d == nil {
		return
	}
	c.Header("X-RateLimit-Remaining-Hour", strconv.FormatInt(d.RemainingHourly, 10))
	c.Header("X-RateLimit-Remaining-Day", strconv.FormatInt(d.RemainingDaily, 10))
}

// tagIdentity records the identity key for access logs.
func tagIdentity(c *gin.Context, identity model.Identity) {
	if identity.Key == "" {
		return
	}
	c.Request = c.Request.WithContext(requestctx.WithIdentityKey(c.Request.Context(), identity.Key))
}
