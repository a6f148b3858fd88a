package identity

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/inbound"
	"github.com/uniedit/creditgate/internal/port/outbound"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// Resolver derives the identity a request is charged against.
// Resolution order: verified account token, then signed session token, then device signals.
type Resolver struct {
	tokens   outbound.AccountTokenPort
	sessions *SessionSigner
	logger   *zap.Logger
}

// Compile-time interface check
var _ inbound.IdentityResolver = (*Resolver)(nil)

// NewResolver creates a new identity resolver. tokens may be nil when no
// account token verification is configured; a nil sessions uses a random key.
func NewResolver(tokens outbound.AccountTokenPort, sessions *SessionSigner, logger *zap.Logger) *Resolver {
	if sessions == nil {
		sessions = NewSessionSigner("")
	}
	return &Resolver{
		tokens:   tokens,
		sessions: sessions,
		logger:   logger.Named("identity"),
	}
}

// Resolve never fails: invalid credentials degrade to the next step.
// Anonymous identities carry the device key so sessions from one device share its quota.
func (r *Resolver) Resolve(ctx context.Context, signals *model.RequestSignals) *model.Resolution {
	if signals == nil {
		signals = &model.RequestSignals{}
	}

	if id, ok := r.fromAccountToken(signals.BearerToken); ok {
		return &model.Resolution{Identity: id}
	}

	device := DeviceHash(signals)
	deviceKey := model.DeviceKeyPrefix + device

	if id, ok := r.sessions.Verify(signals.SessionToken, device); ok {
		return &model.Resolution{Identity: model.Identity{
			Key:       model.SessionKeyPrefix + id,
			Tier:      model.TierAnonymous,
			Source:    model.IdentitySourceSession,
			DeviceKey: deviceKey,
		}}
	}
	if signals.SessionToken != "" {
		r.logger.Debug("session token rejected", zap.String("device", deviceKey))
	}

	// First contact: charge the device fingerprint and hand out a session for next time.
	return &model.Resolution{
		Identity: model.Identity{
			Key:       deviceKey,
			Tier:      model.TierAnonymous,
			Source:    model.IdentitySourceDevice,
			DeviceKey: deviceKey,
		},
		MintedSessionToken: r.sessions.Mint(device),
	}
}

func (r *Resolver) fromAccountToken(token string) (model.Identity, bool) {
	token = strings.TrimSpace(token)
	if token == "" || r.tokens == nil {
		return model.Identity{}, false
	}

	claims, err := r.tokens.Verify(token)
	if err != nil {
		r.logger.Debug("account token rejected", zap.Error(err))
		return model.Identity{}, false
	}
	if claims.AccountID == "" {
		return model.Identity{}, false
	}

	tier := claims.Tier
	if !tier.IsValid() || tier == model.TierAnonymous {
		tier = model.TierRegistered
	}
	return model.Identity{
		Key:       model.AccountKeyPrefix + claims.AccountID,
		Tier:      tier,
		Source:    model.IdentitySourceAccount,
		AccountID: claims.AccountID,
	}, true
}

// DeviceHash hashes the low-entropy client signals into a stable fingerprint.
func DeviceHash(signals *model.RequestSignals) string {
	material := strings.Join([]string{
		userAgentClass(signals.UserAgent),
		viewportBucket(signals.Viewport),
		strings.ToLower(strings.TrimSpace(signals.Timezone)),
	}, "|")
	sum := blake2b.Sum256([]byte(material))
	return hex.EncodeToString(sum[:16])
}
