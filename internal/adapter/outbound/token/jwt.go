package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/outbound"
	"github.com/uniedit/creditgate/internal/shared/clock"
)

// ErrNoSecret is returned when account tokens are verified without a configured secret.
var ErrNoSecret = errors.New("account token secret not configured")

// accountClaims is the payload the identity collaborator signs.
type accountClaims struct {
	Tier string `json:"tier,omitempty"`
	jwt.RegisteredClaims
}

// jwtVerifier implements outbound.AccountTokenPort for HS256 tokens.
type jwtVerifier struct {
	secret []byte
	clock  clock.Clock
}

// NewJWTVerifier creates an account token verifier.
func NewJWTVerifier(secret string, clk clock.Clock) outbound.AccountTokenPort {
	return &jwtVerifier{
		secret: []byte(secret),
		clock:  clk,
	}
}

// Verify validates the token and returns its claims.
func (v *jwtVerifier) Verify(tokenString string) (*outbound.AccountClaims, error) {
	if len(v.secret) == 0 {
		return nil, ErrNoSecret
	}

	claims := &accountClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("missing subject")
	}

	return &outbound.AccountClaims{
		AccountID: claims.Subject,
		Tier:      model.Tier(claims.Tier),
	}, nil
}

// Compile-time check
var _ outbound.AccountTokenPort = (*jwtVerifier)(nil)
