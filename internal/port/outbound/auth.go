package outbound

import "github.com/uniedit/creditgate/internal/model"

// AccountClaims holds the verified claims of an account token.
type AccountClaims struct {
	AccountID string
	Tier      model.Tier
}

// AccountTokenPort verifies account tokens issued by the identity collaborator.
type AccountTokenPort interface {
	// Verify validates the token and returns its claims.
	Verify(token string) (*AccountClaims, error)
}
