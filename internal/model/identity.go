package model

// Tier represents the pricing tier an identity is billed under.
type Tier string

const (
	TierAnonymous  Tier = "anonymous"
	TierRegistered Tier = "registered"
	TierPaid       Tier = "paid"
	TierPremium    Tier = "premium"
)

// String returns the string representation of the tier.
func (t Tier) String() string {
	return string(t)
}

// IsValid checks if the tier is valid.
func (t Tier) IsValid() bool {
	switch t {
	case TierAnonymous, TierRegistered, TierPaid, TierPremium:
		return true
	}
	return false
}

// IdentitySource records which resolution step produced an identity key.
type IdentitySource string

const (
	IdentitySourceAccount IdentitySource = "account"
	IdentitySourceSession IdentitySource = "session"
	IdentitySourceDevice  IdentitySource = "device"
)

// Identity key prefixes.
const (
	AccountKeyPrefix = "acct:"
	SessionKeyPrefix = "sess:"
	DeviceKeyPrefix  = "dev:"
)

// Identity is the resolved principal a request is charged against.
// It is derived per request and never persisted on its own. DeviceKey is the
// device fingerprint key of anonymous identities.
type Identity struct {
	Key       string         `json:"key"`
	Tier      Tier           `json:"tier"`
	Source    IdentitySource `json:"source"`
	AccountID string         `json:"account_id,omitempty"`
	DeviceKey string         `json:"-"`
}

// IsAccount reports whether the identity belongs to an authenticated account.
func (i Identity) IsAccount() bool {
	return i.Source == IdentitySourceAccount
}

// RequestSignals is what the identity collaborator hands over for one request.
type RequestSignals struct {
	BearerToken  string `json:"-"`
	SessionToken string `json:"-"`
	UserAgent    string `json:"user_agent"`
	Viewport     string `json:"viewport"`
	Timezone     string `json:"timezone"`
}

// Resolution is the result of resolving a request to an identity.
// MintedSessionToken is set only when the caller presented no usable session.
type Resolution struct {
	Identity           Identity `json:"identity"`
	MintedSessionToken string   `json:"-"`
}
