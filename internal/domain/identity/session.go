package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// macSize is the number of MAC bytes carried in a session token.
const macSize = 16

// SessionSigner mints and verifies anonymous session tokens.
//
// A token has the form "<uuid>.<mac>" where mac is a keyed BLAKE2b-256 over the
// session id and the device hash it was minted for. Tokens the service did not
// mint, or replayed from another device, fail verification.
type SessionSigner struct {
	key   [32]byte
	newID func() string
}

// NewSessionSigner creates a signer keyed by secret. An empty secret uses a
// random process-local key, so sessions do not survive a restart.
func NewSessionSigner(secret string) *SessionSigner {
	s := &SessionSigner{newID: uuid.NewString}
	if secret == "" {
		if _, err := rand.Read(s.key[:]); err != nil {
			panic("identity: read random session key: " + err.Error())
		}
		return s
	}
	s.key = blake2b.Sum256([]byte(secret))
	return s
}

// Mint returns a new session token bound to deviceHash.
func (s *SessionSigner) Mint(deviceHash string) string {
	return s.Sign(s.newID(), deviceHash)
}

// Sign returns the token for an existing session id.
func (s *SessionSigner) Sign(id, deviceHash string) string {
	return id + "." + hex.EncodeToString(s.mac(id, deviceHash))
}

// Verify returns the session id carried by token if it was minted for deviceHash.
func (s *SessionSigner) Verify(token, deviceHash string) (string, bool) {
	id, sig, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok {
		return "", false
	}
	u, err := uuid.Parse(id)
	if err != nil || u == uuid.Nil || u.String() != id {
		return "", false
	}
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) != macSize {
		return "", false
	}
	if subtle.ConstantTimeCompare(got, s.mac(id, deviceHash)) != 1 {
		return "", false
	}
	return id, true
}

func (s *SessionSigner) mac(id, deviceHash string) []byte {
	h, err := blake2b.New256(s.key[:])
	if err != nil {
		// Only fails for keys longer than 64 bytes
		panic("identity: " + err.Error())
	}
	h.Write([]byte(id))
	h.Write([]byte{'|'})
	h.Write([]byte(deviceHash))
	return h.Sum(nil)[:macSize]
}
