package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Authenticator verifies that a caller-supplied user id was signed by a
// trusted front end holding the shared secret.
type Authenticator struct {
	sharedSecret []byte
}

// NewAuthenticator returns nil when secret is empty, which disables signing.
func NewAuthenticator(secret string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{sharedSecret: []byte(secret)}
}

// Sign returns the hex HMAC-SHA256 of userID
func (a *Authenticator) Sign(userID string) string {
	h := hmac.New(sha256.New, a.sharedSecret)
	h.Write([]byte(userID))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks signature against userID in constant time
func (a *Authenticator) Verify(userID, signature string) bool {
	if signature == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.Sign(userID)), []byte(signature)) == 1
}
