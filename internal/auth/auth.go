// Package auth provides shared-secret API authentication.
//
// Authentication model:
// - /healthz and /metrics: No auth required
// - /v1/*: Require the configured key in the x-api-key header
// - A single key is configured per deployment; there is no key issuance
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
)

// HeaderName is the request header carrying the shared secret.
const HeaderName = "x-api-key"

// Errors
var (
	ErrNoAPIKey     = errors.New("API key required")
	ErrUnauthorized = errors.New("invalid api key")
)

// Authenticator checks presented credentials against the configured secret.
type Authenticator struct {
	hash [sha256.Size]byte
}

// NewAuthenticator creates an authenticator for secret.
// An empty secret rejects every request.
func NewAuthenticator(secret string) *Authenticator {
	a := &Authenticator{}
	if secret != "" {
		a.hash = hashKey(secret)
	}
	return a
}

// Check returns nil only when credential equals the configured secret.
// Comparison is over fixed-size digests so timing does not depend on length.
func (a *Authenticator) Check(credential string) error {
	if credential == "" {
		return ErrNoAPIKey
	}
	var zero [sha256.Size]byte
	if a.hash == zero {
		return ErrUnauthorized
	}
	got := hashKey(credential)
	if subtle.ConstantTimeCompare(got[:], a.hash[:]) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func hashKey(key string) [sha256.Size]byte {
	return sha256.Sum256([]byte(key))
}
