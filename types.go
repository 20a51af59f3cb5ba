package gateward

import (
	"context"
	"time"
)

// Subject is the authenticated principal as reported by the credential
// provider. The gateway stores none of it beyond what tokens and
// revocation records carry.
type Subject struct {
	ID   string
	Role string
	Tier string
}

// CredentialProvider verifies an identifier/secret pair. Implementations
// own hashing, lockout policy, and user storage; the gateway only
// consumes the verdict. Return [ErrInvalidCredentials] (or any error
// wrapping it) on rejection.
type CredentialProvider interface {
	Authenticate(ctx context.Context, identifier, secret string) (Subject, error)
}

// Identity is the verified result of an access token check. It carries
// everything a request handler needs for authorization decisions.
type Identity struct {
	SubjectID string
	Role      string
	ExpiresAt time.Time
}

// TokenPair is one issuance: a short-lived access token and the refresh
// token that can replace it.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// SessionInfo describes one live refresh token, for "your active
// sessions" listings. The token itself is never included.
type SessionInfo struct {
	TokenID       string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	UserAgent     string
	SourceAddress string
}
