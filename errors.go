package gateward

import (
	"errors"
	"time"
)

// Every failure the gateway reports is wrapped in exactly one of these
// sentinels, so callers branch with errors.Is instead of string checks.
// Deliberately coarse on the auth path: a caller learns "invalid",
// "expired", or "revoked", never which internal check tripped first.
var (
	// ErrInvalidCredentials is returned by Login when the credential
	// provider rejects the identifier/secret pair.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTokenInvalid covers malformed, tampered, wrong-kind, and
	// wrong-audience tokens.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenExpired is returned for tokens past their lifetime.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked is returned when a refresh token's record is
	// stamped revoked. Seeing it on the rotation path means the token
	// was already spent: either a racing client or a stolen token.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrRateLimited is returned when a limiter scope denies the call.
	ErrRateLimited = errors.New("rate limited")

	// ErrStoreUnavailable is returned when the revocation store cannot
	// be reached. Auth-path operations fail closed on it.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotReady is returned by Build when mandatory collaborators are
	// missing.
	ErrNotReady = errors.New("gateway not ready")
)

// RateLimitError is the concrete denial Login returns. It matches
// errors.Is(err, ErrRateLimited) and carries the retry hint the HTTP
// layer renders as Retry-After.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return ErrRateLimited.Error() }

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
