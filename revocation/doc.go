// Package revocation tracks the lifecycle of refresh tokens. Each
// issued refresh token has a durable record keyed by its token ID; the
// record is stamped revoked on logout, rotation, or explicit
// revocation, and self-expires after the token's natural lifetime.
//
// The store is the security anchor of the refresh flow: Rotate is a
// single atomic validate-revoke-replace operation, so two concurrent
// refresh calls with the same token produce exactly one winner. All
// implementations must preserve that property.
//
// Store errors always propagate. The token service treats them as a
// hard failure (fail closed); availability never trumps enforcement on
// this path.
package revocation
