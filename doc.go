// Package gateward is an access-control and abuse-protection gateway
// for APIs: issuance, verification, rotation, and revocation of bearer
// token pairs, plus distributed rate limiting, behind one [Gateway]
// built through [Builder].
//
// The two halves carry opposite failure policies, on purpose. Token
// issuance and rotation fail CLOSED: if the revocation store is
// unreachable, the operation is denied with [ErrStoreUnavailable]. The
// rate limiter fails OPEN: a counter-store outage converts the check
// into an allow plus an observability event. Reimplementations must
// preserve this asymmetry.
//
// # Architecture boundaries
//
// gateward is the public surface. Token signing lives in token/, the
// refresh-token records in revocation/, window accounting in ratelimit/,
// and HTTP glue in middleware/. Credential verification and user
// storage are collaborator interfaces ([CredentialProvider]); the
// gateway never hashes a password or stores a profile.
//
// # Performance contract
//
// VerifyAccess is the hot path: pure CPU, no store round trip, no
// allocation beyond the returned identity. Refresh, IssuePair, and the
// revoke operations are allowed one store round trip; the limiter check
// is exactly one atomic store operation.
package gateward
