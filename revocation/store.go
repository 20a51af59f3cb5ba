package revocation

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStoreUnavailable wraps any infrastructure failure. Callers on
	// the auth path must fail closed when they see it.
	ErrStoreUnavailable = errors.New("revocation store unavailable")

	// ErrNotFound is returned when no record exists for a token ID.
	ErrNotFound = errors.New("refresh record not found")

	// ErrRevoked is returned when the record is already stamped. On the
	// rotation path this is the reuse-detection signal.
	ErrRevoked = errors.New("refresh record revoked")

	// ErrExpired is returned when the record's lifetime has passed.
	ErrExpired = errors.New("refresh record expired")
)

// Store is the contract the token service consumes. Implementations
// must support concurrent callers; Rotate and MarkRevoked must be
// atomic with respect to each other (no read-modify-write window in
// which a concurrent refresh can slip through).
type Store interface {
	// Put creates the record for a newly issued refresh token.
	Put(ctx context.Context, rec Record) error

	// Get returns the record for tokenID or ErrNotFound.
	Get(ctx context.Context, tokenID string) (Record, error)

	// Rotate atomically validates the old record (present, unrevoked,
	// unexpired, same subject), stamps it revoked, and creates next.
	// Exactly one of N concurrent Rotate calls for the same tokenID
	// succeeds; the rest observe ErrRevoked, ErrNotFound, or ErrExpired.
	Rotate(ctx context.Context, tokenID, subjectID string, next Record) error

	// MarkRevoked stamps the record. Idempotent: revoking an already
	// revoked or absent record is not an error. The returned bool
	// reports whether a live record was stamped by this call.
	MarkRevoked(ctx context.Context, tokenID string) (bool, error)

	// MarkAllRevokedForSubject stamps every live record for the subject
	// and returns how many were stamped.
	MarkAllRevokedForSubject(ctx context.Context, subjectID string) (int, error)

	// ListActive returns the subject's unrevoked, unexpired records.
	ListActive(ctx context.Context, subjectID string) ([]Record, error)

	// SweepExpired removes expired records and stale index entries,
	// returning the number cleaned. Safe to run periodically; records
	// also self-expire, so the sweep is hygiene rather than correctness.
	SweepExpired(ctx context.Context) (int, error)

	// Ping reports store reachability.
	Ping(ctx context.Context) error
}

// nowFunc is swapped in tests.
var nowFunc = time.Now
