package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrCounterUnavailable wraps any counter-store infrastructure failure.
// The engine converts it to an allow decision; it never reaches callers.
var ErrCounterUnavailable = errors.New("counter store unavailable")

// CounterStore is the narrow contract the engine counts against. Every
// method is a single atomic operation scoped to one key; there are no
// multi-key transactions and no long-lived locks.
type CounterStore interface {
	// IncrFixed adds cost to the key's window counter, arming the
	// window TTL on first hit, and returns the post-increment count and
	// the time left in the window.
	IncrFixed(ctx context.Context, key string, window time.Duration, cost int64) (count int64, expiresIn time.Duration, err error)

	// PeekFixed reads the counter without incrementing. Missing keys
	// return zero, not an error.
	PeekFixed(ctx context.Context, key string) (count int64, expiresIn time.Duration, err error)

	// IncrSliding evicts timestamps older than now-window, inserts cost
	// entries at now, and returns the resulting count plus the oldest
	// surviving timestamp. Evict+insert+count is one atomic unit.
	IncrSliding(ctx context.Context, key string, window time.Duration, cost int64, now time.Time) (count int64, oldest time.Time, err error)

	// PeekSliding evicts and counts without inserting.
	PeekSliding(ctx context.Context, key string, window time.Duration, now time.Time) (count int64, oldest time.Time, err error)

	// Reset clears the key's state. Used by failure-counting scopes
	// after a successful outcome, and by tests.
	Reset(ctx context.Context, key string) error
}
