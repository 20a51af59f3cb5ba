package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Algorithm selects the accounting strategy for a scope.
type Algorithm int

const (
	// FixedWindow counts against a window-aligned counter.
	FixedWindow Algorithm = iota
	// SlidingWindow counts timestamps inside a moving window.
	SlidingWindow
	// TokenBucket smooths bursts with x/time/rate. In-process only.
	TokenBucket
)

func (a Algorithm) String() string {
	switch a {
	case FixedWindow:
		return "fixed_window"
	case SlidingWindow:
		return "sliding_window"
	case TokenBucket:
		return "token_bucket"
	default:
		return "unknown"
	}
}

// TierLimit overrides the base limit/window for one plan tier.
type TierLimit struct {
	Limit  int64
	Window time.Duration
}

// Policy is the limiting rule for one scope ("auth", "api", ...).
type Policy struct {
	Algorithm Algorithm
	Limit     int64
	Window    time.Duration

	// Cost is the default increment per request; endpoints may override
	// it per call via CheckN. Zero means 1.
	Cost int64

	// PerTier maps a caller's plan tier to an override. Resolution is a
	// pure lookup and happens before the atomic store operation.
	PerTier map[string]TierLimit

	// SkipSuccessful switches the scope to failure counting: Check
	// reads without incrementing, and the caller reports the outcome
	// via ReportOutcome. Meant for auth scopes where successful logins
	// should not consume budget.
	SkipSuccessful bool
}

// Validate rejects policies the engine cannot enforce.
func (p Policy) Validate() error {
	if p.Limit <= 0 {
		return errors.New("policy limit must be positive")
	}
	if p.Window <= 0 {
		return errors.New("policy window must be positive")
	}
	if p.Cost < 0 {
		return errors.New("policy cost must not be negative")
	}
	for tier, tl := range p.PerTier {
		if tl.Limit <= 0 || tl.Window <= 0 {
			return fmt.Errorf("tier %q override must have positive limit and window", tier)
		}
	}
	if p.SkipSuccessful && p.Algorithm == TokenBucket {
		return errors.New("token bucket does not support failure counting")
	}
	return nil
}

// resolve returns the effective limit and window for a tier.
func (p Policy) resolve(tier string) (int64, time.Duration) {
	if tl, ok := p.PerTier[tier]; ok {
		return tl.Limit, tl.Window
	}
	return p.Limit, p.Window
}

func (p Policy) cost() int64 {
	if p.Cost <= 0 {
		return 1
	}
	return p.Cost
}

// Decision is the outcome of one limiter check, with everything the
// HTTP layer needs for RateLimit-* headers.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time

	// RetryAfter is a backoff hint, set only when the request is denied.
	RetryAfter time.Duration

	// FailedOpen marks a decision produced by the fail-open path rather
	// than by counting. Observability only; callers must still allow.
	FailedOpen bool
}
