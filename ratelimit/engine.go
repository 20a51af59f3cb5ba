package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Option configures an [Engine].
type Option func(*Engine)

// WithLogger sets the logger used for fail-open warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithFailOpenHook registers a callback invoked whenever a store error
// is converted into an allow decision. Hooks must not block.
func WithFailOpenHook(hook func(scope, key string, err error)) Option {
	return func(e *Engine) { e.onFailOpen = hook }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine computes allow/deny decisions per request. It owns policy and
// tier resolution; all counting happens in the [CounterStore].
type Engine struct {
	store      CounterStore
	buckets    *BucketStore
	scopes     map[string]Policy
	logger     *slog.Logger
	onFailOpen func(scope, key string, err error)
	now        func() time.Time
}

// NewEngine validates the scope policies and returns a ready engine.
func NewEngine(store CounterStore, scopes map[string]Policy, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store required")
	}
	for scope, policy := range scopes {
		if err := policy.Validate(); err != nil {
			return nil, fmt.Errorf("scope %q: %w", scope, err)
		}
	}

	e := &Engine{
		store:  store,
		scopes: scopes,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, policy := range scopes {
		if policy.Algorithm == TokenBucket {
			e.buckets = NewBucketStore()
			break
		}
	}

	return e, nil
}

// Policy returns the configured policy for a scope.
func (e *Engine) Policy(scope string) (Policy, bool) {
	p, ok := e.scopes[scope]
	return p, ok
}

// Check evaluates one request against the scope's policy at its default
// cost. Unknown scopes are allowed: an unconfigured scope is a wiring
// mistake, not a reason to drop traffic.
func (e *Engine) Check(ctx context.Context, scope, key, tier string) Decision {
	return e.CheckN(ctx, scope, key, tier, 0)
}

// CheckN evaluates one request with an endpoint-declared cost. A cost
// of zero falls back to the policy default.
func (e *Engine) CheckN(ctx context.Context, scope, key, tier string, cost int64) Decision {
	policy, ok := e.scopes[scope]
	if !ok {
		return Decision{Allowed: true}
	}

	limit, window := policy.resolve(tier)
	if cost <= 0 {
		cost = policy.cost()
	}
	now := e.now()

	if policy.Algorithm == TokenBucket {
		return e.checkBucket(scope, key, limit, window, cost, now)
	}

	storeKey := counterKey(scope, key)

	var (
		count  int64
		oldest time.Time
		ttl    time.Duration
		err    error
	)
	switch {
	case policy.SkipSuccessful && policy.Algorithm == FixedWindow:
		count, ttl, err = e.store.PeekFixed(ctx, storeKey)
		count += cost
	case policy.SkipSuccessful:
		count, oldest, err = e.store.PeekSliding(ctx, storeKey, window, now)
		count += cost
	case policy.Algorithm == FixedWindow:
		count, ttl, err = e.store.IncrFixed(ctx, storeKey, window, cost)
	default:
		count, oldest, err = e.store.IncrSliding(ctx, storeKey, window, cost, now)
	}
	if err != nil {
		return e.failOpen(scope, key, limit, window, now, err)
	}

	resetAt := now.Add(window)
	switch {
	case policy.Algorithm == FixedWindow && ttl > 0:
		resetAt = now.Add(ttl)
	case policy.Algorithm == SlidingWindow && !oldest.IsZero():
		resetAt = oldest.Add(window)
	}

	decision := Decision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: max64(0, limit-count),
		ResetAt:   resetAt,
	}
	if !decision.Allowed {
		decision.RetryAfter = clampRetry(resetAt.Sub(now), window)
	}
	return decision
}

// ReportOutcome feeds the authentication result back into a
// failure-counting scope: failures consume budget, success clears it.
// No-op for scopes without SkipSuccessful.
func (e *Engine) ReportOutcome(ctx context.Context, scope, key string, success bool) {
	policy, ok := e.scopes[scope]
	if !ok || !policy.SkipSuccessful {
		return
	}

	storeKey := counterKey(scope, key)
	var err error
	if success {
		err = e.store.Reset(ctx, storeKey)
	} else {
		_, window := policy.resolve("")
		if policy.Algorithm == FixedWindow {
			_, _, err = e.store.IncrFixed(ctx, storeKey, window, policy.cost())
		} else {
			_, _, err = e.store.IncrSliding(ctx, storeKey, window, policy.cost(), e.now())
		}
	}
	if err != nil {
		// Same fail-open stance as Check: losing one outcome report is
		// cheaper than coupling login latency to the counter store.
		e.reportFailOpen(scope, key, err)
	}
}

func (e *Engine) checkBucket(scope, key string, limit int64, window time.Duration, cost int64, now time.Time) Decision {
	lim := e.buckets.Get(counterKey(scope, key), limit, window)

	allowed := lim.AllowN(now, int(cost))
	remaining := int64(lim.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}

	decision := Decision{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   now.Add(window),
	}
	if !allowed {
		// Time until one token refills; the bucket has no hard window.
		perToken := time.Duration(int64(window) / limit)
		decision.RetryAfter = clampRetry(perToken, window)
	}
	return decision
}

func (e *Engine) failOpen(scope, key string, limit int64, window time.Duration, now time.Time, err error) Decision {
	e.reportFailOpen(scope, key, err)
	return Decision{
		Allowed:    true,
		Limit:      limit,
		Remaining:  limit,
		ResetAt:    now.Add(window),
		FailedOpen: true,
	}
}

func (e *Engine) reportFailOpen(scope, key string, err error) {
	if e.logger != nil {
		e.logger.Warn("rate limiter failing open",
			slog.String("scope", scope),
			slog.String("key", key),
			slog.Any("error", err))
	}
	if e.onFailOpen != nil {
		e.onFailOpen(scope, key, err)
	}
}

func counterKey(scope, key string) string {
	return scope + ":" + key
}

// clampRetry keeps the hint positive and never past the window.
func clampRetry(d, window time.Duration) time.Duration {
	if d <= 0 || d > window {
		return window
	}
	return d
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
