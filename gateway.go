package gateward

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kyrelabs/gateward/metrics"
	"github.com/kyrelabs/gateward/ratelimit"
	"github.com/kyrelabs/gateward/revocation"
	"github.com/kyrelabs/gateward/token"
)

// Audit event types emitted by the gateway.
const (
	eventLogin          = "login"
	eventPairIssued     = "token_pair_issued"
	eventAccessRejected = "access_rejected"
	eventRefresh        = "token_refresh"
	eventRefreshReuse   = "refresh_reuse_detected"
	eventRevoke         = "token_revoked"
	eventRevokeAll      = "subject_tokens_revoked"
	eventLimiterDenied  = "rate_limit_denied"
	eventLimiterFailed  = "rate_limit_fail_open"
)

// Gateway is the assembled access-control engine. Build one through
// [Builder]; all methods are safe for concurrent use.
type Gateway struct {
	config      Config
	tokens      *token.Manager
	revocations revocation.Store
	limiter     *ratelimit.Engine
	provider    CredentialProvider
	audit       *auditDispatcher
	metrics     *metrics.Set
	logger      *slog.Logger
}

// Login throttles the attempt, verifies credentials through the
// provider, reports the outcome back to the limiter, and mints a pair.
// key identifies the attempt source for throttling, usually the client
// IP; it never influences the credential check itself.
func (g *Gateway) Login(ctx context.Context, identifier, secret, key string) (TokenPair, error) {
	scope := g.config.Limits.AuthScope
	if scope != "" {
		decision := g.Check(ctx, scope, key, "")
		if !decision.Allowed {
			g.emit(ctx, AuditEvent{
				EventType: eventLogin,
				Key:       key,
				Error:     ErrRateLimited.Error(),
			})
			return TokenPair{}, &RateLimitError{RetryAfter: decision.RetryAfter}
		}
	}

	if g.provider == nil {
		return TokenPair{}, errors.New("no credential provider configured")
	}

	subject, err := g.provider.Authenticate(ctx, identifier, secret)
	if scope != "" {
		g.ReportOutcome(ctx, scope, key, err == nil)
	}
	if err != nil {
		g.emit(ctx, AuditEvent{
			EventType: eventLogin,
			Key:       key,
			Error:     ErrInvalidCredentials.Error(),
		})
		if errors.Is(err, ErrInvalidCredentials) {
			return TokenPair{}, err
		}
		return TokenPair{}, ErrInvalidCredentials
	}

	pair, err := g.IssuePair(ctx, subject.ID, subject.Role)
	if err != nil {
		return TokenPair{}, err
	}

	g.emit(ctx, AuditEvent{
		EventType: eventLogin,
		SubjectID: subject.ID,
		Key:       key,
		Success:   true,
	})
	return pair, nil
}

// Check evaluates one request against the scope's policy. Store outages
// convert into an allow with Decision.FailedOpen set.
func (g *Gateway) Check(ctx context.Context, scope, key, tier string) ratelimit.Decision {
	return g.CheckN(ctx, scope, key, tier, 0)
}

// CheckN is Check with an endpoint-declared cost.
func (g *Gateway) CheckN(ctx context.Context, scope, key, tier string, cost int64) ratelimit.Decision {
	limiterCtx, cancel := g.storeCtx(ctx)
	defer cancel()

	decision := g.limiter.CheckN(limiterCtx, scope, key, tier, cost)
	g.observeDecision(ctx, scope, key, decision)
	return decision
}

// ReportOutcome feeds an authentication result into a failure-counting
// scope. No-op for other scopes.
func (g *Gateway) ReportOutcome(ctx context.Context, scope, key string, success bool) {
	limiterCtx, cancel := g.storeCtx(ctx)
	defer cancel()

	g.limiter.ReportOutcome(limiterCtx, scope, key, success)
}

// LimitPolicy returns the configured policy for a scope.
func (g *Gateway) LimitPolicy(scope string) (ratelimit.Policy, bool) {
	return g.limiter.Policy(scope)
}

// StartSweeper removes expired revocation records periodically until
// ctx is done. Interval comes from StoreConfig.SweepInterval; zero
// disables the sweeper.
func (g *Gateway) StartSweeper(ctx context.Context) {
	every := g.config.Store.SweepInterval
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				swept, err := g.revocations.SweepExpired(ctx)
				if err != nil {
					g.logger.Warn("revocation sweep failed", slog.Any("error", err))
					continue
				}
				if swept > 0 {
					g.logger.Debug("revocation sweep", slog.Int("removed", swept))
				}
			}
		}
	}()
}

// Ping reports revocation-store reachability, for readiness probes.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.revocations.Ping(ctx); err != nil {
		return ErrStoreUnavailable
	}
	return nil
}

// AuditDropped reports how many audit events were shed since startup.
func (g *Gateway) AuditDropped() uint64 {
	return g.audit.Dropped()
}

// Close flushes the audit dispatcher. The gateway must not be used
// afterwards.
func (g *Gateway) Close() {
	g.audit.Close()
}

func (g *Gateway) observeDecision(ctx context.Context, scope, key string, decision ratelimit.Decision) {
	if m := g.metrics; m != nil {
		switch {
		case decision.FailedOpen:
			m.IncScope(m.LimiterFailOpen, scope)
		case decision.Allowed:
			m.IncScope(m.LimiterAllowed, scope)
		default:
			m.IncScope(m.LimiterDenied, scope)
		}
	}
	if !decision.Allowed {
		g.emit(ctx, AuditEvent{
			EventType: eventLimiterDenied,
			Scope:     scope,
			Key:       key,
		})
	}
}

// onLimiterFailOpen is registered as the engine's fail-open hook.
func (g *Gateway) onLimiterFailOpen(scope, key string, err error) {
	g.emit(context.Background(), AuditEvent{
		EventType: eventLimiterFailed,
		Scope:     scope,
		Key:       key,
		Error:     err.Error(),
	})
}

func (g *Gateway) emit(ctx context.Context, event AuditEvent) {
	if g.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	g.audit.Emit(ctx, event)
}

// storeCtx bounds one store round trip, revocation or counter.
func (g *Gateway) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.config.Store.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.config.Store.Timeout)
}
