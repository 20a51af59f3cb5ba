package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/kyrelabs/gateward"
	"github.com/kyrelabs/gateward/ratelimit"
)

// KeyFunc resolves the limiter key for a request.
type KeyFunc func(r *http.Request) string

// TierFunc resolves the caller's plan tier for per-tier policies.
type TierFunc func(r *http.Request) string

// LimitOptions configures [RateLimit].
type LimitOptions struct {
	// Scope names the policy to consult.
	Scope string

	// KeyFn overrides key resolution. The default keys on the verified
	// subject when a guard ran earlier in the chain, else on client IP.
	KeyFn KeyFunc

	// TierFn resolves the caller's tier. Optional.
	TierFn TierFunc

	// KeyHeader, when set, is consulted first by the default key
	// function, for API-key-based partner scopes.
	KeyHeader string

	// TrustXForwardedFor enables X-Forwarded-For in the default key
	// function. Only safe behind a proxy that strips the inbound header.
	TrustXForwardedFor bool

	// Cost is the per-request budget charge. Zero means the policy
	// default.
	Cost int64
}

// RateLimit enforces the scope's policy. Every response carries
// RateLimit-Limit, RateLimit-Remaining, and RateLimit-Reset; a denial
// additionally carries Retry-After and status 429. Store outages pass
// the request through, per the engine's fail-open contract.
func RateLimit(gw *gateward.Gateway, opts LimitOptions) func(http.Handler) http.Handler {
	keyFn := opts.KeyFn
	if keyFn == nil {
		keyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			tier := ""
			if opts.TierFn != nil {
				tier = opts.TierFn(r)
			}

			decision := gw.CheckN(r.Context(), opts.Scope, key, tier, opts.Cost)
			setRateHeaders(w, decision)

			if !decision.Allowed {
				retry := int(decision.RetryAfter.Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeJSONError(w, http.StatusTooManyRequests, errorBody{
					Code:       "rate_limited",
					RetryAfter: retry,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// DefaultKeyFunc keys on, in order: the configured header, the verified
// subject from an earlier guard, the first X-Forwarded-For hop when
// trusted, and finally the connection's remote address.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if identity, ok := gateward.IdentityFromContext(r.Context()); ok {
			return identity.SubjectID
		}

		return ClientIP(r, trustXFF)
	}
}

// ClientIP extracts the caller's source address. The X-Forwarded-For
// header is attacker-controlled unless a trusted proxy owns it, hence
// the explicit opt-in.
func ClientIP(r *http.Request, trustXFF bool) string {
	if trustXFF {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func setRateHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Limit == 0 {
		// Unconfigured scope: no policy, no headers.
		return
	}
	h := w.Header()
	h.Set("RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	h.Set("RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}
