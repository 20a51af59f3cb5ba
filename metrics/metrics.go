// Package metrics exposes the gateway's operational counters through
// prometheus/client_golang. A [Set] registers against a caller-supplied
// registerer, so embedding applications keep control of their registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set holds the gateway's counters. A nil *Set is a valid no-op.
type Set struct {
	PairsIssued     prometheus.Counter
	AccessVerified  prometheus.Counter
	AccessRejected  prometheus.Counter
	RefreshSuccess  prometheus.Counter
	RefreshFailure  prometheus.Counter
	RefreshReuse    prometheus.Counter
	Revocations     prometheus.Counter
	StoreFailures   prometheus.Counter
	LimiterAllowed  *prometheus.CounterVec
	LimiterDenied   *prometheus.CounterVec
	LimiterFailOpen *prometheus.CounterVec
}

// NewSet creates and registers the counter set. namespace prefixes all
// metric names; pass "" for the default "gateward".
func NewSet(reg prometheus.Registerer, namespace string) *Set {
	if namespace == "" {
		namespace = "gateward"
	}
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}
	scoped := func(name, help string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"scope"})
	}

	return &Set{
		PairsIssued:     counter("token_pairs_issued_total", "Token pairs minted by issuance and refresh."),
		AccessVerified:  counter("access_verified_total", "Access tokens verified successfully."),
		AccessRejected:  counter("access_rejected_total", "Access tokens rejected as invalid or expired."),
		RefreshSuccess:  counter("refresh_success_total", "Refresh rotations completed."),
		RefreshFailure:  counter("refresh_failure_total", "Refresh attempts rejected."),
		RefreshReuse:    counter("refresh_reuse_detected_total", "Rotated refresh tokens presented again; possible theft."),
		Revocations:     counter("revocations_total", "Records stamped revoked by revoke operations."),
		StoreFailures:   counter("store_failures_total", "Revocation store failures surfaced on the auth path."),
		LimiterAllowed:  scoped("limiter_allowed_total", "Requests allowed by the rate limiter."),
		LimiterDenied:   scoped("limiter_denied_total", "Requests denied by the rate limiter."),
		LimiterFailOpen: scoped("limiter_fail_open_total", "Limiter decisions converted to allow by store failure."),
	}
}

// Handler serves the given gatherer in Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Inc increments c when the set is live.
func (s *Set) Inc(c prometheus.Counter) {
	if s == nil || c == nil {
		return
	}
	c.Inc()
}

// IncScope increments the scoped counter when the set is live.
func (s *Set) IncScope(vec *prometheus.CounterVec, scope string) {
	if s == nil || vec == nil {
		return
	}
	vec.WithLabelValues(scope).Inc()
}
