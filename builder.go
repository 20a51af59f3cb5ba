package gateward

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/kyrelabs/gateward/metrics"
	"github.com/kyrelabs/gateward/ratelimit"
	"github.com/kyrelabs/gateward/revocation"
	"github.com/kyrelabs/gateward/token"
)

// Builder assembles a [Gateway]. Configure it during initialization and
// call Build once; a builder is not safe for concurrent use.
type Builder struct {
	config Config

	redis       redis.UniversalClient
	revocations revocation.Store
	counters    ratelimit.CounterStore

	provider CredentialProvider
	sink     AuditSink
	logger   *slog.Logger
	registry prometheus.Registerer

	built bool
}

// New returns a builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis supplies the Redis client backing both the revocation store
// and the counter store, unless explicit stores override it.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRevocationStore overrides the refresh-token record store.
func (b *Builder) WithRevocationStore(store revocation.Store) *Builder {
	b.revocations = store
	return b
}

// WithCounterStore overrides the rate-limit counter store.
func (b *Builder) WithCounterStore(store ratelimit.CounterStore) *Builder {
	b.counters = store
	return b
}

// WithCredentialProvider supplies the credential verifier Login uses.
// Optional when the embedding application never calls Login.
func (b *Builder) WithCredentialProvider(provider CredentialProvider) *Builder {
	b.provider = provider
	return b
}

// WithAuditSink routes security events to the given sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetrics registers the gateway's counters against reg. Without it
// the gateway runs unmetered.
func (b *Builder) WithMetrics(reg prometheus.Registerer) *Builder {
	b.registry = reg
	return b
}

// Build validates the configuration, wires the stores, and returns a
// ready gateway.
func (b *Builder) Build() (*Gateway, error) {
	if b.built {
		return nil, fmt.Errorf("%w: builder already used", ErrNotReady)
	}

	cfg := b.config.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}

	revocations := b.revocations
	counters := b.counters
	if revocations == nil || counters == nil {
		if b.redis == nil {
			return nil, fmt.Errorf("%w: redis client or explicit stores required", ErrNotReady)
		}
		if revocations == nil {
			revocations = revocation.NewRedisStore(b.redis, cfg.Store.Prefix)
		}
		if counters == nil {
			counters = ratelimit.NewRedisCounterStore(b.redis, cfg.Store.Prefix+":rl")
		}
	}

	manager, err := token.NewManager(cfg.Token.toManagerConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	var set *metrics.Set
	if b.registry != nil {
		set = metrics.NewSet(b.registry, "")
	}

	gw := &Gateway{
		config:      cfg,
		tokens:      manager,
		revocations: revocations,
		provider:    b.provider,
		audit:       newAuditDispatcher(cfg.Audit, b.sink),
		metrics:     set,
		logger:      logger,
	}

	engine, err := ratelimit.NewEngine(counters, cfg.Limits.Scopes,
		ratelimit.WithLogger(logger),
		ratelimit.WithFailOpenHook(gw.onLimiterFailOpen),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	gw.limiter = engine

	b.built = true

	return gw, nil
}
