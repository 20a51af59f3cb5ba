package gateward

import (
	"errors"
	"fmt"
	"time"

	"github.com/kyrelabs/gateward/ratelimit"
	"github.com/kyrelabs/gateward/token"
)

// Config is read once by [Builder.Build] and never mutated afterwards.
// Zero values fall back to the defaults below.
type Config struct {
	Token  TokenConfig
	Limits LimitsConfig
	Store  StoreConfig
	Audit  AuditConfig
}

// TokenConfig carries signing material and token lifetimes.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod token.SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// MaxFutureIAT caps how far in the future a token's iat may lie.
	// Zero means the token manager's default.
	MaxFutureIAT time.Duration
}

// LimitsConfig maps scope names to rate policies. AuthScope names the
// scope Login consults before touching the credential provider; leave
// it empty to run Login unthrottled.
type LimitsConfig struct {
	Scopes    map[string]ratelimit.Policy
	AuthScope string
}

// StoreConfig bounds the gateway's store round trips.
type StoreConfig struct {
	// Prefix namespaces every Redis key the gateway writes.
	Prefix string

	// Timeout caps each store operation, revocation and counter alike.
	// Applied on top of the caller's context so a hung store cannot
	// stall the auth path.
	Timeout time.Duration

	// SweepInterval drives StartSweeper. Zero disables sweeping.
	SweepInterval time.Duration
}

// AuditConfig sizes the event dispatcher.
type AuditConfig struct {
	BufferSize int

	// BlockWhenFull makes emission wait for buffer space instead of
	// shedding the event. Off by default: losing an audit event is
	// cheaper than stalling logins.
	BlockWhenFull bool
}

// DefaultConfig returns the baseline: 15 minute access tokens, 7 day
// refresh tokens, a failure-counting auth scope, and a general API
// scope. Signing material must still be supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: token.MethodEd25519,
			Issuer:        "gateward",
		},
		Limits: LimitsConfig{
			AuthScope: "auth",
			Scopes: map[string]ratelimit.Policy{
				"auth": {
					Algorithm:      ratelimit.SlidingWindow,
					Limit:          5,
					Window:         15 * time.Minute,
					SkipSuccessful: true,
				},
				"api": {
					Algorithm: ratelimit.FixedWindow,
					Limit:     100,
					Window:    time.Minute,
				},
			},
		},
		Store: StoreConfig{
			Prefix:        "gw",
			Timeout:       2 * time.Second,
			SweepInterval: time.Hour,
		},
		Audit: AuditConfig{
			BufferSize: 256,
		},
	}
}

// Validate checks the parts the token and limiter constructors do not
// cover themselves.
func (c Config) Validate() error {
	if c.Store.Timeout < 0 {
		return errors.New("store timeout must not be negative")
	}
	if c.Store.SweepInterval < 0 {
		return errors.New("sweep interval must not be negative")
	}
	if c.Audit.BufferSize < 0 {
		return errors.New("audit buffer size must not be negative")
	}
	if c.Limits.AuthScope != "" {
		if _, ok := c.Limits.Scopes[c.Limits.AuthScope]; !ok {
			return fmt.Errorf("auth scope %q has no policy", c.Limits.AuthScope)
		}
	}
	return nil
}

// withDefaults fills zero values from [DefaultConfig] without touching
// anything the caller set.
func (c Config) withDefaults() Config {
	def := DefaultConfig()

	if c.Token.AccessTTL == 0 {
		c.Token.AccessTTL = def.Token.AccessTTL
	}
	if c.Token.RefreshTTL == 0 {
		c.Token.RefreshTTL = def.Token.RefreshTTL
	}
	if c.Token.SigningMethod == "" {
		c.Token.SigningMethod = def.Token.SigningMethod
	}
	if c.Token.Issuer == "" {
		c.Token.Issuer = def.Token.Issuer
	}
	if c.Limits.Scopes == nil {
		c.Limits.Scopes = def.Limits.Scopes
		if c.Limits.AuthScope == "" {
			c.Limits.AuthScope = def.Limits.AuthScope
		}
	}
	if c.Store.Prefix == "" {
		c.Store.Prefix = def.Store.Prefix
	}
	if c.Store.Timeout == 0 {
		c.Store.Timeout = def.Store.Timeout
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = def.Audit.BufferSize
	}
	return c
}

func (c TokenConfig) toManagerConfig() token.Config {
	return token.Config{
		AccessTTL:     c.AccessTTL,
		RefreshTTL:    c.RefreshTTL,
		SigningMethod: c.SigningMethod,
		PrivateKey:    c.PrivateKey,
		PublicKey:     c.PublicKey,
		Issuer:        c.Issuer,
		Audience:      c.Audience,
		Leeway:        c.Leeway,
		KeyID:         c.KeyID,
		VerifyKeys:    c.VerifyKeys,
		MaxFutureIAT:  c.MaxFutureIAT,
	}
}
