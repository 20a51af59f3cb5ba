package gateward

import (
	"encoding/base64"
	"time"

	"github.com/allisson/go-env"

	"github.com/kyrelabs/gateward/token"
)

// ConfigFromEnv builds a Config from GATEWARD_* environment variables,
// falling back to [DefaultConfig] values. Key material is expected
// base64 encoded; an unset or malformed key comes through empty and is
// rejected later by Build.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	cfg.Token.AccessTTL = env.GetDuration("GATEWARD_ACCESS_TTL_SECONDS", int64(cfg.Token.AccessTTL/time.Second), time.Second)
	cfg.Token.RefreshTTL = env.GetDuration("GATEWARD_REFRESH_TTL_SECONDS", int64(cfg.Token.RefreshTTL/time.Second), time.Second)
	cfg.Token.SigningMethod = token.SigningMethod(env.GetString("GATEWARD_SIGNING_METHOD", string(cfg.Token.SigningMethod)))
	cfg.Token.PrivateKey = keyFromEnv("GATEWARD_PRIVATE_KEY")
	cfg.Token.PublicKey = keyFromEnv("GATEWARD_PUBLIC_KEY")
	cfg.Token.Issuer = env.GetString("GATEWARD_ISSUER", cfg.Token.Issuer)
	cfg.Token.Audience = env.GetString("GATEWARD_AUDIENCE", "")
	cfg.Token.Leeway = env.GetDuration("GATEWARD_LEEWAY_SECONDS", 0, time.Second)
	cfg.Token.KeyID = env.GetString("GATEWARD_KEY_ID", "")
	cfg.Token.MaxFutureIAT = env.GetDuration("GATEWARD_MAX_FUTURE_IAT_SECONDS", 0, time.Second)

	cfg.Store.Prefix = env.GetString("GATEWARD_STORE_PREFIX", cfg.Store.Prefix)
	cfg.Store.Timeout = env.GetDuration("GATEWARD_STORE_TIMEOUT_MS", int64(cfg.Store.Timeout/time.Millisecond), time.Millisecond)
	cfg.Store.SweepInterval = env.GetDuration("GATEWARD_SWEEP_INTERVAL_SECONDS", int64(cfg.Store.SweepInterval/time.Second), time.Second)

	cfg.Audit.BufferSize = env.GetInt("GATEWARD_AUDIT_BUFFER", cfg.Audit.BufferSize)
	cfg.Audit.BlockWhenFull = env.GetBool("GATEWARD_AUDIT_BLOCK_WHEN_FULL", false)

	return cfg
}

func keyFromEnv(name string) []byte {
	raw := env.GetString(name, "")
	if raw == "" {
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	return decoded
}
