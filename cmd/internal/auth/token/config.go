package token

import (
	"os"
	"time"
)

// Config defines runtime configuration for the token lifecycle.
//
// It controls token TTL, the proactive renewal threshold and the PASETO v4
// signing key, all environment-driven so deployments can tune security
// parameters without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of issued tokens.
	Issuer string

	// TTL is the validity window of issued tokens, anchored at issuance.
	TTL time.Duration

	// RenewThreshold is the remaining-validity cutoff below which a fresh
	// token is proactively pushed during a heartbeat.
	RenewThreshold time.Duration

	// SecretKeyHex is the hex-encoded Ed25519 secret key used to sign
	// PASETO v4.public tokens. When empty, an ephemeral key is generated at
	// startup (dev mode: tokens do not survive a restart).
	SecretKeyHex string
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		Issuer:         "hearth",
		TTL:            time.Hour,
		RenewThreshold: 300 * time.Second,
	}
}

// LoadConfigFromEnv loads token configuration from environment variables.
//
// Optional:
//   - HEARTH_TOKEN_ISSUER
//   - HEARTH_TOKEN_TTL
//   - HEARTH_TOKEN_RENEW_THRESHOLD
//   - HEARTH_PASETO_SECRET_KEY_HEX (generate with cmd/hearthkey)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("HEARTH_TOKEN_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("HEARTH_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TTL = d
	}

	if v := os.Getenv("HEARTH_TOKEN_RENEW_THRESHOLD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RenewThreshold = d
	}

	cfg.SecretKeyHex = os.Getenv("HEARTH_PASETO_SECRET_KEY_HEX")

	// A threshold at or above the TTL would renew on every heartbeat.
	if cfg.RenewThreshold >= cfg.TTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
