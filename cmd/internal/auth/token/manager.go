// Package token issues, verifies and proactively renews the bearer tokens
// that authorize room actions.
//
// Tokens are PASETO v4.public (Ed25519). Renewal follows an overlap model: a
// freshly issued token never invalidates its predecessor, which stays valid
// until its own expiry.
package token

import (
	"log/slog"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Claims is the verified assertion carried by a bearer token.
type Claims struct {
	Identity  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HeartbeatResult is the outcome of a heartbeat check on a decodable token.
type HeartbeatResult struct {
	Identity  string
	ExpiresAt time.Time

	// Renewed is set when remaining validity dropped below the threshold.
	// NewToken/NewExpiresAt are only meaningful when Renewed is true.
	Renewed      bool
	NewToken     string
	NewExpiresAt time.Time
}

// Manager is the token lifecycle manager.
type Manager struct {
	issuer    string
	ttl       time.Duration
	threshold time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewManager constructs a Manager from config. With no configured key an
// ephemeral one is generated, which invalidates all tokens on restart.
func NewManager(cfg Config, log *slog.Logger) (*Manager, error) {
	if cfg.TTL <= 0 || cfg.RenewThreshold <= 0 || cfg.RenewThreshold >= cfg.TTL {
		return nil, ErrConfig
	}

	var secret paseto.V4AsymmetricSecretKey
	if cfg.SecretKeyHex == "" {
		secret = paseto.NewV4AsymmetricSecretKey()
		log.Warn("token.key.ephemeral", "hint", "set HEARTH_PASETO_SECRET_KEY_HEX for stable tokens")
	} else {
		var err error
		secret, err = paseto.NewV4AsymmetricSecretKeyFromHex(cfg.SecretKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
	}

	return &Manager{
		issuer:    cfg.Issuer,
		ttl:       cfg.TTL,
		threshold: cfg.RenewThreshold,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

// PublicKeyHex exports the verification key.
func (m *Manager) PublicKeyHex() string {
	return m.public.ExportHex()
}

// Issue signs a token for identity with the configured validity window.
func (m *Manager) Issue(identity string, now time.Time) (string, time.Time, error) {
	if identity == "" {
		return "", time.Time{}, ErrTokenInvalid
	}

	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetSubject(identity)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	return tok.V4Sign(m.secret, nil), exp, nil
}

// Verify checks signature, structure and validity window.
// Expired-but-well-formed tokens return ErrTokenExpired; everything else
// that fails returns ErrTokenInvalid.
func (m *Manager) Verify(tokenStr string, now time.Time) (Claims, error) {
	// NewParser would pin its time rules to the wall clock; the explicit
	// ValidAt(now) keeps the validity check anchored to the caller's clock.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.ValidAt(now))

	parsed, err := p.ParseV4Public(m.public, tokenStr, nil)
	if err != nil {
		// Distinguish a merely-expired token from garbage by re-parsing
		// without time rules: signature and structure only.
		if claims, derr := m.decode(tokenStr); derr == nil {
			if !claims.ExpiresAt.After(now) {
				return Claims{}, ErrTokenExpired
			}
		}
		return Claims{}, ErrTokenInvalid
	}

	return claimsFromToken(parsed)
}

// CheckHeartbeat decodes the token without enforcing expiry and decides
// whether a renewal is due. Structural or signature failure returns
// ErrTokenInvalid and the session must be torn down; otherwise a fresh token
// is issued when remaining validity is below the renewal threshold.
func (m *Manager) CheckHeartbeat(tokenStr string, now time.Time) (HeartbeatResult, error) {
	claims, err := m.decode(tokenStr)
	if err != nil {
		return HeartbeatResult{}, err
	}

	res := HeartbeatResult{
		Identity:  claims.Identity,
		ExpiresAt: claims.ExpiresAt,
	}

	if claims.ExpiresAt.Sub(now) < m.threshold {
		newToken, newExp, err := m.Issue(claims.Identity, now)
		if err != nil {
			return HeartbeatResult{}, err
		}
		res.Renewed = true
		res.NewToken = newToken
		res.NewExpiresAt = newExp
	}

	return res, nil
}

// decode parses signature and structure only; time claims are not enforced so
// renewal decisions can be made on already-expired tokens.
func (m *Manager) decode(tokenStr string) (Claims, error) {
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))

	parsed, err := p.ParseV4Public(m.public, tokenStr, nil)
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}
	return claimsFromToken(parsed)
}

func claimsFromToken(parsed *paseto.Token) (Claims, error) {
	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, ErrTokenInvalid
	}
	exp, err := parsed.GetExpiration()
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}
	iat, err := parsed.GetIssuedAt()
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}

	return Claims{Identity: sub, IssuedAt: iat, ExpiresAt: exp}, nil
}
