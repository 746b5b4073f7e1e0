package portal

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Claims is what a portal access token asserts.
type Claims struct {
	Username  string
	Session   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenManager issues and verifies PASETO v4.public access tokens.
type TokenManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewTokenManager builds a TokenManager from a hex-encoded Ed25519 secret key.
func NewTokenManager(secretKeyHex, issuer string, ttl, clockSkew time.Duration) (*TokenManager, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(secretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}
	if ttl <= 0 || issuer == "" {
		return nil, ErrConfig
	}
	return &TokenManager{
		issuer:    issuer,
		ttl:       ttl,
		clockSkew: clockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

// NewSecretKeyHex generates a fresh signing key for PAIRLINE_PASETO_V4_SECRET_KEY_HEX.
func NewSecretKeyHex() string {
	return paseto.NewV4AsymmetricSecretKey().ExportHex()
}

// PublicKeyHex exports the verification key.
func (m *TokenManager) PublicKeyHex() string {
	return m.public.ExportHex()
}

// Issue signs a token binding username to session.
func (m *TokenManager) Issue(username, session string, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetSubject(username)
	if err := tok.Set("session", session); err != nil {
		return "", time.Time{}, err
	}

	return tok.V4Sign(m.secret, nil), exp, nil
}

// Verify checks signature, issuer and validity window.
func (m *TokenManager) Verify(token string, now time.Time) (Claims, error) {
	// Validate slightly in the future so a skewed nbf does not fail.
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(now.Add(m.clockSkew)))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, ErrInvalidToken
	}
	session, err := parsed.GetString("session")
	if err != nil || session == "" {
		return Claims{}, ErrInvalidToken
	}
	iat, _ := parsed.GetIssuedAt()
	exp, _ := parsed.GetExpiration()

	return Claims{Username: sub, Session: session, IssuedAt: iat, ExpiresAt: exp}, nil
}
