package portal

import (
	"errors"
	"log/slog"
	"time"
)

// Config controls the portal.
type Config struct {
	Issuer       string
	SecretKeyHex string
	TokenTTL     time.Duration
	ClockSkew    time.Duration

	// LoginMax failed logins per client IP within LoginWindow; zero disables throttling.
	LoginMax    int
	LoginWindow time.Duration
}

// DefaultConfig returns development-friendly defaults. SecretKeyHex is left empty.
func DefaultConfig() Config {
	return Config{
		Issuer:      "pairline",
		TokenTTL:    12 * time.Hour,
		ClockSkew:   30 * time.Second,
		LoginMax:    10,
		LoginWindow: 5 * time.Minute,
	}
}

// Issued is the result of a successful login.
type Issued struct {
	Token     string
	ExpiresAt time.Time
	Username  string
	Session   string
}

// Service authenticates portal users.
type Service struct {
	log      *slog.Logger
	users    *Users
	tokens   *TokenManager
	throttle *Throttle

	dummyHash string
}

// NewService constructs a Service over users.
func NewService(cfg Config, users *Users, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	if users == nil || users.Len() == 0 {
		return nil, errors.Join(ErrConfig, errors.New("portal: no users"))
	}

	tokens, err := NewTokenManager(cfg.SecretKeyHex, cfg.Issuer, cfg.TokenTTL, cfg.ClockSkew)
	if err != nil {
		return nil, err
	}

	s := &Service{
		log:      log,
		users:    users,
		tokens:   tokens,
		throttle: NewThrottle(cfg.LoginMax, cfg.LoginWindow),
	}

	// Dummy hash for timing-resistant checks of unknown usernames.
	if h, err := HashPassword("dummy-password-for-timing-only", DefaultArgon2idParams()); err == nil {
		s.dummyHash = h
	}
	return s, nil
}

// Login verifies credentials for a client identified by clientKey (its IP).
func (s *Service) Login(clientKey, username, password string, now time.Time) (Issued, error) {
	if blocked, retry := s.throttle.Blocked(clientKey, now); blocked {
		s.log.Warn("portal.login.throttled", "client", clientKey, "retry_after", retry.String())
		return Issued{}, ThrottleError{RetryAfter: retry}
	}

	usr, ok := s.users.Lookup(username)
	if !ok {
		if s.dummyHash != "" {
			_, _ = VerifyPassword(s.dummyHash, password)
		}
		s.throttle.Fail(clientKey, now)
		s.log.Info("portal.login.failed", "reason", "not_found", "client", clientKey)
		return Issued{}, ErrInvalidCredentials
	}

	match, err := VerifyPassword(usr.PasswordHash, password)
	if err != nil || !match {
		s.throttle.Fail(clientKey, now)
		s.log.Info("portal.login.failed", "reason", "bad_password", "username", usr.Username, "client", clientKey)
		return Issued{}, ErrInvalidCredentials
	}

	tok, exp, err := s.tokens.Issue(usr.Username, usr.Session, now)
	if err != nil {
		return Issued{}, err
	}
	s.throttle.Reset(clientKey)

	s.log.Info("portal.login.ok", "username", usr.Username, "session", usr.Session)
	return Issued{Token: tok, ExpiresAt: exp, Username: usr.Username, Session: usr.Session}, nil
}

// Authenticate verifies an access token and that its user still exists with
// the same session binding.
func (s *Service) Authenticate(token string, now time.Time) (Claims, error) {
	claims, err := s.tokens.Verify(token, now)
	if err != nil {
		return Claims{}, err
	}
	usr, ok := s.users.Lookup(claims.Username)
	if !ok || usr.Session != claims.Session {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
