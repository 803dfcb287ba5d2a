package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTooManyAttempts    = errors.New("too many authentication attempts")
)

// Authenticator gates access to collected diagnostics. It is consulted by
// the metadata API only, never on the collection path.
type Authenticator interface {
	// Authenticate reports whether token grants access.
	Authenticate(ctx context.Context, token string) bool
	// Attempt exchanges credentials for a token.
	Attempt(ctx context.Context, credentials map[string]string) (string, error)
	// Requires lists the credential names Attempt expects.
	Requires() []string
}

// NullAuthenticator grants access to everyone.
type NullAuthenticator struct{}

func (NullAuthenticator) Authenticate(context.Context, string) bool { return true }

func (NullAuthenticator) Attempt(context.Context, map[string]string) (string, error) {
	return "", nil
}

func (NullAuthenticator) Requires() []string { return nil }

const tokenSubject = "clockwork"

// SimpleAuthenticator checks a single bcrypt-hashed password and issues
// HS256 tokens that expire after ttl.
type SimpleAuthenticator struct {
	passwordHash []byte
	signingKey   []byte
	ttl          time.Duration
	limiter      *rate.Limiter
	parser       *jwt.Parser
	now          func() time.Time
}

// Option configures a SimpleAuthenticator.
type Option func(*SimpleAuthenticator)

// WithAttemptLimit limits password attempts to r per second with burst.
func WithAttemptLimit(r rate.Limit, burst int) Option {
	return func(a *SimpleAuthenticator) { a.limiter = rate.NewLimiter(r, burst) }
}

// WithClock replaces the time source used for token issue and expiry.
func WithClock(now func() time.Time) Option {
	return func(a *SimpleAuthenticator) { a.now = now }
}

// NewSimple returns a SimpleAuthenticator. passwordHash must be a bcrypt hash.
func NewSimple(passwordHash, signingKey string, ttl time.Duration, opts ...Option) (*SimpleAuthenticator, error) {
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, fmt.Errorf("password hash: %w", err)
	}
	if signingKey == "" {
		return nil, errors.New("signing key is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	a := &SimpleAuthenticator{
		passwordHash: []byte(passwordHash),
		signingKey:   []byte(signingKey),
		ttl:          ttl,
		limiter:      rate.NewLimiter(rate.Every(12*time.Second), 5),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithSubject(tokenSubject),
		jwt.WithTimeFunc(a.now),
	)
	return a, nil
}

func (a *SimpleAuthenticator) Requires() []string { return []string{"password"} }

func (a *SimpleAuthenticator) Attempt(_ context.Context, credentials map[string]string) (string, error) {
	if !a.limiter.Allow() {
		return "", ErrTooManyAttempts
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(credentials["password"])); err != nil {
		return "", ErrInvalidCredentials
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   tokenSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func (a *SimpleAuthenticator) Authenticate(_ context.Context, token string) bool {
	if token == "" {
		return false
	}
	parsed, err := a.parser.Parse(token, func(*jwt.Token) (any, error) {
		return a.signingKey, nil
	})
	return err == nil && parsed.Valid
}

// HashPassword returns the bcrypt hash to configure a SimpleAuthenticator with.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
