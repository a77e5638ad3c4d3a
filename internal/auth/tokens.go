package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/backedbyquantum/accounts/internal/apperr"
)

// ErrInvalidOrExpiredToken is wrapped by every Validate failure.
var ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

// Config is the immutable token configuration.
type Config struct {
	Secret []byte
	Issuer string
	// DefaultTTL applies when an issuance context has no expiry of its own.
	// Zero issues tokens without an exp claim.
	DefaultTTL time.Duration
}

// Option customises Tokens.
type Option func(*Tokens)

// WithClock overrides the clock used for issuing and validating.
func WithClock(now func() time.Time) Option {
	return func(t *Tokens) {
		if now != nil {
			t.now = now
		}
	}
}

// Tokens mints and validates HS256 bearer tokens.
type Tokens struct {
	cfg Config
	now func() time.Time
}

// NewTokens builds the token service. An empty secret is rejected.
func NewTokens(cfg Config, opts ...Option) (*Tokens, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if cfg.DefaultTTL < 0 {
		return nil, fmt.Errorf("token default ttl must not be negative, got %s", cfg.DefaultTTL)
	}
	t := &Tokens{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Issue signs claims. ttl zero falls back to the configured default.
func (t *Tokens) Issue(claims Claims, ttl time.Duration) (string, error) {
	if claims.Subject == "" {
		return "", apperr.Internal(errors.New("token subject is required"))
	}
	if ttl <= 0 {
		ttl = t.cfg.DefaultTTL
	}
	now := t.now()
	wc := wireClaims{
		Email:       claims.Email,
		Username:    claims.Username,
		Name:        claims.Name,
		Phone:       claims.Phone,
		CountryCode: claims.CountryCode,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   t.cfg.Issuer,
			Subject:  claims.Subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if claims.Purpose != PurposeUnspecified {
		wc.Purpose = claims.Purpose.String()
	}
	if ttl > 0 {
		wc.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &wc).SignedString(t.cfg.Secret)
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("sign token: %w", err))
	}
	return signed, nil
}

// IssueFor mints the token of one issuance context for id.
func (t *Tokens) IssueFor(purpose Purpose, id Identity) (string, error) {
	p, ok := policies[purpose]
	if !ok {
		return "", apperr.Internal(fmt.Errorf("unknown token purpose %d", purpose))
	}
	claims := Claims{
		Subject: strconv.FormatInt(id.ID, 10),
		Purpose: purpose,
		Email:   id.Email,
	}
	if p.profile {
		claims.Username = id.Username
		claims.Name = id.Name
		claims.Phone = id.Phone
		claims.CountryCode = id.CountryCode
	}
	return t.Issue(claims, p.ttl)
}

// Validate verifies signature, algorithm, expiry and issuer and returns the
// claims. Legacy tokens keyed by userId or id predate the issuer claim and
// are accepted without one. Every failure is an auth error wrapping
// ErrInvalidOrExpiredToken.
func (t *Tokens) Validate(token string) (Claims, error) {
	if token == "" {
		return Claims{}, invalid(errors.New("token is empty"))
	}

	var wc wireClaims
	parsed, err := jwt.ParseWithClaims(token, &wc, func(*jwt.Token) (any, error) {
		return t.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return Claims{}, invalid(err)
	}
	if !parsed.Valid {
		return Claims{}, invalid(errors.New("token is not valid"))
	}
	if t.cfg.Issuer != "" && wc.Issuer != t.cfg.Issuer && !wc.legacy() {
		return Claims{}, invalid(fmt.Errorf("unexpected issuer %q", wc.Issuer))
	}

	claims, err := wc.claims()
	if err != nil {
		return Claims{}, invalid(err)
	}
	return claims, nil
}

// RequirePurpose checks that claims were issued for want.
func RequirePurpose(claims Claims, want Purpose) error {
	if claims.Purpose != want {
		return invalid(fmt.Errorf("token issued for %s, not %s", claims.Purpose, want))
	}
	return nil
}

func invalid(cause error) error {
	return apperr.Auth(ErrInvalidOrExpiredToken.Error(), fmt.Errorf("%w: %w", ErrInvalidOrExpiredToken, cause))
}
