package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose names an issuance context. Each context has its own claim shape and
// expiry. It travels in the typ claim; tokens without one decode as
// PurposeUnspecified.
type Purpose int

const (
	PurposeUnspecified Purpose = iota
	PurposeRegistration
	PurposeEmailVerification
	PurposePasscodeLogin
	PurposePasswordLogin
	PurposePasswordReset
	PurposeFederatedLogin
)

func (p Purpose) String() string {
	switch p {
	case PurposeRegistration:
		return "registration"
	case PurposeEmailVerification:
		return "email_verification"
	case PurposePasscodeLogin:
		return "passcode_login"
	case PurposePasswordLogin:
		return "password_login"
	case PurposePasswordReset:
		return "password_reset"
	case PurposeFederatedLogin:
		return "federated_login"
	default:
		return "unspecified"
	}
}

func parsePurpose(s string) Purpose {
	for p := range policies {
		if p.String() == s {
			return p
		}
	}
	return PurposeUnspecified
}

// TTLs of the contexts that carry their own expiry.
const (
	EmailVerificationTTL = 24 * time.Hour
	PasscodeLoginTTL     = 7 * 24 * time.Hour
	PasswordResetTTL     = 15 * time.Minute
)

type policy struct {
	// profile adds username, name, phone and country_code to the claims.
	profile bool
	// ttl zero means the configured default.
	ttl time.Duration
}

var policies = map[Purpose]policy{
	PurposeRegistration:      {profile: true},
	PurposeEmailVerification: {profile: true, ttl: EmailVerificationTTL},
	PurposePasscodeLogin:     {ttl: PasscodeLoginTTL},
	PurposePasswordLogin:     {},
	PurposePasswordReset:     {ttl: PasswordResetTTL},
	PurposeFederatedLogin:    {},
}

// Identity is the account snapshot a token is minted from.
type Identity struct {
	ID          int64
	Email       string
	Username    string
	Name        string
	Phone       string
	CountryCode string
}

// Claims is the decoded content of a bearer token. Subject is the decimal
// account id for every issuance context.
type Claims struct {
	Subject     string
	Purpose     Purpose
	Email       string
	Username    string
	Name        string
	Phone       string
	CountryCode string
	IssuedAt    time.Time
	// ExpiresAt is zero for tokens without expiry.
	ExpiresAt time.Time
}

// AccountID parses the subject.
func (c Claims) AccountID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("token subject %q is not an account id", c.Subject)
	}
	return id, nil
}

// wireClaims is the JWT payload. userId and id are only read, never written:
// older clients hold tokens that key the subject that way.
type wireClaims struct {
	Purpose      string          `json:"typ,omitempty"`
	Email        string          `json:"email,omitempty"`
	Username     string          `json:"username,omitempty"`
	Name         string          `json:"name,omitempty"`
	Phone        string          `json:"phone,omitempty"`
	CountryCode  string          `json:"country_code,omitempty"`
	LegacyUserID json.RawMessage `json:"userId,omitempty"`
	LegacyID     json.RawMessage `json:"id,omitempty"`
	jwt.RegisteredClaims
}

func (w wireClaims) claims() (Claims, error) {
	subject := w.Subject
	if subject == "" {
		var err error
		if subject, err = legacySubject(w.LegacyUserID, w.LegacyID); err != nil {
			return Claims{}, err
		}
	}
	c := Claims{
		Subject:     subject,
		Purpose:     parsePurpose(w.Purpose),
		Email:       w.Email,
		Username:    w.Username,
		Name:        w.Name,
		Phone:       w.Phone,
		CountryCode: w.CountryCode,
	}
	if w.IssuedAt != nil {
		c.IssuedAt = w.IssuedAt.Time.UTC()
	}
	if w.ExpiresAt != nil {
		c.ExpiresAt = w.ExpiresAt.Time.UTC()
	}
	if _, err := c.AccountID(); err != nil {
		return Claims{}, err
	}
	return c, nil
}

// legacy reports a pre-sub token: no subject, no issuer, keyed by userId or id.
func (w wireClaims) legacy() bool {
	return w.Subject == "" && w.Issuer == "" && (len(w.LegacyUserID) > 0 || len(w.LegacyID) > 0)
}

func legacySubject(raws ...json.RawMessage) (string, error) {
	for _, raw := range raws {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String(), nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s, nil
		}
		return "", fmt.Errorf("unsupported legacy subject %s", raw)
	}
	return "", errors.New("token has no subject")
}
