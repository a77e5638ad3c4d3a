package credential

import (
	"context"
	"errors"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

// MaxSecretBytes is the longest secret bcrypt accepts.
const MaxSecretBytes = 72

var (
	passcodePattern = regexp.MustCompile(`^\d{6}$`)

	// ErrInvalidPasscode is returned for anything but exactly six decimal digits.
	ErrInvalidPasscode = errors.New("passcode must be 6 digits")
	// ErrEmptySecret is returned when hashing an empty secret.
	ErrEmptySecret = errors.New("secret must not be empty")
)

// Hasher hashes and verifies passwords and passcodes. Both calls are slow on
// purpose and must not be made on latency sensitive paths.
type Hasher interface {
	Hash(ctx context.Context, secret string) (string, error)
	Verify(ctx context.Context, secret, hash string) (bool, error)
}

// BcryptHasher implements Hasher with bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher using cost, or bcrypt.DefaultCost when cost
// is outside bcrypt's accepted range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash returns a salted bcrypt hash of secret.
func (h *BcryptHasher) Hash(ctx context.Context, secret string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if secret == "" {
		return "", ErrEmptySecret
	}
	out, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify reports whether secret matches hash. An empty hash never matches.
func (h *BcryptHasher) Verify(ctx context.Context, secret, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if hash == "" {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword), errors.Is(err, bcrypt.ErrHashTooShort):
		return false, nil
	default:
		return false, err
	}
}

// ValidatePasscode checks the six digit passcode format.
func ValidatePasscode(passcode string) error {
	if !passcodePattern.MatchString(passcode) {
		return ErrInvalidPasscode
	}
	return nil
}
