package identity

import (
	"time"

	"github.com/backedbyquantum/accounts/internal/auth"
)

// Account is a registered identity with its credentials and verification
// state.
type Account struct {
	ID            int64
	Username      string
	Name          string
	Email         string
	Phone         string
	CountryCode   string
	PasswordHash  string
	PasscodeHash  string
	EmailVerified bool
	PhoneVerified bool
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PublicAccount is the client facing projection of an Account. It never
// carries secrets.
type PublicAccount struct {
	ID            int64  `json:"id"`
	Username      string `json:"username"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	CountryCode   string `json:"country_code"`
	EmailVerified *bool  `json:"is_email_verified,omitempty"`
	PhoneVerified *bool  `json:"is_phone_verified,omitempty"`
}

// Public projects the account without verification flags.
func (a Account) Public() PublicAccount {
	return PublicAccount{
		ID:          a.ID,
		Username:    a.Username,
		Name:        a.Name,
		Email:       a.Email,
		Phone:       a.Phone,
		CountryCode: a.CountryCode,
	}
}

// PublicWithFlags projects the account including both verification flags.
func (a Account) PublicWithFlags() PublicAccount {
	p := a.Public()
	email, phone := a.EmailVerified, a.PhoneVerified
	p.EmailVerified = &email
	p.PhoneVerified = &phone
	return p
}

func (a Account) identity() auth.Identity {
	return auth.Identity{
		ID:          a.ID,
		Email:       a.Email,
		Username:    a.Username,
		Name:        a.Name,
		Phone:       a.Phone,
		CountryCode: a.CountryCode,
	}
}

// Session is the result of an operation that mints a bearer token.
type Session struct {
	Token   string
	Account PublicAccount
}
