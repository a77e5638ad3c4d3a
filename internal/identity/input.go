package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"

	"github.com/backedbyquantum/accounts/internal/credential"
)

var countryCodePattern = regexp.MustCompile(`^\+?\d{1,4}$`)

// normalizeEmail trims and lower-cases an address. Accounts are keyed by
// the normalized form.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Username    string `json:"username" form:"username"`
	Name        string `json:"name" form:"name"`
	Email       string `json:"email" form:"email"`
	Password    string `json:"password" form:"password"`
	Phone       string `json:"phone" form:"phone"`
	CountryCode string `json:"country_code" form:"country_code"`
}

// Validate checks every field of the registration payload.
func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Username, validation.Required, validation.Length(1, 64)),
		validation.Field(&in.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&in.Password, validation.Required, validation.By(maxBytes(credential.MaxSecretBytes))),
		validation.Field(&in.Phone, validation.Required, is.Digit, validation.By(possiblePhone(in.CountryCode))),
		validation.Field(&in.CountryCode, validation.Required, validation.Match(countryCodePattern)),
	)
}

// PasswordLoginInput is the password login payload.
type PasswordLoginInput struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Validate requires both fields.
func (in PasswordLoginInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required),
		validation.Field(&in.Password, validation.Required),
	)
}

// PasscodeLoginInput is the passcode login payload.
type PasscodeLoginInput struct {
	Email    string `json:"email" form:"email"`
	Passcode string `json:"passcode" form:"passcode"`
}

// Validate requires both fields and the six digit passcode format.
func (in PasscodeLoginInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required),
		validation.Field(&in.Passcode, validation.Required, validation.By(passcodeFormat)),
	)
}

// PasscodeInput sets a new passcode.
type PasscodeInput struct {
	Passcode string `json:"passcode" form:"passcode"`
}

func (in PasscodeInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Passcode, validation.Required, validation.By(passcodeFormat)),
	)
}

// ResetRequestInput asks for a password reset link.
type ResetRequestInput struct {
	Email string `json:"email" form:"email"`
}

func (in ResetRequestInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required),
	)
}

// NewPasswordInput completes a password reset.
type NewPasswordInput struct {
	Password string `json:"password" form:"password"`
}

func (in NewPasswordInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Password, validation.Required, validation.By(maxBytes(credential.MaxSecretBytes))),
	)
}

func passcodeFormat(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	return credential.ValidatePasscode(s)
}

func maxBytes(n int) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if len(s) > n {
			return fmt.Errorf("must be at most %d bytes long", n)
		}
		return nil
	}
}

// possiblePhone checks the number has a plausible length for the calling code.
func possiblePhone(countryCode string) validation.RuleFunc {
	return func(value any) error {
		phone, _ := value.(string)
		cc := strings.TrimPrefix(countryCode, "+")
		if phone == "" || !countryCodePattern.MatchString(cc) {
			return nil
		}
		num, err := phonenumbers.Parse("+"+cc+phone, "")
		if err != nil || !phonenumbers.IsPossibleNumber(num) {
			return errors.New("is not a valid number for this country code")
		}
		return nil
	}
}
