package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/backedbyquantum/accounts/internal/identity"
)

// Authenticator resolves a bearer token to its account.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (identity.Account, error)
}

// RequireAccount validates the bearer token, re-reads the account and stores
// it under identity.AccountLocal. A missing or malformed header is treated
// as an empty token and fails validation.
func RequireAccount(authn Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		account, err := authn.Authenticate(c.UserContext(), identity.BearerToken(c))
		if err != nil {
			return err
		}
		c.Locals(identity.AccountLocal, account)
		return c.Next()
	}
}
