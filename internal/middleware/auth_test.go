package middleware

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/backedbyquantum/accounts/internal/apperr"
	"github.com/backedbyquantum/accounts/internal/identity"
)

type stubAuthenticator struct {
	gotToken string
}

func (s *stubAuthenticator) Authenticate(_ context.Context, token string) (identity.Account, error) {
	s.gotToken = token
	if token != "good" {
		return identity.Account{}, apperr.Auth("invalid or expired token", nil)
	}
	return identity.Account{ID: 7, Email: "a@example.com"}, nil
}

func TestRequireAccount(t *testing.T) {
	authn := &stubAuthenticator{}
	app := fiber.New(fiber.Config{
		Immutable: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.SendStatus(apperr.HTTPStatus(err))
		},
	})
	app.Get("/me", RequireAccount(authn), func(c *fiber.Ctx) error {
		account, ok := identity.CurrentAccount(c)
		require.True(t, ok)
		return c.JSON(fiber.Map{"id": account.ID})
	})

	cases := []struct {
		header string
		token  string
		status int
	}{
		{"Bearer good", "good", fiber.StatusOK},
		{"bearer good", "good", fiber.StatusOK},
		{"Bearer bad", "bad", fiber.StatusUnauthorized},
		{"Basic good", "", fiber.StatusUnauthorized},
		{"", "", fiber.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set(fiber.HeaderAuthorization, tc.header)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, tc.status, resp.StatusCode, tc.header)
		require.Equal(t, tc.token, authn.gotToken, tc.header)
	}
}

func TestRequestIDIsAssigned(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	var seen string
	app.Get("/", func(c *fiber.Ctx) error {
		seen = RequestIDFrom(c)
		return nil
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NotEmpty(t, seen)
	require.Equal(t, seen, resp.Header.Get(requestIDHeader))

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "client-id-1")
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, "client-id-1", resp.Header.Get(requestIDHeader))
}
