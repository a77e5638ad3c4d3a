package identity

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/backedbyquantum/accounts/internal/apperr"
)

// Handler exposes the account lifecycle over HTTP.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type sessionResponse struct {
	Msg        string        `json:"msg"`
	StatusCode bool          `json:"status_code"`
	Token      string        `json:"token"`
	User       PublicAccount `json:"user"`
}

type messageResponse struct {
	Msg        string `json:"msg"`
	StatusCode bool   `json:"status_code"`
}

type profileResponse struct {
	Msg        string        `json:"msg"`
	StatusCode bool          `json:"status_code"`
	User       PublicAccount `json:"user"`
}

// AccountLocal is the fiber.Ctx Locals key under which authenticated routes
// find the caller's Account.
const AccountLocal = "account"

// CurrentAccount returns the Account stored by the authentication middleware.
func CurrentAccount(c *fiber.Ctx) (Account, bool) {
	account, ok := c.Locals(AccountLocal).(Account)
	return account, ok
}

// BearerToken returns the token of an "Authorization: Bearer" header, or ""
// when the header is missing or malformed.
func BearerToken(c *fiber.Ctx) string {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func parse(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return apperr.Validation("invalid request body")
	}
	return nil
}

func session(c *fiber.Ctx, status int, msg string, s Session) error {
	return c.Status(status).JSON(sessionResponse{Msg: msg, StatusCode: true, Token: s.Token, User: s.Account})
}

func message(c *fiber.Ctx, msg string) error {
	return c.Status(http.StatusOK).JSON(messageResponse{Msg: msg, StatusCode: true})
}

// Register handles account creation.
func (h *Handler) Register(c *fiber.Ctx) error {
	var in RegisterInput
	if err := parse(c, &in); err != nil {
		return err
	}
	s, err := h.service.Register(c.UserContext(), in)
	if err != nil {
		return err
	}
	return session(c, http.StatusCreated, "User registered successfully", s)
}

// VerifyEmail accepts the token from the bearer header or, for emailed
// links, the token query parameter.
func (h *Handler) VerifyEmail(c *fiber.Ctx) error {
	token := BearerToken(c)
	if token == "" {
		token = c.Query("token")
	}
	s, err := h.service.VerifyEmail(c.UserContext(), token)
	if err != nil {
		return err
	}
	return session(c, http.StatusOK, "Email verified successfully", s)
}

// Profile returns the caller's account.
func (h *Handler) Profile(c *fiber.Ctx) error {
	account, err := h.service.Profile(c.UserContext(), BearerToken(c))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(profileResponse{Msg: "User fetched successfully", StatusCode: true, User: account})
}

// SetPasscode stores the caller's new passcode.
func (h *Handler) SetPasscode(c *fiber.Ctx) error {
	var in PasscodeInput
	if err := parse(c, &in); err != nil {
		return err
	}
	if err := h.service.SetPasscode(c.UserContext(), BearerToken(c), in); err != nil {
		return err
	}
	return message(c, "Passcode set successfully")
}

// LoginWithPasscode handles email + passcode login.
func (h *Handler) LoginWithPasscode(c *fiber.Ctx) error {
	var in PasscodeLoginInput
	if err := parse(c, &in); err != nil {
		return err
	}
	s, err := h.service.LoginWithPasscode(c.UserContext(), in)
	if err != nil {
		return err
	}
	return session(c, http.StatusOK, "Login successful", s)
}

// LoginWithPassword handles email + password login.
func (h *Handler) LoginWithPassword(c *fiber.Ctx) error {
	var in PasswordLoginInput
	if err := parse(c, &in); err != nil {
		return err
	}
	s, err := h.service.LoginWithPassword(c.UserContext(), in)
	if err != nil {
		return err
	}
	return session(c, http.StatusOK, "Login successful", s)
}

// RequestPasswordReset emails a reset link.
func (h *Handler) RequestPasswordReset(c *fiber.Ctx) error {
	var in ResetRequestInput
	if err := parse(c, &in); err != nil {
		return err
	}
	if err := h.service.RequestPasswordReset(c.UserContext(), in); err != nil {
		return err
	}
	return message(c, "Email sent successfully")
}

// SetNewPassword completes a reset with the bearer reset token.
func (h *Handler) SetNewPassword(c *fiber.Ctx) error {
	var in NewPasswordInput
	if err := parse(c, &in); err != nil {
		return err
	}
	if err := h.service.SetNewPassword(c.UserContext(), BearerToken(c), in); err != nil {
		return err
	}
	return message(c, "Password reset successfully")
}
