package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/backedbyquantum/accounts/internal/identity"
)

// RegisterIdentityRoutes wires the account lifecycle endpoints. Token
// carrying routes read the bearer header themselves.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	group := r.Group("/auth")
	group.Post("/register", h.Register)
	group.Get("/verify-email", h.VerifyEmail)
	group.Post("/verify-email", h.VerifyEmail)
	group.Get("/user", h.Profile)
	group.Post("/passcode", h.SetPasscode)
	group.Post("/login/passcode", h.LoginWithPasscode)
	group.Post("/login/password", h.LoginWithPassword)
	group.Post("/password/forgot", h.RequestPasswordReset)
	group.Post("/password/reset", h.SetNewPassword)
}
