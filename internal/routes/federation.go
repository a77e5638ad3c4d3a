package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/backedbyquantum/accounts/internal/identity"
)

// RegisterFederationRoutes wires /auth/<provider> and its OAuth callback.
func RegisterFederationRoutes(r fiber.Router, provider string, h *identity.FederationHandler) {
	r.Get("/auth/"+provider, h.Begin)
	r.Get("/auth/"+provider+"/callback", h.Callback)
}
