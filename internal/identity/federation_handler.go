package identity

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/backedbyquantum/accounts/internal/apperr"
	"github.com/backedbyquantum/accounts/internal/federation"
)

// FederationHandler drives the OAuth redirect and callback for one provider.
type FederationHandler struct {
	service  *Service
	provider federation.Provider
	states   federation.StateStore
	logger   *slog.Logger
}

// NewFederationHandler constructs the federated login handler.
func NewFederationHandler(service *Service, provider federation.Provider, states federation.StateStore, logger *slog.Logger) *FederationHandler {
	return &FederationHandler{service: service, provider: provider, states: states, logger: logger}
}

// Begin redirects the browser to the provider's consent screen.
func (h *FederationHandler) Begin(c *fiber.Ctx) error {
	state, err := h.states.Issue(c.UserContext())
	if err != nil {
		return internal("issue oauth state", err)
	}
	return c.Redirect(h.provider.AuthCodeURL(state), http.StatusFound)
}

// Callback consumes the state, exchanges the code and logs the user in.
func (h *FederationHandler) Callback(c *fiber.Ctx) error {
	if c.Query("error") != "" {
		return apperr.Auth("authorization was not granted", nil)
	}
	ok, err := h.states.Consume(c.UserContext(), c.Query("state"))
	if err != nil {
		return internal("consume oauth state", err)
	}
	if !ok {
		return apperr.Auth("invalid or expired login state", nil)
	}
	code := c.Query("code")
	if code == "" {
		return apperr.Validation("authorization code is required")
	}

	profile, err := h.provider.Exchange(c.UserContext(), code)
	if err != nil {
		h.logger.Warn("oauth exchange failed",
			slog.String("provider", h.provider.Name()),
			slog.Any("error", err))
		return apperr.Auth("could not sign in with "+h.provider.Name(), err)
	}
	s, err := h.service.FederatedLogin(c.UserContext(), profile)
	if err != nil {
		return err
	}
	return session(c, http.StatusOK, "Login successful", s)
}
