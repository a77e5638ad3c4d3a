package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/backedbyquantum/accounts/internal/submission"
)

// RegisterSubmissionRoutes wires the document gates behind requireAccount.
// idempotency may be nil when no Redis is configured.
func RegisterSubmissionRoutes(r fiber.Router, h *submission.Handler, requireAccount, idempotency fiber.Handler) {
	submit := func(handler fiber.Handler) []fiber.Handler {
		chain := []fiber.Handler{requireAccount}
		if idempotency != nil {
			chain = append(chain, idempotency)
		}
		return append(chain, handler)
	}

	r.Post("/verifications", submit(h.SubmitVerification)...)
	r.Get("/verifications", requireAccount, h.ListVerifications)
	r.Post("/transactions", submit(h.SubmitTransaction)...)
	r.Get("/transactions", requireAccount, h.ListTransactions)
}
