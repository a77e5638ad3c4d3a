package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/backedbyquantum/accounts/internal/apperr"
	"github.com/backedbyquantum/accounts/internal/identity"
)

// Audit emits one structured access log line per request. Handler errors are
// logged with the status the error handler will render.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = errorStatus(err)
		}

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if id := RequestIDFrom(c); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}
		if account, ok := identity.CurrentAccount(c); ok {
			attrs = append(attrs, slog.Int64("account_id", account.ID))
		}

		switch {
		case err != nil && status >= fiber.StatusInternalServerError:
			logger.Error("request completed", append(attrs, slog.Any("error", err))...)
		case err != nil:
			logger.Info("request completed", append(attrs, slog.String("error", err.Error()))...)
		default:
			logger.Info("request completed", attrs...)
		}
		return err
	}
}

func errorStatus(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return apperr.HTTPStatus(err)
}
