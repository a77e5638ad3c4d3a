package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RegisterHealthRoutes adds liveness/readiness style endpoints. Only the
// backends in use are reported.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		checks := fiber.Map{}
		healthy := true
		record := func(name string, err error) {
			if err != nil {
				healthy = false
				checks[name] = err.Error()
				return
			}
			checks[name] = "ok"
		}

		if d.DB != nil {
			record("postgres", d.DB.Ping(ctx))
		}
		if d.SQL != nil {
			record("sqlite", d.SQL.PingContext(ctx))
		}
		if d.Cache != nil {
			record("redis", d.Cache.Ping(ctx).Err())
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    checks,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
