package webserver

import "github.com/gofiber/fiber/v3"

// newHealthzHandler builds the GET /healthz handler: a cheap liveness probe
// that also surfaces fetch/sweep counters for operators.
func newHealthzHandler(stats *Stats) fiber.Handler {
	return func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"stats":  stats.snapshot(),
		})
	}
}
