package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/rapidroute/cashbox/internal/logging"
)

// Audit logs one line per request. Run it after RequestID so lines carry the id.
func Audit(log *logging.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		ctx := log.WithFields(c.UserContext(), map[string]any{
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      c.Response().StatusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if err != nil {
			log.Error(ctx, "request completed", err)
			return err
		}
		log.Info(ctx, "request completed")
		return nil
	}
}
