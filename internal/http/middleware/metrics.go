package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	promx "github.com/sifan077/PowerCMS/internal/infra/prometheus"
)

// Metrics records request counts and latency per route template.
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		promx.HTTPActiveRequests.Inc()

		err := c.Next()

		promx.HTTPActiveRequests.Dec()

		// Route templates (/api/banners/:id) keep label cardinality bounded.
		route := "unknown"
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		promx.HTTPRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		promx.HTTPRequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}
