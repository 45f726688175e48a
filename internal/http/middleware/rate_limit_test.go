package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRateLimit_FailsOpenWithoutRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	app := fiber.New()
	app.Use(RateLimit(rdb, RateLimitConfig{MaxRequests: 1}, zap.NewNop()))
	app.Patch("/api/banners/:id/pin", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodPatch, "/api/banners/1/pin", nil), 5000)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Empty(t, resp.Header.Get("X-RateLimit-Limit"))
	}
}

func TestApplyLimit(t *testing.T) {
	tests := []struct {
		name       string
		count      int64
		ttl        time.Duration
		wantStatus int
		remaining  string
		retryAfter string
	}{
		{name: "first request", count: 1, ttl: time.Minute, wantStatus: fiber.StatusOK, remaining: "2"},
		{name: "at limit", count: 3, ttl: 30 * time.Second, wantStatus: fiber.StatusOK, remaining: "0"},
		{name: "over limit", count: 4, ttl: 30 * time.Second, wantStatus: fiber.StatusTooManyRequests, remaining: "0", retryAfter: "30"},
		{name: "expiring window", count: 9, ttl: 100 * time.Millisecond, wantStatus: fiber.StatusTooManyRequests, remaining: "0", retryAfter: "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(func(c *fiber.Ctx) error { return applyLimit(c, 3, tt.count, tt.ttl) })
			app.Post("/api/videos", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

			resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/videos", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, "3", resp.Header.Get("X-RateLimit-Limit"))
			assert.Equal(t, tt.remaining, resp.Header.Get("X-RateLimit-Remaining"))
			assert.Equal(t, tt.retryAfter, resp.Header.Get(fiber.HeaderRetryAfter))
		})
	}
}
