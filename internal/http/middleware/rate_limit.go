package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig bounds how many mutating requests one client IP may issue
// per window.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
}

// DefaultRateLimitConfig returns default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 100,
		Window:      time.Minute,
		KeyPrefix:   "powercms:ratelimit",
	}
}

// RateLimit creates a fixed window limiter backed by Redis. Windows are shared
// by every instance using the same Redis. Requests pass through when Redis is
// unavailable.
func RateLimit(redisClient *redis.Client, config RateLimitConfig, logger *zap.Logger) fiber.Handler {
	defaults := DefaultRateLimitConfig()
	if config.MaxRequests <= 0 {
		config.MaxRequests = defaults.MaxRequests
	}
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}

	return func(c *fiber.Ctx) error {
		key := config.KeyPrefix + ":" + c.IP()
		count, ttl, err := hit(c.Context(), redisClient, key, config.Window)
		if err != nil {
			logger.Warn("rate limit unavailable", zap.String("key", key), zap.Error(err))
			return c.Next()
		}

		return applyLimit(c, config.MaxRequests, count, ttl)
	}
}

// applyLimit sets the rate limit headers and rejects the request once count
// exceeds limit.
func applyLimit(c *fiber.Ctx, limit int, count int64, ttl time.Duration) error {
	c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(max(0, limit-int(count))))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))

	if count > int64(limit) {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(max(1, int(ttl.Round(time.Second)/time.Second))))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"success": false,
			"error": fiber.Map{
				"code":    "TOO_MANY_REQUESTS",
				"message": "rate limit exceeded",
			},
		})
	}
	return c.Next()
}

// hit counts one request and returns the window's count and remaining lifetime.
// The first hit of a window starts its expiry.
func hit(ctx context.Context, rdb *redis.Client, key string, window time.Duration) (int64, time.Duration, error) {
	var (
		incr *redis.IntCmd
		pttl *redis.DurationCmd
	)
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	ttl := pttl.Val()
	if ttl <= 0 {
		if err := rdb.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, err
		}
		ttl = window
	}
	return incr.Val(), ttl, nil
}
