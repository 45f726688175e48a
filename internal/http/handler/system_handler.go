package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/PowerCMS/internal/infra/storage"
	"go.uber.org/zap"
)

const pingTimeout = 2 * time.Second

// SystemDeps groups dependencies required by the global endpoints.
type SystemDeps struct {
	Logger      *zap.Logger
	StoreDriver string
	Postgres    *pgxpool.Pool
	Redis       *redis.Client
	Uploader    storage.Uploader
}

// SystemHandler serves the routes shared by every resource type.
type SystemHandler struct {
	logger      *zap.Logger
	storeDriver string
	postgres    *pgxpool.Pool
	redis       *redis.Client
	uploader    storage.Uploader
}

// NewSystemHandler creates a system handler with the provided dependencies.
func NewSystemHandler(deps SystemDeps) *SystemHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SystemHandler{
		logger:      logger,
		storeDriver: deps.StoreDriver,
		postgres:    deps.Postgres,
		redis:       deps.Redis,
		uploader:    deps.Uploader,
	}
}

// Register wires global routes onto the provided router.
func (h *SystemHandler) Register(router fiber.Router) {
	router.Get("/health", h.Health)
	router.Post("/api/upload", h.Upload)
}

// Health reports the store driver and the reachability of configured backends.
func (h *SystemHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(requestContext(c), pingTimeout)
	defer cancel()

	status := "ok"
	checks := fiber.Map{}

	if h.postgres != nil {
		if err := h.postgres.Ping(ctx); err != nil {
			h.logger.Warn("postgres health check failed", zap.Error(err))
			checks["postgres"] = "down"
			status = "degraded"
		} else {
			checks["postgres"] = "up"
		}
	}
	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			h.logger.Warn("redis health check failed", zap.Error(err))
			checks["redis"] = "down"
			status = "degraded"
		} else {
			checks["redis"] = "up"
		}
	}

	code := fiber.StatusOK
	if status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"service": "PowerCMS",
		"status":  status,
		"store":   h.storeDriver,
		"checks":  checks,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Upload handles POST /api/upload for images not tied to a resource type.
func (h *SystemHandler) Upload(c *fiber.Ctx) error {
	return saveEditorUpload(c, h.logger, h.uploader, "editor")
}
