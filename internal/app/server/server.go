package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/PowerCMS/config"
	"github.com/sifan077/PowerCMS/internal/app/notify"
	"github.com/sifan077/PowerCMS/internal/app/service"
	inthttp "github.com/sifan077/PowerCMS/internal/http/handler"
	"github.com/sifan077/PowerCMS/internal/http/middleware"
	"github.com/sifan077/PowerCMS/internal/infra/storage"
	"go.uber.org/zap"
)

const defaultBodyLimit = 25 * 1024 * 1024

// Dependencies bundles the collaborators required by the HTTP server.
type Dependencies struct {
	Config   *config.Config
	Logger   *zap.Logger
	Postgres *pgxpool.Pool
	Redis    *redis.Client
	Content  service.ContentService
	Hub      *notify.Hub
	Uploader storage.Uploader
	Location *time.Location
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with all routes registered.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}

	bodyLimit := deps.Config.Server.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = defaultBodyLimit
	}

	app := fiber.New(fiber.Config{
		AppName:               "PowerCMS",
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// App exposes the underlying Fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerMiddleware() {
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Recovery(s.deps.Logger))
	s.app.Use(middleware.Logger(s.deps.Logger))
	s.app.Use(middleware.CORS())
	s.app.Use(middleware.Metrics())
}

func (s *Server) registerRoutes() {
	cfg := s.deps.Config

	if cfg.Uploads.Driver == "" || cfg.Uploads.Driver == "local" {
		base := cfg.Uploads.BaseURL
		if base == "" {
			base = "/uploads"
		}
		dir := cfg.Uploads.Dir
		if dir == "" {
			dir = "uploads"
		}
		s.app.Static(base, dir)
	}

	var limiter fiber.Handler
	if cfg.RateLimit.Enabled && s.deps.Redis != nil {
		limiter = middleware.RateLimit(s.deps.Redis, middleware.RateLimitConfig{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      time.Duration(cfg.RateLimit.WindowSecs) * time.Second,
		}, s.deps.Logger)
	}

	systemHandler := inthttp.NewSystemHandler(inthttp.SystemDeps{
		Logger:      s.deps.Logger,
		StoreDriver: cfg.Storage.Driver,
		Postgres:    s.deps.Postgres,
		Redis:       s.deps.Redis,
		Uploader:    s.deps.Uploader,
	})
	systemHandler.Register(s.app)

	if s.deps.Hub != nil {
		eventsHandler := inthttp.NewEventsHandler(inthttp.EventsDeps{
			Logger:    s.deps.Logger,
			Hub:       s.deps.Hub,
			Heartbeat: time.Duration(cfg.Notify.HeartbeatSecs) * time.Second,
		})
		eventsHandler.Register(s.app)
	}

	contentHandler := inthttp.NewContentHandler(inthttp.ContentDeps{
		Logger:   s.deps.Logger,
		Content:  s.deps.Content,
		Uploader: s.deps.Uploader,
		Location: s.deps.Location,
		Limiter:  limiter,
	})
	contentHandler.Register(s.app)
}

// errorHandler renders framework errors (unknown route, body too large) in the
// same shape as API errors.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	errCode := "INTERNAL_SERVER_ERROR"
	message := "internal server error"
	switch code {
	case fiber.StatusNotFound:
		errCode, message = inthttp.CodeNotFound, fe.Message
	case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge, fiber.StatusMethodNotAllowed:
		errCode, message = inthttp.CodeBadRequest, fe.Message
	}

	return c.Status(code).JSON(inthttp.ErrorResponse{
		Error: inthttp.ErrorInfo{Code: errCode, Message: message},
	})
}
