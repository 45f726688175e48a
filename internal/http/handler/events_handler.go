package handler

import (
	"bufio"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerCMS/internal/app/model"
	"github.com/sifan077/PowerCMS/internal/app/notify"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const defaultHeartbeat = 25 * time.Second

// EventsDeps groups dependencies required by the change stream handler.
type EventsDeps struct {
	Logger    *zap.Logger
	Hub       *notify.Hub
	Heartbeat time.Duration
}

// EventsHandler streams change events to browsers as Server-Sent Events.
type EventsHandler struct {
	logger    *zap.Logger
	hub       *notify.Hub
	heartbeat time.Duration
}

// NewEventsHandler creates an events handler with the provided dependencies.
func NewEventsHandler(deps EventsDeps) *EventsHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &EventsHandler{logger: logger, hub: deps.Hub, heartbeat: heartbeat}
}

// Register wires GET /api/<resource>/events. It must be registered before the
// content routes so that /events is not taken for a record id.
func (h *EventsHandler) Register(router fiber.Router) {
	api := router.Group("/api")
	for _, rt := range model.ResourceTypes() {
		api.Get("/"+rt.Name+"/events", h.stream(rt.Name))
	}
}

func (h *EventsHandler) stream(resource string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		sub := h.hub.Subscribe(resource)
		logger := h.logger.With(zap.String("resource", resource), zap.String("ip", c.IP()))
		logger.Debug("event stream opened")

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer func() {
				h.hub.Unsubscribe(sub)
				logger.Debug("event stream closed")
			}()

			ticker := time.NewTicker(h.heartbeat)
			defer ticker.Stop()

			if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}

			for {
				select {
				case payload, ok := <-sub.C():
					if !ok {
						return
					}
					if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
						return
					}
				case <-ticker.C:
					if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
						return
					}
				}
				// A failed flush means the client is gone.
				if err := w.Flush(); err != nil {
					return
				}
			}
		}))
		return nil
	}
}
