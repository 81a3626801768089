package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/unibox/internal/message/event"
	"github.com/memohai/unibox/internal/version"
)

// PingHandler serves /ping and HEAD /health for liveness.
type PingHandler struct {
	hub *event.Hub
}

// NewPingHandler creates a ping handler. hub may be nil.
func NewPingHandler(hub *event.Hub) *PingHandler {
	return &PingHandler{hub: hub}
}

// Register mounts GET /ping and HEAD /health on the Echo instance.
func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
}

// Ping returns the build version and the number of events the hub dropped
// for slow subscribers.
func (h *PingHandler) Ping(c echo.Context) error {
	body := map[string]any{
		"status":  "ok",
		"version": version.GetInfo(),
	}
	if h.hub != nil {
		body["dropped_subscribers"] = h.hub.Dropped()
	}
	return c.JSON(http.StatusOK, body)
}

// PingHead returns 200 No Content for health checks.
func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
