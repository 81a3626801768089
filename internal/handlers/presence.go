package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/unibox/internal/presence"
)

// PresenceHandler exposes heartbeats, typing signals and presence reads
// for clients that do not hold a websocket.
type PresenceHandler struct {
	tracker *presence.Tracker
}

func NewPresenceHandler(tracker *presence.Tracker) *PresenceHandler {
	return &PresenceHandler{tracker: tracker}
}

func (h *PresenceHandler) Register(e *echo.Echo) {
	g := e.Group("/workspaces/:ws/presence")
	g.POST("/heartbeat", h.Heartbeat)
	g.POST("/typing", h.Typing)
	g.GET("/:subject", h.Get)
}

// PresenceRequest identifies the subject and, for typing, the conversation.
type PresenceRequest struct {
	Subject        string `json:"subject"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (h *PresenceHandler) Heartbeat(c echo.Context) error {
	var req PresenceRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	status, err := h.tracker.Heartbeat(c.Param("ws"), req.Subject)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, status)
}

func (h *PresenceHandler) Typing(c echo.Context) error {
	var req PresenceRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	signal, err := h.tracker.Typing(c.Param("ws"), req.ConversationID, req.Subject)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, signal)
}

func (h *PresenceHandler) Get(c echo.Context) error {
	snapshot, err := h.tracker.Snapshot(c.Param("ws"), c.Param("subject"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snapshot)
}
