package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/unibox/internal/conversation"
	"github.com/memohai/unibox/internal/message"
	"github.com/memohai/unibox/internal/presence"
	"github.com/memohai/unibox/internal/store"
)

// ConversationHandler serves the inbox: conversations, their messages and
// operator sends.
type ConversationHandler struct {
	conversations *conversation.Service
	pipeline      *message.Pipeline
	tracker       *presence.Tracker
	logger        *slog.Logger
}

// NewConversationHandler creates a ConversationHandler.
func NewConversationHandler(log *slog.Logger, conversations *conversation.Service, pipeline *message.Pipeline, tracker *presence.Tracker) *ConversationHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ConversationHandler{
		conversations: conversations,
		pipeline:      pipeline,
		tracker:       tracker,
		logger:        log.With(slog.String("handler", "conversation")),
	}
}

// Register registers all conversation routes.
func (h *ConversationHandler) Register(e *echo.Echo) {
	g := e.Group("/workspaces/:ws")
	g.GET("/conversations", h.List)
	g.GET("/conversations/:id", h.Get)
	g.PATCH("/conversations/:id", h.Update)
	g.DELETE("/conversations/:id", h.Archive)
	g.POST("/conversations/:id/merge", h.Merge)
	g.GET("/conversations/:id/related", h.Related)
	g.GET("/conversations/:id/read", h.ReadStatus)
	g.GET("/conversations/:id/messages", h.ListMessages)
	g.POST("/conversations/:id/messages", h.Send)
	g.POST("/messages/:id/retry", h.Retry)
	g.POST("/messages/:id/read", h.MarkRead)
}

// List godoc
// @Summary List conversations
// @Description Pinned conversations first, then by last message time.
// @Tags conversations
// @Produce json
// @Param ws path string true "Workspace ID"
// @Param status query string false "open, pending or resolved"
// @Param limit query int false "Limit"
// @Param offset query int false "Offset"
// @Success 200 {object} map[string][]store.Conversation
// @Router /workspaces/{ws}/conversations [get]
func (h *ConversationHandler) List(c echo.Context) error {
	limit, err := intQuery(c, "limit")
	if err != nil {
		return err
	}
	offset, err := intQuery(c, "offset")
	if err != nil {
		return err
	}
	items, err := h.conversations.List(c.Request().Context(), c.Param("ws"), conversation.ListRequest{
		Status: store.ConversationStatus(strings.TrimSpace(c.QueryParam("status"))),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// Get returns the live conversation. A merged id resolves to its target.
func (h *ConversationHandler) Get(c echo.Context) error {
	conv, err := h.conversations.Live(c.Request().Context(), c.Param("ws"), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

// Update sets status and pinned.
func (h *ConversationHandler) Update(c echo.Context) error {
	var req conversation.UpdateRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	conv, err := h.conversations.Update(c.Request().Context(), c.Param("ws"), c.Param("id"), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

// Archive soft-deletes a conversation.
func (h *ConversationHandler) Archive(c echo.Context) error {
	conv, err := h.conversations.Archive(c.Request().Context(), c.Param("ws"), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

// MergeRequest names the conversation that absorbs the path conversation.
type MergeRequest struct {
	TargetID string `json:"target_id"`
}

// Merge godoc
// @Summary Merge conversations
// @Description Folds the path conversation into target_id. The target must belong to a contact.
// @Tags conversations
// @Accept json
// @Produce json
// @Param ws path string true "Workspace ID"
// @Param id path string true "Source conversation ID"
// @Success 200 {object} map[string]any
// @Failure 409 {object} ErrorResponse
// @Router /workspaces/{ws}/conversations/{id}/merge [post]
func (h *ConversationHandler) Merge(c echo.Context) error {
	var req MergeRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.TargetID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "target_id is required")
	}
	result, err := h.conversations.Merge(c.Request().Context(), c.Param("ws"), c.Param("id"), req.TargetID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"conversation": result.Target,
		"retired":      result.Retired,
		"moved":        result.Moved,
	})
}

// Related lists the conversations shown together in the contact view.
func (h *ConversationHandler) Related(c echo.Context) error {
	items, err := h.conversations.Related(c.Request().Context(), c.Param("ws"), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// ReadStatus reports whether the newest outbound message was read.
func (h *ConversationHandler) ReadStatus(c echo.Context) error {
	status, err := h.tracker.LastOutboundRead(c.Request().Context(), c.Param("ws"), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, status)
}

// ListMessages godoc
// @Summary List conversation messages
// @Description Pages backwards by sent_at. Clients call it after reconnecting to resync.
// @Tags messages
// @Produce json
// @Param ws path string true "Workspace ID"
// @Param id path string true "Conversation ID"
// @Param before query string false "RFC3339 time or epoch millis (exclusive)"
// @Param limit query int false "Limit"
// @Success 200 {object} message.History
// @Router /workspaces/{ws}/conversations/{id}/messages [get]
func (h *ConversationHandler) ListMessages(c echo.Context) error {
	limit, err := intQuery(c, "limit")
	if err != nil {
		return err
	}
	req := message.ListRequest{Limit: limit}
	if raw := c.QueryParam("before"); raw != "" {
		before, ok := parseBeforeParam(raw)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid before parameter")
		}
		req.Before = before
	}
	history, err := h.pipeline.ListMessages(c.Request().Context(), c.Param("ws"), c.Param("id"), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, history)
}

// Send godoc
// @Summary Send a message
// @Description Queues an outbound message under the client-supplied id and returns the pending row. Delivery is reported through message.updated events.
// @Tags messages
// @Accept json
// @Produce json
// @Param ws path string true "Workspace ID"
// @Param id path string true "Conversation ID"
// @Success 202 {object} message.View
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /workspaces/{ws}/conversations/{id}/messages [post]
func (h *ConversationHandler) Send(c echo.Context) error {
	var in message.SendInput
	if err := bindJSON(c, &in); err != nil {
		return err
	}
	in.WorkspaceID = c.Param("ws")
	in.ConversationID = c.Param("id")
	view, err := h.pipeline.SendOutbound(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, view)
}

// Retry re-queues a failed outbound message.
func (h *ConversationHandler) Retry(c echo.Context) error {
	view, err := h.pipeline.Retry(c.Request().Context(), c.Param("ws"), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, view)
}

// ReadRequest names who read the message.
type ReadRequest struct {
	ReaderID string `json:"reader_id"`
}

// MarkRead records a read receipt.
func (h *ConversationHandler) MarkRead(c echo.Context) error {
	var req ReadRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	view, err := h.tracker.MarkRead(c.Request().Context(), c.Param("ws"), c.Param("id"), req.ReaderID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func intQuery(c echo.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+" parameter")
	}
	return v, nil
}

func parseBeforeParam(s string) (time.Time, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return t.UTC(), true
	}
	if epochMillis, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return time.UnixMilli(epochMillis).UTC(), true
	}
	return time.Time{}, false
}
