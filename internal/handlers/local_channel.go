package handlers

import (
	"bufio"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/memohai/unibox/internal/channel"
	"github.com/memohai/unibox/internal/channel/adapters/local"
	"github.com/memohai/unibox/internal/message"
)

// LocalChannelHandler plays the customer side of the loopback channel: it
// posts inbound messages as a destination and streams what operators send
// to it.
type LocalChannelHandler struct {
	adapter  *local.Adapter
	pipeline *message.Pipeline
}

func NewLocalChannelHandler(adapter *local.Adapter, pipeline *message.Pipeline) *LocalChannelHandler {
	return &LocalChannelHandler{
		adapter:  adapter,
		pipeline: pipeline,
	}
}

func (h *LocalChannelHandler) Register(e *echo.Echo) {
	group := e.Group("/workspaces/:ws/local/:destination")
	group.POST("/messages", h.PostMessage)
	group.GET("/stream", h.StreamDeliveries)
}

// localMessageRequest is what a loopback customer types.
type localMessageRequest struct {
	Text          string   `json:"text"`
	DisplayName   string   `json:"display_name,omitempty"`
	ReplyTo       string   `json:"reply_to_external_id,omitempty"`
	AttachmentIDs []string `json:"attachment_ids,omitempty"`
}

func (h *LocalChannelHandler) PostMessage(c echo.Context) error {
	destination := strings.TrimSpace(c.Param("destination"))
	if destination == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "destination is required")
	}
	var req localMessageRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	res, err := h.pipeline.IngestInbound(c.Request().Context(), message.InboundInput{
		WorkspaceID: c.Param("ws"),
		InboundMessage: channel.InboundMessage{
			Channel:           local.Type,
			AccountID:         "local",
			ChatID:            destination,
			MessageID:         uuid.NewString(),
			Sender:            channel.Sender{Value: destination, DisplayName: req.DisplayName},
			Text:              req.Text,
			ReplyToExternalID: req.ReplyTo,
			AttachmentIDs:     req.AttachmentIDs,
			SentAt:            time.Now().UTC(),
		},
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *LocalChannelHandler) StreamDeliveries(c echo.Context) error {
	destination := strings.TrimSpace(c.Param("destination"))
	if destination == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "destination is required")
	}
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}
	_, stream, cancel := h.adapter.Subscribe(destination)
	defer cancel()

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	writer := bufio.NewWriter(c.Response().Writer)

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case delivery, ok := <-stream:
			if !ok {
				return nil
			}
			if err := writeSSEJSON(writer, flusher, delivery); err != nil {
				return nil
			}
		}
	}
}
