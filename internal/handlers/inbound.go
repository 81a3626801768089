package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/unibox/internal/channel"
	"github.com/memohai/unibox/internal/channel/adapters/email"
	"github.com/memohai/unibox/internal/message"
)

// maxEmailBytes bounds a raw email posted to the inbound endpoint.
const maxEmailBytes = 32 << 20

// InboundHandler receives adapter webhooks: new messages, edits and
// deletes, and delivery status callbacks.
type InboundHandler struct {
	pipeline *message.Pipeline
	logger   *slog.Logger
}

// NewInboundHandler creates an InboundHandler.
func NewInboundHandler(log *slog.Logger, pipeline *message.Pipeline) *InboundHandler {
	if log == nil {
		log = slog.Default()
	}
	return &InboundHandler{
		pipeline: pipeline,
		logger:   log.With(slog.String("handler", "inbound")),
	}
}

// Register registers the adapter-facing routes.
func (h *InboundHandler) Register(e *echo.Echo) {
	g := e.Group("/workspaces/:ws")
	g.POST("/inbound", h.Ingest)
	g.POST("/inbound/email", h.IngestEmail)
	g.POST("/inbound/updates", h.ApplyUpdate)
	g.POST("/messages/status", h.DeliveryStatus)
}

// Ingest godoc
// @Summary Ingest an inbound message
// @Description Stores a normalized inbound message. Redeliveries return the stored original with 200.
// @Tags inbound
// @Accept json
// @Produce json
// @Param ws path string true "Workspace ID"
// @Success 201 {object} message.IngestResult
// @Success 200 {object} message.IngestResult
// @Failure 400 {object} ErrorResponse
// @Router /workspaces/{ws}/inbound [post]
func (h *InboundHandler) Ingest(c echo.Context) error {
	var in channel.InboundMessage
	if err := bindJSON(c, &in); err != nil {
		return err
	}
	return h.ingest(c, in)
}

// IngestEmail accepts a raw RFC 5322 message for the mailbox named by the
// account query parameter.
func (h *InboundHandler) IngestEmail(c echo.Context) error {
	account := strings.TrimSpace(c.QueryParam("account"))
	if account == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "account is required")
	}
	in, err := email.ParseInbound(io.LimitReader(c.Request().Body, maxEmailBytes), account)
	if err != nil {
		if errors.Is(err, email.ErrNoMessageID) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid email: "+err.Error())
	}
	return h.ingest(c, in)
}

func (h *InboundHandler) ingest(c echo.Context, in channel.InboundMessage) error {
	res, err := h.pipeline.IngestInbound(c.Request().Context(), message.InboundInput{
		WorkspaceID:    c.Param("ws"),
		InboundMessage: in,
	})
	if err != nil {
		h.logger.Warn("ingest failed",
			slog.String("workspace_id", c.Param("ws")),
			slog.String("channel", in.Channel.String()),
			slog.Any("error", err),
		)
		return httpError(err)
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	return c.JSON(status, res)
}

// ApplyUpdate applies an inbound edit or delete.
func (h *InboundHandler) ApplyUpdate(c echo.Context) error {
	var upd channel.InboundUpdate
	if err := bindJSON(c, &upd); err != nil {
		return err
	}
	view, err := h.pipeline.ApplyInboundUpdate(c.Request().Context(), c.Param("ws"), upd)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// DeliveryStatus godoc
// @Summary Delivery status callback
// @Description Moves an outbound message forward (sent, delivered, read) or marks it failed. Stale callbacks are ignored.
// @Tags inbound
// @Accept json
// @Produce json
// @Param ws path string true "Workspace ID"
// @Success 200 {object} message.View
// @Failure 404 {object} ErrorResponse
// @Router /workspaces/{ws}/messages/status [post]
func (h *InboundHandler) DeliveryStatus(c echo.Context) error {
	var cb channel.DeliveryCallback
	if err := bindJSON(c, &cb); err != nil {
		return err
	}
	view, err := h.pipeline.UpdateDeliveryStatus(c.Request().Context(), c.Param("ws"), cb)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}
