package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/memohai/unibox/internal/config"
	"github.com/memohai/unibox/internal/conversation"
	"github.com/memohai/unibox/internal/message/event"
	"github.com/memohai/unibox/internal/presence"
	"github.com/memohai/unibox/internal/realtime"
)

const (
	wsWriteWait    = 10 * time.Second
	wsMaxFrameSize = 16 << 10
)

// EventsHandler streams realtime sessions over SSE and websocket.
type EventsHandler struct {
	hub           *event.Hub
	conversations *conversation.Service
	tracker       *presence.Tracker
	cfg           config.RealtimeConfig
	upgrader      websocket.Upgrader
	logger        *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(log *slog.Logger, hub *event.Hub, conversations *conversation.Service, tracker *presence.Tracker, cfg config.RealtimeConfig) *EventsHandler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = config.DefaultSubscriberBuf
	}
	if cfg.PingInterval.Duration <= 0 {
		cfg.PingInterval.Duration = config.DefaultPingInterval
	}
	return &EventsHandler{
		hub:           hub,
		conversations: conversations,
		tracker:       tracker,
		cfg:           cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.With(slog.String("handler", "events")),
	}
}

func (h *EventsHandler) Register(e *echo.Echo) {
	g := e.Group("/workspaces/:ws")
	g.GET("/events", h.StreamEvents)
	g.GET("/ws", h.Websocket)
}

func writeSSEData(writer *bufio.Writer, flusher http.Flusher, payload string) error {
	if _, err := writer.WriteString(fmt.Sprintf("data: %s\n\n", payload)); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEJSON(writer *bufio.Writer, flusher http.Flusher, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return writeSSEData(writer, flusher, string(data))
}

// pump moves session events onto a channel so the caller can select on
// them together with keepalive ticks. The channel closes when the session
// ends; the cause is left in *cause.
func pump(ctx context.Context, session *realtime.Session, cause *error) <-chan event.Event {
	out := make(chan event.Event)
	go func() {
		defer close(out)
		for {
			evt, err := session.Next(ctx)
			if err != nil {
				*cause = err
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// StreamEvents godoc
// @Summary Stream realtime events (SSE)
// @Description Streams workspace events. With conversation_id the stream also carries that conversation's contact view.
// @Tags realtime
// @Produce text/event-stream
// @Param ws path string true "Workspace ID"
// @Param conversation_id query string false "Conversation to focus"
// @Success 200 {string} string
// @Router /workspaces/{ws}/events [get]
func (h *EventsHandler) StreamEvents(c echo.Context) error {
	workspaceID := strings.TrimSpace(c.Param("ws"))
	ctx := c.Request().Context()
	session := realtime.Open(h.logger, h.hub, h.conversations, workspaceID, h.cfg.SubscriberBuffer)
	defer session.Close()

	var scope []string
	if id := strings.TrimSpace(c.QueryParam("conversation_id")); id != "" {
		ids, err := session.Focus(ctx, id)
		if err != nil {
			return httpError(err)
		}
		scope = ids
	}

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}
	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	writer := bufio.NewWriter(c.Response().Writer)

	if err := writeSSEJSON(writer, flusher, realtime.ServerFrame{Type: realtime.FrameScope, Scope: scope}); err != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var cause error
	events := pump(ctx, session, &cause)
	ticker := time.NewTicker(h.cfg.PingInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := writeSSEJSON(writer, flusher, map[string]any{"type": "ping"}); err != nil {
				return nil
			}
		case evt, ok := <-events:
			if !ok {
				if errors.Is(cause, realtime.ErrDropped) {
					_ = writeSSEJSON(writer, flusher, realtime.ServerFrame{Type: realtime.FrameDropped})
				}
				return nil
			}
			if err := writeSSEJSON(writer, flusher, realtime.EventFrame(evt)); err != nil {
				return nil
			}
		}
	}
}

// Websocket upgrades to a bidirectional session. Clients send focus, blur,
// heartbeat, typing and read frames; the server pushes event frames.
func (h *EventsHandler) Websocket(c echo.Context) error {
	workspaceID := strings.TrimSpace(c.Param("ws"))
	if workspaceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workspace id is required")
	}
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	session := realtime.Open(h.logger, h.hub, h.conversations, workspaceID, h.cfg.SubscriberBuffer)
	defer session.Close()
	log := h.logger.With(slog.String("session_id", session.ID()), slog.String("workspace_id", workspaceID))

	replies := make(chan realtime.ServerFrame, 8)
	conn.SetReadLimit(wsMaxFrameSize)
	pongWait := 2 * h.cfg.PingInterval.Duration
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		defer cancel()
		for {
			var frame realtime.ClientFrame
			if err := conn.ReadJSON(&frame); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("websocket read failed", slog.Any("error", err))
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			reply, ok := h.handleFrame(ctx, workspaceID, session, frame)
			if !ok {
				continue
			}
			select {
			case replies <- reply:
			case <-ctx.Done():
				return
			}
		}
	}()

	var cause error
	events := pump(ctx, session, &cause)
	ticker := time.NewTicker(h.cfg.PingInterval.Duration)
	defer ticker.Stop()

	write := func(frame realtime.ServerFrame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(frame)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return nil
			}
		case reply := <-replies:
			if err := write(reply); err != nil {
				return nil
			}
		case evt, ok := <-events:
			if !ok {
				if errors.Is(cause, realtime.ErrDropped) {
					log.Info("websocket session dropped")
					_ = write(realtime.ServerFrame{Type: realtime.FrameDropped})
				}
				return nil
			}
			if err := write(realtime.EventFrame(evt)); err != nil {
				return nil
			}
		}
	}
}

// handleFrame applies one client frame. The bool is false when the frame
// needs no reply.
func (h *EventsHandler) handleFrame(ctx context.Context, workspaceID string, session *realtime.Session, frame realtime.ClientFrame) (realtime.ServerFrame, bool) {
	fail := func(err error) (realtime.ServerFrame, bool) {
		return realtime.ServerFrame{Type: realtime.FrameError, Request: frame.Type, Error: err.Error()}, true
	}
	switch frame.Type {
	case realtime.FrameFocus:
		scope, err := session.Focus(ctx, frame.ConversationID)
		if err != nil {
			return fail(err)
		}
		return realtime.ServerFrame{Type: realtime.FrameScope, Request: frame.Type, Scope: scope}, true
	case realtime.FrameBlur:
		session.Blur()
		return realtime.ServerFrame{Type: realtime.FrameScope, Request: frame.Type}, true
	case realtime.FrameHeartbeat:
		if _, err := h.tracker.Heartbeat(workspaceID, frame.Subject); err != nil {
			return fail(err)
		}
		return realtime.ServerFrame{}, false
	case realtime.FrameTyping:
		if _, err := h.tracker.Typing(workspaceID, frame.ConversationID, frame.Subject); err != nil {
			if errors.Is(err, presence.ErrRateLimited) {
				return realtime.ServerFrame{}, false
			}
			return fail(err)
		}
		return realtime.ServerFrame{}, false
	case realtime.FrameRead:
		if _, err := h.tracker.MarkRead(ctx, workspaceID, frame.MessageID, frame.ReaderID); err != nil {
			return fail(err)
		}
		return realtime.ServerFrame{}, false
	default:
		return fail(fmt.Errorf("unknown frame type %q", frame.Type))
	}
}
