package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/memohai/unibox/internal/message"
	"github.com/memohai/unibox/internal/message/event"
	"github.com/memohai/unibox/internal/realtime"
	"github.com/memohai/unibox/internal/reconcile"
	"github.com/memohai/unibox/internal/store"
)

type tailOptions struct {
	apiURL         string
	workspaceID    string
	conversationID string
	subject        string
	history        int
	timeout        time.Duration
	pendingTimeout time.Duration
	heartbeat      time.Duration
	reconnect      time.Duration
}

func newTailCommand() *cobra.Command {
	var opts tailOptions
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow a conversation live; lines typed on stdin are sent",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromOptions(opts.apiURL, opts.timeout)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runTail(ctx, client, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.apiURL, "api-url", "", "API server base URL (default derived from server.addr)")
	flags.StringVarP(&opts.workspaceID, "workspace", "w", "", "Workspace id")
	flags.StringVarP(&opts.conversationID, "conversation", "c", "", "Conversation id")
	flags.StringVar(&opts.subject, "subject", "", "Operator id announced through heartbeats")
	flags.IntVar(&opts.history, "history", 50, "Messages loaded before following")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "HTTP request timeout")
	flags.DurationVar(&opts.pendingTimeout, "pending-timeout", reconcile.DefaultPendingTimeout, "How long a sent line may wait for confirmation")
	flags.DurationVar(&opts.heartbeat, "heartbeat", 20*time.Second, "Heartbeat interval when --subject is set")
	flags.DurationVar(&opts.reconnect, "reconnect-delay", time.Second, "First delay before reconnecting a lost stream")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}

func clientFromOptions(apiURL string, timeout time.Duration) (*apiClient, error) {
	if strings.TrimSpace(apiURL) == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		apiURL = defaultAPIBaseURL(cfg.Server.Addr)
	}
	if strings.TrimSpace(apiURL) == "" {
		return nil, errors.New("api url is required")
	}
	return newAPIClient(apiURL, &http.Client{Timeout: timeout}), nil
}

// sendResult is the server's answer to a line typed during tail.
type sendResult struct {
	id   string
	view message.View
	err  error
}

// frameAction tells the tail loop what a frame requires.
type frameAction int

const (
	frameApplied frameAction = iota
	// frameResync reloads history for the focused conversation.
	frameResync
	// frameReconnect means the server dropped the session.
	frameReconnect
)

const (
	maxReconnectDelay = 30 * time.Second
	maxReconnects     = 8
)

var (
	errServerClosed = errors.New("server closed the stream")
	errDropped      = errors.New("session dropped")
)

// tailView owns the timeline and the followed conversation id. Every
// method runs on the tail loop goroutine.
type tailView struct {
	timeline       *reconcile.Timeline
	out            io.Writer
	conversationID string
}

func (v *tailView) print(item reconcile.Item) {
	fmt.Fprintln(v.out, renderItem(item))
}

func (v *tailView) notice(format string, args ...any) {
	fmt.Fprintln(v.out, renderNotice(format, args...))
}

// reset replaces the timeline with a fresh history page and reprints it.
// The page names the live conversation when the requested one was merged.
func (v *tailView) reset(history message.History) {
	if id := history.Conversation.ID; id != "" && id != v.conversationID {
		if v.conversationID != "" {
			v.notice("following %s", id)
		}
		v.conversationID = id
	}
	v.timeline.Reset(history.Messages)
	for _, item := range v.timeline.Items() {
		v.print(item)
	}
}

// handleFrame applies one server frame.
func (v *tailView) handleFrame(frame realtime.ServerFrame) frameAction {
	switch frame.Type {
	case realtime.FrameEvent:
		if frame.Event == nil {
			return frameApplied
		}
		return v.applyEvent(*frame.Event)
	case realtime.FrameScope:
		v.notice("watching %s", strings.Join(frame.Scope, ", "))
	case realtime.FrameError:
		v.notice("%s rejected: %s", frame.Request, frame.Error)
	case realtime.FrameDropped:
		v.notice("fell behind, resyncing")
		return frameReconnect
	}
	return frameApplied
}

func (v *tailView) applyEvent(evt event.Event) frameAction {
	switch evt.Type {
	case event.TypeMessageCreated, event.TypeMessageUpdated:
		changed, err := v.timeline.Apply(evt)
		if err != nil {
			v.notice("bad event: %v", err)
			return frameApplied
		}
		if !changed {
			return frameApplied
		}
		var view message.View
		if err := evt.Decode(&view); err == nil {
			if item, ok := v.timeline.Get(view.ID); ok {
				v.print(item)
			}
		}
	case event.TypeTyping:
		v.notice("typing")
	case event.TypeConversationChanged:
		var conv store.Conversation
		if err := evt.Decode(&conv); err != nil {
			v.notice("bad event: %v", err)
			return frameApplied
		}
		if conv.ID == v.conversationID && conv.MergedIntoID != "" {
			v.notice("merged into %s", conv.MergedIntoID)
			v.conversationID = conv.MergedIntoID
			return frameResync
		}
		if conv.ID == v.conversationID {
			v.notice("conversation updated")
		}
	}
	return frameApplied
}

func (v *tailView) handleSend(res sendResult) {
	if res.err != nil {
		if item, ok := v.timeline.Reject(res.id, res.err.Error()); ok {
			v.print(item)
		}
		return
	}
	if v.timeline.Upsert(res.view) {
		if item, ok := v.timeline.Get(res.id); ok {
			v.print(item)
		}
	}
}

func (v *tailView) expire(now time.Time) {
	for _, id := range v.timeline.ExpirePending(now) {
		if item, ok := v.timeline.Get(id); ok {
			v.print(item)
		}
	}
}

// tailer follows one conversation across reconnects. Lines and send
// results outlive a single connection.
type tailer struct {
	client  *apiClient
	opts    tailOptions
	view    *tailView
	lines   <-chan string
	results chan sendResult
}

func runTail(ctx context.Context, client *apiClient, opts tailOptions, in io.Reader, out io.Writer) error {
	t := &tailer{
		client:  client,
		opts:    opts,
		view:    &tailView{timeline: reconcile.New(opts.pendingTimeout), out: out, conversationID: opts.conversationID},
		lines:   scanLines(ctx, in),
		results: make(chan sendResult, 4),
	}
	base := opts.reconnect
	if base <= 0 {
		base = time.Second
	}
	delay := base
	everConnected := false
	failures := 0
	for {
		connected, err := t.follow(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errServerClosed) {
			t.view.notice("server closed the stream")
			return nil
		}
		if !everConnected && !connected {
			return err
		}
		everConnected = true

		wait := delay
		if connected {
			failures = 0
			delay = base
			wait = base
			if errors.Is(err, errDropped) {
				wait = 0
			}
		} else {
			failures++
			if failures > maxReconnects {
				return fmt.Errorf("reconnect: %w", err)
			}
			delay = min(delay*2, maxReconnectDelay)
		}
		if wait > 0 {
			t.view.notice("reconnecting in %s: %v", wait, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// scanLines feeds non-blank stdin lines until the reader ends.
func scanLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// connect dials the stream and focuses the conversation. It returns once
// the server confirms the scope, so history read afterwards cannot miss an
// event. Frames that arrive before the confirmation are returned for replay.
func (t *tailer) connect(ctx context.Context) (*websocket.Conn, []realtime.ServerFrame, error) {
	wsURL, err := t.client.websocketURL(t.opts.workspaceID)
	if err != nil {
		return nil, nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	if err := conn.WriteJSON(realtime.ClientFrame{Type: realtime.FrameFocus, ConversationID: t.view.conversationID}); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("focus: %w", err)
	}
	if t.opts.subject != "" {
		_ = conn.WriteJSON(realtime.ClientFrame{Type: realtime.FrameHeartbeat, Subject: t.opts.subject})
	}
	if t.opts.timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(t.opts.timeout))
	}
	var early []realtime.ServerFrame
	for {
		var frame realtime.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("focus: %w", err)
		}
		if frame.Request != realtime.FrameFocus {
			early = append(early, frame)
			continue
		}
		if frame.Type == realtime.FrameError {
			conn.Close()
			return nil, nil, fmt.Errorf("focus %s: %s", t.view.conversationID, frame.Error)
		}
		early = append(early, frame)
		break
	}
	_ = conn.SetReadDeadline(time.Time{})
	return conn, early, nil
}

// resync reloads history for the followed conversation and refocuses the
// stream when the page moved to a merge target.
func (t *tailer) resync(ctx context.Context, conn *websocket.Conn) error {
	requested := t.view.conversationID
	history, err := t.client.History(ctx, t.opts.workspaceID, requested, t.opts.history)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	t.view.reset(history)
	if t.view.conversationID != requested {
		return conn.WriteJSON(realtime.ClientFrame{Type: realtime.FrameFocus, ConversationID: t.view.conversationID})
	}
	return nil
}

// follow runs one connection: subscribe, load history, then apply frames
// until the stream ends. connected is true once history was loaded.
func (t *tailer) follow(ctx context.Context) (connected bool, err error) {
	conn, early, err := t.connect(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if err := t.resync(ctx, conn); err != nil {
		return false, err
	}
	for _, frame := range early {
		if err := t.apply(ctx, conn, frame); err != nil {
			return true, err
		}
	}

	frames := make(chan realtime.ServerFrame, 16)
	readErr := make(chan error, 1)
	go func() {
		defer close(frames)
		for {
			var frame realtime.ServerFrame
			if err := conn.ReadJSON(&frame); err != nil {
				readErr <- err
				return
			}
			frames <- frame
		}
	}()

	expireTicker := time.NewTicker(time.Second)
	defer expireTicker.Stop()
	var heartbeat <-chan time.Time
	if t.opts.subject != "" && t.opts.heartbeat > 0 {
		ticker := time.NewTicker(t.opts.heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return true, nil
		case frame, ok := <-frames:
			if !ok {
				err := <-readErr
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return true, errServerClosed
				}
				return true, fmt.Errorf("stream: %w", err)
			}
			if err := t.apply(ctx, conn, frame); err != nil {
				return true, err
			}
		case line := <-t.lines:
			id := uuid.NewString()
			t.view.print(t.view.timeline.AddOptimistic(id, line, time.Now()))
			conversationID := t.view.conversationID
			go func() {
				sent, err := t.client.Send(ctx, t.opts.workspaceID, conversationID, message.SendInput{ClientMessageID: id, Text: line})
				select {
				case t.results <- sendResult{id: id, view: sent, err: err}:
				case <-ctx.Done():
				}
			}()
		case res := <-t.results:
			t.view.handleSend(res)
		case now := <-expireTicker.C:
			t.view.expire(now)
		case <-heartbeat:
			if err := conn.WriteJSON(realtime.ClientFrame{Type: realtime.FrameHeartbeat, Subject: t.opts.subject}); err != nil {
				return true, fmt.Errorf("heartbeat: %w", err)
			}
		}
	}
}

// apply handles one frame on a live connection.
func (t *tailer) apply(ctx context.Context, conn *websocket.Conn, frame realtime.ServerFrame) error {
	switch t.view.handleFrame(frame) {
	case frameReconnect:
		return errDropped
	case frameResync:
		if err := conn.WriteJSON(realtime.ClientFrame{Type: realtime.FrameFocus, ConversationID: t.view.conversationID}); err != nil {
			return fmt.Errorf("focus: %w", err)
		}
		return t.resync(ctx, conn)
	}
	return nil
}
