// Package realtime scopes a client's event subscription: the conversation
// it has open, the rest of that contact's conversations, and the workspace
// conversation list.
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/memohai/unibox/internal/message/event"
	"github.com/memohai/unibox/internal/store"
)

// ErrDropped means the hub dropped the session for falling behind. The
// client reconnects and resyncs.
var ErrDropped = errors.New("realtime session dropped")

// Resolver follows merges and lists the conversations shown together with
// one conversation. *conversation.Service implements it.
type Resolver interface {
	Live(ctx context.Context, workspaceID, conversationID string) (store.Conversation, error)
	Related(ctx context.Context, workspaceID, conversationID string) ([]store.Conversation, error)
}

// Session is one client's subscription. Next is called from a single
// goroutine; Focus and Blur may be called from any.
type Session struct {
	id          string
	workspaceID string
	resolver    Resolver
	logger      *slog.Logger
	stream      <-chan event.Event
	cancel      func()

	mu    sync.RWMutex
	focus string
	scope map[string]struct{}
}

// Open subscribes a session to workspaceID's events on hub.
func Open(log *slog.Logger, hub *event.Hub, resolver Resolver, workspaceID string, buffer int) *Session {
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		workspaceID: strings.TrimSpace(workspaceID),
		resolver:    resolver,
		scope:       map[string]struct{}{},
	}
	s.id, s.stream, s.cancel = hub.Subscribe(s.workspaceID, buffer, s.accept)
	s.logger = log.With(slog.String("service", "realtime"), slog.String("session_id", s.id))
	return s
}

// ID returns the hub stream id.
func (s *Session) ID() string {
	return s.id
}

// Focus opens conversationID and subscribes to its contact view. It returns
// the scoped conversation ids, the live conversation first.
func (s *Session) Focus(ctx context.Context, conversationID string) ([]string, error) {
	live, err := s.resolver.Live(ctx, s.workspaceID, strings.TrimSpace(conversationID))
	if err != nil {
		return nil, err
	}
	related, err := s.resolver.Related(ctx, s.workspaceID, live.ID)
	if err != nil {
		return nil, err
	}
	scope := map[string]struct{}{live.ID: {}}
	ids := []string{live.ID}
	for _, conv := range related {
		if _, ok := scope[conv.ID]; ok {
			continue
		}
		scope[conv.ID] = struct{}{}
		ids = append(ids, conv.ID)
	}
	s.mu.Lock()
	s.focus = live.ID
	s.scope = scope
	s.mu.Unlock()
	s.logger.Debug("session focused", slog.String("conversation_id", ids[0]), slog.Int("scope", len(ids)))
	return ids, nil
}

// Blur drops the open conversation; only workspace-wide events remain.
func (s *Session) Blur() {
	s.mu.Lock()
	s.focus = ""
	s.scope = map[string]struct{}{}
	s.mu.Unlock()
}

// Scope returns the conversation ids whose message events are delivered.
func (s *Session) Scope() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.scope))
	for id := range s.scope {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Focused returns the open conversation id.
func (s *Session) Focused() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.focus
}

// Next blocks for the next event. A conversation.changed event for a
// scoped conversation refreshes the scope before it is returned, so a
// merge moves the session to the surviving conversation.
func (s *Session) Next(ctx context.Context) (event.Event, error) {
	select {
	case <-ctx.Done():
		return event.Event{}, ctx.Err()
	case evt, ok := <-s.stream:
		if !ok {
			return event.Event{}, ErrDropped
		}
		if evt.Type == event.TypeConversationChanged && s.inScope(evt.ConversationID) {
			s.refocus(ctx, evt)
		}
		return evt, nil
	}
}

// Close unsubscribes the session.
func (s *Session) Close() {
	s.cancel()
}

func (s *Session) refocus(ctx context.Context, evt event.Event) {
	var conv store.Conversation
	if err := evt.Decode(&conv); err != nil {
		s.logger.Warn("decode conversation event", slog.Any("error", err))
		return
	}
	target := s.Focused()
	if conv.ID == target && conv.MergedIntoID != "" {
		target = conv.MergedIntoID
	}
	if target == "" {
		return
	}
	if _, err := s.Focus(ctx, target); err != nil {
		s.logger.Debug("refocus failed", slog.String("conversation_id", target), slog.Any("error", err))
	}
}

func (s *Session) inScope(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.scope[conversationID]
	return ok
}

// accept runs on the publisher's goroutine.
func (s *Session) accept(evt event.Event) bool {
	switch evt.Type {
	case event.TypeConversationChanged, event.TypePresence:
		return true
	case event.TypeTyping:
		return evt.ConversationID == "" || s.inScope(evt.ConversationID)
	default:
		return s.inScope(evt.ConversationID)
	}
}
