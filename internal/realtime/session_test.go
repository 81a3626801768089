package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/unibox/internal/conversation"
	"github.com/memohai/unibox/internal/identities"
	"github.com/memohai/unibox/internal/keylock"
	"github.com/memohai/unibox/internal/message/event"
	"github.com/memohai/unibox/internal/store"
	"github.com/memohai/unibox/internal/store/memory"
)

const ws = "ws-1"

type env struct {
	store *memory.Store
	hub   *event.Hub
	convs *conversation.Service
	ids   *identities.Service
}

func newEnv() env {
	st := memory.New()
	hub := event.NewHub(nil)
	locks := keylock.New()
	convs := conversation.NewService(nil, st, locks, hub)
	return env{store: st, hub: hub, convs: convs, ids: identities.NewService(nil, st, locks, convs)}
}

func (e env) conversationFor(t *testing.T, value string) (store.Identity, store.Conversation) {
	t.Helper()
	ident, err := e.ids.Resolve(context.Background(), identities.ResolveRequest{Type: store.IdentityPlatformUser, Value: value})
	require.NoError(t, err)
	conv, err := e.convs.ResolveForInbound(context.Background(), ws, ident)
	require.NoError(t, err)
	return ident, conv
}

func publish(t *testing.T, hub *event.Hub, typ event.Type, conversationID string) {
	t.Helper()
	evt, err := event.New(typ, ws, conversationID, map[string]string{"id": conversationID})
	require.NoError(t, err)
	hub.Publish(evt)
}

func next(t *testing.T, s *Session) event.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	evt, err := s.Next(ctx)
	require.NoError(t, err)
	return evt
}

func TestSessionFiltersMessagesByFocus(t *testing.T) {
	e := newEnv()
	_, open := e.conversationFor(t, "555")
	_, other := e.conversationFor(t, "777")

	s := Open(nil, e.hub, e.convs, ws, 8)
	defer s.Close()

	publish(t, e.hub, event.TypeMessageCreated, open.ID)
	publish(t, e.hub, event.TypeConversationChanged, other.ID)
	assert.Equal(t, other.ID, next(t, s).ConversationID, "unfocused sessions only see the workspace list")

	ids, err := s.Focus(context.Background(), open.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{open.ID}, ids)

	publish(t, e.hub, event.TypeMessageCreated, other.ID)
	publish(t, e.hub, event.TypeTyping, other.ID)
	publish(t, e.hub, event.TypeMessageUpdated, open.ID)
	evt := next(t, s)
	assert.Equal(t, event.TypeMessageUpdated, evt.Type)
	assert.Equal(t, open.ID, evt.ConversationID)

	s.Blur()
	assert.Empty(t, s.Scope())
	assert.Empty(t, s.Focused())
}

func TestSessionFollowsMerge(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	a, x := e.conversationFor(t, "555")
	b, y := e.conversationFor(t, "777")
	contact, err := e.store.CreateContact(ctx, store.CreateContactParams{WorkspaceID: ws, DisplayName: "Jane"})
	require.NoError(t, err)
	_, err = e.ids.Link(ctx, a.ID, contact.ID)
	require.NoError(t, err)

	s := Open(nil, e.hub, e.convs, ws, 16)
	defer s.Close()
	_, err = s.Focus(ctx, y.ID)
	require.NoError(t, err)
	assert.Equal(t, y.ID, s.Focused())

	_, err = e.ids.Link(ctx, b.ID, contact.ID)
	require.NoError(t, err)

	retired := next(t, s)
	assert.Equal(t, event.TypeConversationChanged, retired.Type)
	assert.Equal(t, y.ID, retired.ConversationID)
	assert.Equal(t, x.ID, s.Focused())
	assert.Equal(t, []string{x.ID}, s.Scope())

	assert.Equal(t, x.ID, next(t, s).ConversationID)
	publish(t, e.hub, event.TypeMessageCreated, x.ID)
	assert.Equal(t, event.TypeMessageCreated, next(t, s).Type)
}

func TestSessionDroppedWhenSlow(t *testing.T) {
	e := newEnv()
	_, conv := e.conversationFor(t, "555")
	s := Open(nil, e.hub, e.convs, ws, 1)
	defer s.Close()

	for i := 0; i < 3; i++ {
		publish(t, e.hub, event.TypeConversationChanged, conv.ID)
	}
	assert.Equal(t, int64(1), e.hub.Dropped())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := s.Next(ctx)
	require.NoError(t, err, "buffered event is still delivered")
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, ErrDropped)
}

func TestFocusUnknownConversation(t *testing.T) {
	e := newEnv()
	s := Open(nil, e.hub, e.convs, ws, 4)
	defer s.Close()
	_, err := s.Focus(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
