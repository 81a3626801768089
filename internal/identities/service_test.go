package identities

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/unibox/internal/conversation"
	"github.com/memohai/unibox/internal/keylock"
	"github.com/memohai/unibox/internal/message/event"
	"github.com/memohai/unibox/internal/store"
	"github.com/memohai/unibox/internal/store/memory"
)

const ws = "ws-1"

type fixture struct {
	store         *memory.Store
	hub           *event.Hub
	conversations *conversation.Service
	identities    *Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := memory.New()
	hub := event.NewHub(nil)
	locks := keylock.New()
	convs := conversation.NewService(nil, st, locks, hub)
	return fixture{
		store:         st,
		hub:           hub,
		conversations: convs,
		identities:    NewService(nil, st, locks, convs),
	}
}

func (f fixture) resolve(t *testing.T, typ store.IdentityType, value string) store.Identity {
	t.Helper()
	ident, err := f.identities.Resolve(context.Background(), ResolveRequest{Type: typ, Value: value})
	require.NoError(t, err)
	return ident
}

func (f fixture) contact(t *testing.T, name string) store.Contact {
	t.Helper()
	c, err := f.store.CreateContact(context.Background(), store.CreateContactParams{WorkspaceID: ws, DisplayName: name})
	require.NoError(t, err)
	return c
}

// seed stores n inbound messages from ident in its conversation, starting at base.
func (f fixture) seed(t *testing.T, ident store.Identity, n int, base time.Time) store.Conversation {
	t.Helper()
	ctx := context.Background()
	conv, err := f.conversations.ResolveForInbound(ctx, ws, ident)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		sentAt := base.Add(time.Duration(i) * time.Minute)
		_, inserted, err := f.store.InsertMessage(ctx, store.Message{
			ID: uuid.NewString(), WorkspaceID: ws, ConversationID: conv.ID, Channel: "telegram",
			IntegrationAccountID: "bot", Direction: store.DirectionInbound, SenderIdentityID: ident.ID,
			ExternalMessageID: fmt.Sprintf("%s-%d", ident.ID, i), Status: store.MessageReceived,
			SentAt: sentAt, IngestedAt: time.Now(),
		})
		require.NoError(t, err)
		require.True(t, inserted)
		conv, err = f.store.ApplyMessageRollup(ctx, store.MessageRollup{
			ConversationID: conv.ID, SentAt: sentAt, Channel: "telegram", Direction: store.DirectionInbound,
		})
		require.NoError(t, err)
	}
	return conv
}

func (f fixture) messages(t *testing.T, conversationID string) []store.Message {
	t.Helper()
	items, err := f.store.ListMessages(context.Background(), store.ListMessagesParams{ConversationID: conversationID})
	require.NoError(t, err)
	return items
}

func TestResolveIsIdempotentUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	ids := make([]string, 32)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ident, err := f.identities.Resolve(context.Background(), ResolveRequest{
				Type: store.IdentityEmail, Value: fmt.Sprintf("  JANE@example.com%s", []string{"", " "}[i%2]),
			})
			assert.NoError(t, err)
			ids[i] = ident.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestResolveMergesMetadataWithoutBlanking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.identities.Resolve(ctx, ResolveRequest{Type: store.IdentityPlatformUser, Value: "555", Metadata: map[string]any{"display_name": "Jane"}})
	require.NoError(t, err)
	ident, err := f.identities.Resolve(ctx, ResolveRequest{Type: store.IdentityPlatformUser, Value: "555", Metadata: map[string]any{"display_name": "", "username": "jane"}})
	require.NoError(t, err)
	assert.Equal(t, "Jane", ident.Metadata["display_name"])
	assert.Equal(t, "jane", ident.Metadata["username"])
}

func TestLinkRekeysWhenContactHasNoConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ident := f.resolve(t, store.IdentityPlatformUser, "555")
	conv := f.seed(t, ident, 1, time.Now())
	jane := f.contact(t, "Jane")

	_, stream, cancel := f.hub.Subscribe(ws, 8, nil)
	defer cancel()

	linked, err := f.identities.Link(ctx, ident.ID, jane.ID)
	require.NoError(t, err)
	assert.Equal(t, jane.ID, linked.ContactID)

	got, err := f.conversations.Live(ctx, ws, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, jane.ID, got.ContactID)
	assert.Len(t, f.messages(t, conv.ID), 1)

	evt := <-stream
	assert.Equal(t, event.TypeConversationChanged, evt.Type)
	assert.Equal(t, conv.ID, evt.ConversationID)

	again, err := f.conversations.ResolveForInbound(ctx, ws, linked)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)
}

func TestLinkWithoutConversationIsNoop(t *testing.T) {
	f := newFixture(t)
	ident := f.resolve(t, store.IdentityEmail, "jane@example.com")
	jane := f.contact(t, "Jane")

	linked, err := f.identities.Link(context.Background(), ident.ID, jane.ID)
	require.NoError(t, err)
	conv, err := f.conversations.ResolveForInbound(context.Background(), ws, linked)
	require.NoError(t, err)
	assert.Equal(t, jane.ID, conv.ContactID)
}

func TestLinkSequentialMergeKeepsAllMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := f.resolve(t, store.IdentityPlatformUser, "a")
	b := f.resolve(t, store.IdentityEmail, "b@example.com")
	x := f.seed(t, a, 3, base)
	y := f.seed(t, b, 2, base.Add(90*time.Second))
	c := f.contact(t, "C")

	_, err := f.identities.Link(ctx, a.ID, c.ID)
	require.NoError(t, err)
	_, err = f.identities.Link(ctx, b.ID, c.ID)
	require.NoError(t, err)

	live, err := f.conversations.Live(ctx, ws, y.ID)
	require.NoError(t, err)
	assert.Equal(t, x.ID, live.ID, "second link merges into the conversation produced by the first")

	msgs := f.messages(t, live.ID)
	require.Len(t, msgs, 5)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].SentAt.Before(msgs[i-1].SentAt))
	}
	retired, err := f.store.GetConversation(ctx, y.ID)
	require.NoError(t, err)
	assert.False(t, retired.Active())
	assert.Equal(t, x.ID, retired.MergedIntoID)

	active, err := f.store.ListContactConversations(ctx, ws, c.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestLinkMergesBothIntoExistingContactConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := f.contact(t, "C")
	z, _, err := f.store.UpsertContactConversation(ctx, ws, c.ID, "")
	require.NoError(t, err)
	a := f.resolve(t, store.IdentityPlatformUser, "a")
	b := f.resolve(t, store.IdentityPhone, "+1 555 0100")
	x := f.seed(t, a, 3, base)
	y := f.seed(t, b, 2, base.Add(30*time.Second))

	_, err = f.identities.Link(ctx, a.ID, c.ID)
	require.NoError(t, err)
	_, err = f.identities.Link(ctx, b.ID, c.ID)
	require.NoError(t, err)

	msgs := f.messages(t, z.ID)
	require.Len(t, msgs, 5)
	for _, id := range []string{x.ID, y.ID} {
		conv, err := f.store.GetConversation(ctx, id)
		require.NoError(t, err)
		assert.False(t, conv.Active())
		assert.Equal(t, z.ID, conv.MergedIntoID)
	}
	merged, err := f.store.GetConversation(ctx, z.ID)
	require.NoError(t, err)
	require.NotNil(t, merged.LastMessageAt)
	assert.True(t, merged.LastMessageAt.Equal(base.Add(2*time.Minute)))
}

func TestLinkThreeIdentitiesAppliesInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().UTC()
	c := f.contact(t, "C")
	var convs []store.Conversation
	var idents []store.Identity
	for i := 0; i < 3; i++ {
		ident := f.resolve(t, store.IdentityPlatformUser, fmt.Sprintf("user-%d", i))
		idents = append(idents, ident)
		convs = append(convs, f.seed(t, ident, i+1, base.Add(time.Duration(i)*time.Hour)))
	}
	for _, ident := range idents {
		_, err := f.identities.Link(ctx, ident.ID, c.ID)
		require.NoError(t, err)
	}
	assert.Len(t, f.messages(t, convs[0].ID), 6)
	for _, conv := range convs[1:] {
		live, err := f.conversations.Live(ctx, ws, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, convs[0].ID, live.ID)
	}
}

func TestConcurrentLinksToOneContactLeaveOneConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contact(t, "C")
	var idents []store.Identity
	for i := 0; i < 8; i++ {
		ident := f.resolve(t, store.IdentityPlatformUser, fmt.Sprintf("u%d", i))
		f.seed(t, ident, 2, time.Now())
		idents = append(idents, ident)
	}
	var wg sync.WaitGroup
	for _, ident := range idents {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.identities.Link(ctx, id, c.ID)
			assert.NoError(t, err)
		}(ident.ID)
	}
	wg.Wait()

	active, err := f.store.ListContactConversations(ctx, ws, c.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Len(t, f.messages(t, active[0].ID), 16)
}

func TestLinkRejectsDifferentContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ident := f.resolve(t, store.IdentityPlatformUser, "555")
	jane, john := f.contact(t, "Jane"), f.contact(t, "John")

	_, err := f.identities.Link(ctx, ident.ID, jane.ID)
	require.NoError(t, err)
	_, err = f.identities.Link(ctx, ident.ID, jane.ID)
	require.NoError(t, err, "relinking to the same contact is a no-op")
	_, err = f.identities.Link(ctx, ident.ID, john.ID)
	assert.ErrorIs(t, err, ErrAlreadyLinked)

	_, err = f.identities.Unlink(ctx, ident.ID)
	require.NoError(t, err)
	_, err = f.identities.Link(ctx, ident.ID, john.ID)
	assert.NoError(t, err)
}

func TestLinkUnknownRows(t *testing.T) {
	f := newFixture(t)
	ident := f.resolve(t, store.IdentityPlatformUser, "555")
	_, err := f.identities.Link(context.Background(), ident.ID, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)

	jane := f.contact(t, "Jane")
	require.NoError(t, f.store.SoftDeleteContact(context.Background(), jane.ID, time.Now()))
	_, err = f.identities.Link(context.Background(), ident.ID, jane.ID)
	assert.ErrorIs(t, err, ErrContactDeleted)
}

func TestUnlinkLeavesHistoryInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ident := f.resolve(t, store.IdentityPlatformUser, "555")
	conv := f.seed(t, ident, 2, time.Now())
	jane := f.contact(t, "Jane")
	_, err := f.identities.Link(ctx, ident.ID, jane.ID)
	require.NoError(t, err)

	unlinked, err := f.identities.Unlink(ctx, ident.ID)
	require.NoError(t, err)
	assert.Empty(t, unlinked.ContactID)

	kept, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, kept.Active())
	assert.Equal(t, jane.ID, kept.ContactID)
	assert.Len(t, f.messages(t, conv.ID), 2)

	next, err := f.conversations.ResolveForInbound(ctx, ws, unlinked)
	require.NoError(t, err)
	assert.NotEqual(t, conv.ID, next.ID)
	assert.Empty(t, next.ContactID)
	assert.Equal(t, ident.ID, next.PrimaryIdentityID)
}
