package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/unibox/internal/store"
)

func TestUpsertIdentityMergesMetadata(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, err := s.UpsertIdentity(ctx, store.UpsertIdentityParams{
		Type: store.IdentityEmail, Value: "Jane@Example.com", NormalizedValue: "jane@example.com",
		Metadata: map[string]any{"display_name": "Jane"},
	})
	require.NoError(t, err)

	second, err := s.UpsertIdentity(ctx, store.UpsertIdentityParams{
		Type: store.IdentityEmail, Value: "jane@example.com", NormalizedValue: "jane@example.com",
		Metadata: map[string]any{"display_name": "", "avatar": "x.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, map[string]any{"display_name": "Jane", "avatar": "x.png"}, second.Metadata)
}

func TestUpsertIdentityConcurrent(t *testing.T) {
	ctx := context.Background()
	s := New()
	ids := make([]string, 16)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ident, err := s.UpsertIdentity(ctx, store.UpsertIdentityParams{
				Type: store.IdentityPhone, Value: "+1 555", NormalizedValue: "+1555",
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

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(q store.Queries) error {
		_, err := q.CreateContact(ctx, store.CreateContactParams{WorkspaceID: "w1", DisplayName: "Jane"})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	contacts, err := s.ListContacts(ctx, "w1")
	require.NoError(t, err)
	assert.Empty(t, contacts)
}

func TestConversationUpsertIsSingular(t *testing.T) {
	ctx := context.Background()
	s := New()
	ident, err := s.UpsertIdentity(ctx, store.UpsertIdentityParams{Type: store.IdentityPlatformUser, Value: "555", NormalizedValue: "555"})
	require.NoError(t, err)

	a, created, err := s.UpsertIdentityConversation(ctx, "w1", ident.ID)
	require.NoError(t, err)
	assert.True(t, created)
	b, created, err := s.UpsertIdentityConversation(ctx, "w1", ident.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, b.ID)

	other, created, err := s.UpsertIdentityConversation(ctx, "w2", ident.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, a.ID, other.ID)
}

func TestRekeyConflictsWithExistingContactConversation(t *testing.T) {
	ctx := context.Background()
	s := New()
	contact, err := s.CreateContact(ctx, store.CreateContactParams{WorkspaceID: "w1", DisplayName: "Jane"})
	require.NoError(t, err)
	ident, err := s.UpsertIdentity(ctx, store.UpsertIdentityParams{Type: store.IdentityPlatformUser, Value: "1", NormalizedValue: "1"})
	require.NoError(t, err)

	_, _, err = s.UpsertContactConversation(ctx, "w1", contact.ID, "")
	require.NoError(t, err)
	loose, _, err := s.UpsertIdentityConversation(ctx, "w1", ident.ID)
	require.NoError(t, err)

	_, err = s.RekeyConversation(ctx, loose.ID, contact.ID)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestInsertMessageDedup(t *testing.T) {
	ctx := context.Background()
	s := New()
	ident, err := s.UpsertIdentity(ctx, store.UpsertIdentityParams{Type: store.IdentityPlatformUser, Value: "555", NormalizedValue: "555"})
	require.NoError(t, err)
	conv, _, err := s.UpsertIdentityConversation(ctx, "w1", ident.ID)
	require.NoError(t, err)

	msg := store.Message{
		ID: uuid.NewString(), WorkspaceID: "w1", ConversationID: conv.ID, Channel: "telegram",
		IntegrationAccountID: "bot", Direction: store.DirectionInbound, ExternalMessageID: "abc",
		ExternalChatID: "555", DedupChatID: "555", Status: store.MessageReceived, SentAt: time.Now(),
	}
	first, inserted, err := s.InsertMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, inserted)

	again := msg
	again.ID = uuid.NewString()
	second, inserted, err := s.InsertMessage(ctx, again)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, second.ID)

	otherChat := msg
	otherChat.ID = uuid.NewString()
	otherChat.DedupChatID = "777"
	_, inserted, err = s.InsertMessage(ctx, otherChat)
	require.NoError(t, err)
	assert.True(t, inserted, "same external id in another chat is a different message")
}

func TestApplyMessageRollupKeepsMaximum(t *testing.T) {
	ctx := context.Background()
	s := New()
	ident, err := s.UpsertIdentity(ctx, store.UpsertIdentityParams{Type: store.IdentityPlatformUser, Value: "1", NormalizedValue: "1"})
	require.NoError(t, err)
	conv, _, err := s.UpsertIdentityConversation(ctx, "w1", ident.ID)
	require.NoError(t, err)
	_, err = s.SetConversationStatus(ctx, conv.ID, store.StatusResolved)
	require.NoError(t, err)

	late := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	early := late.Add(-time.Hour)
	_, err = s.ApplyMessageRollup(ctx, store.MessageRollup{ConversationID: conv.ID, SentAt: late, Channel: "telegram", Direction: store.DirectionInbound, ReopenResolved: true})
	require.NoError(t, err)
	got, err := s.ApplyMessageRollup(ctx, store.MessageRollup{ConversationID: conv.ID, SentAt: early, Channel: "email", Direction: store.DirectionOutbound})
	require.NoError(t, err)

	assert.True(t, got.LastMessageAt.Equal(late))
	assert.Equal(t, "telegram", got.LastChannel)
	assert.True(t, got.LastInboundAt.Equal(late))
	assert.True(t, got.LastOutboundAt.Equal(early))
	assert.Equal(t, store.StatusOpen, got.Status)
}
