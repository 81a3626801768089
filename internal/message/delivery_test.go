package message

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/unibox/internal/channel"
	"github.com/memohai/unibox/internal/config"
	"github.com/memohai/unibox/internal/message/event"
	"github.com/memohai/unibox/internal/store"
)

// sentMessage stores an outbound message and records it as sent with
// external id "ext-1".
func (f *fixture) sentMessage(t *testing.T) (IngestResult, View) {
	t.Helper()
	inbound := f.ingest(t, chatMessage("abc", "555"))
	view, err := f.pipeline.SendOutbound(context.Background(), SendInput{
		WorkspaceID: ws, ConversationID: inbound.Conversation.ID, ClientMessageID: uuid.NewString(), Text: "hello",
	})
	require.NoError(t, err)
	f.start(t)
	f.waitStatus(t, view.ID, store.MessageSent)
	return inbound, view
}

func TestDeliveryStatusNeverRegresses(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	ctx := context.Background()
	_, sent := f.sentMessage(t)

	steps := []struct {
		status store.MessageStatus
		want   store.MessageStatus
	}{
		{store.MessageDelivered, store.MessageDelivered},
		{store.MessageSent, store.MessageDelivered},
		{store.MessageRead, store.MessageRead},
		{store.MessageDelivered, store.MessageRead},
		{store.MessageFailed, store.MessageRead},
	}
	for _, step := range steps {
		view, err := f.pipeline.UpdateDeliveryStatus(ctx, ws, channel.DeliveryCallback{MessageID: sent.ID, Status: step.status})
		require.NoError(t, err)
		assert.Equal(t, step.want, view.Status, "after %s", step.status)
	}

	read, err := f.store.HasReadReceipt(ctx, sent.ID)
	require.NoError(t, err)
	assert.True(t, read)
}

func TestDeliveryStatusByExternalID(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	ctx := context.Background()
	_, sent := f.sentMessage(t)
	_, events, cancel := f.hub.Subscribe(ws, 8, nil)
	defer cancel()

	view, err := f.pipeline.UpdateDeliveryStatus(ctx, ws, channel.DeliveryCallback{
		Channel: chatType, AccountID: "bot", ChatID: "555", ExternalMessageID: "ext-1", Status: store.MessageDelivered,
	})
	require.NoError(t, err)
	assert.Equal(t, sent.ID, view.ID)
	assert.Equal(t, store.MessageDelivered, view.Status)
	assert.Equal(t, event.TypeMessageUpdated, (<-events).Type)

	_, err = f.pipeline.UpdateDeliveryStatus(ctx, ws, channel.DeliveryCallback{
		Channel: chatType, AccountID: "bot", ChatID: "999", ExternalMessageID: "ext-1", Status: store.MessageRead,
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.pipeline.UpdateDeliveryStatus(ctx, "ws-2", channel.DeliveryCallback{MessageID: sent.ID, Status: store.MessageRead})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.pipeline.UpdateDeliveryStatus(ctx, ws, channel.DeliveryCallback{MessageID: sent.ID, Status: store.MessageSending})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestDeliveryFailureAfterSent(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	ctx := context.Background()
	_, sent := f.sentMessage(t)

	view, err := f.pipeline.UpdateDeliveryStatus(ctx, ws, channel.DeliveryCallback{MessageID: sent.ID, Status: store.MessageFailed})
	require.NoError(t, err)
	assert.Equal(t, store.MessageFailed, view.Status)
	assert.Equal(t, "delivery failed", view.Error)

	view, err = f.pipeline.UpdateDeliveryStatus(ctx, ws, channel.DeliveryCallback{MessageID: sent.ID, Status: store.MessageDelivered})
	require.NoError(t, err)
	assert.Equal(t, store.MessageDelivered, view.Status, "a later confirmation wins over a failure")
}

func TestRecordReadOnInboundKeepsStatus(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	ctx := context.Background()
	inbound := f.ingest(t, chatMessage("abc", "555"))
	_, events, cancel := f.hub.Subscribe(ws, 8, nil)
	defer cancel()

	view, err := f.pipeline.RecordRead(ctx, ws, inbound.Message.ID, "operator-1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, store.MessageReceived, view.Status)
	assert.Equal(t, event.TypeMessageUpdated, (<-events).Type)

	_, err = f.pipeline.RecordRead(ctx, ws, inbound.Message.ID, "operator-1", time.Time{})
	require.NoError(t, err)
	select {
	case evt := <-events:
		t.Fatalf("repeated receipt published %s", evt.Type)
	default:
	}
}

func TestApplyInboundUpdate(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	ctx := context.Background()
	inbound := f.ingest(t, chatMessage("abc", "555"))
	at := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)

	edited, err := f.pipeline.ApplyInboundUpdate(ctx, ws, channel.InboundUpdate{
		Channel: chatType, AccountID: "bot", ChatID: "555", MessageID: "abc", Kind: channel.UpdateEdit, Text: "hello again", At: at,
	})
	require.NoError(t, err)
	assert.Equal(t, inbound.Message.ID, edited.ID)
	assert.Equal(t, "hello again", edited.Text)
	require.NotNil(t, edited.EditedAt)
	assert.True(t, edited.EditedAt.Equal(at))

	deleted, err := f.pipeline.ApplyInboundUpdate(ctx, ws, channel.InboundUpdate{
		Channel: chatType, AccountID: "bot", ChatID: "555", MessageID: "abc", Kind: channel.UpdateDelete,
	})
	require.NoError(t, err)
	assert.NotNil(t, deleted.DeletedAt)

	_, err = f.pipeline.ApplyInboundUpdate(ctx, ws, channel.InboundUpdate{Channel: chatType, AccountID: "bot", ChatID: "555", MessageID: "abc", Kind: "react"})
	assert.ErrorIs(t, err, ErrUnknownUpdate)

	_, err = f.pipeline.ApplyInboundUpdate(ctx, ws, channel.InboundUpdate{Channel: chatType, AccountID: "bot", ChatID: "555", MessageID: "nope", Kind: channel.UpdateEdit})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweepStaleFailsStuckSends(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{StaleAfter: config.Duration{Duration: time.Minute}})
	ctx := context.Background()
	inbound := f.ingest(t, chatMessage("abc", "555"))
	stuck, err := f.pipeline.SendOutbound(ctx, SendInput{WorkspaceID: ws, ConversationID: inbound.Conversation.ID, ClientMessageID: uuid.NewString(), Text: "stuck"})
	require.NoError(t, err)

	swept, err := f.pipeline.SweepStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)

	f.clock.Advance(2 * time.Minute)
	swept, err = f.pipeline.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	msg, err := f.store.GetMessage(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MessageFailed, msg.Status)
	assert.Equal(t, "send timed out", msg.Error)
}

func TestAdvances(t *testing.T) {
	tests := []struct {
		current, next store.MessageStatus
		want          bool
	}{
		{store.MessageSending, store.MessageSent, true},
		{store.MessageSending, store.MessageRead, true},
		{store.MessageSent, store.MessageSending, false},
		{store.MessageDelivered, store.MessageSent, false},
		{store.MessageSending, store.MessageFailed, true},
		{store.MessageSent, store.MessageFailed, true},
		{store.MessageDelivered, store.MessageFailed, false},
		{store.MessageFailed, store.MessageSent, true},
		{store.MessageFailed, store.MessageSending, false},
		{store.MessageRead, store.MessageRead, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, advances(tt.current, tt.next), "%s -> %s", tt.current, tt.next)
	}
}
