package message

import (
	"context"
	"errors"
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

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.pipeline.Start(context.Background()))
}

func (f *fixture) waitStatus(t *testing.T, messageID string, status store.MessageStatus) store.Message {
	t.Helper()
	var msg store.Message
	require.Eventually(t, func() bool {
		var err error
		msg, err = f.store.GetMessage(context.Background(), messageID)
		return err == nil && msg.Status == status
	}, 2*time.Second, 5*time.Millisecond, "message never reached %s", status)
	return msg
}

func TestSendOutboundDeliversAsynchronously(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	ctx := context.Background()
	inbound := f.ingest(t, chatMessage("abc", "555"))
	_, events, cancel := f.hub.Subscribe(ws, 16, nil)
	defer cancel()

	clientID := uuid.NewString()
	view, err := f.pipeline.SendOutbound(ctx, SendInput{
		WorkspaceID:     ws,
		ConversationID:  inbound.Conversation.ID,
		ClientMessageID: clientID,
		Text:            "hi Jane",
		ReplyToID:       inbound.Message.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, clientID, view.ID)
	assert.Equal(t, store.MessageSending, view.Status)
	assert.Equal(t, store.DirectionOutbound, view.Direction)
	assert.Equal(t, "chat", view.Channel, "defaults to the conversation's last channel")
	assert.Empty(t, f.sender.requests(), "nothing is sent before the workers run")

	f.start(t)
	sent := f.waitStatus(t, clientID, store.MessageSent)
	assert.Equal(t, "ext-1", sent.ExternalMessageID)

	reqs := f.sender.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "555", reqs[0].Destination)
	assert.Equal(t, "555", reqs[0].ChatID)
	assert.Equal(t, "bot", reqs[0].AccountID)
	assert.Equal(t, "abc", reqs[0].ReplyToExternalID)

	var types []event.Type
	for len(types) < 3 {
		select {
		case evt := <-events:
			types = append(types, evt.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", types)
		}
	}
	assert.Equal(t, []event.Type{event.TypeMessageCreated, event.TypeConversationChanged, event.TypeMessageUpdated}, types)
}

func TestSendOutboundIsIdempotentPerClientID(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	ctx := context.Background()
	inbound := f.ingest(t, chatMessage("abc", "555"))
	in := SendInput{WorkspaceID: ws, ConversationID: inbound.Conversation.ID, ClientMessageID: uuid.NewString(), Text: "once"}

	first, err := f.pipeline.SendOutbound(ctx, in)
	require.NoError(t, err)
	second, err := f.pipeline.SendOutbound(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.history(t, inbound.Conversation.ID).Messages, 2)

	f.start(t)
	f.waitStatus(t, first.ID, store.MessageSent)
	assert.Len(t, f.sender.requests(), 1)

	conflict := in
	conflict.ClientMessageID = inbound.Message.ID
	_, err = f.pipeline.SendOutbound(ctx, conflict)
	assert.ErrorIs(t, err, ErrMessageIDConflict)
}

func TestSendOutboundValidation(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	ctx := context.Background()
	inbound := f.ingest(t, chatMessage("abc", "555"))

	_, err := f.pipeline.SendOutbound(ctx, SendInput{WorkspaceID: ws, ConversationID: inbound.Conversation.ID, ClientMessageID: "m1", Text: "x"})
	assert.ErrorIs(t, err, ErrInvalidMessageID)

	_, err = f.pipeline.SendOutbound(ctx, SendInput{WorkspaceID: ws, ConversationID: inbound.Conversation.ID, ClientMessageID: uuid.NewString(), Text: "  "})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = f.pipeline.SendOutbound(ctx, SendInput{WorkspaceID: ws, ConversationID: inbound.Conversation.ID, ClientMessageID: uuid.NewString(), Text: "x", Channel: "mail"})
	assert.ErrorIs(t, err, ErrNoDestination)

	_, err = f.pipeline.SendOutbound(ctx, SendInput{WorkspaceID: ws, ConversationID: inbound.Conversation.ID, ClientMessageID: uuid.NewString(), Text: "x", Channel: "pager"})
	assert.ErrorIs(t, err, ErrUnknownChannel)

	_, err = f.pipeline.SendOutbound(ctx, SendInput{WorkspaceID: ws, ConversationID: inbound.Conversation.ID, ClientMessageID: uuid.NewString(), AttachmentIDs: []string{"missing"}})
	assert.ErrorIs(t, err, ErrAttachmentNotFound)

	_, err = f.pipeline.SendOutbound(ctx, SendInput{WorkspaceID: "ws-2", ConversationID: inbound.Conversation.ID, ClientMessageID: uuid.NewString(), Text: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSendOutboundFailureIsKeptAndRetryable(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	ctx := context.Background()
	inbound := f.ingest(t, chatMessage("abc", "555"))
	f.sender.fail(errors.New("gateway down"))
	f.start(t)

	view, err := f.pipeline.SendOutbound(ctx, SendInput{WorkspaceID: ws, ConversationID: inbound.Conversation.ID, ClientMessageID: uuid.NewString(), Text: "hello"})
	require.NoError(t, err)
	failed := f.waitStatus(t, view.ID, store.MessageFailed)
	assert.Equal(t, "gateway down", failed.Error)
	assert.Len(t, f.history(t, inbound.Conversation.ID).Messages, 2, "failed sends stay in history")

	retried, err := f.pipeline.Retry(ctx, ws, view.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MessageSending, retried.Status)
	sent := f.waitStatus(t, view.ID, store.MessageSent)
	assert.Empty(t, sent.Error)

	reqs := f.sender.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0].Destination, reqs[1].Destination)

	_, err = f.pipeline.Retry(ctx, ws, view.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)
	_, err = f.pipeline.Retry(ctx, ws, inbound.Message.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestRetryResumesInterruptedChunkedSend(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	ctx := context.Background()
	inbound := f.ingest(t, chatMessage("abc", "555"))
	f.sender.fail(&channel.PartialSendError{ExternalID: "ext-first", Sent: 2, Err: errors.New("rate limited")})
	f.start(t)

	view, err := f.pipeline.SendOutbound(ctx, SendInput{WorkspaceID: ws, ConversationID: inbound.Conversation.ID, ClientMessageID: uuid.NewString(), Text: "long text"})
	require.NoError(t, err)
	failed := f.waitStatus(t, view.ID, store.MessageFailed)
	assert.Equal(t, "ext-first", failed.ExternalMessageID, "delivered chunks keep their channel id")
	assert.Contains(t, failed.Error, "rate limited")

	_, err = f.pipeline.Retry(ctx, ws, view.ID)
	require.NoError(t, err)
	sent := f.waitStatus(t, view.ID, store.MessageSent)
	assert.Equal(t, "ext-first", sent.ExternalMessageID)

	reqs := f.sender.requests()
	require.Len(t, reqs, 2)
	assert.Zero(t, reqs[0].ResumeChunk)
	assert.Equal(t, 2, reqs[1].ResumeChunk, "retry skips the chunks already delivered")
}

func TestSendOutboundQueueFullFailsVisibly(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{QueueSize: 1})
	ctx := context.Background()
	inbound := f.ingest(t, chatMessage("abc", "555"))

	queued, err := f.pipeline.SendOutbound(ctx, SendInput{WorkspaceID: ws, ConversationID: inbound.Conversation.ID, ClientMessageID: uuid.NewString(), Text: "1"})
	require.NoError(t, err)
	assert.Equal(t, store.MessageSending, queued.Status)

	overflow, err := f.pipeline.SendOutbound(ctx, SendInput{WorkspaceID: ws, ConversationID: inbound.Conversation.ID, ClientMessageID: uuid.NewString(), Text: "2"})
	require.NoError(t, err)
	assert.Equal(t, store.MessageFailed, overflow.Status)
	assert.Equal(t, ErrQueueFull.Error(), overflow.Error)
}

func TestSendOutboundEmailThreadsOnLatestInbound(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	ctx := context.Background()
	inbound := f.ingest(t, mailMessage("<m1@example.net>", "alice@example.net"))
	att, err := f.store.CreateAttachment(ctx, store.Attachment{WorkspaceID: ws, Name: "quote.pdf", Mime: "application/pdf", SizeBytes: 10})
	require.NoError(t, err)

	view, err := f.pipeline.SendOutbound(ctx, SendInput{
		WorkspaceID:     ws,
		ConversationID:  inbound.Conversation.ID,
		ClientMessageID: uuid.NewString(),
		Text:            "**Thanks**, attached.",
		AttachmentIDs:   []string{att.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, "mail", view.Channel)
	assert.Equal(t, "Invoice", view.Subject)
	assert.Equal(t, inbound.Message.ID, view.ReplyToID)
	require.Len(t, view.Attachments, 1)

	f.start(t)
	f.waitStatus(t, view.ID, store.MessageSent)
	reqs := f.sender.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "alice@example.net", reqs[0].Destination)
	assert.Equal(t, "support@example.com", reqs[0].AccountID)
	assert.Equal(t, "m1@example.net", reqs[0].ReplyToExternalID)
	assert.Equal(t, []string{"m1@example.net"}, reqs[0].References)
	require.Len(t, reqs[0].Attachments, 1)
	assert.Equal(t, "https://files.test/"+att.ID, reqs[0].Attachments[0].URL)

	_, err = f.pipeline.SendOutbound(ctx, SendInput{WorkspaceID: ws, ConversationID: inbound.Conversation.ID, ClientMessageID: uuid.NewString(), AttachmentIDs: []string{att.ID}})
	assert.ErrorIs(t, err, store.ErrConflict, "an attachment belongs to one message")
}

func TestSendOutboundFollowsMergedConversation(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	ctx := context.Background()
	a := f.ingest(t, chatMessage("a1", "555"))
	b := f.ingest(t, chatMessage("b1", "777"))
	contact, err := f.store.CreateContact(ctx, store.CreateContactParams{WorkspaceID: ws, DisplayName: "Jane"})
	require.NoError(t, err)
	_, err = f.identities.Link(ctx, a.Message.SenderIdentityID, contact.ID)
	require.NoError(t, err)
	_, err = f.identities.Link(ctx, b.Message.SenderIdentityID, contact.ID)
	require.NoError(t, err)

	view, err := f.pipeline.SendOutbound(ctx, SendInput{WorkspaceID: ws, ConversationID: b.Conversation.ID, ClientMessageID: uuid.NewString(), Text: "merged"})
	require.NoError(t, err)
	assert.Equal(t, a.Conversation.ID, view.ConversationID)
}

func TestStopDrainsQueue(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	ctx := context.Background()
	inbound := f.ingest(t, chatMessage("abc", "555"))
	view, err := f.pipeline.SendOutbound(ctx, SendInput{WorkspaceID: ws, ConversationID: inbound.Conversation.ID, ClientMessageID: uuid.NewString(), Text: "bye"})
	require.NoError(t, err)

	f.start(t)
	require.NoError(t, f.pipeline.Stop(ctx))
	msg, err := f.store.GetMessage(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MessageSent, msg.Status)

	after, err := f.pipeline.SendOutbound(ctx, SendInput{WorkspaceID: ws, ConversationID: inbound.Conversation.ID, ClientMessageID: uuid.NewString(), Text: "late"})
	require.NoError(t, err)
	assert.Equal(t, store.MessageFailed, after.Status)
}
