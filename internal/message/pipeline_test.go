package message

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/unibox/internal/channel"
	"github.com/memohai/unibox/internal/config"
	"github.com/memohai/unibox/internal/contacts"
	"github.com/memohai/unibox/internal/conversation"
	"github.com/memohai/unibox/internal/identities"
	"github.com/memohai/unibox/internal/keylock"
	"github.com/memohai/unibox/internal/message/event"
	"github.com/memohai/unibox/internal/store"
	"github.com/memohai/unibox/internal/store/memory"
)

const (
	ws       = "ws-1"
	chatType = channel.Type("chat")
	mailType = channel.Type("mail")
)

type testAdapter struct {
	desc channel.Descriptor
}

func (a testAdapter) Descriptor() channel.Descriptor { return a.desc }

func (a testAdapter) Send(context.Context, channel.SendRequest) (string, error) {
	return "", errors.New("send goes through the fake sender")
}

type fakeSender struct {
	mu    sync.Mutex
	reqs  []channel.SendRequest
	errs  []error
	count int
}

func (f *fakeSender) Send(_ context.Context, _ channel.Type, req channel.SendRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	if req.ResumeChunk > 0 {
		// Resumed sends report no id, the first chunk already did.
		return "", nil
	}
	f.count++
	return fmt.Sprintf("ext-%d", f.count), nil
}

func (f *fakeSender) fail(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

func (f *fakeSender) requests() []channel.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]channel.SendRequest(nil), f.reqs...)
}

type fakeLinker struct{}

func (fakeLinker) URL(att store.Attachment) (string, error) {
	return "https://files.test/" + att.ID, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store         *memory.Store
	hub           *event.Hub
	clock         *clock
	identities    *identities.Service
	contacts      *contacts.Service
	conversations *conversation.Service
	sender        *fakeSender
	pipeline      *Pipeline
}

func newFixture(t *testing.T, cfg config.OutboundConfig) *fixture {
	t.Helper()
	return newFixtureOn(t, cfg, nil)
}

// newFixtureOn lets wrap put a store decorator in front of every service.
func newFixtureOn(t *testing.T, cfg config.OutboundConfig, wrap func(*memory.Store) store.Store) *fixture {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	st := memory.NewWithClock(clk.Now)
	var backend store.Store = st
	if wrap != nil {
		backend = wrap(st)
	}
	hub := event.NewHub(nil)
	locks := keylock.New()
	convs := conversation.NewService(nil, backend, locks, hub)
	idents := identities.NewService(nil, backend, locks, convs)

	registry := channel.NewRegistry()
	registry.MustRegister(testAdapter{desc: channel.Descriptor{
		Type:          chatType,
		IdentityType:  store.IdentityPlatformUser,
		ThreadCapable: true,
		Capabilities:  channel.Capabilities{Text: true, Reply: true, Attachments: true},
	}})
	registry.MustRegister(testAdapter{desc: channel.Descriptor{
		Type:         mailType,
		IdentityType: store.IdentityEmail,
		Capabilities: channel.Capabilities{Text: true, Reply: true, Subject: true, Attachments: true},
	}})

	sender := &fakeSender{}
	p := NewPipeline(nil, Deps{
		Store:         backend,
		Locks:         locks,
		Events:        hub,
		Identities:    idents,
		Conversations: convs,
		Registry:      registry,
		Sender:        sender,
		Links:         fakeLinker{},
	}, cfg)
	p.now = clk.Now
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return &fixture{
		store:         st,
		hub:           hub,
		clock:         clk,
		identities:    idents,
		contacts:      contacts.NewService(nil, backend),
		conversations: convs,
		sender:        sender,
		pipeline:      p,
	}
}

func chatMessage(externalID, from string) InboundInput {
	return InboundInput{
		WorkspaceID: ws,
		InboundMessage: channel.InboundMessage{
			Channel:   chatType,
			AccountID: "bot",
			ChatID:    from,
			MessageID: externalID,
			Sender:    channel.Sender{Value: from, DisplayName: "Jane D"},
			Text:      "hello " + externalID,
		},
	}
}

func mailMessage(messageID, from string) InboundInput {
	return InboundInput{
		WorkspaceID: ws,
		InboundMessage: channel.InboundMessage{
			Channel:   mailType,
			AccountID: "support@example.com",
			MessageID: messageID,
			Sender:    channel.Sender{Value: from},
			Subject:   "Invoice",
			Text:      "see attached",
		},
	}
}

func (f *fixture) ingest(t *testing.T, in InboundInput) IngestResult {
	t.Helper()
	res, err := f.pipeline.IngestInbound(context.Background(), in)
	require.NoError(t, err)
	return res
}

func (f *fixture) history(t *testing.T, conversationID string) History {
	t.Helper()
	h, err := f.pipeline.ListMessages(context.Background(), ws, conversationID, ListRequest{})
	require.NoError(t, err)
	return h
}

func TestIngestRedeliveryAndLinkRekeys(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	ctx := context.Background()

	first := f.ingest(t, chatMessage("abc", "555"))
	assert.True(t, first.Created)
	assert.Empty(t, first.Conversation.ContactID)
	assert.Equal(t, store.MessageReceived, first.Message.Status)

	again := f.ingest(t, chatMessage("abc", "555"))
	assert.False(t, again.Created)
	assert.Equal(t, first.Message.ID, again.Message.ID)
	assert.Len(t, f.history(t, first.Conversation.ID).Messages, 1)

	ident, err := f.store.GetIdentity(ctx, first.Message.SenderIdentityID)
	require.NoError(t, err)
	assert.Equal(t, store.IdentityPlatformUser, ident.Type)
	assert.Equal(t, "555", ident.NormalizedValue)
	assert.Equal(t, "Jane D", ident.Metadata["display_name"])

	jane, err := f.contacts.Create(ctx, ws, contacts.CreateRequest{DisplayName: "Jane"})
	require.NoError(t, err)
	_, err = f.identities.Link(ctx, ident.ID, jane.ID)
	require.NoError(t, err)

	h := f.history(t, first.Conversation.ID)
	assert.Equal(t, first.Conversation.ID, h.Conversation.ID, "link re-keys instead of creating")
	assert.Equal(t, jane.ID, h.Conversation.ContactID)
	assert.Len(t, h.Messages, 1)

	next := f.ingest(t, chatMessage("abd", "555"))
	assert.Equal(t, first.Conversation.ID, next.Conversation.ID)
}

// hookedStore runs a one-shot hook right after an identity upsert returns,
// which is the moment IngestInbound holds a possibly outdated sender.
type hookedStore struct {
	*memory.Store
	mu   sync.Mutex
	hook func(store.Identity)
}

func (s *hookedStore) UpsertIdentity(ctx context.Context, arg store.UpsertIdentityParams) (store.Identity, error) {
	ident, err := s.Store.UpsertIdentity(ctx, arg)
	s.mu.Lock()
	hook := s.hook
	s.hook = nil
	s.mu.Unlock()
	if err == nil && hook != nil {
		hook(ident)
	}
	return ident, err
}

func (s *hookedStore) onNextUpsert(hook func(store.Identity)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

func TestIngestFollowsLinkCommittedDuringResolve(t *testing.T) {
	cases := []struct {
		name                   string
		contactHasConversation bool
	}{
		{name: "rekey", contactHasConversation: false},
		{name: "merge", contactHasConversation: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := &hookedStore{}
			f := newFixtureOn(t, config.OutboundConfig{}, func(st *memory.Store) store.Store {
				backend.Store = st
				return backend
			})
			ctx := context.Background()
			first := f.ingest(t, chatMessage("abc", "555"))
			jane, err := f.contacts.Create(ctx, ws, contacts.CreateRequest{DisplayName: "Jane"})
			require.NoError(t, err)
			target := first.Conversation
			if tc.contactHasConversation {
				target, _, err = f.store.UpsertContactConversation(ctx, ws, jane.ID, "")
				require.NoError(t, err)
			}

			var linkErr error
			backend.onNextUpsert(func(ident store.Identity) {
				_, linkErr = f.identities.Link(ctx, ident.ID, jane.ID)
			})
			second := f.ingest(t, chatMessage("def", "555"))
			require.NoError(t, linkErr)

			assert.Equal(t, target.ID, second.Conversation.ID)
			assert.Equal(t, jane.ID, second.Conversation.ContactID)
			owned, err := f.store.ListContactConversations(ctx, ws, jane.ID)
			require.NoError(t, err)
			require.Len(t, owned, 1, "the contact must keep a single conversation")
			assert.Len(t, f.history(t, target.ID).Messages, 2)
		})
	}
}

func TestIngestSameExternalIDInAnotherChat(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	a := f.ingest(t, chatMessage("1", "555"))
	b := f.ingest(t, chatMessage("1", "777"))
	assert.True(t, b.Created)
	assert.NotEqual(t, a.Message.ID, b.Message.ID)
}

func TestIngestConcurrentRedelivery(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.pipeline.IngestInbound(context.Background(), chatMessage("dup", "555"))
			assert.NoError(t, err)
			ids[i] = res.Message.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestIngestValidation(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	ctx := context.Background()

	in := chatMessage("x", "555")
	in.WorkspaceID = ""
	_, err := f.pipeline.IngestInbound(ctx, in)
	assert.ErrorIs(t, err, ErrWorkspaceRequired)

	in = chatMessage("", "555")
	_, err = f.pipeline.IngestInbound(ctx, in)
	assert.ErrorIs(t, err, ErrExternalIDRequired)

	in = chatMessage("x", " ")
	_, err = f.pipeline.IngestInbound(ctx, in)
	assert.ErrorIs(t, err, ErrSenderRequired)

	in = chatMessage("x", "555")
	in.Channel = "pager"
	_, err = f.pipeline.IngestInbound(ctx, in)
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestIngestPublishesInsertThenConversation(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	_, events, cancel := f.hub.Subscribe(ws, 8, nil)
	defer cancel()

	res := f.ingest(t, chatMessage("abc", "555"))
	created := <-events
	assert.Equal(t, event.TypeMessageCreated, created.Type)
	assert.Equal(t, res.Conversation.ID, created.ConversationID)
	var view View
	require.NoError(t, created.Decode(&view))
	assert.Equal(t, res.Message.ID, view.ID)

	changed := <-events
	assert.Equal(t, event.TypeConversationChanged, changed.Type)

	f.ingest(t, chatMessage("abc", "555"))
	select {
	case evt := <-events:
		t.Fatalf("redelivery published %s", evt.Type)
	default:
	}
}

func TestIngestReopensResolvedConversation(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	ctx := context.Background()
	res := f.ingest(t, chatMessage("1", "555"))
	resolved := store.StatusResolved
	_, err := f.conversations.Update(ctx, ws, res.Conversation.ID, conversation.UpdateRequest{Status: &resolved})
	require.NoError(t, err)

	next := f.ingest(t, chatMessage("2", "555"))
	assert.Equal(t, store.StatusOpen, next.Conversation.Status)
}

func TestIngestEmailThreadsAcrossSenders(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	original := f.ingest(t, mailMessage("<m1@example.net>", "Alice@Example.net"))
	assert.Equal(t, "m1@example.net", original.Message.ExternalMessageID)

	reply := mailMessage("<m2@example.org>", "bob@example.org")
	reply.InReplyTo = "<m1@example.net>"
	reply.References = "<m0@example.net> <m1@example.net>"
	got := f.ingest(t, reply)
	assert.Equal(t, original.Conversation.ID, got.Conversation.ID)
	assert.Equal(t, original.Message.ID, got.Message.ReplyToID)

	otherBox := mailMessage("<m3@example.org>", "bob@example.org")
	otherBox.AccountID = "sales@example.com"
	otherBox.InReplyTo = "<m1@example.net>"
	elsewhere := f.ingest(t, otherBox)
	assert.NotEqual(t, original.Conversation.ID, elsewhere.Conversation.ID, "threading is scoped to the mailbox")
}

func TestIngestDerivesTextFromHTML(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	in := mailMessage("<h1@example.net>", "alice@example.net")
	in.Text = ""
	in.HTML = "<p>Hello <strong>there</strong></p>"
	res := f.ingest(t, in)
	assert.Equal(t, "Hello **there**", res.Message.Text)
	assert.Equal(t, in.HTML, res.Message.HTML)
}

func TestIngestLinksUploadedAttachments(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	ctx := context.Background()
	uploaded, err := f.store.CreateAttachment(ctx, store.Attachment{WorkspaceID: ws, Name: "a.png", Mime: "image/png", SizeBytes: 3})
	require.NoError(t, err)
	foreign, err := f.store.CreateAttachment(ctx, store.Attachment{WorkspaceID: "ws-2", Name: "b.png"})
	require.NoError(t, err)

	in := chatMessage("att", "555")
	in.AttachmentIDs = []string{uploaded.ID, "not-uploaded-yet", foreign.ID}
	res := f.ingest(t, in)
	require.Len(t, res.Message.Attachments, 1)
	assert.Equal(t, uploaded.ID, res.Message.Attachments[0].ID)

	stored, err := f.store.GetAttachment(ctx, foreign.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.MessageID)
}

func TestSequentialLinksMergeHistory(t *testing.T) {
	f := newFixture(t, config.OutboundConfig{})
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	send := func(from string, n int, offset time.Duration) IngestResult {
		var res IngestResult
		for i := 0; i < n; i++ {
			in := chatMessage(fmt.Sprintf("%s-%d", from, i), from)
			in.SentAt = base.Add(offset + time.Duration(i)*2*time.Minute)
			res = f.ingest(t, in)
		}
		return res
	}
	x := send("A", 3, 0)
	y := send("B", 2, time.Minute)

	contact, err := f.contacts.Create(ctx, ws, contacts.CreateRequest{DisplayName: "C"})
	require.NoError(t, err)
	_, err = f.identities.Link(ctx, x.Message.SenderIdentityID, contact.ID)
	require.NoError(t, err)
	_, err = f.identities.Link(ctx, y.Message.SenderIdentityID, contact.ID)
	require.NoError(t, err)

	live, err := f.conversations.Live(ctx, ws, y.Conversation.ID)
	require.NoError(t, err)
	h := f.history(t, live.ID)
	require.Len(t, h.Messages, 5)
	for i := 1; i < len(h.Messages); i++ {
		assert.False(t, h.Messages[i].SentAt.Before(h.Messages[i-1].SentAt))
	}

	active, err := f.conversations.List(ctx, ws, conversation.ListRequest{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, contact.ID, active[0].ContactID)

	yConv, err := f.store.GetConversation(ctx, y.Conversation.ID)
	require.NoError(t, err)
	assert.False(t, yConv.Active())
}

func TestThreadReferences(t *testing.T) {
	tests := []struct {
		name       string
		inReplyTo  string
		references string
		want       []string
	}{
		{name: "empty"},
		{name: "parent only", inReplyTo: "<a@x>", want: []string{"a@x"}},
		{name: "parent then newest reference", inReplyTo: "<c@x>", references: "<a@x> <b@x> <c@x>", want: []string{"c@x", "b@x", "a@x"}},
		{name: "references only", references: "<a@x>  <b@x>", want: []string{"b@x", "a@x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, threadReferences(tt.inReplyTo, tt.references))
		})
	}
}
