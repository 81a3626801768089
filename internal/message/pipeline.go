// Package message is the message ingest pipeline: inbound dedup and
// conversation assignment, asynchronous outbound sends, delivery status and
// history reads.
package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	gomail "github.com/emersion/go-message/mail"
	"go.opentelemetry.io/otel/attribute"

	"github.com/memohai/unibox/internal/channel"
	"github.com/memohai/unibox/internal/config"
	"github.com/memohai/unibox/internal/conversation"
	"github.com/memohai/unibox/internal/identities"
	"github.com/memohai/unibox/internal/keylock"
	"github.com/memohai/unibox/internal/message/event"
	"github.com/memohai/unibox/internal/store"
	"github.com/memohai/unibox/internal/tracing"
)

// maxRetarget bounds how often one write chases a conversation that was
// merged or archived between resolution and commit.
const maxRetarget = 4

var errRetarget = errors.New("conversation moved")

// Sender transmits an outbound request on a channel.
type Sender interface {
	Send(ctx context.Context, channelType channel.Type, req channel.SendRequest) (string, error)
}

// AttachmentLinker turns stored attachments into URLs an adapter can fetch.
type AttachmentLinker interface {
	URL(att store.Attachment) (string, error)
}

// Pipeline is the single write path for messages and their conversation
// rollups.
type Pipeline struct {
	store         store.Store
	locks         *keylock.Map
	events        event.Publisher
	identities    *identities.Service
	conversations *conversation.Service
	registry      *channel.Registry
	sender        Sender
	links         AttachmentLinker
	cfg           config.OutboundConfig
	logger        *slog.Logger
	now           func() time.Time

	jobs    chan sendJob
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
}

// Deps groups the pipeline's collaborators.
type Deps struct {
	Store         store.Store
	Locks         *keylock.Map
	Events        event.Publisher
	Identities    *identities.Service
	Conversations *conversation.Service
	Registry      *channel.Registry
	Sender        Sender
	Links         AttachmentLinker
}

// NewPipeline creates a pipeline. Sends are queued until Start runs the
// workers.
func NewPipeline(log *slog.Logger, deps Deps, cfg config.OutboundConfig) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if deps.Locks == nil {
		deps.Locks = keylock.New()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = config.DefaultSendWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = config.DefaultSendQueueSize
	}
	if cfg.SendTimeout.Duration <= 0 {
		cfg.SendTimeout.Duration = config.DefaultSendTimeout
	}
	if cfg.StaleAfter.Duration <= 0 {
		cfg.StaleAfter.Duration = config.DefaultStaleAfter
	}
	return &Pipeline{
		store:         deps.Store,
		locks:         deps.Locks,
		events:        deps.Events,
		identities:    deps.Identities,
		conversations: deps.Conversations,
		registry:      deps.Registry,
		sender:        deps.Sender,
		links:         deps.Links,
		cfg:           cfg,
		logger:        log.With(slog.String("service", "message")),
		now:           func() time.Time { return time.Now().UTC() },
		jobs:          make(chan sendJob, cfg.QueueSize),
	}
}

// IngestInbound stores an inbound message exactly once per dedup key and
// assigns it to its conversation. Email replies join the conversation of
// the message they answer when it is known in the same mailbox.
func (p *Pipeline) IngestInbound(ctx context.Context, in InboundInput) (result IngestResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "message.ingest_inbound",
		attribute.String("workspace_id", in.WorkspaceID),
		attribute.String("channel", in.Channel.String()),
	)
	defer func() { tracing.End(span, err) }()

	workspaceID := strings.TrimSpace(in.WorkspaceID)
	if workspaceID == "" {
		return IngestResult{}, ErrWorkspaceRequired
	}
	desc, ok := p.registry.Descriptor(in.Channel)
	if !ok {
		return IngestResult{}, fmt.Errorf("%w: %s", ErrUnknownChannel, in.Channel)
	}
	externalID := strings.Trim(strings.TrimSpace(in.MessageID), "<>")
	if externalID == "" {
		return IngestResult{}, ErrExternalIDRequired
	}
	if strings.TrimSpace(in.Sender.Value) == "" {
		return IngestResult{}, ErrSenderRequired
	}
	key := store.DedupKey{
		Channel:              desc.Type.String(),
		IntegrationAccountID: strings.TrimSpace(in.AccountID),
		ExternalMessageID:    externalID,
	}
	if desc.ThreadCapable {
		key.ChatID = strings.TrimSpace(in.ChatID)
	}
	if existing, err := p.store.GetMessageByDedupKey(ctx, key); err == nil {
		return p.redelivered(ctx, existing)
	} else if !errors.Is(err, store.ErrNotFound) {
		return IngestResult{}, fmt.Errorf("dedup lookup: %w", err)
	}

	identityType := in.Sender.Type
	if identityType == "" {
		identityType = desc.IdentityType
	}
	meta := map[string]any{}
	for k, v := range in.Sender.Metadata {
		meta[k] = v
	}
	if name := strings.TrimSpace(in.Sender.DisplayName); name != "" {
		meta["display_name"] = name
	}
	sender, err := p.identities.Resolve(ctx, identities.ResolveRequest{
		Type:     identityType,
		Value:    in.Sender.Value,
		Metadata: meta,
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("resolve sender: %w", err)
	}

	conv, threadParentID, err := p.assignInbound(ctx, workspaceID, desc, key.IntegrationAccountID, in.InboundMessage, sender)
	if err != nil {
		return IngestResult{}, err
	}

	sentAt := in.SentAt.UTC()
	if sentAt.IsZero() {
		sentAt = p.now()
	}
	text := strings.TrimSpace(in.Text)
	if text == "" && strings.TrimSpace(in.HTML) != "" {
		converted, err := htmltomarkdown.ConvertString(in.HTML)
		if err != nil {
			p.logger.Warn("derive text from html failed", slog.String("external_message_id", externalID), slog.Any("error", err))
		} else {
			text = strings.TrimSpace(converted)
		}
	}
	replyToID := threadParentID
	if ref := strings.TrimSpace(in.ReplyToExternalID); ref != "" {
		parentKey := key
		parentKey.ExternalMessageID = ref
		if parent, err := p.store.GetMessageByDedupKey(ctx, parentKey); err == nil {
			replyToID = parent.ID
		}
	}
	msg := store.Message{
		ID:                   newMessageID(),
		WorkspaceID:          workspaceID,
		Channel:              desc.Type.String(),
		IntegrationAccountID: key.IntegrationAccountID,
		Direction:            store.DirectionInbound,
		SenderIdentityID:     sender.ID,
		ExternalMessageID:    externalID,
		ExternalChatID:       strings.TrimSpace(in.ChatID),
		DedupChatID:          key.ChatID,
		ReplyToID:            replyToID,
		Text:                 text,
		Subject:              strings.TrimSpace(in.Subject),
		HTML:                 in.HTML,
		Status:               store.MessageReceived,
		Raw:                  in.Raw,
		SentAt:               sentAt,
	}

	for attempt := 0; ; attempt++ {
		result, err = p.commitInbound(ctx, conv, msg, in.AttachmentIDs)
		if !errors.Is(err, errRetarget) {
			break
		}
		if attempt+1 >= maxRetarget {
			return IngestResult{}, fmt.Errorf("ingest inbound: %w", conversation.ErrMergeLoop)
		}
		// Merged away or archived after resolution: resolve again with the
		// sender's current binding.
		if sender, err = p.store.GetIdentity(ctx, sender.ID); err != nil {
			return IngestResult{}, fmt.Errorf("reload sender: %w", err)
		}
		if conv, _, err = p.assignInbound(ctx, workspaceID, desc, key.IntegrationAccountID, in.InboundMessage, sender); err != nil {
			return IngestResult{}, err
		}
	}
	if err != nil {
		return IngestResult{}, err
	}
	if result.Created {
		p.logger.Info("inbound stored",
			slog.String("message_id", result.Message.ID),
			slog.String("conversation_id", result.Conversation.ID),
			slog.String("channel", msg.Channel))
	}
	return result, nil
}

func (p *Pipeline) redelivered(ctx context.Context, existing store.Message) (IngestResult, error) {
	view, err := p.view(ctx, p.store, existing)
	if err != nil {
		return IngestResult{}, err
	}
	conv, err := p.store.GetConversation(ctx, existing.ConversationID)
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Message: view, Conversation: conv}, nil
}

// assignInbound picks the conversation for an inbound message: the thread
// it replies to when one is known, otherwise the sender's conversation. The
// second result is the id of the thread message that matched.
func (p *Pipeline) assignInbound(ctx context.Context, workspaceID string, desc channel.Descriptor, accountID string, in channel.InboundMessage, sender store.Identity) (store.Conversation, string, error) {
	if ids := threadReferences(in.InReplyTo, in.References); len(ids) > 0 {
		parent, err := p.store.FindThreadMessage(ctx, desc.Type.String(), accountID, ids)
		switch {
		case err == nil && parent.WorkspaceID == workspaceID:
			conv, err := p.conversations.Live(ctx, workspaceID, parent.ConversationID)
			if err == nil {
				return conv, parent.ID, nil
			}
			if !errors.Is(err, conversation.ErrConversationClosed) {
				return store.Conversation{}, "", fmt.Errorf("load thread conversation: %w", err)
			}
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return store.Conversation{}, "", fmt.Errorf("find thread message: %w", err)
		}
	}
	conv, err := p.conversations.ResolveForInbound(ctx, workspaceID, sender)
	if err != nil {
		return store.Conversation{}, "", fmt.Errorf("resolve conversation: %w", err)
	}
	return conv, "", nil
}

// threadReferences returns the message ids an email answers, direct parent
// first, without angle brackets.
func threadReferences(inReplyTo, references string) []string {
	if strings.TrimSpace(inReplyTo) == "" && strings.TrimSpace(references) == "" {
		return nil
	}
	header := gomail.HeaderFromMap(map[string][]string{
		"In-Reply-To": {inReplyTo},
		"References":  {references},
	})
	var ids []string
	seen := map[string]struct{}{}
	add := func(list []string) {
		for _, id := range list {
			if _, ok := seen[id]; ok || id == "" {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if parents, err := header.MsgIDList("In-Reply-To"); err == nil {
		add(parents)
	}
	if refs, err := header.MsgIDList("References"); err == nil {
		// Newest reference last in the header.
		for i, j := 0, len(refs)-1; i < j; i, j = i+1, j-1 {
			refs[i], refs[j] = refs[j], refs[i]
		}
		add(refs)
	}
	return ids
}

// commitInbound writes msg into conv under the conversation's lock so that
// commits and their events leave in the same order.
func (p *Pipeline) commitInbound(ctx context.Context, conv store.Conversation, msg store.Message, attachmentIDs []string) (IngestResult, error) {
	unlock := p.locks.Lock(conversation.LockKey(conv.ID))
	defer unlock()

	var (
		stored  store.Message
		created bool
		updated store.Conversation
		linked  []store.Attachment
	)
	err := p.store.InTx(ctx, func(q store.Queries) error {
		current, err := q.GetConversationForUpdate(ctx, conv.ID)
		if err != nil {
			return err
		}
		if !current.Active() {
			return errRetarget
		}
		msg.ConversationID = current.ID
		stored, created, err = q.InsertMessage(ctx, msg)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if !created {
			// Lost a race against a concurrent delivery of the same key.
			updated, err = q.GetConversation(ctx, stored.ConversationID)
			return err
		}
		updated, err = q.ApplyMessageRollup(ctx, store.MessageRollup{
			ConversationID: current.ID,
			SentAt:         stored.SentAt,
			Channel:        stored.Channel,
			Direction:      stored.Direction,
			ReopenResolved: true,
		})
		if err != nil {
			return fmt.Errorf("apply rollup: %w", err)
		}
		linked, err = p.linkInboundAttachments(ctx, q, stored, attachmentIDs)
		return err
	})
	if err != nil {
		return IngestResult{}, err
	}
	if !created {
		view, err := p.view(ctx, p.store, stored)
		if err != nil {
			return IngestResult{}, err
		}
		return IngestResult{Message: view, Conversation: updated}, nil
	}
	view := View{Message: stored, Attachments: linked}
	p.publishMessage(event.TypeMessageCreated, view)
	p.conversations.Publish(updated)
	return IngestResult{Message: view, Conversation: updated, Created: true}, nil
}

// linkInboundAttachments attaches already uploaded blobs. Ids not uploaded
// yet are skipped; the upload links them once it names this message.
func (p *Pipeline) linkInboundAttachments(ctx context.Context, q store.Queries, msg store.Message, ids []string) ([]store.Attachment, error) {
	linked := make([]store.Attachment, 0, len(ids))
	for _, id := range ids {
		att, err := q.GetAttachment(ctx, strings.TrimSpace(id))
		if errors.Is(err, store.ErrNotFound) {
			p.logger.Debug("attachment not uploaded yet", slog.String("attachment_id", id), slog.String("message_id", msg.ID))
			continue
		}
		if err != nil {
			return nil, err
		}
		if att.WorkspaceID != msg.WorkspaceID {
			continue
		}
		att, err = q.LinkAttachment(ctx, att.ID, msg.ID)
		if errors.Is(err, store.ErrConflict) {
			p.logger.Warn("attachment owned by another message", slog.String("attachment_id", id), slog.String("message_id", msg.ID))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("link attachment: %w", err)
		}
		linked = append(linked, att)
	}
	return linked, nil
}

func (p *Pipeline) view(ctx context.Context, q store.Queries, msg store.Message) (View, error) {
	atts, err := q.ListAttachmentsByMessage(ctx, msg.ID)
	if err != nil {
		return View{}, fmt.Errorf("list attachments: %w", err)
	}
	return View{Message: msg, Attachments: atts}, nil
}

func (p *Pipeline) publishMessage(typ event.Type, view View) {
	if p.events == nil {
		return
	}
	evt, err := event.New(typ, view.WorkspaceID, view.ConversationID, view)
	if err != nil {
		p.logger.Error("build message event", slog.Any("error", err))
		return
	}
	p.events.Publish(evt)
}

// ListMessages returns a page of history for the live conversation behind
// conversationID.
func (p *Pipeline) ListMessages(ctx context.Context, workspaceID, conversationID string, req ListRequest) (History, error) {
	conv, err := p.conversations.Live(ctx, workspaceID, conversationID)
	if err != nil {
		return History{}, err
	}
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.store.ListMessages(ctx, store.ListMessagesParams{
		ConversationID: conv.ID,
		Before:         req.Before,
		Limit:          limit,
	})
	if err != nil {
		return History{}, err
	}
	views := make([]View, 0, len(rows))
	for _, row := range rows {
		view, err := p.view(ctx, p.store, row)
		if err != nil {
			return History{}, err
		}
		views = append(views, view)
	}
	return History{Conversation: conv, Messages: views}, nil
}

// GetMessage returns one message of workspaceID.
func (p *Pipeline) GetMessage(ctx context.Context, workspaceID, messageID string) (View, error) {
	msg, err := p.store.GetMessage(ctx, strings.TrimSpace(messageID))
	if err != nil {
		return View{}, err
	}
	if msg.WorkspaceID != workspaceID {
		return View{}, store.ErrNotFound
	}
	return p.view(ctx, p.store, msg)
}
