package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/memohai/unibox/internal/channel"
	"github.com/memohai/unibox/internal/conversation"
	"github.com/memohai/unibox/internal/message/event"
	"github.com/memohai/unibox/internal/store"
	"github.com/memohai/unibox/internal/tracing"
)

type sendJob struct {
	messageID   string
	workspaceID string
	channel     channel.Type
	request     channel.SendRequest
	envelope    outboundEnvelope
}

func newMessageID() string {
	return uuid.NewString()
}

// SendOutbound stores an outbound message as "sending" and queues it for
// transmission. It returns without waiting for the channel; the outcome
// arrives as message.updated. Repeating a call with the same client id
// returns the stored row instead of sending twice.
func (p *Pipeline) SendOutbound(ctx context.Context, in SendInput) (View, error) {
	id, err := uuid.Parse(strings.TrimSpace(in.ClientMessageID))
	if err != nil {
		return View{}, ErrInvalidMessageID
	}
	messageID := id.String()
	text := strings.TrimSpace(in.Text)
	if text == "" && len(in.AttachmentIDs) == 0 {
		return View{}, ErrEmptyMessage
	}
	conv, err := p.conversations.Live(ctx, in.WorkspaceID, in.ConversationID)
	if err != nil {
		return View{}, err
	}
	if existing, err := p.store.GetMessage(ctx, messageID); err == nil {
		return p.resend(ctx, conv, existing)
	} else if !errors.Is(err, store.ErrNotFound) {
		return View{}, err
	}

	channelName := strings.TrimSpace(in.Channel)
	if channelName == "" {
		channelName = conv.LastChannel
	}
	desc, ok := p.registry.Descriptor(channel.Type(channelName))
	if !ok {
		return View{}, fmt.Errorf("%w: %q", ErrUnknownChannel, channelName)
	}
	route, err := p.route(ctx, conv, desc)
	if err != nil {
		return View{}, err
	}
	if account := strings.TrimSpace(in.AccountID); account != "" {
		route.accountID = account
	}
	subject := strings.TrimSpace(in.Subject)
	if subject == "" && desc.Capabilities.Subject {
		subject = route.subject
	}
	replyToID := strings.TrimSpace(in.ReplyToID)
	replyExternal := ""
	if replyToID != "" {
		parent, err := p.store.GetMessage(ctx, replyToID)
		if err != nil || parent.ConversationID != conv.ID {
			return View{}, fmt.Errorf("reply target: %w", store.ErrNotFound)
		}
		replyExternal = parent.ExternalMessageID
	} else if desc.Capabilities.Subject && route.parent.ID != "" {
		// Mail replies thread on the latest inbound message.
		replyToID = route.parent.ID
		replyExternal = route.parent.ExternalMessageID
	}
	if replyExternal != "" && !desc.Capabilities.Reply {
		replyExternal = ""
	}

	attachments := make([]store.Attachment, 0, len(in.AttachmentIDs))
	for _, attID := range in.AttachmentIDs {
		att, err := p.store.GetAttachment(ctx, strings.TrimSpace(attID))
		if errors.Is(err, store.ErrNotFound) || (err == nil && att.WorkspaceID != conv.WorkspaceID) {
			return View{}, fmt.Errorf("%w: %s", ErrAttachmentNotFound, attID)
		}
		if err != nil {
			return View{}, err
		}
		if att.MessageID != "" && att.MessageID != messageID {
			return View{}, fmt.Errorf("attachment %s: %w", attID, store.ErrConflict)
		}
		attachments = append(attachments, att)
	}
	if len(attachments) > 0 && !desc.Capabilities.Attachments {
		return View{}, fmt.Errorf("%w: channel %s does not carry attachments", channel.ErrPermanent, desc.Type)
	}

	envelope := outboundEnvelope{
		Destination:           route.destination,
		DestinationIdentityID: route.identityID,
		ReplyToExternalID:     replyExternal,
		AttachmentIDs:         attachmentIDs(attachments),
	}
	if replyExternal != "" {
		envelope.References = []string{replyExternal}
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return View{}, err
	}
	msg := store.Message{
		ID:                   messageID,
		WorkspaceID:          conv.WorkspaceID,
		Channel:              desc.Type.String(),
		IntegrationAccountID: route.accountID,
		Direction:            store.DirectionOutbound,
		ExternalChatID:       route.chatID,
		ReplyToID:            replyToID,
		Text:                 text,
		Subject:              subject,
		Status:               store.MessageSending,
		Raw:                  raw,
		SentAt:               p.now(),
	}
	if desc.ThreadCapable {
		msg.DedupChatID = route.chatID
	}

	var (
		view    View
		created bool
	)
	for attempt := 0; ; attempt++ {
		view, created, err = p.commitOutbound(ctx, conv, msg, attachments)
		if !errors.Is(err, errRetarget) {
			break
		}
		if attempt+1 >= maxRetarget {
			return View{}, fmt.Errorf("send outbound: %w", conversation.ErrMergeLoop)
		}
		if conv, err = p.conversations.Live(ctx, in.WorkspaceID, conv.ID); err != nil {
			return View{}, err
		}
	}
	if err != nil {
		return View{}, err
	}
	if !created {
		return view, nil
	}
	p.logger.Info("outbound queued",
		slog.String("message_id", view.ID),
		slog.String("conversation_id", view.ConversationID),
		slog.String("channel", view.Channel))
	return p.enqueue(ctx, view, desc.Type, envelope)
}

type outboundRoute struct {
	destination string
	identityID  string
	chatID      string
	accountID   string
	subject     string
	parent      store.Message
}

// route finds where a conversation's outbound messages go on one channel:
// the sender of its latest inbound message there, else an identity of the
// owner with the channel's identity type.
func (p *Pipeline) route(ctx context.Context, conv store.Conversation, desc channel.Descriptor) (outboundRoute, error) {
	latest, err := p.store.LatestInboundMessage(ctx, conv.ID, desc.Type.String())
	if err == nil && latest.SenderIdentityID != "" {
		ident, err := p.store.GetIdentity(ctx, latest.SenderIdentityID)
		if err == nil {
			return outboundRoute{
				destination: ident.Value,
				identityID:  ident.ID,
				chatID:      latest.ExternalChatID,
				accountID:   latest.IntegrationAccountID,
				subject:     latest.Subject,
				parent:      latest,
			}, nil
		}
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return outboundRoute{}, err
	}

	var candidates []store.Identity
	if conv.ContactID != "" {
		if candidates, err = p.store.ListIdentitiesByContact(ctx, conv.ContactID); err != nil {
			return outboundRoute{}, err
		}
	} else if conv.PrimaryIdentityID != "" {
		ident, err := p.store.GetIdentity(ctx, conv.PrimaryIdentityID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return outboundRoute{}, err
		}
		if err == nil {
			candidates = append(candidates, ident)
		}
	}
	for _, ident := range candidates {
		if ident.Type == desc.IdentityType {
			return outboundRoute{destination: ident.Value, identityID: ident.ID}, nil
		}
	}
	return outboundRoute{}, fmt.Errorf("%w: %s", ErrNoDestination, desc.Type)
}

func (p *Pipeline) commitOutbound(ctx context.Context, conv store.Conversation, msg store.Message, attachments []store.Attachment) (View, bool, error) {
	unlock := p.locks.Lock(conversation.LockKey(conv.ID))
	defer unlock()

	var (
		view    View
		created bool
		updated store.Conversation
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
		stored, inserted, err := q.InsertMessage(ctx, msg)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		created = inserted
		if !inserted {
			view, err = p.view(ctx, q, stored)
			return err
		}
		view.Message = stored
		for _, att := range attachments {
			linked, err := q.LinkAttachment(ctx, att.ID, stored.ID)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrAttachmentNotFound, att.ID)
			}
			if err != nil {
				return fmt.Errorf("link attachment %s: %w", att.ID, err)
			}
			view.Attachments = append(view.Attachments, linked)
		}
		updated, err = q.ApplyMessageRollup(ctx, store.MessageRollup{
			ConversationID: current.ID,
			SentAt:         stored.SentAt,
			Channel:        stored.Channel,
			Direction:      store.DirectionOutbound,
		})
		return err
	})
	if err != nil {
		return View{}, false, err
	}
	if !created {
		if view.Direction != store.DirectionOutbound {
			return View{}, false, ErrMessageIDConflict
		}
		return view, false, nil
	}
	p.publishMessage(event.TypeMessageCreated, view)
	p.conversations.Publish(updated)
	return view, true, nil
}

// resend answers a repeated SendOutbound for a stored client id.
func (p *Pipeline) resend(ctx context.Context, conv store.Conversation, existing store.Message) (View, error) {
	if existing.Direction != store.DirectionOutbound || existing.WorkspaceID != conv.WorkspaceID {
		return View{}, ErrMessageIDConflict
	}
	live, err := p.conversations.Live(ctx, existing.WorkspaceID, existing.ConversationID)
	if err != nil || live.ID != conv.ID {
		return View{}, ErrMessageIDConflict
	}
	return p.view(ctx, p.store, existing)
}

// enqueue hands a stored message to the workers. A full queue fails the
// message at once so it is visible and retryable.
func (p *Pipeline) enqueue(ctx context.Context, view View, channelType channel.Type, envelope outboundEnvelope) (View, error) {
	req, err := p.buildRequest(ctx, view, envelope)
	if err != nil {
		return p.fail(ctx, view.ID, err)
	}
	job := sendJob{messageID: view.ID, workspaceID: view.WorkspaceID, channel: channelType, request: req, envelope: envelope}

	p.mu.Lock()
	stopped := p.stopped
	queued := false
	if !stopped {
		select {
		case p.jobs <- job:
			queued = true
		default:
		}
	}
	p.mu.Unlock()
	if !queued {
		p.logger.Warn("send queue full", slog.String("message_id", view.ID))
		return p.fail(ctx, view.ID, ErrQueueFull)
	}
	return view, nil
}

func (p *Pipeline) buildRequest(ctx context.Context, view View, envelope outboundEnvelope) (channel.SendRequest, error) {
	req := channel.SendRequest{
		MessageID:         view.ID,
		AccountID:         view.IntegrationAccountID,
		Destination:       envelope.Destination,
		ChatID:            view.ExternalChatID,
		Text:              view.Text,
		Subject:           view.Subject,
		ReplyToExternalID: envelope.ReplyToExternalID,
		References:        envelope.References,
		ResumeChunk:       envelope.SentChunks,
	}
	atts := view.Attachments
	if len(atts) == 0 && len(envelope.AttachmentIDs) > 0 {
		listed, err := p.store.ListAttachmentsByMessage(ctx, view.ID)
		if err != nil {
			return req, err
		}
		atts = listed
	}
	for _, att := range atts {
		url := ""
		if p.links != nil {
			signed, err := p.links.URL(att)
			if err != nil {
				return req, fmt.Errorf("sign attachment %s: %w", att.ID, err)
			}
			url = signed
		}
		req.Attachments = append(req.Attachments, channel.Attachment{
			ID:   att.ID,
			Name: att.Name,
			Mime: att.Mime,
			Size: att.SizeBytes,
			URL:  url,
		})
	}
	return req, nil
}

// Start launches the send workers.
func (p *Pipeline) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	p.started = true
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.logger.Info("send workers started", slog.Int("workers", p.cfg.Workers))
	return nil
}

// Stop stops accepting sends and waits for queued ones to finish or ctx
// to end. Messages still queued at that point stay "sending" for the
// sweeper.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.deliver(job)
	}
}

// deliver transmits one job and records the outcome.
func (p *Pipeline) deliver(job sendJob) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SendTimeout.Duration)
	defer cancel()
	ctx, span := tracing.StartSpan(ctx, "message.deliver",
		attribute.String("message_id", job.messageID),
		attribute.String("channel", job.channel.String()),
	)
	externalID, err := p.sender.Send(ctx, job.channel, job.request)
	tracing.End(span, err)

	if err != nil {
		p.logger.Warn("send outbound failed",
			slog.String("message_id", job.messageID),
			slog.String("channel", job.channel.String()),
			slog.Any("error", err))
		change := statusChange{status: store.MessageFailed, errText: err.Error()}
		var partial *channel.PartialSendError
		if errors.As(err, &partial) {
			// Keep the delivered chunks' progress so a retry resumes after them.
			envelope := job.envelope
			envelope.SentChunks = partial.Sent
			if raw, merr := json.Marshal(envelope); merr == nil {
				change.raw = raw
			}
			change.externalID = partial.ExternalID
		}
		if _, _, ferr := p.transition(context.Background(), job.messageID, change); ferr != nil {
			p.logger.Error("record send failure", slog.String("message_id", job.messageID), slog.Any("error", ferr))
		}
		return
	}
	if _, _, err := p.transition(context.Background(), job.messageID, statusChange{status: store.MessageSent, externalID: externalID}); err != nil {
		p.logger.Error("record send success", slog.String("message_id", job.messageID), slog.Any("error", err))
	}
}

// fail marks a sending message failed with cause.
func (p *Pipeline) fail(ctx context.Context, messageID string, cause error) (View, error) {
	view, _, err := p.transition(ctx, messageID, statusChange{status: store.MessageFailed, errText: cause.Error()})
	return view, err
}

func attachmentIDs(atts []store.Attachment) []string {
	if len(atts) == 0 {
		return nil
	}
	ids := make([]string, len(atts))
	for i, att := range atts {
		ids[i] = att.ID
	}
	return ids
}
