package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/unibox/internal/channel"
	"github.com/memohai/unibox/internal/conversation"
	"github.com/memohai/unibox/internal/message/event"
	"github.com/memohai/unibox/internal/store"
)

// DefaultReader is recorded on read receipts whose callback names no reader.
const DefaultReader = "recipient"

const sweepBatch = 100

// statusChange is one requested delivery transition.
type statusChange struct {
	status     store.MessageStatus
	externalID string
	errText    string
	receipt    *store.ReadReceipt
	// raw replaces the stored outbound envelope.
	raw json.RawMessage
	// retry moves a failed message back to sending, which the forward
	// ordering never allows on its own.
	retry bool
}

// transition applies change under the conversation lock. The bool reports
// whether anything was written; a change that would move the status
// backwards is ignored.
func (p *Pipeline) transition(ctx context.Context, messageID string, change statusChange) (View, bool, error) {
	current, err := p.store.GetMessage(ctx, messageID)
	if err != nil {
		return View{}, false, err
	}
	unlock := p.locks.Lock(conversation.LockKey(current.ConversationID))
	defer unlock()

	for {
		view, changed, err := p.applyStatus(ctx, messageID, change)
		if errors.Is(err, store.ErrConflict) && change.externalID != "" {
			// Another row already owns the channel id; keep the status.
			p.logger.Warn("external message id already stored",
				slog.String("message_id", messageID),
				slog.String("external_message_id", change.externalID))
			change.externalID = ""
			continue
		}
		if err != nil {
			return View{}, false, err
		}
		if changed {
			p.publishMessage(event.TypeMessageUpdated, view)
		}
		return view, changed, nil
	}
}

func (p *Pipeline) applyStatus(ctx context.Context, messageID string, change statusChange) (View, bool, error) {
	var (
		view    View
		changed bool
	)
	err := p.store.InTx(ctx, func(q store.Queries) error {
		msg, err := q.GetMessageForUpdate(ctx, messageID)
		if err != nil {
			return err
		}
		if change.receipt != nil {
			inserted, err := q.InsertReadReceipt(ctx, *change.receipt)
			if err != nil {
				return fmt.Errorf("insert read receipt: %w", err)
			}
			changed = inserted
		}
		move := msg.Direction == store.DirectionOutbound && advances(msg.Status, change.status)
		if change.retry {
			if msg.Direction != store.DirectionOutbound || msg.Status != store.MessageFailed {
				return ErrNotRetryable
			}
			move = true
		}
		if move {
			msg, err = q.UpdateMessageDelivery(ctx, store.DeliveryUpdate{
				ID:                msg.ID,
				Status:            change.status,
				ExternalMessageID: change.externalID,
				Error:             change.errText,
				Raw:               change.raw,
			})
			if err != nil {
				return err
			}
			changed = true
		}
		view, err = p.view(ctx, q, msg)
		return err
	})
	return view, changed, err
}

// UpdateDeliveryStatus applies a channel's delivery callback. Callbacks may
// arrive late or out of order; a status never moves backwards.
func (p *Pipeline) UpdateDeliveryStatus(ctx context.Context, workspaceID string, cb channel.DeliveryCallback) (View, error) {
	switch cb.Status {
	case store.MessageSent, store.MessageDelivered, store.MessageRead, store.MessageFailed:
	default:
		return View{}, fmt.Errorf("%w: %q", ErrInvalidStatus, cb.Status)
	}
	msg, err := p.lookupCallbackMessage(ctx, workspaceID, cb)
	if err != nil {
		return View{}, err
	}
	if msg.Direction != store.DirectionOutbound {
		return View{}, fmt.Errorf("%w: message is inbound", ErrInvalidStatus)
	}
	change := statusChange{status: cb.Status, errText: strings.TrimSpace(cb.Error)}
	if cb.Status == store.MessageFailed && change.errText == "" {
		change.errText = "delivery failed"
	}
	if cb.Status == store.MessageRead {
		reader := strings.TrimSpace(cb.ReaderID)
		if reader == "" {
			reader = DefaultReader
		}
		at := cb.At.UTC()
		if at.IsZero() {
			at = p.now()
		}
		change.receipt = &store.ReadReceipt{MessageID: msg.ID, ReaderID: reader, ReadAt: at}
	}
	view, changed, err := p.transition(ctx, msg.ID, change)
	if err != nil {
		return View{}, err
	}
	if !changed {
		p.logger.Debug("delivery callback ignored",
			slog.String("message_id", msg.ID),
			slog.String("status", string(cb.Status)),
			slog.String("current", string(view.Status)))
	}
	return view, nil
}

func (p *Pipeline) lookupCallbackMessage(ctx context.Context, workspaceID string, cb channel.DeliveryCallback) (store.Message, error) {
	var (
		msg store.Message
		err error
	)
	if id := strings.TrimSpace(cb.MessageID); id != "" {
		msg, err = p.store.GetMessage(ctx, id)
	} else {
		key, kerr := p.dedupKey(cb.Channel, cb.AccountID, cb.ChatID, cb.ExternalMessageID)
		if kerr != nil {
			return store.Message{}, kerr
		}
		msg, err = p.store.GetMessageByDedupKey(ctx, key)
	}
	if err != nil {
		return store.Message{}, err
	}
	if msg.WorkspaceID != workspaceID {
		return store.Message{}, store.ErrNotFound
	}
	return msg, nil
}

func (p *Pipeline) dedupKey(channelType channel.Type, accountID, chatID, externalID string) (store.DedupKey, error) {
	desc, ok := p.registry.Descriptor(channelType)
	if !ok {
		return store.DedupKey{}, fmt.Errorf("%w: %s", ErrUnknownChannel, channelType)
	}
	externalID = strings.Trim(strings.TrimSpace(externalID), "<>")
	if externalID == "" {
		return store.DedupKey{}, ErrExternalIDRequired
	}
	key := store.DedupKey{
		Channel:              desc.Type.String(),
		IntegrationAccountID: strings.TrimSpace(accountID),
		ExternalMessageID:    externalID,
	}
	if desc.ThreadCapable {
		key.ChatID = strings.TrimSpace(chatID)
	}
	return key, nil
}

// RecordRead stores that reader saw a message. For outbound messages it is
// also the "read" delivery status.
func (p *Pipeline) RecordRead(ctx context.Context, workspaceID, messageID, reader string, at time.Time) (View, error) {
	msg, err := p.store.GetMessage(ctx, strings.TrimSpace(messageID))
	if err != nil {
		return View{}, err
	}
	if msg.WorkspaceID != workspaceID {
		return View{}, store.ErrNotFound
	}
	reader = strings.TrimSpace(reader)
	if reader == "" {
		reader = DefaultReader
	}
	if at.IsZero() {
		at = p.now()
	}
	view, _, err := p.transition(ctx, msg.ID, statusChange{
		status:  store.MessageRead,
		receipt: &store.ReadReceipt{MessageID: msg.ID, ReaderID: reader, ReadAt: at.UTC()},
	})
	return view, err
}

// ApplyInboundUpdate applies a channel edit or delete to a stored message.
func (p *Pipeline) ApplyInboundUpdate(ctx context.Context, workspaceID string, upd channel.InboundUpdate) (View, error) {
	if upd.Kind != channel.UpdateEdit && upd.Kind != channel.UpdateDelete {
		return View{}, fmt.Errorf("%w: %q", ErrUnknownUpdate, upd.Kind)
	}
	key, err := p.dedupKey(upd.Channel, upd.AccountID, upd.ChatID, upd.MessageID)
	if err != nil {
		return View{}, err
	}
	msg, err := p.store.GetMessageByDedupKey(ctx, key)
	if err != nil {
		return View{}, err
	}
	if msg.WorkspaceID != workspaceID {
		return View{}, store.ErrNotFound
	}
	at := upd.At.UTC()
	if at.IsZero() {
		at = p.now()
	}

	unlock := p.locks.Lock(conversation.LockKey(msg.ConversationID))
	defer unlock()
	var view View
	err = p.store.InTx(ctx, func(q store.Queries) error {
		current, err := q.GetMessageForUpdate(ctx, msg.ID)
		if err != nil {
			return err
		}
		if current.DeletedAt != nil {
			view, err = p.view(ctx, q, current)
			return err
		}
		switch upd.Kind {
		case channel.UpdateEdit:
			current, err = q.EditMessage(ctx, current.ID, strings.TrimSpace(upd.Text), at)
		case channel.UpdateDelete:
			current, err = q.MarkMessageDeleted(ctx, current.ID, at)
		}
		if err != nil {
			return err
		}
		view, err = p.view(ctx, q, current)
		return err
	})
	if err != nil {
		return View{}, err
	}
	p.publishMessage(event.TypeMessageUpdated, view)
	return view, nil
}

// Retry re-dispatches a failed outbound message with its original
// destination and attachments.
func (p *Pipeline) Retry(ctx context.Context, workspaceID, messageID string) (View, error) {
	msg, err := p.store.GetMessage(ctx, strings.TrimSpace(messageID))
	if err != nil {
		return View{}, err
	}
	if msg.WorkspaceID != workspaceID {
		return View{}, store.ErrNotFound
	}
	if msg.Direction != store.DirectionOutbound || msg.Status != store.MessageFailed {
		return View{}, ErrNotRetryable
	}
	var envelope outboundEnvelope
	if err := json.Unmarshal(msg.Raw, &envelope); err != nil || envelope.Destination == "" {
		return View{}, fmt.Errorf("%w: missing destination", ErrNotRetryable)
	}
	desc, ok := p.registry.Descriptor(channel.Type(msg.Channel))
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrUnknownChannel, msg.Channel)
	}
	view, _, err := p.transition(ctx, msg.ID, statusChange{status: store.MessageSending, retry: true})
	if err != nil {
		return View{}, err
	}
	p.logger.Info("outbound retried", slog.String("message_id", msg.ID), slog.String("channel", msg.Channel))
	return p.enqueue(ctx, view, desc.Type, envelope)
}

// SweepStale fails outbound messages stuck in "sending", which happens when
// the process stopped between accepting a send and recording its outcome.
func (p *Pipeline) SweepStale(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.cfg.StaleAfter.Duration)
	swept := 0
	for {
		rows, err := p.store.ListStaleSending(ctx, cutoff, sweepBatch)
		if err != nil {
			return swept, fmt.Errorf("list stale sends: %w", err)
		}
		batch := 0
		for _, row := range rows {
			_, changed, err := p.transition(ctx, row.ID, statusChange{status: store.MessageFailed, errText: "send timed out"})
			if err != nil {
				p.logger.Warn("sweep stale send", slog.String("message_id", row.ID), slog.Any("error", err))
				continue
			}
			if changed {
				batch++
			}
		}
		swept += batch
		if len(rows) < sweepBatch || batch == 0 {
			break
		}
	}
	if swept > 0 {
		p.logger.Info("stale sends failed", slog.Int("count", swept))
	}
	return swept, nil
}
