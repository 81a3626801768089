package message

import (
	"context"
	"fmt"
	"strings"

	"github.com/memohai/unibox/internal/conversation"
	"github.com/memohai/unibox/internal/message/event"
	"github.com/memohai/unibox/internal/store"
)

// AttachToMessage links an uploaded attachment to a message that already
// exists and publishes message.updated with the new attachment list. It
// covers blobs that finish uploading after their message was stored.
func (p *Pipeline) AttachToMessage(ctx context.Context, workspaceID, messageID, attachmentID string) (View, error) {
	msg, err := p.store.GetMessage(ctx, strings.TrimSpace(messageID))
	if err != nil {
		return View{}, err
	}
	if msg.WorkspaceID != workspaceID {
		return View{}, store.ErrNotFound
	}
	unlock := p.locks.Lock(conversation.LockKey(msg.ConversationID))
	defer unlock()

	var (
		view    View
		changed bool
	)
	err = p.store.InTx(ctx, func(q store.Queries) error {
		att, err := q.GetAttachment(ctx, strings.TrimSpace(attachmentID))
		if err != nil {
			return fmt.Errorf("%w: %s", ErrAttachmentNotFound, attachmentID)
		}
		if att.WorkspaceID != workspaceID {
			return fmt.Errorf("%w: %s", ErrAttachmentNotFound, attachmentID)
		}
		changed = att.MessageID != msg.ID
		if changed {
			if _, err := q.LinkAttachment(ctx, att.ID, msg.ID); err != nil {
				return fmt.Errorf("link attachment: %w", err)
			}
		}
		current, err := q.GetMessage(ctx, msg.ID)
		if err != nil {
			return err
		}
		view, err = p.view(ctx, q, current)
		return err
	})
	if err != nil {
		return View{}, err
	}
	if changed {
		p.publishMessage(event.TypeMessageUpdated, view)
	}
	return view, nil
}
