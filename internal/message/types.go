package message

import (
	"errors"
	"time"

	"github.com/memohai/unibox/internal/channel"
	"github.com/memohai/unibox/internal/store"
)

var (
	ErrWorkspaceRequired  = errors.New("workspace id is required")
	ErrUnknownChannel     = errors.New("unknown channel")
	ErrExternalIDRequired = errors.New("external message id is required")
	ErrSenderRequired     = errors.New("sender is required")
	ErrInvalidMessageID   = errors.New("client message id must be a uuid")
	ErrMessageIDConflict  = errors.New("message id already used for another message")
	ErrEmptyMessage       = errors.New("message text or attachments required")
	ErrNoDestination      = errors.New("conversation has no identity on this channel")
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrNotRetryable       = errors.New("only failed outbound messages can be retried")
	ErrInvalidStatus      = errors.New("invalid delivery status")
	ErrUnknownUpdate      = errors.New("unknown update kind")
	ErrQueueFull          = errors.New("send queue is full")
)

// InboundInput is a normalized inbound message received for a workspace.
type InboundInput struct {
	WorkspaceID string `json:"workspace_id"`
	channel.InboundMessage
}

// IngestResult reports where an inbound message landed. Created is false
// for a redelivery, in which case Message is the stored original.
type IngestResult struct {
	Message      View               `json:"message"`
	Conversation store.Conversation `json:"conversation"`
	Created      bool               `json:"created"`
}

// SendInput is an operator send. ClientMessageID becomes the message id, so
// the caller's optimistic row and the stored row share one identity.
type SendInput struct {
	WorkspaceID     string   `json:"-"`
	ConversationID  string   `json:"-"`
	ClientMessageID string   `json:"client_message_id"`
	Channel         string   `json:"channel,omitempty"`
	AccountID       string   `json:"integration_account_id,omitempty"`
	Text            string   `json:"text"`
	Subject         string   `json:"subject,omitempty"`
	AttachmentIDs   []string `json:"attachment_ids,omitempty"`
	ReplyToID       string   `json:"reply_to_id,omitempty"`
}

// ListRequest pages history backwards from Before (exclusive).
type ListRequest struct {
	Before time.Time
	Limit  int
}

// History is one page of a conversation's messages in sent_at order. The
// conversation is the live one, which differs from the requested id after
// a merge.
type History struct {
	Conversation store.Conversation `json:"conversation"`
	Messages     []View             `json:"messages"`
}

// View is a message with its attachments, the shape clients receive.
type View struct {
	store.Message
	Attachments []store.Attachment `json:"attachments,omitempty"`
}

// outboundEnvelope is stored as an outbound row's raw payload. It records
// what was handed to the adapter so a retry can rebuild the request.
type outboundEnvelope struct {
	Destination           string   `json:"destination"`
	DestinationIdentityID string   `json:"destination_identity_id,omitempty"`
	ReplyToExternalID     string   `json:"reply_to_external_id,omitempty"`
	References            []string `json:"references,omitempty"`
	AttachmentIDs         []string `json:"attachment_ids,omitempty"`
	// SentChunks counts text chunks already delivered by an interrupted send.
	SentChunks int `json:"sent_chunks,omitempty"`
}

// deliveryRank orders the forward path of an outbound message. Failed sits
// outside it: it replaces sending but never a confirmed state.
var deliveryRank = map[store.MessageStatus]int{
	store.MessageSending:   1,
	store.MessageSent:      2,
	store.MessageDelivered: 3,
	store.MessageRead:      4,
}

// advances reports whether next may replace current.
func advances(current, next store.MessageStatus) bool {
	if next == store.MessageFailed {
		return current == store.MessageSending || current == store.MessageSent
	}
	if current == store.MessageFailed {
		return next != store.MessageSending
	}
	return deliveryRank[next] > deliveryRank[current]
}
