// Package channel defines the contract between the inbox engine and the
// channel adapters that talk to chat platforms, mail servers and SMS gateways.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/memohai/unibox/internal/store"
)

// ErrPermanent marks a send failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent send failure")

// PartialSendError reports a chunked send that stopped after some chunks
// were delivered. Sent counts delivered chunks from the start of the text,
// so a retry resumes at chunk Sent. ExternalID is the first chunk's id when
// this attempt sent it.
type PartialSendError struct {
	ExternalID string
	Sent       int
	Err        error
}

func (e *PartialSendError) Error() string {
	return fmt.Sprintf("sent %d chunks before failing: %v", e.Sent, e.Err)
}

func (e *PartialSendError) Unwrap() error { return e.Err }

// Type names a channel, e.g. "telegram" or "email".
type Type string

func (t Type) String() string {
	return string(t)
}

func normalizeType(raw string) Type {
	return Type(strings.ToLower(strings.TrimSpace(raw)))
}

// Descriptor declares how the engine treats a channel.
type Descriptor struct {
	Type        Type   `json:"type"`
	DisplayName string `json:"display_name"`
	// IdentityType is the identity kind used for senders and destinations.
	IdentityType store.IdentityType `json:"identity_type"`
	// ThreadCapable channels carry a stable chat id that is part of the dedup key.
	ThreadCapable  bool           `json:"thread_capable"`
	Capabilities   Capabilities   `json:"capabilities"`
	OutboundPolicy OutboundPolicy `json:"outbound_policy"`
}

// Attachment is a blob handed to an adapter by URL.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Mime string `json:"mime"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// SendRequest is one outbound transmission.
type SendRequest struct {
	MessageID   string
	AccountID   string
	Destination string
	// ChatID is the thread-capable channel's chat; empty means Destination.
	ChatID            string
	Text              string
	Subject           string
	HTML              string
	ReplyToExternalID string
	References        []string
	Attachments       []Attachment
	// ResumeChunk skips text chunks an earlier attempt already delivered.
	ResumeChunk int
}

// Adapter transmits messages on one channel and returns the channel-native
// message id.
type Adapter interface {
	Descriptor() Descriptor
	Send(ctx context.Context, req SendRequest) (string, error)
}

// Sender describes a message author by identity.
type Sender struct {
	// Type defaults to the channel descriptor's identity type.
	Type        store.IdentityType `json:"type,omitempty"`
	Value       string             `json:"value"`
	DisplayName string             `json:"display_name,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
}

// InboundMessage is the normalized event an adapter emits for a received message.
type InboundMessage struct {
	Channel           Type            `json:"channel"`
	AccountID         string          `json:"integration_account_id"`
	ChatID            string          `json:"external_chat_id,omitempty"`
	MessageID         string          `json:"external_message_id"`
	Sender            Sender          `json:"sender"`
	Text              string          `json:"text,omitempty"`
	Subject           string          `json:"subject,omitempty"`
	HTML              string          `json:"html,omitempty"`
	ReplyToExternalID string          `json:"reply_to_external_id,omitempty"`
	InReplyTo         string          `json:"in_reply_to,omitempty"`
	References        string          `json:"references,omitempty"`
	AttachmentIDs     []string        `json:"attachment_ids,omitempty"`
	SentAt            time.Time       `json:"sent_at"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}

// UpdateKind is an inbound change to an already delivered message.
type UpdateKind string

const (
	UpdateEdit   UpdateKind = "edit"
	UpdateDelete UpdateKind = "delete"
)

// InboundUpdate addresses a stored message by its dedup key.
type InboundUpdate struct {
	Channel   Type       `json:"channel"`
	AccountID string     `json:"integration_account_id"`
	ChatID    string     `json:"external_chat_id,omitempty"`
	MessageID string     `json:"external_message_id"`
	Kind      UpdateKind `json:"kind"`
	Text      string     `json:"text,omitempty"`
	At        time.Time  `json:"at"`
}

// DeliveryCallback reports a status change of an outbound message. It names
// the message by our id or by the channel-native id.
type DeliveryCallback struct {
	MessageID         string              `json:"message_id,omitempty"`
	Channel           Type                `json:"channel,omitempty"`
	AccountID         string              `json:"integration_account_id,omitempty"`
	ChatID            string              `json:"external_chat_id,omitempty"`
	ExternalMessageID string              `json:"external_message_id,omitempty"`
	Status            store.MessageStatus `json:"status"`
	Error             string              `json:"error,omitempty"`
	ReaderID          string              `json:"reader_id,omitempty"`
	At                time.Time           `json:"at"`
}

// InboundHandler receives messages from adapters that poll their platform.
type InboundHandler func(ctx context.Context, msg InboundMessage) error
