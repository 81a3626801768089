// Package store defines the persisted records of the inbox engine and the
// query contract implemented by the memory and postgres backends.
package store

import (
	"encoding/json"
	"time"
)

// IdentityType is the channel-identifier taxonomy.
type IdentityType string

const (
	IdentityPlatformUser IdentityType = "platform-user"
	IdentityEmail        IdentityType = "email-address"
	IdentityPhone        IdentityType = "phone-number"
)

// Valid reports whether t is one of the known identity types.
func (t IdentityType) Valid() bool {
	switch t {
	case IdentityPlatformUser, IdentityEmail, IdentityPhone:
		return true
	}
	return false
}

// Identity is one external identifier for a person.
type Identity struct {
	ID              string         `json:"id"`
	Type            IdentityType   `json:"type"`
	Value           string         `json:"value"`
	NormalizedValue string         `json:"normalized_value"`
	ContactID       string         `json:"contact_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Contact is a resolved person owned by a workspace.
type Contact struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	DisplayName string         `json:"display_name"`
	Stage       string         `json:"stage,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

// ConversationStatus is the operator-facing workflow state.
type ConversationStatus string

const (
	StatusOpen     ConversationStatus = "open"
	StatusPending  ConversationStatus = "pending"
	StatusResolved ConversationStatus = "resolved"
)

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusPending, StatusResolved:
		return true
	}
	return false
}

// Conversation is the unit of chat history, keyed by a contact or, while
// unbound, by its primary identity.
type Conversation struct {
	ID                string             `json:"id"`
	WorkspaceID       string             `json:"workspace_id"`
	ContactID         string             `json:"contact_id,omitempty"`
	PrimaryIdentityID string             `json:"primary_identity_id,omitempty"`
	Status            ConversationStatus `json:"status"`
	Pinned            bool               `json:"pinned"`
	LastMessageAt     *time.Time         `json:"last_message_at,omitempty"`
	LastChannel       string             `json:"last_channel,omitempty"`
	LastInboundAt     *time.Time         `json:"last_inbound_at,omitempty"`
	LastOutboundAt    *time.Time         `json:"last_outbound_at,omitempty"`
	MergedIntoID      string             `json:"merged_into_id,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	DeletedAt         *time.Time         `json:"deleted_at,omitempty"`
}

// Active reports whether the conversation is neither archived nor merged away.
func (c Conversation) Active() bool {
	return c.DeletedAt == nil
}

// Direction of a message relative to the workspace.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageStatus tracks delivery. Inbound rows are always "received".
type MessageStatus string

const (
	MessageReceived  MessageStatus = "received"
	MessageSending   MessageStatus = "sending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

// Message is one unit of communication. SentAt orders history; IngestedAt is
// when this process stored it.
type Message struct {
	ID                   string          `json:"id"`
	WorkspaceID          string          `json:"workspace_id"`
	ConversationID       string          `json:"conversation_id"`
	Channel              string          `json:"channel"`
	IntegrationAccountID string          `json:"integration_account_id,omitempty"`
	Direction            Direction       `json:"direction"`
	SenderIdentityID     string          `json:"sender_identity_id,omitempty"`
	ExternalMessageID    string          `json:"external_message_id,omitempty"`
	ExternalChatID       string          `json:"external_chat_id,omitempty"`
	DedupChatID          string          `json:"-"`
	ReplyToID            string          `json:"reply_to_id,omitempty"`
	Text                 string          `json:"text"`
	Subject              string          `json:"subject,omitempty"`
	HTML                 string          `json:"html,omitempty"`
	Status               MessageStatus   `json:"status"`
	Error                string          `json:"error,omitempty"`
	Raw                  json.RawMessage `json:"raw,omitempty"`
	SentAt               time.Time       `json:"sent_at"`
	IngestedAt           time.Time       `json:"ingested_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	EditedAt             *time.Time      `json:"edited_at,omitempty"`
	DeletedAt            *time.Time      `json:"deleted_at,omitempty"`
}

// Attachment references an opaque blob. MessageID may be empty until the
// owning message is known.
type Attachment struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	MessageID   string         `json:"message_id,omitempty"`
	Name        string         `json:"name"`
	Mime        string         `json:"mime"`
	SizeBytes   int64          `json:"size_bytes"`
	StorageKey  string         `json:"-"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ReadReceipt records that a reader saw a message.
type ReadReceipt struct {
	MessageID string    `json:"message_id"`
	ReaderID  string    `json:"reader_id"`
	ReadAt    time.Time `json:"read_at"`
}

// DedupKey is the channel-specific tuple recognising a redelivered message.
// ChatID is empty for channels without a stable chat id.
type DedupKey struct {
	Channel              string
	IntegrationAccountID string
	ChatID               string
	ExternalMessageID    string
}
