package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a write would break a uniqueness or ownership rule.
	ErrConflict = errors.New("store: conflict")
)

// UpsertIdentityParams inserts an identity or merges metadata into the existing one.
type UpsertIdentityParams struct {
	Type            IdentityType
	Value           string
	NormalizedValue string
	Metadata        map[string]any
}

// CreateContactParams creates a contact. ID is generated when empty.
type CreateContactParams struct {
	ID          string
	WorkspaceID string
	DisplayName string
	Stage       string
	Metadata    map[string]any
}

// UpdateContactParams replaces the mutable contact fields.
type UpdateContactParams struct {
	ID          string
	DisplayName string
	Stage       string
	Metadata    map[string]any
}

// MessageRollup folds one message into its conversation's rollup fields.
type MessageRollup struct {
	ConversationID string
	SentAt         time.Time
	Channel        string
	Direction      Direction
	// ReopenResolved moves a resolved conversation back to open.
	ReopenResolved bool
}

// ConversationRollup overwrites the rollup fields, used after a merge.
type ConversationRollup struct {
	ID             string
	LastMessageAt  *time.Time
	LastChannel    string
	LastInboundAt  *time.Time
	LastOutboundAt *time.Time
	Pinned         bool
	Status         ConversationStatus
}

// ListConversationsParams filters the workspace conversation list.
type ListConversationsParams struct {
	WorkspaceID string
	Status      ConversationStatus
	Limit       int
	Offset      int
}

// ListMessagesParams pages a conversation's history by sent_at, newest page first.
type ListMessagesParams struct {
	ConversationID string
	Before         time.Time
	Limit          int
}

// DeliveryUpdate sets a message's delivery status. Empty ExternalMessageID keeps the stored one.
type DeliveryUpdate struct {
	ID                string
	Status            MessageStatus
	ExternalMessageID string
	Error             string
	// Raw replaces the stored envelope when set.
	Raw json.RawMessage
}

// Queries is the full query surface. Implementations return ErrNotFound for
// missing rows and never expose driver errors for that case.
type Queries interface {
	UpsertIdentity(ctx context.Context, arg UpsertIdentityParams) (Identity, error)
	GetIdentity(ctx context.Context, id string) (Identity, error)
	GetIdentityForUpdate(ctx context.Context, id string) (Identity, error)
	SetIdentityContact(ctx context.Context, id, contactID string) (Identity, error)
	ListIdentitiesByContact(ctx context.Context, contactID string) ([]Identity, error)

	CreateContact(ctx context.Context, arg CreateContactParams) (Contact, error)
	GetContact(ctx context.Context, id string) (Contact, error)
	GetContactForUpdate(ctx context.Context, id string) (Contact, error)
	UpdateContact(ctx context.Context, arg UpdateContactParams) (Contact, error)
	SoftDeleteContact(ctx context.Context, id string, at time.Time) error
	ListContacts(ctx context.Context, workspaceID string) ([]Contact, error)

	// UpsertContactConversation finds or creates the active conversation keyed by contactID.
	// The bool reports whether a row was created.
	UpsertContactConversation(ctx context.Context, workspaceID, contactID, primaryIdentityID string) (Conversation, bool, error)
	// UpsertIdentityConversation finds or creates the active contact-less conversation keyed by identityID.
	UpsertIdentityConversation(ctx context.Context, workspaceID, identityID string) (Conversation, bool, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	GetConversationForUpdate(ctx context.Context, id string) (Conversation, error)
	FindContactConversation(ctx context.Context, workspaceID, contactID string) (Conversation, error)
	FindIdentityConversation(ctx context.Context, workspaceID, identityID string) (Conversation, error)
	RekeyConversation(ctx context.Context, id, contactID string) (Conversation, error)
	ApplyMessageRollup(ctx context.Context, arg MessageRollup) (Conversation, error)
	SetConversationRollup(ctx context.Context, arg ConversationRollup) (Conversation, error)
	SetConversationStatus(ctx context.Context, id string, status ConversationStatus) (Conversation, error)
	SetConversationPinned(ctx context.Context, id string, pinned bool) (Conversation, error)
	// RetireConversation soft-deletes a conversation, recording mergedIntoID when non-empty.
	RetireConversation(ctx context.Context, id, mergedIntoID string, at time.Time) (Conversation, error)
	ListConversations(ctx context.Context, arg ListConversationsParams) ([]Conversation, error)
	// ListContactConversations returns active conversations keyed by the contact or by one of its identities.
	ListContactConversations(ctx context.Context, workspaceID, contactID string) ([]Conversation, error)

	// InsertMessage stores msg unless its id or dedup key already exists; the
	// bool reports whether a row was written. On conflict the existing row is returned.
	InsertMessage(ctx context.Context, msg Message) (Message, bool, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	GetMessageForUpdate(ctx context.Context, id string) (Message, error)
	GetMessageByDedupKey(ctx context.Context, key DedupKey) (Message, error)
	// FindThreadMessage returns the newest message of channel/account whose external id is one of externalIDs.
	FindThreadMessage(ctx context.Context, channel, accountID string, externalIDs []string) (Message, error)
	LatestInboundMessage(ctx context.Context, conversationID, channel string) (Message, error)
	LastOutboundMessage(ctx context.Context, conversationID string) (Message, error)
	ListMessages(ctx context.Context, arg ListMessagesParams) ([]Message, error)
	ReparentMessages(ctx context.Context, fromConversationID, toConversationID string) (int64, error)
	UpdateMessageDelivery(ctx context.Context, arg DeliveryUpdate) (Message, error)
	EditMessage(ctx context.Context, id, text string, at time.Time) (Message, error)
	MarkMessageDeleted(ctx context.Context, id string, at time.Time) (Message, error)
	ListStaleSending(ctx context.Context, updatedBefore time.Time, limit int) ([]Message, error)

	CreateAttachment(ctx context.Context, att Attachment) (Attachment, error)
	GetAttachment(ctx context.Context, id string) (Attachment, error)
	// LinkAttachment sets the owning message; ErrConflict when already owned by another message.
	LinkAttachment(ctx context.Context, id, messageID string) (Attachment, error)
	ListAttachmentsByMessage(ctx context.Context, messageID string) ([]Attachment, error)

	// InsertReadReceipt records a receipt; the bool is false when it already existed.
	InsertReadReceipt(ctx context.Context, receipt ReadReceipt) (bool, error)
	HasReadReceipt(ctx context.Context, messageID string) (bool, error)
}

// Store is Queries plus transactions. fn sees a Queries bound to the
// transaction; returning an error rolls it back.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
}
