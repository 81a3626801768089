package identities

import (
	"context"
	"errors"

	"github.com/memohai/unibox/internal/conversation"
	"github.com/memohai/unibox/internal/store"
)

var (
	ErrAlreadyLinked  = errors.New("identity is linked to a different contact")
	ErrInvalidType    = errors.New("invalid identity type")
	ErrInvalidValue   = errors.New("identity value is empty after normalization")
	ErrContactDeleted = errors.New("contact is deleted")
)

// ResolveRequest identifies a sender by type and raw value. Metadata is
// merged into the stored identity; empty values never overwrite.
type ResolveRequest struct {
	Type     store.IdentityType `json:"type"`
	Value    string             `json:"value"`
	Metadata map[string]any     `json:"metadata,omitempty"`
}

// Merger applies the conversation side of a link inside the link
// transaction and announces the outcome once it has committed. LockLink is
// taken before the transaction and released after Announce.
type Merger interface {
	LockLink(ctx context.Context, identityID, contactID string) (*conversation.ConversationLocks, error)
	MergeOnLink(ctx context.Context, q store.Queries, locks *conversation.ConversationLocks, identity store.Identity, contact store.Contact) (conversation.MergeResult, error)
	Announce(result conversation.MergeResult)
}

// maxLinkAttempts bounds retries when a conversation of the identity
// appears between taking the conversation locks and the link transaction.
const maxLinkAttempts = 4
