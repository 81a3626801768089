package conversation

import (
	"errors"

	"github.com/memohai/unibox/internal/store"
)

var (
	ErrOwnerMissing       = errors.New("conversation needs a contact or a primary identity")
	ErrWorkspaceRequired  = errors.New("workspace id is required")
	ErrConversationClosed = errors.New("conversation is archived")
	ErrInvalidStatus      = errors.New("invalid conversation status")
	ErrSameConversation   = errors.New("cannot merge a conversation into itself")
	ErrMergeNotAllowed    = errors.New("merge requires a contact-owned target and an identity-owned source")
	ErrMergeLoop          = errors.New("merged_into chain too long")
	// ErrLinkLocksStale means a conversation appeared between LockLink and the
	// link transaction; the caller takes fresh locks and tries again.
	ErrLinkLocksStale = errors.New("conversation locks no longer cover the link")
	// ErrIdentityContended means the sender's contact kept changing while an
	// inbound conversation was being resolved.
	ErrIdentityContended = errors.New("identity binding changed during resolve")
)

const (
	// maxMergeHops bounds how many merged_into pointers a lookup follows.
	maxMergeHops = 16
	// maxResolveAttempts bounds how often ResolveForInbound chases a
	// concurrent link or unlink of the sender.
	maxResolveAttempts = 4
)

// ListRequest filters the workspace conversation list.
type ListRequest struct {
	Status store.ConversationStatus
	Limit  int
	Offset int
}

// UpdateRequest changes operator-controlled fields; nil fields are left alone.
type UpdateRequest struct {
	Status *store.ConversationStatus `json:"status,omitempty"`
	Pinned *bool                     `json:"pinned,omitempty"`
}

// MergeResult describes what a link or operator merge changed. Target is the
// zero value when the linked identity had no conversation yet.
type MergeResult struct {
	WorkspaceID string
	Target      store.Conversation
	Retired     []store.Conversation
	Rekeyed     bool
	Moved       int64
}

// Changed reports whether any conversation row was touched.
func (r MergeResult) Changed() bool {
	return r.Rekeyed || len(r.Retired) > 0
}

// ContactLockKey is the keylock key serializing links and merges of one contact.
func ContactLockKey(contactID string) string {
	return "contact:" + contactID
}

// LockKey is the keylock key ordering commits and events of one conversation.
func LockKey(conversationID string) string {
	return "conversation:" + conversationID
}

// ConversationLocks holds the LockKey locks of a set of conversations until
// Release. Merges keep them from before their transaction until the events
// are published, so no commit into those conversations interleaves.
type ConversationLocks struct {
	held   map[string]struct{}
	unlock []func()
}

// Holds reports whether conversationID is locked.
func (l *ConversationLocks) Holds(conversationID string) bool {
	if l == nil {
		return false
	}
	_, ok := l.held[conversationID]
	return ok
}

// Release unlocks in reverse order. It is safe to call more than once.
func (l *ConversationLocks) Release() {
	if l == nil {
		return
	}
	for i := len(l.unlock) - 1; i >= 0; i-- {
		l.unlock[i]()
	}
	l.unlock = nil
}
