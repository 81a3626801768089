package presence

import (
	"time"

	"github.com/memohai/unibox/internal/store"
)

// Status is a subject's online state as of the read.
type Status struct {
	Subject     string    `json:"subject"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen,omitempty"`
	OnlineUntil time.Time `json:"online_until,omitempty"`
}

// TypingSignal is live until ExpiresAt; clients compare against their clock.
type TypingSignal struct {
	ConversationID string    `json:"conversation_id"`
	Subject        string    `json:"subject"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Presence is the combined view returned by Snapshot.
type Presence struct {
	Status
	Typing []TypingSignal `json:"typing"`
}

// ReadStatus is the read state of a conversation's newest outbound message.
// MessageID is empty when nothing was sent yet.
type ReadStatus struct {
	ConversationID string              `json:"conversation_id"`
	MessageID      string              `json:"message_id,omitempty"`
	Status         store.MessageStatus `json:"status,omitempty"`
	Read           bool                `json:"read"`
}
