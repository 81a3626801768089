// Package memory is an in-process store.Store for development and tests.
// Transactions are serialized and applied to a copy of the state that is
// swapped in on commit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/unibox/internal/store"
)

// Store keeps all rows in maps guarded by one mutex.
type Store struct {
	*queries

	mu  sync.Mutex
	st  *state
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty store using the wall clock.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock returns an empty store stamping rows with now().
func NewWithClock(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	s := &Store{st: newState(), now: now}
	s.queries = &queries{db: s}
	return s
}

// InTx runs fn against a private copy of the state and publishes it when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(q store.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	draft := s.st.clone()
	if err := fn(&queries{db: s, tx: draft}); err != nil {
		return err
	}
	s.st = draft
	return nil
}

type state struct {
	identities    map[string]store.Identity
	identityKeys  map[string]string
	contacts      map[string]store.Contact
	conversations map[string]store.Conversation
	messages      map[string]store.Message
	dedup         map[store.DedupKey]string
	attachments   map[string]store.Attachment
	receipts      map[string]map[string]store.ReadReceipt
}

func newState() *state {
	return &state{
		identities:    map[string]store.Identity{},
		identityKeys:  map[string]string{},
		contacts:      map[string]store.Contact{},
		conversations: map[string]store.Conversation{},
		messages:      map[string]store.Message{},
		dedup:         map[store.DedupKey]string{},
		attachments:   map[string]store.Attachment{},
		receipts:      map[string]map[string]store.ReadReceipt{},
	}
}

// clone copies the top-level maps. Stored values are replaced, never mutated
// in place, so sharing nested maps between copies is safe.
func (s *state) clone() *state {
	out := &state{
		identities:    cloneMap(s.identities),
		identityKeys:  cloneMap(s.identityKeys),
		contacts:      cloneMap(s.contacts),
		conversations: cloneMap(s.conversations),
		messages:      cloneMap(s.messages),
		dedup:         cloneMap(s.dedup),
		attachments:   cloneMap(s.attachments),
		receipts:      make(map[string]map[string]store.ReadReceipt, len(s.receipts)),
	}
	for id, readers := range s.receipts {
		out.receipts[id] = cloneMap(readers)
	}
	return out
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyMetadata(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	return cloneMap(in)
}

func identityKey(t store.IdentityType, normalized string) string {
	return string(t) + "\x00" + normalized
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func laterOf(current *time.Time, candidate time.Time) *time.Time {
	if current == nil || candidate.After(*current) {
		return timePtr(candidate)
	}
	return current
}

func sortConversations(items []store.Conversation) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		switch {
		case a.LastMessageAt == nil && b.LastMessageAt != nil:
			return false
		case a.LastMessageAt != nil && b.LastMessageAt == nil:
			return true
		case a.LastMessageAt != nil && !a.LastMessageAt.Equal(*b.LastMessageAt):
			return a.LastMessageAt.After(*b.LastMessageAt)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}

// messageLess orders by sent_at, then ingestion, then id.
func messageLess(a, b store.Message) bool {
	if !a.SentAt.Equal(b.SentAt) {
		return a.SentAt.Before(b.SentAt)
	}
	if !a.IngestedAt.Equal(b.IngestedAt) {
		return a.IngestedAt.Before(b.IngestedAt)
	}
	return a.ID < b.ID
}

func newID() string {
	return uuid.NewString()
}
