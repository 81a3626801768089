// Package reconcile merges a client's optimistic messages with the
// server's events. A Timeline is a plain value owned by one goroutine; it
// does no I/O and reads no clock.
package reconcile

import (
	"fmt"
	"sort"
	"time"

	"github.com/memohai/unibox/internal/message"
	"github.com/memohai/unibox/internal/message/event"
	"github.com/memohai/unibox/internal/store"
)

// DefaultPendingTimeout is how long an optimistic message may wait for its
// server confirmation before it shows as failed.
const DefaultPendingTimeout = 30 * time.Second

// State is the client-side lifecycle of an item.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

// Item is one row of the rendered conversation.
type Item struct {
	ID        string
	State     State
	Direction store.Direction
	Status    store.MessageStatus
	Text      string
	Error     string
	SentAt    time.Time
	Deleted   bool
	Edited    bool
	// Attachments counts the message's attachments.
	Attachments int
	// addedAt is when an optimistic item was created locally.
	addedAt time.Time
	// updatedAt is the server's last write of the row.
	updatedAt time.Time
}

// Timeline is the ordered local message list of one open conversation.
type Timeline struct {
	items   []Item
	index   map[string]int
	timeout time.Duration
}

func New(pendingTimeout time.Duration) *Timeline {
	if pendingTimeout <= 0 {
		pendingTimeout = DefaultPendingTimeout
	}
	return &Timeline{index: map[string]int{}, timeout: pendingTimeout}
}

// AddOptimistic appends a locally composed outbound message under the id the
// client will send to the server. An id already present is left alone.
func (t *Timeline) AddOptimistic(id, text string, now time.Time) Item {
	if i, ok := t.index[id]; ok {
		return t.items[i]
	}
	item := Item{
		ID:        id,
		State:     StatePending,
		Direction: store.DirectionOutbound,
		Status:    store.MessageSending,
		Text:      text,
		SentAt:    now,
		addedAt:   now,
	}
	t.append(item)
	return item
}

// Apply folds a server event into the timeline. It reports whether the
// timeline changed; events other than message events are ignored.
func (t *Timeline) Apply(evt event.Event) (bool, error) {
	if evt.Type != event.TypeMessageCreated && evt.Type != event.TypeMessageUpdated {
		return false, nil
	}
	var view message.View
	if err := evt.Decode(&view); err != nil {
		return false, fmt.Errorf("decode %s: %w", evt.Type, err)
	}
	return t.Upsert(view), nil
}

// Upsert replaces the item with the view's id in place, or appends it when
// the id is new. This is what keeps an optimistic message and its
// confirmation a single row. A view older than the stored row is dropped, so
// a late HTTP reply cannot undo a newer event.
func (t *Timeline) Upsert(view message.View) bool {
	next := fromView(view)
	if i, ok := t.index[view.ID]; ok {
		current := t.items[i]
		if olderThan(next, current) {
			return false
		}
		t.items[i] = next
		return !sameItem(current, next)
	}
	t.append(next)
	return true
}

// ExpirePending marks optimistic items older than the timeout as failed and
// returns their ids. Failed items stay visible.
func (t *Timeline) ExpirePending(now time.Time) []string {
	var expired []string
	for i := range t.items {
		item := &t.items[i]
		if item.State != StatePending || now.Sub(item.addedAt) < t.timeout {
			continue
		}
		item.State = StateFailed
		item.Status = store.MessageFailed
		item.Error = "not confirmed by server"
		expired = append(expired, item.ID)
	}
	return expired
}

// Reject marks a pending item as failed because the server refused it.
// Confirmed items are left alone; the server's view of them wins.
func (t *Timeline) Reject(id, reason string) (Item, bool) {
	i, ok := t.index[id]
	if !ok || t.items[i].State != StatePending {
		return Item{}, false
	}
	item := &t.items[i]
	item.State = StateFailed
	item.Status = store.MessageFailed
	item.Error = reason
	return *item, true
}

// Reset replaces the confirmed history after a resync. Rows the timeline
// already holds in a newer version keep that version. Server rows newer
// than the whole page are kept after it, and optimistic items the server
// does not know yet come last.
func (t *Timeline) Reset(history []message.View) {
	sorted := make([]message.View, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SentAt.Before(sorted[j].SentAt) })

	var newest time.Time
	known := make(map[string]struct{}, len(sorted))
	for _, view := range sorted {
		known[view.ID] = struct{}{}
		if view.SentAt.After(newest) {
			newest = view.SentAt
		}
	}
	var later, local []Item
	for _, item := range t.items {
		if _, ok := known[item.ID]; ok {
			continue
		}
		switch {
		case !item.addedAt.IsZero():
			local = append(local, item)
		case len(sorted) == 0 || item.SentAt.After(newest):
			later = append(later, item)
		}
	}

	previous := t.items
	previousIndex := t.index
	t.items = make([]Item, 0, len(sorted)+len(later)+len(local))
	t.index = make(map[string]int, cap(t.items))
	for _, view := range sorted {
		next := fromView(view)
		if i, ok := previousIndex[view.ID]; ok && olderThan(next, previous[i]) {
			next = previous[i]
		}
		t.append(next)
	}
	for _, item := range later {
		t.append(item)
	}
	for _, item := range local {
		t.append(item)
	}
}

// Items returns a copy of the rows in display order.
func (t *Timeline) Items() []Item {
	out := make([]Item, len(t.items))
	copy(out, t.items)
	return out
}

// Get returns the item with id.
func (t *Timeline) Get(id string) (Item, bool) {
	i, ok := t.index[id]
	if !ok {
		return Item{}, false
	}
	return t.items[i], true
}

func (t *Timeline) Len() int {
	return len(t.items)
}

func (t *Timeline) append(item Item) {
	t.index[item.ID] = len(t.items)
	t.items = append(t.items, item)
}

// statusRank orders delivery states for views written at the same instant.
// Failed ranks with sent: it may follow sending or sent but not a receipt.
var statusRank = map[store.MessageStatus]int{
	store.MessageReceived:  1,
	store.MessageSending:   1,
	store.MessageSent:      2,
	store.MessageFailed:    2,
	store.MessageDelivered: 3,
	store.MessageRead:      4,
}

// olderThan reports whether next is a stale copy of current. Items the
// server never wrote (pending, or failed locally) always give way.
func olderThan(next, current Item) bool {
	if current.State == StatePending || !current.addedAt.IsZero() {
		return false
	}
	if !next.updatedAt.IsZero() && !current.updatedAt.IsZero() {
		if next.updatedAt.Before(current.updatedAt) {
			return true
		}
		if next.updatedAt.After(current.updatedAt) {
			return false
		}
	}
	return statusRank[next.Status] < statusRank[current.Status]
}

// sameItem ignores updatedAt: a bump with nothing visible is not a change.
func sameItem(a, b Item) bool {
	if !a.SentAt.Equal(b.SentAt) || !a.addedAt.Equal(b.addedAt) {
		return false
	}
	a.SentAt, b.SentAt = time.Time{}, time.Time{}
	a.addedAt, b.addedAt = time.Time{}, time.Time{}
	a.updatedAt, b.updatedAt = time.Time{}, time.Time{}
	return a == b
}

func fromView(view message.View) Item {
	item := Item{
		ID:          view.ID,
		State:       StateConfirmed,
		Direction:   view.Direction,
		Status:      view.Status,
		Text:        view.Text,
		Error:       view.Error,
		SentAt:      view.SentAt,
		Deleted:     view.DeletedAt != nil,
		Edited:      view.EditedAt != nil,
		Attachments: len(view.Attachments),
		updatedAt:   view.UpdatedAt,
	}
	if view.Status == store.MessageFailed {
		item.State = StateFailed
	}
	return item
}
