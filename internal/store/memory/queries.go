package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/memohai/unibox/internal/store"
)

type queries struct {
	db *Store
	tx *state
}

// acquire returns the state to operate on. Outside a transaction it takes the
// store lock for the duration of one call.
func (q *queries) acquire() (*state, func()) {
	if q.tx != nil {
		return q.tx, func() {}
	}
	q.db.mu.Lock()
	return q.db.st, q.db.mu.Unlock
}

func (q *queries) now() time.Time {
	return q.db.now()
}

// Identities.

func (q *queries) UpsertIdentity(_ context.Context, arg store.UpsertIdentityParams) (store.Identity, error) {
	st, release := q.acquire()
	defer release()
	now := q.now()
	key := identityKey(arg.Type, arg.NormalizedValue)
	if id, ok := st.identityKeys[key]; ok {
		ident := st.identities[id]
		ident.Metadata = store.MergeMetadata(ident.Metadata, arg.Metadata)
		ident.UpdatedAt = now
		st.identities[id] = ident
		return cloneIdentity(ident), nil
	}
	ident := store.Identity{
		ID:              newID(),
		Type:            arg.Type,
		Value:           arg.Value,
		NormalizedValue: arg.NormalizedValue,
		Metadata:        store.MergeMetadata(nil, arg.Metadata),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	st.identities[ident.ID] = ident
	st.identityKeys[key] = ident.ID
	return cloneIdentity(ident), nil
}

func (q *queries) GetIdentity(_ context.Context, id string) (store.Identity, error) {
	st, release := q.acquire()
	defer release()
	ident, ok := st.identities[id]
	if !ok {
		return store.Identity{}, store.ErrNotFound
	}
	return cloneIdentity(ident), nil
}

func (q *queries) GetIdentityForUpdate(ctx context.Context, id string) (store.Identity, error) {
	return q.GetIdentity(ctx, id)
}

func (q *queries) SetIdentityContact(_ context.Context, id, contactID string) (store.Identity, error) {
	st, release := q.acquire()
	defer release()
	ident, ok := st.identities[id]
	if !ok {
		return store.Identity{}, store.ErrNotFound
	}
	if contactID != "" {
		if _, ok := st.contacts[contactID]; !ok {
			return store.Identity{}, store.ErrNotFound
		}
	}
	ident.ContactID = contactID
	ident.UpdatedAt = q.now()
	st.identities[id] = ident
	return cloneIdentity(ident), nil
}

func (q *queries) ListIdentitiesByContact(_ context.Context, contactID string) ([]store.Identity, error) {
	st, release := q.acquire()
	defer release()
	out := make([]store.Identity, 0)
	for _, ident := range st.identities {
		if ident.ContactID == contactID {
			out = append(out, cloneIdentity(ident))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func cloneIdentity(ident store.Identity) store.Identity {
	ident.Metadata = copyMetadata(ident.Metadata)
	return ident
}

// Contacts.

func (q *queries) CreateContact(_ context.Context, arg store.CreateContactParams) (store.Contact, error) {
	st, release := q.acquire()
	defer release()
	id := arg.ID
	if id == "" {
		id = newID()
	}
	if _, exists := st.contacts[id]; exists {
		return store.Contact{}, store.ErrConflict
	}
	now := q.now()
	c := store.Contact{
		ID:          id,
		WorkspaceID: arg.WorkspaceID,
		DisplayName: arg.DisplayName,
		Stage:       arg.Stage,
		Metadata:    copyMetadata(arg.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	st.contacts[id] = c
	return cloneContact(c), nil
}

func (q *queries) GetContact(_ context.Context, id string) (store.Contact, error) {
	st, release := q.acquire()
	defer release()
	c, ok := st.contacts[id]
	if !ok {
		return store.Contact{}, store.ErrNotFound
	}
	return cloneContact(c), nil
}

func (q *queries) GetContactForUpdate(ctx context.Context, id string) (store.Contact, error) {
	return q.GetContact(ctx, id)
}

func (q *queries) UpdateContact(_ context.Context, arg store.UpdateContactParams) (store.Contact, error) {
	st, release := q.acquire()
	defer release()
	c, ok := st.contacts[arg.ID]
	if !ok || c.DeletedAt != nil {
		return store.Contact{}, store.ErrNotFound
	}
	c.DisplayName = arg.DisplayName
	c.Stage = arg.Stage
	c.Metadata = copyMetadata(arg.Metadata)
	c.UpdatedAt = q.now()
	st.contacts[arg.ID] = c
	return cloneContact(c), nil
}

func (q *queries) SoftDeleteContact(_ context.Context, id string, at time.Time) error {
	st, release := q.acquire()
	defer release()
	c, ok := st.contacts[id]
	if !ok || c.DeletedAt != nil {
		return store.ErrNotFound
	}
	c.DeletedAt = timePtr(at)
	c.UpdatedAt = q.now()
	st.contacts[id] = c
	return nil
}

func (q *queries) ListContacts(_ context.Context, workspaceID string) ([]store.Contact, error) {
	st, release := q.acquire()
	defer release()
	out := make([]store.Contact, 0)
	for _, c := range st.contacts {
		if c.WorkspaceID == workspaceID && c.DeletedAt == nil {
			out = append(out, cloneContact(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func cloneContact(c store.Contact) store.Contact {
	c.Metadata = copyMetadata(c.Metadata)
	return c
}

// Conversations.

func (q *queries) UpsertContactConversation(_ context.Context, workspaceID, contactID, primaryIdentityID string) (store.Conversation, bool, error) {
	st, release := q.acquire()
	defer release()
	if c, ok := findContactConversation(st, workspaceID, contactID); ok {
		return c, false, nil
	}
	if _, ok := st.contacts[contactID]; !ok {
		return store.Conversation{}, false, store.ErrNotFound
	}
	c := q.newConversation(workspaceID)
	c.ContactID = contactID
	c.PrimaryIdentityID = primaryIdentityID
	st.conversations[c.ID] = c
	return c, true, nil
}

func (q *queries) UpsertIdentityConversation(_ context.Context, workspaceID, identityID string) (store.Conversation, bool, error) {
	st, release := q.acquire()
	defer release()
	if c, ok := findIdentityConversation(st, workspaceID, identityID); ok {
		return c, false, nil
	}
	if _, ok := st.identities[identityID]; !ok {
		return store.Conversation{}, false, store.ErrNotFound
	}
	c := q.newConversation(workspaceID)
	c.PrimaryIdentityID = identityID
	st.conversations[c.ID] = c
	return c, true, nil
}

func (q *queries) newConversation(workspaceID string) store.Conversation {
	now := q.now()
	return store.Conversation{
		ID:          newID(),
		WorkspaceID: workspaceID,
		Status:      store.StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func findContactConversation(st *state, workspaceID, contactID string) (store.Conversation, bool) {
	for _, c := range st.conversations {
		if c.WorkspaceID == workspaceID && c.ContactID == contactID && c.DeletedAt == nil {
			return c, true
		}
	}
	return store.Conversation{}, false
}

func findIdentityConversation(st *state, workspaceID, identityID string) (store.Conversation, bool) {
	for _, c := range st.conversations {
		if c.WorkspaceID == workspaceID && c.ContactID == "" && c.PrimaryIdentityID == identityID && c.DeletedAt == nil {
			return c, true
		}
	}
	return store.Conversation{}, false
}

func (q *queries) GetConversation(_ context.Context, id string) (store.Conversation, error) {
	st, release := q.acquire()
	defer release()
	c, ok := st.conversations[id]
	if !ok {
		return store.Conversation{}, store.ErrNotFound
	}
	return c, nil
}

func (q *queries) GetConversationForUpdate(ctx context.Context, id string) (store.Conversation, error) {
	return q.GetConversation(ctx, id)
}

func (q *queries) FindContactConversation(_ context.Context, workspaceID, contactID string) (store.Conversation, error) {
	st, release := q.acquire()
	defer release()
	if c, ok := findContactConversation(st, workspaceID, contactID); ok {
		return c, nil
	}
	return store.Conversation{}, store.ErrNotFound
}

func (q *queries) FindIdentityConversation(_ context.Context, workspaceID, identityID string) (store.Conversation, error) {
	st, release := q.acquire()
	defer release()
	if c, ok := findIdentityConversation(st, workspaceID, identityID); ok {
		return c, nil
	}
	return store.Conversation{}, store.ErrNotFound
}

func (q *queries) RekeyConversation(_ context.Context, id, contactID string) (store.Conversation, error) {
	st, release := q.acquire()
	defer release()
	c, ok := st.conversations[id]
	if !ok || c.DeletedAt != nil {
		return store.Conversation{}, store.ErrNotFound
	}
	if existing, ok := findContactConversation(st, c.WorkspaceID, contactID); ok && existing.ID != id {
		return store.Conversation{}, store.ErrConflict
	}
	c.ContactID = contactID
	c.UpdatedAt = q.now()
	st.conversations[id] = c
	return c, nil
}

func (q *queries) ApplyMessageRollup(_ context.Context, arg store.MessageRollup) (store.Conversation, error) {
	st, release := q.acquire()
	defer release()
	c, ok := st.conversations[arg.ConversationID]
	if !ok {
		return store.Conversation{}, store.ErrNotFound
	}
	if c.LastMessageAt == nil || !arg.SentAt.Before(*c.LastMessageAt) {
		c.LastMessageAt = timePtr(arg.SentAt)
		c.LastChannel = arg.Channel
	}
	switch arg.Direction {
	case store.DirectionInbound:
		c.LastInboundAt = laterOf(c.LastInboundAt, arg.SentAt)
	case store.DirectionOutbound:
		c.LastOutboundAt = laterOf(c.LastOutboundAt, arg.SentAt)
	}
	if arg.ReopenResolved && c.Status == store.StatusResolved {
		c.Status = store.StatusOpen
	}
	c.UpdatedAt = q.now()
	st.conversations[c.ID] = c
	return c, nil
}

func (q *queries) SetConversationRollup(_ context.Context, arg store.ConversationRollup) (store.Conversation, error) {
	st, release := q.acquire()
	defer release()
	c, ok := st.conversations[arg.ID]
	if !ok {
		return store.Conversation{}, store.ErrNotFound
	}
	c.LastMessageAt = arg.LastMessageAt
	c.LastChannel = arg.LastChannel
	c.LastInboundAt = arg.LastInboundAt
	c.LastOutboundAt = arg.LastOutboundAt
	c.Pinned = arg.Pinned
	if arg.Status != "" {
		c.Status = arg.Status
	}
	c.UpdatedAt = q.now()
	st.conversations[c.ID] = c
	return c, nil
}

func (q *queries) SetConversationStatus(_ context.Context, id string, status store.ConversationStatus) (store.Conversation, error) {
	return q.mutateActiveConversation(id, func(c *store.Conversation) { c.Status = status })
}

func (q *queries) SetConversationPinned(_ context.Context, id string, pinned bool) (store.Conversation, error) {
	return q.mutateActiveConversation(id, func(c *store.Conversation) { c.Pinned = pinned })
}

func (q *queries) RetireConversation(_ context.Context, id, mergedIntoID string, at time.Time) (store.Conversation, error) {
	return q.mutateActiveConversation(id, func(c *store.Conversation) {
		c.DeletedAt = timePtr(at)
		c.MergedIntoID = mergedIntoID
	})
}

func (q *queries) mutateActiveConversation(id string, fn func(c *store.Conversation)) (store.Conversation, error) {
	st, release := q.acquire()
	defer release()
	c, ok := st.conversations[id]
	if !ok || c.DeletedAt != nil {
		return store.Conversation{}, store.ErrNotFound
	}
	fn(&c)
	c.UpdatedAt = q.now()
	st.conversations[id] = c
	return c, nil
}

func (q *queries) ListConversations(_ context.Context, arg store.ListConversationsParams) ([]store.Conversation, error) {
	st, release := q.acquire()
	defer release()
	out := make([]store.Conversation, 0)
	for _, c := range st.conversations {
		if c.WorkspaceID != arg.WorkspaceID || c.DeletedAt != nil {
			continue
		}
		if arg.Status != "" && c.Status != arg.Status {
			continue
		}
		out = append(out, c)
	}
	sortConversations(out)
	return page(out, arg.Offset, arg.Limit), nil
}

func (q *queries) ListContactConversations(_ context.Context, workspaceID, contactID string) ([]store.Conversation, error) {
	st, release := q.acquire()
	defer release()
	owned := map[string]bool{}
	for _, ident := range st.identities {
		if ident.ContactID == contactID {
			owned[ident.ID] = true
		}
	}
	out := make([]store.Conversation, 0)
	for _, c := range st.conversations {
		if c.WorkspaceID != workspaceID || c.DeletedAt != nil {
			continue
		}
		if c.ContactID == contactID || (c.ContactID == "" && owned[c.PrimaryIdentityID]) {
			out = append(out, c)
		}
	}
	sortConversations(out)
	return out, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// Messages.

func (q *queries) InsertMessage(_ context.Context, msg store.Message) (store.Message, bool, error) {
	st, release := q.acquire()
	defer release()
	if existing, ok := st.messages[msg.ID]; ok {
		return cloneMessage(existing), false, nil
	}
	key := dedupKeyOf(msg)
	if msg.ExternalMessageID != "" {
		if id, ok := st.dedup[key]; ok {
			return cloneMessage(st.messages[id]), false, nil
		}
	}
	if _, ok := st.conversations[msg.ConversationID]; !ok {
		return store.Message{}, false, store.ErrNotFound
	}
	now := q.now()
	if msg.IngestedAt.IsZero() {
		msg.IngestedAt = now
	}
	msg.UpdatedAt = now
	msg.Raw = append([]byte(nil), msg.Raw...)
	st.messages[msg.ID] = msg
	if msg.ExternalMessageID != "" {
		st.dedup[key] = msg.ID
	}
	return cloneMessage(msg), true, nil
}

func dedupKeyOf(msg store.Message) store.DedupKey {
	return store.DedupKey{
		Channel:              msg.Channel,
		IntegrationAccountID: msg.IntegrationAccountID,
		ChatID:               msg.DedupChatID,
		ExternalMessageID:    msg.ExternalMessageID,
	}
}

func (q *queries) GetMessage(_ context.Context, id string) (store.Message, error) {
	st, release := q.acquire()
	defer release()
	msg, ok := st.messages[id]
	if !ok {
		return store.Message{}, store.ErrNotFound
	}
	return cloneMessage(msg), nil
}

func (q *queries) GetMessageForUpdate(ctx context.Context, id string) (store.Message, error) {
	return q.GetMessage(ctx, id)
}

func (q *queries) GetMessageByDedupKey(_ context.Context, key store.DedupKey) (store.Message, error) {
	st, release := q.acquire()
	defer release()
	id, ok := st.dedup[key]
	if !ok {
		return store.Message{}, store.ErrNotFound
	}
	return cloneMessage(st.messages[id]), nil
}

func (q *queries) FindThreadMessage(_ context.Context, channel, accountID string, externalIDs []string) (store.Message, error) {
	st, release := q.acquire()
	defer release()
	wanted := map[string]bool{}
	for _, id := range externalIDs {
		if id = strings.TrimSpace(id); id != "" {
			wanted[id] = true
		}
	}
	var (
		best  store.Message
		found bool
	)
	for _, msg := range st.messages {
		if msg.Channel != channel || msg.IntegrationAccountID != accountID || !wanted[msg.ExternalMessageID] {
			continue
		}
		if !found || messageLess(best, msg) {
			best, found = msg, true
		}
	}
	if !found {
		return store.Message{}, store.ErrNotFound
	}
	return cloneMessage(best), nil
}

func (q *queries) LatestInboundMessage(_ context.Context, conversationID, channel string) (store.Message, error) {
	return q.latest(func(msg store.Message) bool {
		return msg.ConversationID == conversationID &&
			msg.Direction == store.DirectionInbound &&
			(channel == "" || msg.Channel == channel)
	})
}

func (q *queries) LastOutboundMessage(_ context.Context, conversationID string) (store.Message, error) {
	return q.latest(func(msg store.Message) bool {
		return msg.ConversationID == conversationID && msg.Direction == store.DirectionOutbound
	})
}

func (q *queries) latest(match func(store.Message) bool) (store.Message, error) {
	st, release := q.acquire()
	defer release()
	var (
		best  store.Message
		found bool
	)
	for _, msg := range st.messages {
		if !match(msg) {
			continue
		}
		if !found || messageLess(best, msg) {
			best, found = msg, true
		}
	}
	if !found {
		return store.Message{}, store.ErrNotFound
	}
	return cloneMessage(best), nil
}

func (q *queries) ListMessages(_ context.Context, arg store.ListMessagesParams) ([]store.Message, error) {
	st, release := q.acquire()
	defer release()
	out := make([]store.Message, 0)
	for _, msg := range st.messages {
		if msg.ConversationID != arg.ConversationID {
			continue
		}
		if !arg.Before.IsZero() && !msg.SentAt.Before(arg.Before) {
			continue
		}
		out = append(out, cloneMessage(msg))
	}
	sort.Slice(out, func(i, j int) bool { return messageLess(out[j], out[i]) })
	out = page(out, 0, arg.Limit)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (q *queries) ReparentMessages(_ context.Context, fromConversationID, toConversationID string) (int64, error) {
	st, release := q.acquire()
	defer release()
	if _, ok := st.conversations[toConversationID]; !ok {
		return 0, store.ErrNotFound
	}
	var moved int64
	for id, msg := range st.messages {
		if msg.ConversationID != fromConversationID {
			continue
		}
		msg.ConversationID = toConversationID
		st.messages[id] = msg
		moved++
	}
	return moved, nil
}

func (q *queries) UpdateMessageDelivery(_ context.Context, arg store.DeliveryUpdate) (store.Message, error) {
	st, release := q.acquire()
	defer release()
	msg, ok := st.messages[arg.ID]
	if !ok {
		return store.Message{}, store.ErrNotFound
	}
	if arg.ExternalMessageID != "" && arg.ExternalMessageID != msg.ExternalMessageID {
		next := msg
		next.ExternalMessageID = arg.ExternalMessageID
		key := dedupKeyOf(next)
		if owner, taken := st.dedup[key]; taken && owner != msg.ID {
			return store.Message{}, store.ErrConflict
		}
		if msg.ExternalMessageID != "" {
			delete(st.dedup, dedupKeyOf(msg))
		}
		st.dedup[key] = msg.ID
		msg = next
	}
	msg.Status = arg.Status
	msg.Error = arg.Error
	if len(arg.Raw) > 0 {
		msg.Raw = append(json.RawMessage(nil), arg.Raw...)
	}
	msg.UpdatedAt = q.now()
	st.messages[msg.ID] = msg
	return cloneMessage(msg), nil
}

func (q *queries) EditMessage(_ context.Context, id, text string, at time.Time) (store.Message, error) {
	return q.mutateMessage(id, func(msg *store.Message) {
		msg.Text = text
		msg.EditedAt = timePtr(at)
	})
}

func (q *queries) MarkMessageDeleted(_ context.Context, id string, at time.Time) (store.Message, error) {
	return q.mutateMessage(id, func(msg *store.Message) {
		if msg.DeletedAt == nil {
			msg.DeletedAt = timePtr(at)
		}
	})
}

func (q *queries) mutateMessage(id string, fn func(msg *store.Message)) (store.Message, error) {
	st, release := q.acquire()
	defer release()
	msg, ok := st.messages[id]
	if !ok {
		return store.Message{}, store.ErrNotFound
	}
	fn(&msg)
	msg.UpdatedAt = q.now()
	st.messages[id] = msg
	return cloneMessage(msg), nil
}

func (q *queries) ListStaleSending(_ context.Context, updatedBefore time.Time, limit int) ([]store.Message, error) {
	st, release := q.acquire()
	defer release()
	out := make([]store.Message, 0)
	for _, msg := range st.messages {
		if msg.Status == store.MessageSending && msg.UpdatedAt.Before(updatedBefore) {
			out = append(out, cloneMessage(msg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return page(out, 0, limit), nil
}

func cloneMessage(msg store.Message) store.Message {
	if msg.Raw != nil {
		msg.Raw = append([]byte(nil), msg.Raw...)
	}
	return msg
}

// Attachments.

func (q *queries) CreateAttachment(_ context.Context, att store.Attachment) (store.Attachment, error) {
	st, release := q.acquire()
	defer release()
	if att.ID == "" {
		att.ID = newID()
	}
	if _, exists := st.attachments[att.ID]; exists {
		return store.Attachment{}, store.ErrConflict
	}
	att.Metadata = copyMetadata(att.Metadata)
	att.CreatedAt = q.now()
	st.attachments[att.ID] = att
	return cloneAttachment(att), nil
}

func (q *queries) GetAttachment(_ context.Context, id string) (store.Attachment, error) {
	st, release := q.acquire()
	defer release()
	att, ok := st.attachments[id]
	if !ok {
		return store.Attachment{}, store.ErrNotFound
	}
	return cloneAttachment(att), nil
}

func (q *queries) LinkAttachment(_ context.Context, id, messageID string) (store.Attachment, error) {
	st, release := q.acquire()
	defer release()
	att, ok := st.attachments[id]
	if !ok {
		return store.Attachment{}, store.ErrNotFound
	}
	if att.MessageID != "" && att.MessageID != messageID {
		return store.Attachment{}, store.ErrConflict
	}
	att.MessageID = messageID
	st.attachments[id] = att
	return cloneAttachment(att), nil
}

func (q *queries) ListAttachmentsByMessage(_ context.Context, messageID string) ([]store.Attachment, error) {
	st, release := q.acquire()
	defer release()
	out := make([]store.Attachment, 0)
	for _, att := range st.attachments {
		if att.MessageID == messageID {
			out = append(out, cloneAttachment(att))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func cloneAttachment(att store.Attachment) store.Attachment {
	att.Metadata = copyMetadata(att.Metadata)
	return att
}

// Read receipts.

func (q *queries) InsertReadReceipt(_ context.Context, receipt store.ReadReceipt) (bool, error) {
	st, release := q.acquire()
	defer release()
	if _, ok := st.messages[receipt.MessageID]; !ok {
		return false, store.ErrNotFound
	}
	readers := st.receipts[receipt.MessageID]
	if readers == nil {
		readers = map[string]store.ReadReceipt{}
		st.receipts[receipt.MessageID] = readers
	}
	if _, ok := readers[receipt.ReaderID]; ok {
		return false, nil
	}
	readers[receipt.ReaderID] = receipt
	return true, nil
}

func (q *queries) HasReadReceipt(_ context.Context, messageID string) (bool, error) {
	st, release := q.acquire()
	defer release()
	return len(st.receipts[messageID]) > 0, nil
}
