// Package postgres implements store.Store on pgx and the sqlc query layer.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memohai/unibox/internal/db"
	"github.com/memohai/unibox/internal/db/sqlc"
	"github.com/memohai/unibox/internal/store"
)

// Store runs queries on a pool; InTx binds them to one transaction.
type Store struct {
	*queries
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New wraps pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: &queries{q: sqlc.New(pool)}, pool: pool}
}

// InTx runs fn inside a read-committed transaction; row locks taken through
// the *ForUpdate queries are held until fn returns.
func (s *Store) InTx(ctx context.Context, fn func(q store.Queries) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(&queries{q: s.queries.q.WithTx(tx)}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type queries struct {
	q *sqlc.Queries
}

// Identities.

func (r *queries) UpsertIdentity(ctx context.Context, arg store.UpsertIdentityParams) (store.Identity, error) {
	metadata, err := marshalMetadata(store.CompactMetadata(arg.Metadata))
	if err != nil {
		return store.Identity{}, err
	}
	row, err := r.q.UpsertIdentity(ctx, sqlc.UpsertIdentityParams{
		Type:            string(arg.Type),
		Value:           arg.Value,
		NormalizedValue: arg.NormalizedValue,
		Metadata:        metadata,
	})
	if err != nil {
		return store.Identity{}, mapErr(err)
	}
	return toIdentity(row), nil
}

func (r *queries) GetIdentity(ctx context.Context, id string) (store.Identity, error) {
	pgID, err := parseID(id)
	if err != nil {
		return store.Identity{}, err
	}
	row, err := r.q.GetIdentityByID(ctx, pgID)
	if err != nil {
		return store.Identity{}, mapErr(err)
	}
	return toIdentity(row), nil
}

func (r *queries) GetIdentityForUpdate(ctx context.Context, id string) (store.Identity, error) {
	pgID, err := parseID(id)
	if err != nil {
		return store.Identity{}, err
	}
	row, err := r.q.GetIdentityForUpdate(ctx, pgID)
	if err != nil {
		return store.Identity{}, mapErr(err)
	}
	return toIdentity(row), nil
}

func (r *queries) SetIdentityContact(ctx context.Context, id, contactID string) (store.Identity, error) {
	pgID, err := parseID(id)
	if err != nil {
		return store.Identity{}, err
	}
	pgContact, err := parseOptionalID(contactID)
	if err != nil {
		return store.Identity{}, err
	}
	row, err := r.q.SetIdentityContact(ctx, sqlc.SetIdentityContactParams{ID: pgID, ContactID: pgContact})
	if err != nil {
		return store.Identity{}, mapErr(err)
	}
	return toIdentity(row), nil
}

func (r *queries) ListIdentitiesByContact(ctx context.Context, contactID string) ([]store.Identity, error) {
	pgID, err := parseID(contactID)
	if err != nil {
		return nil, err
	}
	rows, err := r.q.ListIdentitiesByContact(ctx, pgID)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]store.Identity, 0, len(rows))
	for _, row := range rows {
		out = append(out, toIdentity(row))
	}
	return out, nil
}

// Contacts.

func (r *queries) CreateContact(ctx context.Context, arg store.CreateContactParams) (store.Contact, error) {
	pgID, err := parseOptionalID(arg.ID)
	if err != nil {
		return store.Contact{}, err
	}
	metadata, err := marshalMetadata(arg.Metadata)
	if err != nil {
		return store.Contact{}, err
	}
	row, err := r.q.CreateContact(ctx, sqlc.CreateContactParams{
		ID:          pgID,
		WorkspaceID: arg.WorkspaceID,
		DisplayName: arg.DisplayName,
		Stage:       arg.Stage,
		Metadata:    metadata,
	})
	if err != nil {
		return store.Contact{}, mapErr(err)
	}
	return toContact(row), nil
}

func (r *queries) GetContact(ctx context.Context, id string) (store.Contact, error) {
	pgID, err := parseID(id)
	if err != nil {
		return store.Contact{}, err
	}
	row, err := r.q.GetContactByID(ctx, pgID)
	if err != nil {
		return store.Contact{}, mapErr(err)
	}
	return toContact(row), nil
}

func (r *queries) GetContactForUpdate(ctx context.Context, id string) (store.Contact, error) {
	pgID, err := parseID(id)
	if err != nil {
		return store.Contact{}, err
	}
	row, err := r.q.GetContactForUpdate(ctx, pgID)
	if err != nil {
		return store.Contact{}, mapErr(err)
	}
	return toContact(row), nil
}

func (r *queries) UpdateContact(ctx context.Context, arg store.UpdateContactParams) (store.Contact, error) {
	pgID, err := parseID(arg.ID)
	if err != nil {
		return store.Contact{}, err
	}
	metadata, err := marshalMetadata(arg.Metadata)
	if err != nil {
		return store.Contact{}, err
	}
	row, err := r.q.UpdateContact(ctx, sqlc.UpdateContactParams{
		ID:          pgID,
		DisplayName: arg.DisplayName,
		Stage:       arg.Stage,
		Metadata:    metadata,
	})
	if err != nil {
		return store.Contact{}, mapErr(err)
	}
	return toContact(row), nil
}

func (r *queries) SoftDeleteContact(ctx context.Context, id string, at time.Time) error {
	pgID, err := parseID(id)
	if err != nil {
		return err
	}
	affected, err := r.q.SoftDeleteContact(ctx, sqlc.SoftDeleteContactParams{ID: pgID, DeletedAt: db.Timestamptz(at)})
	if err != nil {
		return mapErr(err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *queries) ListContacts(ctx context.Context, workspaceID string) ([]store.Contact, error) {
	rows, err := r.q.ListContactsByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]store.Contact, 0, len(rows))
	for _, row := range rows {
		out = append(out, toContact(row))
	}
	return out, nil
}

// Conversations.

func (r *queries) UpsertContactConversation(ctx context.Context, workspaceID, contactID, primaryIdentityID string) (store.Conversation, bool, error) {
	pgContact, err := parseID(contactID)
	if err != nil {
		return store.Conversation{}, false, err
	}
	pgIdentity, err := parseOptionalID(primaryIdentityID)
	if err != nil {
		return store.Conversation{}, false, err
	}
	row, err := r.q.UpsertContactConversation(ctx, sqlc.UpsertContactConversationParams{
		WorkspaceID:       workspaceID,
		ContactID:         pgContact,
		PrimaryIdentityID: pgIdentity,
	})
	if err != nil {
		return store.Conversation{}, false, mapErr(err)
	}
	return toConversation(sqlc.Conversation{
		ID:                row.ID,
		WorkspaceID:       row.WorkspaceID,
		ContactID:         row.ContactID,
		PrimaryIdentityID: row.PrimaryIdentityID,
		Status:            row.Status,
		Pinned:            row.Pinned,
		LastMessageAt:     row.LastMessageAt,
		LastChannel:       row.LastChannel,
		LastInboundAt:     row.LastInboundAt,
		LastOutboundAt:    row.LastOutboundAt,
		MergedIntoID:      row.MergedIntoID,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
		DeletedAt:         row.DeletedAt,
	}), row.Inserted, nil
}

func (r *queries) UpsertIdentityConversation(ctx context.Context, workspaceID, identityID string) (store.Conversation, bool, error) {
	pgIdentity, err := parseID(identityID)
	if err != nil {
		return store.Conversation{}, false, err
	}
	row, err := r.q.UpsertIdentityConversation(ctx, sqlc.UpsertIdentityConversationParams{
		WorkspaceID:       workspaceID,
		PrimaryIdentityID: pgIdentity,
	})
	if err != nil {
		return store.Conversation{}, false, mapErr(err)
	}
	return toConversation(sqlc.Conversation{
		ID:                row.ID,
		WorkspaceID:       row.WorkspaceID,
		ContactID:         row.ContactID,
		PrimaryIdentityID: row.PrimaryIdentityID,
		Status:            row.Status,
		Pinned:            row.Pinned,
		LastMessageAt:     row.LastMessageAt,
		LastChannel:       row.LastChannel,
		LastInboundAt:     row.LastInboundAt,
		LastOutboundAt:    row.LastOutboundAt,
		MergedIntoID:      row.MergedIntoID,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
		DeletedAt:         row.DeletedAt,
	}), row.Inserted, nil
}

func (r *queries) GetConversation(ctx context.Context, id string) (store.Conversation, error) {
	return r.conversationByID(ctx, id, r.q.GetConversationByID)
}

func (r *queries) GetConversationForUpdate(ctx context.Context, id string) (store.Conversation, error) {
	return r.conversationByID(ctx, id, r.q.GetConversationForUpdate)
}

func (r *queries) conversationByID(ctx context.Context, id string, get func(context.Context, pgtype.UUID) (sqlc.Conversation, error)) (store.Conversation, error) {
	pgID, err := parseID(id)
	if err != nil {
		return store.Conversation{}, err
	}
	row, err := get(ctx, pgID)
	if err != nil {
		return store.Conversation{}, mapErr(err)
	}
	return toConversation(row), nil
}

func (r *queries) FindContactConversation(ctx context.Context, workspaceID, contactID string) (store.Conversation, error) {
	pgContact, err := parseID(contactID)
	if err != nil {
		return store.Conversation{}, err
	}
	row, err := r.q.FindContactConversation(ctx, sqlc.FindContactConversationParams{WorkspaceID: workspaceID, ContactID: pgContact})
	if err != nil {
		return store.Conversation{}, mapErr(err)
	}
	return toConversation(row), nil
}

func (r *queries) FindIdentityConversation(ctx context.Context, workspaceID, identityID string) (store.Conversation, error) {
	pgIdentity, err := parseID(identityID)
	if err != nil {
		return store.Conversation{}, err
	}
	row, err := r.q.FindIdentityConversation(ctx, sqlc.FindIdentityConversationParams{WorkspaceID: workspaceID, PrimaryIdentityID: pgIdentity})
	if err != nil {
		return store.Conversation{}, mapErr(err)
	}
	return toConversation(row), nil
}

func (r *queries) RekeyConversation(ctx context.Context, id, contactID string) (store.Conversation, error) {
	pgID, err := parseID(id)
	if err != nil {
		return store.Conversation{}, err
	}
	pgContact, err := parseID(contactID)
	if err != nil {
		return store.Conversation{}, err
	}
	row, err := r.q.RekeyConversation(ctx, sqlc.RekeyConversationParams{ID: pgID, ContactID: pgContact})
	if err != nil {
		return store.Conversation{}, mapErr(err)
	}
	return toConversation(row), nil
}

func (r *queries) ApplyMessageRollup(ctx context.Context, arg store.MessageRollup) (store.Conversation, error) {
	pgID, err := parseID(arg.ConversationID)
	if err != nil {
		return store.Conversation{}, err
	}
	row, err := r.q.ApplyMessageRollup(ctx, sqlc.ApplyMessageRollupParams{
		SentAt:         db.Timestamptz(arg.SentAt),
		Channel:        arg.Channel,
		Direction:      string(arg.Direction),
		ReopenResolved: arg.ReopenResolved,
		ID:             pgID,
	})
	if err != nil {
		return store.Conversation{}, mapErr(err)
	}
	return toConversation(row), nil
}

func (r *queries) SetConversationRollup(ctx context.Context, arg store.ConversationRollup) (store.Conversation, error) {
	pgID, err := parseID(arg.ID)
	if err != nil {
		return store.Conversation{}, err
	}
	row, err := r.q.SetConversationRollup(ctx, sqlc.SetConversationRollupParams{
		LastMessageAt:  db.TimestamptzPtr(arg.LastMessageAt),
		LastChannel:    arg.LastChannel,
		LastInboundAt:  db.TimestamptzPtr(arg.LastInboundAt),
		LastOutboundAt: db.TimestamptzPtr(arg.LastOutboundAt),
		Pinned:         arg.Pinned,
		Status:         string(arg.Status),
		ID:             pgID,
	})
	if err != nil {
		return store.Conversation{}, mapErr(err)
	}
	return toConversation(row), nil
}

func (r *queries) SetConversationStatus(ctx context.Context, id string, status store.ConversationStatus) (store.Conversation, error) {
	pgID, err := parseID(id)
	if err != nil {
		return store.Conversation{}, err
	}
	row, err := r.q.SetConversationStatus(ctx, sqlc.SetConversationStatusParams{ID: pgID, Status: string(status)})
	if err != nil {
		return store.Conversation{}, mapErr(err)
	}
	return toConversation(row), nil
}

func (r *queries) SetConversationPinned(ctx context.Context, id string, pinned bool) (store.Conversation, error) {
	pgID, err := parseID(id)
	if err != nil {
		return store.Conversation{}, err
	}
	row, err := r.q.SetConversationPinned(ctx, sqlc.SetConversationPinnedParams{ID: pgID, Pinned: pinned})
	if err != nil {
		return store.Conversation{}, mapErr(err)
	}
	return toConversation(row), nil
}

func (r *queries) RetireConversation(ctx context.Context, id, mergedIntoID string, at time.Time) (store.Conversation, error) {
	pgID, err := parseID(id)
	if err != nil {
		return store.Conversation{}, err
	}
	pgTarget, err := parseOptionalID(mergedIntoID)
	if err != nil {
		return store.Conversation{}, err
	}
	row, err := r.q.RetireConversation(ctx, sqlc.RetireConversationParams{
		ID:           pgID,
		DeletedAt:    db.Timestamptz(at),
		MergedIntoID: pgTarget,
	})
	if err != nil {
		return store.Conversation{}, mapErr(err)
	}
	return toConversation(row), nil
}

func (r *queries) ListConversations(ctx context.Context, arg store.ListConversationsParams) ([]store.Conversation, error) {
	offset := arg.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := r.q.ListConversations(ctx, sqlc.ListConversationsParams{
		WorkspaceID: arg.WorkspaceID,
		Status:      string(arg.Status),
		LimitCount:  limitArg(arg.Limit),
		OffsetCount: int32(offset),
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return toConversations(rows), nil
}

func (r *queries) ListContactConversations(ctx context.Context, workspaceID, contactID string) ([]store.Conversation, error) {
	pgContact, err := parseID(contactID)
	if err != nil {
		return nil, err
	}
	rows, err := r.q.ListContactConversations(ctx, sqlc.ListContactConversationsParams{WorkspaceID: workspaceID, ContactID: pgContact})
	if err != nil {
		return nil, mapErr(err)
	}
	return toConversations(rows), nil
}

// Messages.

func (r *queries) InsertMessage(ctx context.Context, msg store.Message) (store.Message, bool, error) {
	pgID, err := parseID(msg.ID)
	if err != nil {
		return store.Message{}, false, err
	}
	pgConv, err := parseID(msg.ConversationID)
	if err != nil {
		return store.Message{}, false, err
	}
	pgSender, err := parseOptionalID(msg.SenderIdentityID)
	if err != nil {
		return store.Message{}, false, err
	}
	row, err := r.q.InsertMessage(ctx, sqlc.InsertMessageParams{
		ID:                   pgID,
		WorkspaceID:          msg.WorkspaceID,
		ConversationID:       pgConv,
		Channel:              msg.Channel,
		IntegrationAccountID: msg.IntegrationAccountID,
		Direction:            string(msg.Direction),
		SenderIdentityID:     pgSender,
		ExternalMessageID:    db.Text(msg.ExternalMessageID),
		ExternalChatID:       msg.ExternalChatID,
		DedupChatID:          msg.DedupChatID,
		ReplyToID:            msg.ReplyToID,
		Text:                 msg.Text,
		Subject:              msg.Subject,
		Html:                 msg.HTML,
		Status:               string(msg.Status),
		Error:                msg.Error,
		Raw:                  msg.Raw,
		SentAt:               db.Timestamptz(msg.SentAt),
		IngestedAt:           db.Timestamptz(msg.IngestedAt),
	})
	if err == nil {
		return toMessage(row), true, nil
	}
	if !db.IsNoRows(err) {
		return store.Message{}, false, mapErr(err)
	}
	// ON CONFLICT DO NOTHING returned nothing: the id or the dedup key is taken.
	if existing, getErr := r.GetMessage(ctx, msg.ID); getErr == nil {
		return existing, false, nil
	}
	existing, err := r.GetMessageByDedupKey(ctx, store.DedupKey{
		Channel:              msg.Channel,
		IntegrationAccountID: msg.IntegrationAccountID,
		ChatID:               msg.DedupChatID,
		ExternalMessageID:    msg.ExternalMessageID,
	})
	if err != nil {
		return store.Message{}, false, fmt.Errorf("load conflicting message: %w", err)
	}
	return existing, false, nil
}

func (r *queries) GetMessage(ctx context.Context, id string) (store.Message, error) {
	return r.messageByID(ctx, id, r.q.GetMessageByID)
}

func (r *queries) GetMessageForUpdate(ctx context.Context, id string) (store.Message, error) {
	return r.messageByID(ctx, id, r.q.GetMessageForUpdate)
}

func (r *queries) messageByID(ctx context.Context, id string, get func(context.Context, pgtype.UUID) (sqlc.Message, error)) (store.Message, error) {
	pgID, err := parseID(id)
	if err != nil {
		return store.Message{}, err
	}
	row, err := get(ctx, pgID)
	if err != nil {
		return store.Message{}, mapErr(err)
	}
	return toMessage(row), nil
}

func (r *queries) GetMessageByDedupKey(ctx context.Context, key store.DedupKey) (store.Message, error) {
	if key.ExternalMessageID == "" {
		return store.Message{}, store.ErrNotFound
	}
	row, err := r.q.GetMessageByDedupKey(ctx, sqlc.GetMessageByDedupKeyParams{
		Channel:              key.Channel,
		IntegrationAccountID: key.IntegrationAccountID,
		DedupChatID:          key.ChatID,
		ExternalMessageID:    db.Text(key.ExternalMessageID),
	})
	if err != nil {
		return store.Message{}, mapErr(err)
	}
	return toMessage(row), nil
}

func (r *queries) FindThreadMessage(ctx context.Context, channel, accountID string, externalIDs []string) (store.Message, error) {
	if len(externalIDs) == 0 {
		return store.Message{}, store.ErrNotFound
	}
	row, err := r.q.FindThreadMessage(ctx, sqlc.FindThreadMessageParams{
		Channel:              channel,
		IntegrationAccountID: accountID,
		ExternalIds:          externalIDs,
	})
	if err != nil {
		return store.Message{}, mapErr(err)
	}
	return toMessage(row), nil
}

func (r *queries) LatestInboundMessage(ctx context.Context, conversationID, channel string) (store.Message, error) {
	pgConv, err := parseID(conversationID)
	if err != nil {
		return store.Message{}, err
	}
	row, err := r.q.LatestInboundMessage(ctx, sqlc.LatestInboundMessageParams{ConversationID: pgConv, Channel: channel})
	if err != nil {
		return store.Message{}, mapErr(err)
	}
	return toMessage(row), nil
}

func (r *queries) LastOutboundMessage(ctx context.Context, conversationID string) (store.Message, error) {
	pgConv, err := parseID(conversationID)
	if err != nil {
		return store.Message{}, err
	}
	row, err := r.q.LastOutboundMessage(ctx, pgConv)
	if err != nil {
		return store.Message{}, mapErr(err)
	}
	return toMessage(row), nil
}

func (r *queries) ListMessages(ctx context.Context, arg store.ListMessagesParams) ([]store.Message, error) {
	pgConv, err := parseID(arg.ConversationID)
	if err != nil {
		return nil, err
	}
	rows, err := r.q.ListMessagesBefore(ctx, sqlc.ListMessagesBeforeParams{
		ConversationID: pgConv,
		Before:         db.Timestamptz(arg.Before),
		LimitCount:     limitArg(arg.Limit),
	})
	if err != nil {
		return nil, mapErr(err)
	}
	out := toMessages(rows)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *queries) ReparentMessages(ctx context.Context, fromConversationID, toConversationID string) (int64, error) {
	from, err := parseID(fromConversationID)
	if err != nil {
		return 0, err
	}
	to, err := parseID(toConversationID)
	if err != nil {
		return 0, err
	}
	moved, err := r.q.ReparentMessages(ctx, sqlc.ReparentMessagesParams{ToConversationID: to, FromConversationID: from})
	if err != nil {
		return 0, mapErr(err)
	}
	return moved, nil
}

func (r *queries) UpdateMessageDelivery(ctx context.Context, arg store.DeliveryUpdate) (store.Message, error) {
	pgID, err := parseID(arg.ID)
	if err != nil {
		return store.Message{}, err
	}
	row, err := r.q.UpdateMessageDelivery(ctx, sqlc.UpdateMessageDeliveryParams{
		Status:            string(arg.Status),
		ExternalMessageID: db.Text(arg.ExternalMessageID),
		Error:             arg.Error,
		Raw:               arg.Raw,
		ID:                pgID,
	})
	if err != nil {
		return store.Message{}, mapErr(err)
	}
	return toMessage(row), nil
}

func (r *queries) EditMessage(ctx context.Context, id, text string, at time.Time) (store.Message, error) {
	pgID, err := parseID(id)
	if err != nil {
		return store.Message{}, err
	}
	row, err := r.q.EditMessage(ctx, sqlc.EditMessageParams{ID: pgID, Text: text, EditedAt: db.Timestamptz(at)})
	if err != nil {
		return store.Message{}, mapErr(err)
	}
	return toMessage(row), nil
}

func (r *queries) MarkMessageDeleted(ctx context.Context, id string, at time.Time) (store.Message, error) {
	pgID, err := parseID(id)
	if err != nil {
		return store.Message{}, err
	}
	row, err := r.q.MarkMessageDeleted(ctx, sqlc.MarkMessageDeletedParams{ID: pgID, DeletedAt: db.Timestamptz(at)})
	if err != nil {
		return store.Message{}, mapErr(err)
	}
	return toMessage(row), nil
}

func (r *queries) ListStaleSending(ctx context.Context, updatedBefore time.Time, limit int) ([]store.Message, error) {
	rows, err := r.q.ListStaleSending(ctx, sqlc.ListStaleSendingParams{
		UpdatedAt: db.Timestamptz(updatedBefore),
		Limit:     limitArg(limit),
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return toMessages(rows), nil
}

// Attachments.

func (r *queries) CreateAttachment(ctx context.Context, att store.Attachment) (store.Attachment, error) {
	pgID, err := parseOptionalID(att.ID)
	if err != nil {
		return store.Attachment{}, err
	}
	pgMessage, err := parseOptionalID(att.MessageID)
	if err != nil {
		return store.Attachment{}, err
	}
	metadata, err := marshalMetadata(att.Metadata)
	if err != nil {
		return store.Attachment{}, err
	}
	row, err := r.q.CreateAttachment(ctx, sqlc.CreateAttachmentParams{
		ID:          pgID,
		WorkspaceID: att.WorkspaceID,
		MessageID:   pgMessage,
		Name:        att.Name,
		Mime:        att.Mime,
		SizeBytes:   att.SizeBytes,
		StorageKey:  att.StorageKey,
		Metadata:    metadata,
	})
	if err != nil {
		return store.Attachment{}, mapErr(err)
	}
	return toAttachment(row), nil
}

func (r *queries) GetAttachment(ctx context.Context, id string) (store.Attachment, error) {
	pgID, err := parseID(id)
	if err != nil {
		return store.Attachment{}, err
	}
	row, err := r.q.GetAttachmentByID(ctx, pgID)
	if err != nil {
		return store.Attachment{}, mapErr(err)
	}
	return toAttachment(row), nil
}

func (r *queries) LinkAttachment(ctx context.Context, id, messageID string) (store.Attachment, error) {
	pgID, err := parseID(id)
	if err != nil {
		return store.Attachment{}, err
	}
	pgMessage, err := parseID(messageID)
	if err != nil {
		return store.Attachment{}, err
	}
	row, err := r.q.LinkAttachment(ctx, sqlc.LinkAttachmentParams{MessageID: pgMessage, ID: pgID})
	if err == nil {
		return toAttachment(row), nil
	}
	if !db.IsNoRows(err) {
		return store.Attachment{}, mapErr(err)
	}
	if _, getErr := r.GetAttachment(ctx, id); getErr != nil {
		return store.Attachment{}, getErr
	}
	return store.Attachment{}, store.ErrConflict
}

func (r *queries) ListAttachmentsByMessage(ctx context.Context, messageID string) ([]store.Attachment, error) {
	pgMessage, err := parseID(messageID)
	if err != nil {
		return nil, err
	}
	rows, err := r.q.ListAttachmentsByMessage(ctx, pgMessage)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]store.Attachment, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAttachment(row))
	}
	return out, nil
}

// Read receipts.

func (r *queries) InsertReadReceipt(ctx context.Context, receipt store.ReadReceipt) (bool, error) {
	pgMessage, err := parseID(receipt.MessageID)
	if err != nil {
		return false, err
	}
	affected, err := r.q.InsertReadReceipt(ctx, sqlc.InsertReadReceiptParams{
		MessageID: pgMessage,
		ReaderID:  receipt.ReaderID,
		ReadAt:    db.Timestamptz(receipt.ReadAt),
	})
	if err != nil {
		return false, mapErr(err)
	}
	return affected > 0, nil
}

func (r *queries) HasReadReceipt(ctx context.Context, messageID string) (bool, error) {
	pgMessage, err := parseID(messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	read, err := r.q.HasReadReceipt(ctx, pgMessage)
	if err != nil {
		return false, mapErr(err)
	}
	return read, nil
}
