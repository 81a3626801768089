package postgres

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/memohai/unibox/internal/db"
	"github.com/memohai/unibox/internal/db/sqlc"
	"github.com/memohai/unibox/internal/store"
)

// mapErr translates driver errors into store sentinels.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return store.ErrNotFound
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	return err
}

// parseID treats malformed ids as unknown rows.
func parseID(id string) (pgtype.UUID, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	return pgID, nil
}

func parseOptionalID(id string) (pgtype.UUID, error) {
	pgID, err := db.ParseOptionalUUID(id)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	return pgID, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}

func parseMetadata(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func limitArg(limit int) int32 {
	if limit <= 0 || limit > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(limit)
}

func toIdentity(row sqlc.Identity) store.Identity {
	return store.Identity{
		ID:              db.UUIDToString(row.ID),
		Type:            store.IdentityType(row.Type),
		Value:           row.Value,
		NormalizedValue: row.NormalizedValue,
		ContactID:       db.UUIDToString(row.ContactID),
		Metadata:        parseMetadata(row.Metadata),
		CreatedAt:       db.TimeFromPg(row.CreatedAt),
		UpdatedAt:       db.TimeFromPg(row.UpdatedAt),
	}
}

func toContact(row sqlc.Contact) store.Contact {
	return store.Contact{
		ID:          db.UUIDToString(row.ID),
		WorkspaceID: row.WorkspaceID,
		DisplayName: row.DisplayName,
		Stage:       row.Stage,
		Metadata:    parseMetadata(row.Metadata),
		CreatedAt:   db.TimeFromPg(row.CreatedAt),
		UpdatedAt:   db.TimeFromPg(row.UpdatedAt),
		DeletedAt:   db.TimePtrFromPg(row.DeletedAt),
	}
}

func toConversation(row sqlc.Conversation) store.Conversation {
	return store.Conversation{
		ID:                db.UUIDToString(row.ID),
		WorkspaceID:       row.WorkspaceID,
		ContactID:         db.UUIDToString(row.ContactID),
		PrimaryIdentityID: db.UUIDToString(row.PrimaryIdentityID),
		Status:            store.ConversationStatus(row.Status),
		Pinned:            row.Pinned,
		LastMessageAt:     db.TimePtrFromPg(row.LastMessageAt),
		LastChannel:       row.LastChannel,
		LastInboundAt:     db.TimePtrFromPg(row.LastInboundAt),
		LastOutboundAt:    db.TimePtrFromPg(row.LastOutboundAt),
		MergedIntoID:      db.UUIDToString(row.MergedIntoID),
		CreatedAt:         db.TimeFromPg(row.CreatedAt),
		UpdatedAt:         db.TimeFromPg(row.UpdatedAt),
		DeletedAt:         db.TimePtrFromPg(row.DeletedAt),
	}
}

func toConversations(rows []sqlc.Conversation) []store.Conversation {
	out := make([]store.Conversation, 0, len(rows))
	for _, row := range rows {
		out = append(out, toConversation(row))
	}
	return out
}

func toMessage(row sqlc.Message) store.Message {
	return store.Message{
		ID:                   db.UUIDToString(row.ID),
		WorkspaceID:          row.WorkspaceID,
		ConversationID:       db.UUIDToString(row.ConversationID),
		Channel:              row.Channel,
		IntegrationAccountID: row.IntegrationAccountID,
		Direction:            store.Direction(row.Direction),
		SenderIdentityID:     db.UUIDToString(row.SenderIdentityID),
		ExternalMessageID:    db.TextToString(row.ExternalMessageID),
		ExternalChatID:       row.ExternalChatID,
		DedupChatID:          row.DedupChatID,
		ReplyToID:            row.ReplyToID,
		Text:                 row.Text,
		Subject:              row.Subject,
		HTML:                 row.Html,
		Status:               store.MessageStatus(row.Status),
		Error:                row.Error,
		Raw:                  row.Raw,
		SentAt:               db.TimeFromPg(row.SentAt),
		IngestedAt:           db.TimeFromPg(row.IngestedAt),
		UpdatedAt:            db.TimeFromPg(row.UpdatedAt),
		EditedAt:             db.TimePtrFromPg(row.EditedAt),
		DeletedAt:            db.TimePtrFromPg(row.DeletedAt),
	}
}

func toMessages(rows []sqlc.Message) []store.Message {
	out := make([]store.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, toMessage(row))
	}
	return out
}

func toAttachment(row sqlc.Attachment) store.Attachment {
	return store.Attachment{
		ID:          db.UUIDToString(row.ID),
		WorkspaceID: row.WorkspaceID,
		MessageID:   db.UUIDToString(row.MessageID),
		Name:        row.Name,
		Mime:        row.Mime,
		SizeBytes:   row.SizeBytes,
		StorageKey:  row.StorageKey,
		Metadata:    parseMetadata(row.Metadata),
		CreatedAt:   db.TimeFromPg(row.CreatedAt),
	}
}
