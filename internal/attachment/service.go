// Package attachment stores uploaded blobs, records attachment rows and
// issues signed download links.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/unibox/internal/media"
	"github.com/memohai/unibox/internal/message"
	"github.com/memohai/unibox/internal/store"
)

var (
	ErrWorkspaceRequired = errors.New("workspace id is required")
	ErrForbidden         = errors.New("token does not grant this attachment")
)

// MessageLinker attaches an uploaded blob to an existing message. The
// message pipeline implements it so the link and its message.updated event
// follow the same ordering as every other message write.
type MessageLinker interface {
	AttachToMessage(ctx context.Context, workspaceID, messageID, attachmentID string) (message.View, error)
}

// Service manages attachment uploads and downloads.
type Service struct {
	store  store.Queries
	media  *media.Service
	linker MessageLinker
	signer *Signer
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates an attachment service. linker may be nil, in which case
// uploads naming a message stay unlinked until the message references them.
func NewService(log *slog.Logger, st store.Queries, assets *media.Service, linker MessageLinker, signer *Signer) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  st,
		media:  assets,
		linker: linker,
		signer: signer,
		logger: log.With(slog.String("service", "attachment")),
		now:    time.Now,
	}
}

// UploadInput is one blob to store.
type UploadInput struct {
	WorkspaceID string
	// MessageID optionally names the owning message. The message may not
	// exist yet; the send or ingest that references the attachment links it.
	MessageID string
	Name      string
	Mime      string
	Reader    io.Reader
	MaxBytes  int64
}

// Upload stores the blob and creates the attachment row. When MessageID
// names a stored message the attachment is linked to it right away.
func (s *Service) Upload(ctx context.Context, in UploadInput) (store.Attachment, error) {
	workspaceID := strings.TrimSpace(in.WorkspaceID)
	if workspaceID == "" {
		return store.Attachment{}, ErrWorkspaceRequired
	}
	reader, mime, err := PrepareReaderAndMime(in.Reader, MediaTypeOf(in.Mime), in.Mime)
	if err != nil {
		return store.Attachment{}, err
	}
	asset, err := s.media.Ingest(ctx, media.IngestInput{
		WorkspaceID: workspaceID,
		Mime:        mime,
		Reader:      reader,
		MaxBytes:    in.MaxBytes,
	})
	if err != nil {
		return store.Attachment{}, err
	}
	att, err := s.store.CreateAttachment(ctx, store.Attachment{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Name:        attachmentName(in.Name, asset),
		Mime:        mime,
		SizeBytes:   asset.SizeBytes,
		StorageKey:  asset.StorageKey,
		Metadata:    map[string]any{"content_hash": asset.ContentHash},
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return store.Attachment{}, fmt.Errorf("create attachment: %w", err)
	}
	s.logger.Debug("attachment stored",
		slog.String("attachment_id", att.ID),
		slog.String("workspace_id", workspaceID),
		slog.Int64("size_bytes", att.SizeBytes),
	)

	messageID := strings.TrimSpace(in.MessageID)
	if messageID == "" || s.linker == nil {
		return att, nil
	}
	if _, err := s.linker.AttachToMessage(ctx, workspaceID, messageID, att.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return att, nil
		}
		return store.Attachment{}, err
	}
	return s.store.GetAttachment(ctx, att.ID)
}

// Link attaches a stored attachment to an existing message.
func (s *Service) Link(ctx context.Context, workspaceID, attachmentID, messageID string) (message.View, error) {
	if s.linker == nil {
		return message.View{}, fmt.Errorf("message linker is not configured")
	}
	return s.linker.AttachToMessage(ctx, workspaceID, messageID, attachmentID)
}

// Get returns a workspace's attachment.
func (s *Service) Get(ctx context.Context, workspaceID, attachmentID string) (store.Attachment, error) {
	att, err := s.store.GetAttachment(ctx, strings.TrimSpace(attachmentID))
	if err != nil {
		return store.Attachment{}, err
	}
	if att.WorkspaceID != workspaceID {
		return store.Attachment{}, store.ErrNotFound
	}
	return att, nil
}

// URL returns a signed download link for the attachment.
func (s *Service) URL(att store.Attachment) (string, error) {
	if s.signer == nil {
		return "", ErrSecretRequired
	}
	return s.signer.URL(att)
}

// Open verifies a download token and returns the blob. The caller closes
// the reader.
func (s *Service) Open(ctx context.Context, attachmentID, token string) (io.ReadCloser, store.Attachment, error) {
	if s.signer == nil {
		return nil, store.Attachment{}, ErrSecretRequired
	}
	grantedID, workspaceID, err := s.signer.Verify(token)
	if err != nil {
		return nil, store.Attachment{}, err
	}
	if grantedID != strings.TrimSpace(attachmentID) {
		return nil, store.Attachment{}, ErrForbidden
	}
	att, err := s.Get(ctx, workspaceID, grantedID)
	if err != nil {
		return nil, store.Attachment{}, err
	}
	reader, _, err := s.media.Open(ctx, att.WorkspaceID, att.StorageKey)
	if err != nil {
		return nil, store.Attachment{}, err
	}
	return reader, att, nil
}

func attachmentName(name string, asset media.Asset) string {
	name = strings.TrimSpace(name)
	if name != "" {
		return name
	}
	return asset.StorageKey[strings.LastIndex(asset.StorageKey, "/")+1:]
}
