// Package contacts manages operator-created contacts.
package contacts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/unibox/internal/store"
)

// Service provides contact CRUD with soft delete.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// NewService creates a contact service.
func NewService(log *slog.Logger, st store.Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  st,
		logger: log.With(slog.String("service", "contacts")),
	}
}

// Create stores a new contact in workspaceID.
func (s *Service) Create(ctx context.Context, workspaceID string, req CreateRequest) (store.Contact, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return store.Contact{}, ErrWorkspaceRequired
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		return store.Contact{}, ErrDisplayName
	}
	contact, err := s.store.CreateContact(ctx, store.CreateContactParams{
		WorkspaceID: workspaceID,
		DisplayName: name,
		Stage:       strings.TrimSpace(req.Stage),
		Metadata:    store.CompactMetadata(req.Metadata),
	})
	if err != nil {
		return store.Contact{}, fmt.Errorf("create contact: %w", err)
	}
	s.logger.Info("contact created", slog.String("contact_id", contact.ID), slog.String("workspace_id", workspaceID))
	return contact, nil
}

// Get returns a live contact of workspaceID.
func (s *Service) Get(ctx context.Context, workspaceID, contactID string) (store.Contact, error) {
	contact, err := s.store.GetContact(ctx, strings.TrimSpace(contactID))
	if err != nil {
		return store.Contact{}, err
	}
	if contact.WorkspaceID != workspaceID || contact.DeletedAt != nil {
		return store.Contact{}, store.ErrNotFound
	}
	return contact, nil
}

// List returns the live contacts of workspaceID.
func (s *Service) List(ctx context.Context, workspaceID string) ([]store.Contact, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, ErrWorkspaceRequired
	}
	return s.store.ListContacts(ctx, workspaceID)
}

// Update patches a contact.
func (s *Service) Update(ctx context.Context, workspaceID, contactID string, req UpdateRequest) (store.Contact, error) {
	var updated store.Contact
	err := s.store.InTx(ctx, func(q store.Queries) error {
		current, err := q.GetContactForUpdate(ctx, strings.TrimSpace(contactID))
		if err != nil {
			return err
		}
		if current.WorkspaceID != workspaceID || current.DeletedAt != nil {
			return store.ErrNotFound
		}
		params := store.UpdateContactParams{
			ID:          current.ID,
			DisplayName: current.DisplayName,
			Stage:       current.Stage,
			Metadata:    store.MergeMetadata(current.Metadata, req.Metadata),
		}
		if req.DisplayName != nil {
			name := strings.TrimSpace(*req.DisplayName)
			if name == "" {
				return ErrDisplayName
			}
			params.DisplayName = name
		}
		if req.Stage != nil {
			params.Stage = strings.TrimSpace(*req.Stage)
		}
		updated, err = q.UpdateContact(ctx, params)
		return err
	})
	if err != nil {
		return store.Contact{}, err
	}
	return updated, nil
}

// Delete soft-deletes a contact. Its identities stay bound and its
// conversation stays as is; inbound messages for those identities then
// resolve as if the identities were unbound.
func (s *Service) Delete(ctx context.Context, workspaceID, contactID string) error {
	contact, err := s.Get(ctx, workspaceID, contactID)
	if err != nil {
		return err
	}
	if err := s.store.SoftDeleteContact(ctx, contact.ID, time.Now().UTC()); err != nil {
		return err
	}
	s.logger.Info("contact deleted", slog.String("contact_id", contact.ID))
	return nil
}
