// Package identities is the identity registry: it normalizes channel
// identifiers, keeps them unique and binds them to contacts.
package identities

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/unibox/internal/conversation"
	"github.com/memohai/unibox/internal/keylock"
	"github.com/memohai/unibox/internal/store"
)

// Service provides identity lifecycle operations.
type Service struct {
	store  store.Store
	locks  *keylock.Map
	merger Merger
	logger *slog.Logger
}

// NewService creates an identity registry. locks must be the map shared
// with the conversation service.
func NewService(log *slog.Logger, st store.Store, locks *keylock.Map, merger Merger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if locks == nil {
		locks = keylock.New()
	}
	return &Service{
		store:  st,
		locks:  locks,
		merger: merger,
		logger: log.With(slog.String("service", "identities")),
	}
}

// Resolve returns the identity for (type, normalized value), creating it
// unbound on first sight. Concurrent callers get the same row.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (store.Identity, error) {
	normalized, err := Normalize(req.Type, req.Value)
	if err != nil {
		return store.Identity{}, err
	}
	ident, err := s.store.UpsertIdentity(ctx, store.UpsertIdentityParams{
		Type:            req.Type,
		Value:           strings.TrimSpace(req.Value),
		NormalizedValue: normalized,
		Metadata:        store.CompactMetadata(req.Metadata),
	})
	if err != nil {
		return store.Identity{}, fmt.Errorf("upsert identity: %w", err)
	}
	return ident, nil
}

// Get returns an identity by id.
func (s *Service) Get(ctx context.Context, identityID string) (store.Identity, error) {
	return s.store.GetIdentity(ctx, strings.TrimSpace(identityID))
}

// ListByContact returns the identities bound to a contact.
func (s *Service) ListByContact(ctx context.Context, contactID string) ([]store.Identity, error) {
	return s.store.ListIdentitiesByContact(ctx, strings.TrimSpace(contactID))
}

// Link binds an identity to a contact and merges the identity's
// conversation into the contact's. Linking to the contact it already has is
// a no-op; linking to another contact fails with ErrAlreadyLinked.
func (s *Service) Link(ctx context.Context, identityID, contactID string) (store.Identity, error) {
	identityID, contactID = strings.TrimSpace(identityID), strings.TrimSpace(contactID)
	unlock := s.locks.Lock(conversation.ContactLockKey(contactID))
	defer unlock()

	for attempt := 0; ; attempt++ {
		linked, err := s.link(ctx, identityID, contactID)
		if errors.Is(err, conversation.ErrLinkLocksStale) && attempt+1 < maxLinkAttempts {
			continue
		}
		return linked, err
	}
}

// link runs one attempt under the contact's lock. The conversation locks
// stay held until the merge has been announced.
func (s *Service) link(ctx context.Context, identityID, contactID string) (store.Identity, error) {
	var convLocks *conversation.ConversationLocks
	if s.merger != nil {
		var err error
		if convLocks, err = s.merger.LockLink(ctx, identityID, contactID); err != nil {
			return store.Identity{}, fmt.Errorf("lock conversations: %w", err)
		}
		defer convLocks.Release()
	}

	var (
		linked store.Identity
		result conversation.MergeResult
	)
	err := s.store.InTx(ctx, func(q store.Queries) error {
		contact, err := q.GetContactForUpdate(ctx, contactID)
		if err != nil {
			return fmt.Errorf("load contact: %w", err)
		}
		if contact.DeletedAt != nil {
			return ErrContactDeleted
		}
		ident, err := q.GetIdentityForUpdate(ctx, identityID)
		if err != nil {
			return fmt.Errorf("load identity: %w", err)
		}
		switch ident.ContactID {
		case contact.ID:
			linked = ident
			return nil
		case "":
		default:
			return ErrAlreadyLinked
		}
		linked, err = q.SetIdentityContact(ctx, ident.ID, contact.ID)
		if err != nil {
			return fmt.Errorf("set identity contact: %w", err)
		}
		if s.merger == nil {
			return nil
		}
		result, err = s.merger.MergeOnLink(ctx, q, convLocks, linked, contact)
		return err
	})
	if err != nil {
		return store.Identity{}, err
	}
	s.logger.Info("identity linked",
		slog.String("identity_id", linked.ID),
		slog.String("contact_id", contactID),
		slog.Bool("rekeyed", result.Rekeyed),
		slog.Int("retired", len(result.Retired)),
	)
	if s.merger != nil {
		s.merger.Announce(result)
	}
	return linked, nil
}

// Unlink clears the identity's contact. History stays where it is: the
// contact keeps its conversation and the identity's next message opens a
// conversation keyed by the identity again. A merge is never undone.
func (s *Service) Unlink(ctx context.Context, identityID string) (store.Identity, error) {
	identityID = strings.TrimSpace(identityID)
	current, err := s.store.GetIdentity(ctx, identityID)
	if err != nil {
		return store.Identity{}, err
	}
	if current.ContactID == "" {
		return current, nil
	}
	unlock := s.locks.Lock(conversation.ContactLockKey(current.ContactID))
	defer unlock()

	var unlinked store.Identity
	err = s.store.InTx(ctx, func(q store.Queries) error {
		ident, err := q.GetIdentityForUpdate(ctx, identityID)
		if err != nil {
			return err
		}
		if ident.ContactID == "" {
			unlinked = ident
			return nil
		}
		unlinked, err = q.SetIdentityContact(ctx, ident.ID, "")
		return err
	})
	if err != nil {
		return store.Identity{}, err
	}
	s.logger.Info("identity unlinked", slog.String("identity_id", identityID), slog.String("contact_id", current.ContactID))
	return unlinked, nil
}
