package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/unibox/internal/keylock"
	"github.com/memohai/unibox/internal/message/event"
	"github.com/memohai/unibox/internal/store"
)

// Service resolves, lists and maintains conversations.
type Service struct {
	store  store.Store
	locks  *keylock.Map
	events event.Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a conversation service. locks must be shared with the
// identity registry so links and operator merges of a contact serialize.
func NewService(log *slog.Logger, st store.Store, locks *keylock.Map, events event.Publisher) *Service {
	if log == nil {
		log = slog.Default()
	}
	if locks == nil {
		locks = keylock.New()
	}
	return &Service{
		store:  st,
		locks:  locks,
		events: events,
		logger: log.With(slog.String("service", "conversation")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ResolveForInbound returns the single active conversation owning identity in
// workspaceID, creating it when absent. A bound identity resolves to its
// contact's conversation; an unbound one, or one whose contact lives in
// another workspace or was deleted, resolves to its own.
//
// The binding is re-read under the identity's row lock, so a link that
// commits after the caller loaded identity is never routed around.
func (s *Service) ResolveForInbound(ctx context.Context, workspaceID string, identity store.Identity) (store.Conversation, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return store.Conversation{}, ErrWorkspaceRequired
	}
	if strings.TrimSpace(identity.ID) == "" {
		return store.Conversation{}, ErrOwnerMissing
	}
	contactID := identity.ContactID
	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		conv, current, err := s.resolveBound(ctx, workspaceID, identity.ID, contactID)
		if !errors.Is(err, errBindingMoved) {
			return conv, err
		}
		contactID = current
	}
	return store.Conversation{}, ErrIdentityContended
}

var errBindingMoved = errors.New("identity binding moved")

// resolveBound resolves under the lock of the contact the identity is
// expected to be bound to. When the stored binding differs it returns
// errBindingMoved with the current contact id.
func (s *Service) resolveBound(ctx context.Context, workspaceID, identityID, contactID string) (store.Conversation, string, error) {
	if contactID != "" {
		unlock := s.locks.Lock(ContactLockKey(contactID))
		defer unlock()
	}
	var (
		conv    store.Conversation
		created bool
		current string
	)
	err := s.store.InTx(ctx, func(q store.Queries) error {
		ident, err := q.GetIdentityForUpdate(ctx, identityID)
		if err != nil {
			return fmt.Errorf("load identity: %w", err)
		}
		if ident.ContactID != contactID {
			current = ident.ContactID
			return errBindingMoved
		}
		if ident.ContactID != "" {
			contact, err := q.GetContact(ctx, ident.ContactID)
			switch {
			case err == nil && contact.WorkspaceID == workspaceID && contact.DeletedAt == nil:
				conv, created, err = q.UpsertContactConversation(ctx, workspaceID, contact.ID, ident.ID)
				if err != nil {
					return fmt.Errorf("upsert contact conversation: %w", err)
				}
				return nil
			case err != nil && !errors.Is(err, store.ErrNotFound):
				return fmt.Errorf("load contact: %w", err)
			}
		}
		conv, created, err = q.UpsertIdentityConversation(ctx, workspaceID, ident.ID)
		if err != nil {
			return fmt.Errorf("upsert identity conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.Conversation{}, current, err
	}
	if created {
		s.logger.Debug("conversation created",
			slog.String("conversation_id", conv.ID),
			slog.String("contact_id", conv.ContactID),
			slog.String("identity_id", identityID))
	}
	return conv, "", nil
}

// Get returns a conversation of workspaceID as stored, archived or not.
func (s *Service) Get(ctx context.Context, workspaceID, conversationID string) (store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, strings.TrimSpace(conversationID))
	if err != nil {
		return store.Conversation{}, err
	}
	if conv.WorkspaceID != workspaceID {
		return store.Conversation{}, store.ErrNotFound
	}
	return conv, nil
}

// Live returns the active conversation conversationID ended up in, following
// merged_into pointers. An archived conversation yields ErrConversationClosed.
func (s *Service) Live(ctx context.Context, workspaceID, conversationID string) (store.Conversation, error) {
	return FollowMerged(ctx, s.store, workspaceID, conversationID)
}

// FollowMerged resolves conversationID to the active conversation that
// absorbed it, using q so callers can run it inside a transaction.
func FollowMerged(ctx context.Context, q store.Queries, workspaceID, conversationID string) (store.Conversation, error) {
	id := strings.TrimSpace(conversationID)
	for hop := 0; hop < maxMergeHops; hop++ {
		conv, err := q.GetConversation(ctx, id)
		if err != nil {
			return store.Conversation{}, err
		}
		if conv.WorkspaceID != workspaceID {
			return store.Conversation{}, store.ErrNotFound
		}
		if conv.Active() {
			return conv, nil
		}
		if conv.MergedIntoID == "" {
			return store.Conversation{}, ErrConversationClosed
		}
		id = conv.MergedIntoID
	}
	return store.Conversation{}, ErrMergeLoop
}

// List returns active conversations, pinned first then by last activity.
func (s *Service) List(ctx context.Context, workspaceID string, req ListRequest) ([]store.Conversation, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, ErrWorkspaceRequired
	}
	if req.Status != "" && !req.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	return s.store.ListConversations(ctx, store.ListConversationsParams{
		WorkspaceID: workspaceID,
		Status:      req.Status,
		Limit:       req.Limit,
		Offset:      req.Offset,
	})
}

// Update applies operator status and pin changes.
func (s *Service) Update(ctx context.Context, workspaceID, conversationID string, req UpdateRequest) (store.Conversation, error) {
	if req.Status != nil && !req.Status.Valid() {
		return store.Conversation{}, ErrInvalidStatus
	}
	live, err := s.Live(ctx, workspaceID, conversationID)
	if err != nil {
		return store.Conversation{}, err
	}
	unlock := s.locks.Lock(LockKey(live.ID))
	defer unlock()

	var updated store.Conversation
	err = s.store.InTx(ctx, func(q store.Queries) error {
		current, err := q.GetConversationForUpdate(ctx, live.ID)
		if err != nil {
			return err
		}
		if !current.Active() {
			return ErrConversationClosed
		}
		updated = current
		if req.Status != nil && *req.Status != current.Status {
			if updated, err = q.SetConversationStatus(ctx, current.ID, *req.Status); err != nil {
				return err
			}
		}
		if req.Pinned != nil && *req.Pinned != current.Pinned {
			if updated, err = q.SetConversationPinned(ctx, current.ID, *req.Pinned); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return store.Conversation{}, err
	}
	s.Publish(updated)
	return updated, nil
}

// Archive soft-deletes a conversation. The next inbound message for its
// owner starts a fresh one.
func (s *Service) Archive(ctx context.Context, workspaceID, conversationID string) (store.Conversation, error) {
	conv, err := s.Get(ctx, workspaceID, conversationID)
	if err != nil {
		return store.Conversation{}, err
	}
	if !conv.Active() {
		return conv, nil
	}
	unlock := s.locks.Lock(LockKey(conv.ID))
	defer unlock()
	archived, err := s.store.RetireConversation(ctx, conv.ID, "", s.now())
	if err != nil {
		return store.Conversation{}, err
	}
	s.logger.Info("conversation archived", slog.String("conversation_id", conv.ID))
	s.Publish(archived)
	return archived, nil
}

// Related returns the conversations shown together in a multi-channel
// contact view: every active conversation of the owning contact and of its
// identities. A conversation without a contact is related only to itself.
func (s *Service) Related(ctx context.Context, workspaceID, conversationID string) ([]store.Conversation, error) {
	conv, err := s.Live(ctx, workspaceID, conversationID)
	if err != nil {
		return nil, err
	}
	contactID := conv.ContactID
	if contactID == "" && conv.PrimaryIdentityID != "" {
		ident, err := s.store.GetIdentity(ctx, conv.PrimaryIdentityID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if ident.ContactID != "" {
			contact, err := s.store.GetContact(ctx, ident.ContactID)
			if err == nil && contact.WorkspaceID == workspaceID && contact.DeletedAt == nil {
				contactID = contact.ID
			}
		}
	}
	if contactID == "" {
		return []store.Conversation{conv}, nil
	}
	items, err := s.store.ListContactConversations(ctx, workspaceID, contactID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.ID == conv.ID {
			return items, nil
		}
	}
	return append([]store.Conversation{conv}, items...), nil
}

// Publish emits conversation.changed for conv.
func (s *Service) Publish(conv store.Conversation) {
	if s.events == nil || conv.ID == "" {
		return
	}
	evt, err := event.New(event.TypeConversationChanged, conv.WorkspaceID, conv.ID, conv)
	if err != nil {
		s.logger.Error("build conversation event", slog.Any("error", err))
		return
	}
	s.events.Publish(evt)
}
