package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/memohai/unibox/internal/store"
	"github.com/memohai/unibox/internal/tracing"
)

// LockLink takes the conversation locks a link of identityID to contactID
// may touch: the identity's conversation and the contact's, as they exist
// now. The caller holds the contact's lock, releases the result after
// Announce, and passes it to MergeOnLink.
func (s *Service) LockLink(ctx context.Context, identityID, contactID string) (*ConversationLocks, error) {
	contact, err := s.store.GetContact(ctx, contactID)
	if errors.Is(err, store.ErrNotFound) {
		return s.lockConversations(), nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if conv, err := s.store.FindIdentityConversation(ctx, contact.WorkspaceID, identityID); err == nil {
		ids = append(ids, conv.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if conv, err := s.store.FindContactConversation(ctx, contact.WorkspaceID, contact.ID); err == nil {
		ids = append(ids, conv.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return s.lockConversations(ids...), nil
}

// lockConversations locks in id order; every other holder takes a single
// conversation lock, so this cannot deadlock against them.
func (s *Service) lockConversations(ids ...string) *ConversationLocks {
	locks := &ConversationLocks{held: map[string]struct{}{}}
	sorted := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := locks.held[id]; ok || id == "" {
			continue
		}
		locks.held[id] = struct{}{}
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	for _, id := range sorted {
		locks.unlock = append(locks.unlock, s.locks.Lock(LockKey(id)))
	}
	return locks
}

// MergeOnLink runs inside the transaction that binds identity to contact.
// The caller holds the contact's lock, which makes successive links to one
// contact apply strictly in order: each link merges into whatever the
// contact's conversation is after the previous one. Every conversation it
// touches must be covered by locks, otherwise ErrLinkLocksStale.
//
//   - identity has no conversation: nothing to do, the next message resolves
//     to the contact's conversation.
//   - contact has no conversation: the identity's conversation is re-keyed.
//   - both exist: messages move to the contact's conversation, rollups are
//     combined and the identity's conversation is retired.
func (s *Service) MergeOnLink(ctx context.Context, q store.Queries, locks *ConversationLocks, identity store.Identity, contact store.Contact) (result MergeResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "conversation.merge_on_link",
		attribute.String("identity_id", identity.ID),
		attribute.String("contact_id", contact.ID),
	)
	defer func() { tracing.End(span, err) }()

	result = MergeResult{WorkspaceID: contact.WorkspaceID}
	source, err := q.FindIdentityConversation(ctx, contact.WorkspaceID, identity.ID)
	if errors.Is(err, store.ErrNotFound) {
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("find identity conversation: %w", err)
	}
	if !locks.Holds(source.ID) {
		return result, ErrLinkLocksStale
	}
	source, err = q.GetConversationForUpdate(ctx, source.ID)
	if err != nil {
		return result, err
	}

	target, err := q.FindContactConversation(ctx, contact.WorkspaceID, contact.ID)
	if errors.Is(err, store.ErrNotFound) {
		rekeyed, err := q.RekeyConversation(ctx, source.ID, contact.ID)
		if err != nil {
			return result, fmt.Errorf("rekey conversation: %w", err)
		}
		result.Target = rekeyed
		result.Rekeyed = true
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("find contact conversation: %w", err)
	}
	if !locks.Holds(target.ID) {
		return result, ErrLinkLocksStale
	}
	return s.mergeInto(ctx, q, source, target)
}

// Merge folds source into target on operator request. target must be owned
// by a contact and source by an identity that is unbound or already bound to
// that contact; the identity ends up bound to target's contact so its future
// messages land in target too.
func (s *Service) Merge(ctx context.Context, workspaceID, sourceID, targetID string) (MergeResult, error) {
	sourceID, targetID = strings.TrimSpace(sourceID), strings.TrimSpace(targetID)
	if sourceID == targetID {
		return MergeResult{}, ErrSameConversation
	}
	target, err := s.Live(ctx, workspaceID, targetID)
	if err != nil {
		return MergeResult{}, err
	}
	if target.ContactID == "" {
		return MergeResult{}, ErrMergeNotAllowed
	}
	unlock := s.locks.Lock(ContactLockKey(target.ContactID))
	defer unlock()
	convLocks := s.lockConversations(sourceID, target.ID)
	defer convLocks.Release()

	var result MergeResult
	err = s.store.InTx(ctx, func(q store.Queries) error {
		if _, err := q.GetContactForUpdate(ctx, target.ContactID); err != nil {
			return err
		}
		source, err := q.GetConversationForUpdate(ctx, sourceID)
		if err != nil {
			return err
		}
		if source.WorkspaceID != workspaceID {
			return store.ErrNotFound
		}
		if !source.Active() {
			return ErrConversationClosed
		}
		if source.ContactID != "" || source.PrimaryIdentityID == "" {
			return ErrMergeNotAllowed
		}
		ident, err := q.GetIdentityForUpdate(ctx, source.PrimaryIdentityID)
		if err != nil {
			return err
		}
		if ident.ContactID != "" && ident.ContactID != target.ContactID {
			return ErrMergeNotAllowed
		}
		if ident.ContactID == "" {
			if _, err := q.SetIdentityContact(ctx, ident.ID, target.ContactID); err != nil {
				return err
			}
		}
		result, err = s.mergeInto(ctx, q, source, target)
		return err
	})
	if err != nil {
		return MergeResult{}, err
	}
	s.Announce(result)
	return result, nil
}

// mergeInto applies the both-present case. Rows are locked in id order so
// concurrent merges touching the same pair cannot deadlock. Callers hold the
// LockKey locks of both conversations until Announce has run.
func (s *Service) mergeInto(ctx context.Context, q store.Queries, source, target store.Conversation) (MergeResult, error) {
	result := MergeResult{WorkspaceID: target.WorkspaceID}
	if source.ID == target.ID {
		return result, ErrSameConversation
	}
	first, second := source.ID, target.ID
	if second < first {
		first, second = second, first
	}
	locked := map[string]store.Conversation{}
	for _, id := range []string{first, second} {
		conv, err := q.GetConversationForUpdate(ctx, id)
		if err != nil {
			return result, err
		}
		if !conv.Active() {
			return result, ErrConversationClosed
		}
		locked[id] = conv
	}
	source, target = locked[source.ID], locked[target.ID]

	moved, err := q.ReparentMessages(ctx, source.ID, target.ID)
	if err != nil {
		return result, fmt.Errorf("reparent messages: %w", err)
	}
	merged, err := q.SetConversationRollup(ctx, combineRollup(target, source))
	if err != nil {
		return result, fmt.Errorf("update rollup: %w", err)
	}
	retired, err := q.RetireConversation(ctx, source.ID, target.ID, s.now())
	if err != nil {
		return result, fmt.Errorf("retire conversation: %w", err)
	}
	result.Target = merged
	result.Retired = []store.Conversation{retired}
	result.Moved = moved
	return result, nil
}

// Announce publishes conversation.changed for every conversation a merge
// touched. Sessions watching a retired conversation see merged_into_id and
// move to the target.
func (s *Service) Announce(result MergeResult) {
	if !result.Changed() {
		return
	}
	for _, retired := range result.Retired {
		s.logger.Info("conversation merged",
			slog.String("source_id", retired.ID),
			slog.String("target_id", retired.MergedIntoID),
			slog.Int64("moved", result.Moved),
		)
		s.Publish(retired)
	}
	s.Publish(result.Target)
}

// combineRollup is the max/union of two conversations' derived fields.
func combineRollup(target, source store.Conversation) store.ConversationRollup {
	out := store.ConversationRollup{
		ID:             target.ID,
		LastMessageAt:  target.LastMessageAt,
		LastChannel:    target.LastChannel,
		LastInboundAt:  latest(target.LastInboundAt, source.LastInboundAt),
		LastOutboundAt: latest(target.LastOutboundAt, source.LastOutboundAt),
		Pinned:         target.Pinned || source.Pinned,
		Status:         mostActive(target.Status, source.Status),
	}
	if source.LastMessageAt != nil && (target.LastMessageAt == nil || source.LastMessageAt.After(*target.LastMessageAt)) {
		out.LastMessageAt = source.LastMessageAt
		out.LastChannel = source.LastChannel
	}
	return out
}

func latest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	}
	return a
}

var statusRank = map[store.ConversationStatus]int{
	store.StatusResolved: 0,
	store.StatusPending:  1,
	store.StatusOpen:     2,
}

func mostActive(a, b store.ConversationStatus) store.ConversationStatus {
	if statusRank[b] > statusRank[a] {
		return b
	}
	if a == "" {
		return store.StatusOpen
	}
	return a
}
