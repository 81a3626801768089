// Package presence projects heartbeats, typing signals and read receipts
// into online, typing and read state. Liveness is computed when read from
// the last signal's timestamp; nothing expires on a timer.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/memohai/unibox/internal/config"
	"github.com/memohai/unibox/internal/message"
	"github.com/memohai/unibox/internal/message/event"
	"github.com/memohai/unibox/internal/store"
)

var (
	ErrSubjectRequired = errors.New("subject is required")
	ErrRateLimited     = errors.New("typing signals are rate limited")
)

// pruneEvery is how many writes pass between sweeps of expired entries.
const pruneEvery = 256

// ReadRecorder stores read receipts. *message.Pipeline implements it.
type ReadRecorder interface {
	RecordRead(ctx context.Context, workspaceID, messageID, reader string, at time.Time) (message.View, error)
}

// Conversations resolves the live conversation behind an id.
type Conversations interface {
	Live(ctx context.Context, workspaceID, conversationID string) (store.Conversation, error)
}

type subjectKey struct {
	workspaceID string
	subject     string
}

type typingKey struct {
	subjectKey
	conversationID string
}

type Tracker struct {
	cfg           config.PresenceConfig
	events        event.Publisher
	store         store.Queries
	reads         ReadRecorder
	conversations Conversations
	logger        *slog.Logger
	now           func() time.Time

	mu       sync.Mutex
	seen     map[subjectKey]time.Time
	typing   map[typingKey]time.Time
	limiters map[subjectKey]*rate.Limiter
	writes   int
}

func NewTracker(log *slog.Logger, cfg config.PresenceConfig, events event.Publisher, st store.Queries, reads ReadRecorder, conversations Conversations) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	if cfg.HeartbeatWindow.Duration <= 0 {
		cfg.HeartbeatWindow.Duration = config.DefaultHeartbeatWindow
	}
	if cfg.TypingTTL.Duration <= 0 {
		cfg.TypingTTL.Duration = config.DefaultTypingTTL
	}
	if cfg.TypingPerSecond <= 0 {
		cfg.TypingPerSecond = config.DefaultTypingPerSecond
	}
	if cfg.TypingBurst <= 0 {
		cfg.TypingBurst = config.DefaultTypingBurst
	}
	return &Tracker{
		cfg:           cfg,
		events:        events,
		store:         st,
		reads:         reads,
		conversations: conversations,
		logger:        log.With(slog.String("service", "presence")),
		now:           time.Now,
		seen:          map[subjectKey]time.Time{},
		typing:        map[typingKey]time.Time{},
		limiters:      map[subjectKey]*rate.Limiter{},
	}
}

// Heartbeat marks subject online until the heartbeat window passes without
// another one. A presence event goes out only when the subject comes online.
func (t *Tracker) Heartbeat(workspaceID, subject string) (Status, error) {
	key, err := newSubjectKey(workspaceID, subject)
	if err != nil {
		return Status{}, err
	}
	now := t.now()
	t.mu.Lock()
	last, known := t.seen[key]
	cameOnline := !known || now.Sub(last) > t.cfg.HeartbeatWindow.Duration
	t.seen[key] = now
	t.maybePruneLocked(now)
	t.mu.Unlock()

	status := t.status(key, now, now)
	if cameOnline {
		t.publish(event.TypePresence, key.workspaceID, "", status)
	}
	return status, nil
}

// Typing records that subject is typing in conversationID for the typing
// TTL. Signals above the configured rate are rejected, not queued.
func (t *Tracker) Typing(workspaceID, conversationID, subject string) (TypingSignal, error) {
	key, err := newSubjectKey(workspaceID, subject)
	if err != nil {
		return TypingSignal{}, err
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return TypingSignal{}, fmt.Errorf("conversation id is required")
	}
	now := t.now()
	t.mu.Lock()
	limiter, ok := t.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(t.cfg.TypingPerSecond), t.cfg.TypingBurst)
		t.limiters[key] = limiter
	}
	if !limiter.AllowN(now, 1) {
		t.mu.Unlock()
		return TypingSignal{}, ErrRateLimited
	}
	expires := now.Add(t.cfg.TypingTTL.Duration)
	t.typing[typingKey{subjectKey: key, conversationID: conversationID}] = expires
	t.maybePruneLocked(now)
	t.mu.Unlock()

	signal := TypingSignal{ConversationID: conversationID, Subject: key.subject, ExpiresAt: expires}
	t.publish(event.TypeTyping, key.workspaceID, conversationID, signal)
	return signal, nil
}

// IsTyping reports whether subject's last typing signal in conversationID
// has not expired yet.
func (t *Tracker) IsTyping(workspaceID, conversationID, subject string) bool {
	key := typingKey{
		subjectKey:     subjectKey{workspaceID: strings.TrimSpace(workspaceID), subject: strings.TrimSpace(subject)},
		conversationID: strings.TrimSpace(conversationID),
	}
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	expires, ok := t.typing[key]
	return ok && !now.After(expires)
}

// TypingIn lists the unexpired typing signals of a conversation.
func (t *Tracker) TypingIn(workspaceID, conversationID string) []TypingSignal {
	workspaceID, conversationID = strings.TrimSpace(workspaceID), strings.TrimSpace(conversationID)
	now := t.now()
	t.mu.Lock()
	out := make([]TypingSignal, 0)
	for key, expires := range t.typing {
		if key.workspaceID == workspaceID && key.conversationID == conversationID && !now.After(expires) {
			out = append(out, TypingSignal{ConversationID: conversationID, Subject: key.subject, ExpiresAt: expires})
		}
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out
}

// Snapshot returns subject's presence and where it is typing.
func (t *Tracker) Snapshot(workspaceID, subject string) (Presence, error) {
	key, err := newSubjectKey(workspaceID, subject)
	if err != nil {
		return Presence{}, err
	}
	now := t.now()
	t.mu.Lock()
	last := t.seen[key]
	typing := make([]TypingSignal, 0)
	for tk, expires := range t.typing {
		if tk.subjectKey == key && !now.After(expires) {
			typing = append(typing, TypingSignal{ConversationID: tk.conversationID, Subject: key.subject, ExpiresAt: expires})
		}
	}
	t.mu.Unlock()
	sort.Slice(typing, func(i, j int) bool { return typing[i].ConversationID < typing[j].ConversationID })
	return Presence{Status: t.status(key, last, now), Typing: typing}, nil
}

// MarkRead records that reader saw messageID.
func (t *Tracker) MarkRead(ctx context.Context, workspaceID, messageID, reader string) (message.View, error) {
	if t.reads == nil {
		return message.View{}, errors.New("read recorder not configured")
	}
	return t.reads.RecordRead(ctx, workspaceID, messageID, reader, t.now())
}

// LastOutboundRead reports whether the newest outbound message of a
// conversation has a read receipt. Only that message is examined.
func (t *Tracker) LastOutboundRead(ctx context.Context, workspaceID, conversationID string) (ReadStatus, error) {
	conv, err := t.conversations.Live(ctx, workspaceID, conversationID)
	if err != nil {
		return ReadStatus{}, err
	}
	out := ReadStatus{ConversationID: conv.ID}
	msg, err := t.store.LastOutboundMessage(ctx, conv.ID)
	if errors.Is(err, store.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return ReadStatus{}, err
	}
	read, err := t.store.HasReadReceipt(ctx, msg.ID)
	if err != nil {
		return ReadStatus{}, err
	}
	out.MessageID = msg.ID
	out.Status = msg.Status
	out.Read = read
	return out, nil
}

func (t *Tracker) status(key subjectKey, last, now time.Time) Status {
	st := Status{Subject: key.subject}
	if last.IsZero() {
		return st
	}
	st.LastSeen = last
	st.Online = now.Sub(last) <= t.cfg.HeartbeatWindow.Duration
	if st.Online {
		st.OnlineUntil = last.Add(t.cfg.HeartbeatWindow.Duration)
	}
	return st
}

func (t *Tracker) publish(typ event.Type, workspaceID, conversationID string, payload any) {
	if t.events == nil {
		return
	}
	evt, err := event.New(typ, workspaceID, conversationID, payload)
	if err != nil {
		t.logger.Error("build presence event", slog.Any("error", err))
		return
	}
	t.events.Publish(evt)
}

// maybePruneLocked drops entries that can no longer read as live.
func (t *Tracker) maybePruneLocked(now time.Time) {
	t.writes++
	if t.writes%pruneEvery != 0 {
		return
	}
	for key, last := range t.seen {
		if now.Sub(last) > t.cfg.HeartbeatWindow.Duration {
			delete(t.seen, key)
		}
	}
	for key, expires := range t.typing {
		if now.After(expires) {
			delete(t.typing, key)
		}
	}
	for key, limiter := range t.limiters {
		if limiter.TokensAt(now) >= float64(t.cfg.TypingBurst) {
			delete(t.limiters, key)
		}
	}
}

func newSubjectKey(workspaceID, subject string) (subjectKey, error) {
	key := subjectKey{workspaceID: strings.TrimSpace(workspaceID), subject: strings.TrimSpace(subject)}
	if key.workspaceID == "" {
		return subjectKey{}, fmt.Errorf("workspace id is required")
	}
	if key.subject == "" {
		return subjectKey{}, ErrSubjectRequired
	}
	return key, nil
}
