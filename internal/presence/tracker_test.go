package presence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/unibox/internal/config"
	"github.com/memohai/unibox/internal/message"
	"github.com/memohai/unibox/internal/message/event"
	"github.com/memohai/unibox/internal/store"
	"github.com/memohai/unibox/internal/store/memory"
)

const ws = "ws-1"

type liveStore struct{ st store.Queries }

func (l liveStore) Live(ctx context.Context, workspaceID, id string) (store.Conversation, error) {
	conv, err := l.st.GetConversation(ctx, id)
	if err != nil || conv.WorkspaceID != workspaceID {
		return store.Conversation{}, store.ErrNotFound
	}
	return conv, nil
}

type recorder struct {
	calls []string
	at    time.Time
}

func (r *recorder) RecordRead(_ context.Context, _, messageID, reader string, at time.Time) (message.View, error) {
	r.calls = append(r.calls, messageID+"/"+reader)
	r.at = at
	return message.View{Message: store.Message{ID: messageID}}, nil
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestTracker(t *testing.T) (*Tracker, *testClock, *event.Hub, *memory.Store) {
	t.Helper()
	clk := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	hub := event.NewHub(nil)
	st := memory.New()
	tr := NewTracker(nil, config.PresenceConfig{
		HeartbeatWindow: config.Duration{Duration: 30 * time.Second},
		TypingTTL:       config.Duration{Duration: 5 * time.Second},
		TypingPerSecond: 1,
		TypingBurst:     3,
	}, hub, st, &recorder{}, liveStore{st: st})
	tr.now = clk.Now
	return tr, clk, hub, st
}

func TestHeartbeatOnlineUntilWindowPasses(t *testing.T) {
	tr, clk, hub, _ := newTestTracker(t)
	_, events, cancel := hub.Subscribe(ws, 8, nil)
	defer cancel()

	st, err := tr.Heartbeat(ws, "agent-1")
	require.NoError(t, err)
	assert.True(t, st.Online)
	assert.Equal(t, event.TypePresence, (<-events).Type)

	clk.Advance(20 * time.Second)
	_, err = tr.Heartbeat(ws, "agent-1")
	require.NoError(t, err)
	select {
	case evt := <-events:
		t.Fatalf("renewal published %s", evt.Type)
	default:
	}

	clk.Advance(30 * time.Second)
	snap, err := tr.Snapshot(ws, "agent-1")
	require.NoError(t, err)
	assert.True(t, snap.Online, "exactly at the window edge")

	clk.Advance(time.Second)
	snap, err = tr.Snapshot(ws, "agent-1")
	require.NoError(t, err)
	assert.False(t, snap.Online)
	assert.False(t, snap.LastSeen.IsZero())

	_, err = tr.Heartbeat(ws, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, event.TypePresence, (<-events).Type, "coming back online is announced")

	unknown, err := tr.Snapshot(ws, "nobody")
	require.NoError(t, err)
	assert.False(t, unknown.Online)

	_, err = tr.Heartbeat(ws, " ")
	assert.ErrorIs(t, err, ErrSubjectRequired)
}

func TestTypingExpiresWithoutServerAction(t *testing.T) {
	tr, clk, hub, _ := newTestTracker(t)
	_, events, cancel := hub.Subscribe(ws, 8, nil)
	defer cancel()

	signal, err := tr.Typing(ws, "conv-1", "jane")
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(5*time.Second), signal.ExpiresAt)
	evt := <-events
	assert.Equal(t, event.TypeTyping, evt.Type)
	assert.Equal(t, "conv-1", evt.ConversationID)

	assert.True(t, tr.IsTyping(ws, "conv-1", "jane"))
	assert.Len(t, tr.TypingIn(ws, "conv-1"), 1)

	clk.Advance(5 * time.Second)
	assert.True(t, tr.IsTyping(ws, "conv-1", "jane"))
	clk.Advance(time.Millisecond)
	assert.False(t, tr.IsTyping(ws, "conv-1", "jane"))
	assert.Empty(t, tr.TypingIn(ws, "conv-1"))

	snap, err := tr.Snapshot(ws, "jane")
	require.NoError(t, err)
	assert.Empty(t, snap.Typing)
}

func TestTypingRateLimited(t *testing.T) {
	tr, clk, _, _ := newTestTracker(t)
	for i := 0; i < 3; i++ {
		_, err := tr.Typing(ws, "conv-1", "jane")
		require.NoError(t, err)
	}
	_, err := tr.Typing(ws, "conv-1", "jane")
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = tr.Typing(ws, "conv-1", "bob")
	assert.NoError(t, err, "limits are per subject")

	clk.Advance(time.Second)
	_, err = tr.Typing(ws, "conv-1", "jane")
	assert.NoError(t, err)
}

func TestSnapshotListsTyping(t *testing.T) {
	tr, _, _, _ := newTestTracker(t)
	_, err := tr.Heartbeat(ws, "jane")
	require.NoError(t, err)
	_, err = tr.Typing(ws, "conv-2", "jane")
	require.NoError(t, err)
	_, err = tr.Typing(ws, "conv-1", "jane")
	require.NoError(t, err)

	snap, err := tr.Snapshot(ws, "jane")
	require.NoError(t, err)
	assert.True(t, snap.Online)
	require.Len(t, snap.Typing, 2)
	assert.Equal(t, "conv-1", snap.Typing[0].ConversationID)

	other, err := tr.Snapshot("ws-2", "jane")
	require.NoError(t, err)
	assert.False(t, other.Online)
	assert.Empty(t, other.Typing)
}

func TestLastOutboundRead(t *testing.T) {
	tr, _, _, st := newTestTracker(t)
	ctx := context.Background()
	ident, err := st.UpsertIdentity(ctx, store.UpsertIdentityParams{Type: store.IdentityPlatformUser, Value: "555", NormalizedValue: "555"})
	require.NoError(t, err)
	conv, _, err := st.UpsertIdentityConversation(ctx, ws, ident.ID)
	require.NoError(t, err)

	status, err := tr.LastOutboundRead(ctx, ws, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, status.MessageID)
	assert.False(t, status.Read)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	insert := func(at time.Time) store.Message {
		msg, _, err := st.InsertMessage(ctx, store.Message{
			ID: uuid.NewString(), WorkspaceID: ws, ConversationID: conv.ID, Channel: "chat",
			Direction: store.DirectionOutbound, Status: store.MessageSent, SentAt: at,
		})
		require.NoError(t, err)
		return msg
	}
	older := insert(base)
	_, err = st.InsertReadReceipt(ctx, store.ReadReceipt{MessageID: older.ID, ReaderID: "recipient", ReadAt: base})
	require.NoError(t, err)
	newest := insert(base.Add(time.Minute))

	status, err = tr.LastOutboundRead(ctx, ws, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, newest.ID, status.MessageID)
	assert.False(t, status.Read, "only the newest outbound message counts")

	_, err = st.InsertReadReceipt(ctx, store.ReadReceipt{MessageID: newest.ID, ReaderID: "recipient", ReadAt: base})
	require.NoError(t, err)
	status, err = tr.LastOutboundRead(ctx, ws, conv.ID)
	require.NoError(t, err)
	assert.True(t, status.Read)

	_, err = tr.LastOutboundRead(ctx, "ws-2", conv.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarkReadDelegates(t *testing.T) {
	tr, clk, _, _ := newTestTracker(t)
	rec := tr.reads.(*recorder)
	view, err := tr.MarkRead(context.Background(), ws, "m1", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "m1", view.ID)
	assert.Equal(t, []string{"m1/agent-1"}, rec.calls)
	assert.Equal(t, clk.Now(), rec.at)
}
