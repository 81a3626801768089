package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishScopedByWorkspace(t *testing.T) {
	hub := NewHub(nil)
	_, wsA, cancelA := hub.Subscribe("ws-a", 8, nil)
	defer cancelA()
	_, wsB, cancelB := hub.Subscribe("ws-b", 8, nil)
	defer cancelB()

	hub.Publish(Event{Type: TypeMessageCreated, WorkspaceID: "ws-a"})

	select {
	case <-wsA:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected event for ws-a subscriber")
	}

	select {
	case <-wsB:
		t.Fatalf("did not expect ws-b subscriber to receive ws-a event")
	case <-time.After(120 * time.Millisecond):
	}
}

func TestHubCancelUnsubscribe(t *testing.T) {
	hub := NewHub(nil)
	_, stream, cancel := hub.Subscribe("ws-a", 8, nil)
	cancel()
	cancel()

	select {
	case _, ok := <-stream:
		if ok {
			t.Fatalf("expected stream to be closed after cancel")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timed out waiting for stream close")
	}
	assert.Equal(t, 0, hub.Subscribers("ws-a"))
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(nil)
	_, slow, cancelSlow := hub.Subscribe("ws-a", 1, nil)
	defer cancelSlow()
	_, fast, cancelFast := hub.Subscribe("ws-a", 8, nil)
	defer cancelFast()

	hub.Publish(Event{Type: TypeMessageCreated, WorkspaceID: "ws-a"})
	hub.Publish(Event{Type: TypeMessageCreated, WorkspaceID: "ws-a"})
	hub.Publish(Event{Type: TypeMessageCreated, WorkspaceID: "ws-a"})

	// The buffered event is still readable, then the channel reports closed.
	_, ok := <-slow
	assert.True(t, ok)
	_, ok = <-slow
	assert.False(t, ok)

	assert.Len(t, fast, 3)
	assert.Equal(t, 1, hub.Subscribers("ws-a"))
	assert.Equal(t, int64(1), hub.Dropped())
}

func TestHubFilter(t *testing.T) {
	hub := NewHub(nil)
	_, stream, cancel := hub.Subscribe("ws-a", 8, func(e Event) bool {
		return e.ConversationID == "c1"
	})
	defer cancel()

	hub.Publish(Event{Type: TypeMessageCreated, WorkspaceID: "ws-a", ConversationID: "c2"})
	hub.Publish(Event{Type: TypeMessageCreated, WorkspaceID: "ws-a", ConversationID: "c1"})

	got := <-stream
	assert.Equal(t, "c1", got.ConversationID)
	assert.Empty(t, stream)
}

func TestHubPreservesOrderPerPublisher(t *testing.T) {
	hub := NewHub(nil)
	_, stream, cancel := hub.Subscribe("ws-a", 128, nil)
	defer cancel()

	var wg sync.WaitGroup
	for _, conv := range []string{"c1", "c2"} {
		wg.Add(1)
		go func(conv string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				evt, err := New(TypeMessageCreated, "ws-a", conv, map[string]int{"seq": i})
				require.NoError(t, err)
				hub.Publish(evt)
			}
		}(conv)
	}
	wg.Wait()

	last := map[string]int{"c1": -1, "c2": -1}
	for i := 0; i < 100; i++ {
		evt := <-stream
		var payload struct {
			Seq int `json:"seq"`
		}
		require.NoError(t, evt.Decode(&payload))
		assert.Equal(t, last[evt.ConversationID]+1, payload.Seq)
		last[evt.ConversationID] = payload.Seq
	}
}

func TestHubForwardersSeeOrigin(t *testing.T) {
	hub := NewHub(nil)
	var forwarded []Event
	hub.OnPublish(func(e Event) { forwarded = append(forwarded, e) })

	hub.Publish(Event{Type: TypeConversationChanged, WorkspaceID: "ws-a"})
	hub.Deliver(Event{Type: TypeConversationChanged, WorkspaceID: "ws-a", Origin: "other"})

	require.Len(t, forwarded, 1)
	assert.Equal(t, hub.InstanceID(), forwarded[0].Origin)
}
