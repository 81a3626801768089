package event

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBridgeDecodeSkipsOwnEvents(t *testing.T) {
	hub := NewHub(nil)
	bridge := NewRedisBridge(nil, nil, "unibox:events", hub)

	own, err := json.Marshal(Event{Type: TypeMessageCreated, WorkspaceID: "ws", Origin: hub.InstanceID()})
	require.NoError(t, err)
	_, ok := bridge.decode(string(own))
	assert.False(t, ok)

	remote, err := json.Marshal(Event{Type: TypeMessageCreated, WorkspaceID: "ws", Origin: "peer"})
	require.NoError(t, err)
	evt, ok := bridge.decode(string(remote))
	assert.True(t, ok)
	assert.Equal(t, "peer", evt.Origin)

	_, ok = bridge.decode("{not json")
	assert.False(t, ok)
}

func TestRedisBridgeStartRequiresClient(t *testing.T) {
	bridge := NewRedisBridge(nil, nil, "unibox:events", NewHub(nil))
	assert.Error(t, bridge.Start(context.Background()))
}

// Needs a reachable server; set TEST_REDIS_URL to run.
func TestRedisBridgeAcrossHubs(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	ctx := context.Background()
	channel := "unibox:test:" + time.Now().Format("150405.000000")

	clientA, clientB := redis.NewClient(opts), redis.NewClient(opts)
	defer clientA.Close()
	defer clientB.Close()

	hubA, hubB := NewHub(nil), NewHub(nil)
	bridgeA := NewRedisBridge(nil, clientA, channel, hubA)
	bridgeB := NewRedisBridge(nil, clientB, channel, hubB)
	require.NoError(t, bridgeA.Start(ctx))
	defer bridgeA.Stop(ctx)
	require.NoError(t, bridgeB.Start(ctx))
	defer bridgeB.Stop(ctx)

	_, streamB, cancel := hubB.Subscribe("ws", 8, nil)
	defer cancel()

	hubA.Publish(Event{ID: "e1", Type: TypeMessageCreated, WorkspaceID: "ws"})

	select {
	case evt := <-streamB:
		assert.Equal(t, "e1", evt.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("event did not cross the bridge")
	}
}
