// Package event provides the workspace-scoped realtime event hub.
package event

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultBufferSize is the default per-subscriber channel buffer.
	DefaultBufferSize = 64
)

// Type identifies the event category.
type Type string

const (
	// TypeMessageCreated is emitted after a message row is committed.
	TypeMessageCreated Type = "message.created"
	// TypeMessageUpdated covers edits, delete markers, delivery status and attachment backfill.
	TypeMessageUpdated Type = "message.updated"
	// TypeConversationChanged is emitted for rollup, status, pin, archive and merge changes.
	TypeConversationChanged Type = "conversation.changed"
	// TypeTyping carries a typing signal with its expiry.
	TypeTyping Type = "presence.typing"
	// TypePresence carries an online heartbeat.
	TypePresence Type = "presence.online"
)

// Event is one realtime notification. ConversationID is empty for
// workspace-level events such as presence.
type Event struct {
	ID             string          `json:"id"`
	Type           Type            `json:"type"`
	WorkspaceID    string          `json:"workspace_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	At             time.Time       `json:"at"`
	Origin         string          `json:"origin,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// New builds an event with payload marshalled into Data.
func New(typ Type, workspaceID, conversationID string, payload any) (Event, error) {
	evt := Event{
		ID:             uuid.NewString(),
		Type:           typ,
		WorkspaceID:    strings.TrimSpace(workspaceID),
		ConversationID: strings.TrimSpace(conversationID),
		At:             time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		evt.Data = raw
	}
	return evt, nil
}

// Decode unmarshals Data into out.
func (e Event) Decode(out any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data", e.Type)
	}
	return json.Unmarshal(e.Data, out)
}

// Filter selects the events a subscriber receives. It runs on the publisher's
// goroutine and must not block.
type Filter func(Event) bool

// Publisher publishes events to subscribers.
type Publisher interface {
	Publish(event Event)
}

// Subscriber subscribes to workspace-scoped events.
type Subscriber interface {
	Subscribe(workspaceID string, buffer int, filter Filter) (string, <-chan Event, func())
}

type stream struct {
	ch     chan Event
	filter Filter
}

// Hub is an in-process pub/sub dispatcher keyed by workspace.
//
// Each subscriber owns one buffered channel, so events published in sequence
// for a conversation arrive in that sequence. A subscriber whose buffer is
// full is removed and its channel closed; the client resyncs on reconnect.
type Hub struct {
	mu         sync.RWMutex
	streams    map[string]map[string]*stream
	forwarders []func(Event)
	instanceID string
	dropped    atomic.Int64
	logger     *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		streams:    map[string]map[string]*stream{},
		instanceID: uuid.NewString(),
		logger:     log.With(slog.String("service", "event_hub")),
	}
}

// InstanceID identifies this hub in events it originates.
func (h *Hub) InstanceID() string {
	return h.instanceID
}

// OnPublish registers fn to receive every locally published event after
// local delivery. Used by cross-instance bridges.
func (h *Hub) OnPublish(fn func(Event)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.forwarders = append(h.forwarders, fn)
	h.mu.Unlock()
}

// Publish delivers event to local subscribers and forwarders.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	if event.Origin == "" {
		event.Origin = h.instanceID
	}
	h.Deliver(event)
	h.mu.RLock()
	forwarders := h.forwarders
	h.mu.RUnlock()
	for _, fn := range forwarders {
		fn(event)
	}
}

// Deliver fans event out to local subscribers only.
func (h *Hub) Deliver(event Event) {
	if h == nil {
		return
	}
	workspaceID := strings.TrimSpace(event.WorkspaceID)
	if workspaceID == "" {
		return
	}
	var slow []string
	h.mu.RLock()
	for id, s := range h.streams[workspaceID] {
		if s.filter != nil && !s.filter(event) {
			continue
		}
		select {
		case s.ch <- event:
		default:
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()
	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, id := range slow {
		h.removeLocked(workspaceID, id)
	}
	h.mu.Unlock()
	h.dropped.Add(int64(len(slow)))
	h.logger.Warn("dropped slow subscribers", slog.String("workspace_id", workspaceID), slog.Int("count", len(slow)))
}

// Subscribe registers one subscriber under a workspace. It returns a stream
// ID, a read-only event channel and a cancel function. The channel is closed
// on cancel or when the subscriber is dropped for falling behind.
func (h *Hub) Subscribe(workspaceID string, buffer int, filter Filter) (string, <-chan Event, func()) {
	if h == nil {
		ch := make(chan Event)
		close(ch)
		return "", ch, func() {}
	}
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		ch := make(chan Event)
		close(ch)
		return "", ch, func() {}
	}
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	streamID := uuid.NewString()
	s := &stream{ch: make(chan Event, buffer), filter: filter}

	h.mu.Lock()
	streams, ok := h.streams[workspaceID]
	if !ok {
		streams = map[string]*stream{}
		h.streams[workspaceID] = streams
	}
	streams[streamID] = s
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			h.removeLocked(workspaceID, streamID)
			h.mu.Unlock()
		})
	}
	return streamID, s.ch, cancel
}

func (h *Hub) removeLocked(workspaceID, streamID string) {
	streams := h.streams[workspaceID]
	if streams == nil {
		return
	}
	if current, ok := streams[streamID]; ok {
		delete(streams, streamID)
		close(current.ch)
	}
	if len(streams) == 0 {
		delete(h.streams, workspaceID)
	}
}

// Subscribers reports the live subscriber count of a workspace.
func (h *Hub) Subscribers(workspaceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[strings.TrimSpace(workspaceID)])
}

// Dropped reports how many subscribers were removed for falling behind.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
