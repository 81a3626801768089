// Package local implements a loopback channel: outbound messages are routed
// to in-process subscribers by destination instead of leaving the host. It
// backs development setups and end-to-end tests.
package local

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/memohai/unibox/internal/channel"
	"github.com/memohai/unibox/internal/channel/adapters/adapterutil"
	"github.com/memohai/unibox/internal/store"
)

// Type is the registered channel type of the loopback channel.
const Type channel.Type = "local"

// Delivery is one outbound message routed to a local subscriber.
type Delivery struct {
	ExternalID string              `json:"external_id"`
	Request    channel.SendRequest `json:"request"`
}

// Adapter routes sends to subscribers keyed by destination. Sends to a
// destination nobody listens on still succeed and are kept in the outbox.
type Adapter struct {
	logger *slog.Logger

	mu      sync.RWMutex
	streams map[string]map[string]chan Delivery
	outbox  []Delivery
	fail    func(channel.SendRequest) error
}

// New creates a loopback adapter.
func New(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:  log.With(slog.String("adapter", "local")),
		streams: map[string]map[string]chan Delivery{},
	}
}

func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:          Type,
		DisplayName:   "Local",
		IdentityType:  store.IdentityPlatformUser,
		ThreadCapable: true,
		Capabilities: channel.Capabilities{
			Text:        true,
			Markdown:    true,
			Reply:       true,
			Attachments: true,
			Threads:     true,
			Edit:        true,
		},
		OutboundPolicy: channel.OutboundPolicy{
			TextChunkLimit: -1,
			RetryMax:       1,
		},
	}
}

// FailWith makes subsequent sends return fn's error. A nil fn restores
// normal delivery.
func (a *Adapter) FailWith(fn func(channel.SendRequest) error) {
	a.mu.Lock()
	a.fail = fn
	a.mu.Unlock()
}

// Send records req and hands it to the destination's subscribers. Slow
// subscribers miss the delivery.
func (a *Adapter) Send(ctx context.Context, req channel.SendRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target := routeKey(req)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		if err := a.fail(req); err != nil {
			return "", err
		}
	}
	delivery := Delivery{ExternalID: uuid.NewString(), Request: req}
	a.outbox = append(a.outbox, delivery)
	for _, ch := range a.streams[target] {
		select {
		case ch <- delivery:
		default:
		}
	}
	a.logger.Debug("outbound routed",
		slog.String("target", target),
		slog.String("message_id", req.MessageID),
		slog.String("text", adapterutil.SummarizeText(req.Text)))
	return delivery.ExternalID, nil
}

// Subscribe registers a stream for destination and returns its id, the
// receive channel and a cancel function.
func (a *Adapter) Subscribe(destination string) (string, <-chan Delivery, func()) {
	key := strings.TrimSpace(destination)
	streamID := uuid.NewString()
	ch := make(chan Delivery, 32)

	a.mu.Lock()
	streams, ok := a.streams[key]
	if !ok {
		streams = map[string]chan Delivery{}
		a.streams[key] = streams
	}
	streams[streamID] = ch
	a.mu.Unlock()

	cancel := func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		streams := a.streams[key]
		if current, ok := streams[streamID]; ok {
			delete(streams, streamID)
			close(current)
		}
		if len(streams) == 0 {
			delete(a.streams, key)
		}
	}
	return streamID, ch, cancel
}

// Outbox returns a copy of everything sent so far.
func (a *Adapter) Outbox() []Delivery {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Delivery, len(a.outbox))
	copy(out, a.outbox)
	return out
}

func routeKey(req channel.SendRequest) string {
	if chat := strings.TrimSpace(req.ChatID); chat != "" {
		return chat
	}
	return strings.TrimSpace(req.Destination)
}
