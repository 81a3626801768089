package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const publishTimeout = 2 * time.Second

// RedisBridge mirrors hub events through a Redis pub/sub channel so that
// sessions connected to other instances receive them. Events carrying this
// hub's instance id are skipped on receipt.
type RedisBridge struct {
	client  redis.UniversalClient
	channel string
	hub     *Hub
	logger  *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisBridge creates a bridge; Start connects it.
func NewRedisBridge(log *slog.Logger, client redis.UniversalClient, channel string, hub *Hub) *RedisBridge {
	if log == nil {
		log = slog.Default()
	}
	return &RedisBridge{
		client:  client,
		channel: channel,
		hub:     hub,
		logger:  log.With(slog.String("service", "event_redis_bridge"), slog.String("channel", channel)),
	}
}

// Start subscribes to the channel and begins forwarding local events.
func (b *RedisBridge) Start(ctx context.Context) error {
	if b.client == nil || b.hub == nil {
		return errors.New("redis bridge not configured")
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.mu.Lock()
	b.pubsub = pubsub
	b.done = make(chan struct{})
	b.mu.Unlock()

	b.hub.OnPublish(b.forward)
	go b.receive(pubsub, b.done)
	b.logger.Info("redis bridge started")
	return nil
}

// Stop closes the subscription.
func (b *RedisBridge) Stop(_ context.Context) error {
	b.mu.Lock()
	pubsub, done := b.pubsub, b.done
	b.pubsub = nil
	b.mu.Unlock()
	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}

func (b *RedisBridge) forward(evt Event) {
	if evt.Origin != b.hub.InstanceID() {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		b.logger.Error("marshal event", slog.Any("error", err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.Warn("publish event", slog.String("type", string(evt.Type)), slog.Any("error", err))
	}
}

func (b *RedisBridge) receive(pubsub *redis.PubSub, done chan struct{}) {
	defer close(done)
	for msg := range pubsub.Channel() {
		evt, ok := b.decode(msg.Payload)
		if !ok {
			continue
		}
		b.hub.Deliver(evt)
	}
}

func (b *RedisBridge) decode(payload string) (Event, bool) {
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		b.logger.Warn("decode event", slog.Any("error", err))
		return Event{}, false
	}
	if evt.Origin == b.hub.InstanceID() {
		return Event{}, false
	}
	return evt, true
}
