package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Dispatcher validates outbound requests against the channel's capabilities
// and sends them through the registered adapter with a bounded retry.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	wait     func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(log *slog.Logger, registry *Registry) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		logger:   log.With(slog.String("service", "channel_dispatcher")),
		wait:     sleepContext,
	}
}

// Send transmits req on channelType. Failures are retried RetryMax times
// with a linearly growing pause unless they wrap ErrPermanent or ctx ends.
func (d *Dispatcher) Send(ctx context.Context, channelType Type, req SendRequest) (string, error) {
	adapter, ok := d.registry.Get(channelType)
	if !ok {
		return "", fmt.Errorf("%w: unsupported channel type: %s", ErrPermanent, channelType)
	}
	desc, _ := d.registry.Descriptor(channelType)
	if err := validate(desc, req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	policy := desc.OutboundPolicy

	chunks := policy.Chunker(req.Text, policy.TextChunkLimit)
	if len(chunks) <= 1 {
		return d.sendWithRetry(ctx, adapter, policy, req)
	}
	// The first chunk carries the reply reference and attachments; its
	// external id identifies the message. A resumed send returns no id, the
	// first attempt already recorded it.
	var firstID string
	start := max(req.ResumeChunk, 0)
	for i := start; i < len(chunks); i++ {
		part := req
		part.Text = chunks[i]
		part.HTML = ""
		part.ResumeChunk = 0
		if i > 0 {
			part.ReplyToExternalID = ""
			part.Attachments = nil
		}
		externalID, err := d.sendWithRetry(ctx, adapter, policy, part)
		if err != nil {
			if i == 0 {
				return "", err
			}
			d.logger.Warn("chunked send interrupted",
				slog.String("message_id", req.MessageID),
				slog.Int("sent", i),
				slog.Int("chunks", len(chunks)))
			return "", &PartialSendError{ExternalID: firstID, Sent: i, Err: err}
		}
		if i == 0 {
			firstID = externalID
		}
	}
	return firstID, nil
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, adapter Adapter, policy OutboundPolicy, req SendRequest) (string, error) {
	var lastErr error
	for i := 0; i < policy.RetryMax; i++ {
		externalID, err := adapter.Send(ctx, req)
		if err == nil {
			return externalID, nil
		}
		lastErr = err
		if errors.Is(err, ErrPermanent) {
			break
		}
		d.logger.Warn("send outbound retry",
			slog.String("message_id", req.MessageID),
			slog.Int("attempt", i+1),
			slog.Any("error", err))
		if i+1 == policy.RetryMax {
			break
		}
		pause := time.Duration(i+1) * time.Duration(policy.RetryBackoffMs) * time.Millisecond
		if err := d.wait(ctx, pause); err != nil {
			return "", fmt.Errorf("send outbound canceled: %w", lastErr)
		}
	}
	return "", fmt.Errorf("send outbound failed after retries: %w", lastErr)
}

func validate(desc Descriptor, req SendRequest) error {
	if strings.TrimSpace(req.Destination) == "" && strings.TrimSpace(req.ChatID) == "" {
		return errors.New("destination is required")
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
		return errors.New("message is required")
	}
	caps := desc.Capabilities
	if len(req.Attachments) > 0 && !caps.Attachments {
		return errors.New("channel does not support attachments")
	}
	if req.ReplyToExternalID != "" && !caps.Reply {
		return errors.New("channel does not support reply")
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
