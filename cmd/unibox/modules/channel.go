package modules

import (
	"context"
	"log/slog"
	"strings"

	"go.uber.org/fx"

	"github.com/memohai/unibox/internal/channel"
	"github.com/memohai/unibox/internal/channel/adapters/email"
	"github.com/memohai/unibox/internal/channel/adapters/local"
	"github.com/memohai/unibox/internal/channel/adapters/sms"
	"github.com/memohai/unibox/internal/channel/adapters/telegram"
	"github.com/memohai/unibox/internal/config"
	"github.com/memohai/unibox/internal/message"
)

var ChannelModule = fx.Module(
	"channel",
	fx.Provide(
		local.New,
		provideChannelRegistry,
		channel.NewDispatcher,
		func(d *channel.Dispatcher) message.Sender { return d },
	),
	fx.Invoke(startTelegramReceiver),
)

// provideChannelRegistry registers the loopback adapter plus every channel
// with credentials in the config.
func provideChannelRegistry(log *slog.Logger, cfg config.Config, loop *local.Adapter) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(loop)

	channels := cfg.Channels
	if strings.TrimSpace(channels.Email.Host) != "" {
		registry.MustRegister(email.NewAdapter(log, email.Config{
			Host:     channels.Email.Host,
			Port:     channels.Email.Port,
			Username: channels.Email.Username,
			Password: channels.Email.Password,
			From:     channels.Email.From,
			TLS:      channels.Email.TLS,
		}))
	}
	if strings.TrimSpace(channels.Telegram.BotToken) != "" {
		registry.MustRegister(telegram.NewAdapter(log, channels.Telegram.BotToken))
	}
	if strings.TrimSpace(channels.SMS.GatewayURL) != "" {
		registry.MustRegister(sms.NewAdapter(log, sms.Config{
			GatewayURL: channels.SMS.GatewayURL,
			APIKey:     channels.SMS.APIKey,
			From:       channels.SMS.From,
		}, nil))
	}
	for _, desc := range registry.Descriptors() {
		log.Info("channel registered", slog.String("channel", string(desc.Type)))
	}
	return registry
}

// startTelegramReceiver long-polls the bot and feeds updates into the
// pipeline when a receiving workspace is configured.
func startTelegramReceiver(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, registry *channel.Registry, pipeline *message.Pipeline) {
	workspaceID := strings.TrimSpace(cfg.Channels.Telegram.WorkspaceID)
	if workspaceID == "" {
		return
	}
	adapter, ok := registry.Get(telegram.Type)
	if !ok {
		log.Warn("telegram workspace configured without a bot token")
		return
	}
	receiver, ok := adapter.(*telegram.Adapter)
	if !ok {
		return
	}

	onMessage := func(ctx context.Context, msg channel.InboundMessage) error {
		_, err := pipeline.IngestInbound(ctx, message.InboundInput{WorkspaceID: workspaceID, InboundMessage: msg})
		return err
	}
	onUpdate := func(ctx context.Context, upd channel.InboundUpdate) error {
		_, err := pipeline.ApplyInboundUpdate(ctx, workspaceID, upd)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := receiver.Receive(ctx, onMessage, onUpdate); err != nil {
					log.Error("telegram receiver failed", slog.Any("error", err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
