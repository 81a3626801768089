package modules

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/fx"

	"github.com/memohai/unibox/internal/attachment"
	"github.com/memohai/unibox/internal/boot"
	"github.com/memohai/unibox/internal/channel"
	"github.com/memohai/unibox/internal/config"
	"github.com/memohai/unibox/internal/contacts"
	"github.com/memohai/unibox/internal/conversation"
	"github.com/memohai/unibox/internal/identities"
	"github.com/memohai/unibox/internal/keylock"
	"github.com/memohai/unibox/internal/media"
	"github.com/memohai/unibox/internal/message"
	"github.com/memohai/unibox/internal/message/event"
	"github.com/memohai/unibox/internal/presence"
	"github.com/memohai/unibox/internal/schedule"
	"github.com/memohai/unibox/internal/storage"
	"github.com/memohai/unibox/internal/store"
)

// sweepJobName is the cron job that fails sends stuck in "sending".
const sweepJobName = "stale-send-sweeper"

var DomainModule = fx.Module(
	"domain",
	fx.Provide(
		conversation.NewService,
		contacts.NewService,
		provideIdentityService,
		provideSigner,
		provideMediaService,
		provideMessagePipeline,
		providePresenceTracker,
		provideAttachmentService,
		schedule.NewService,
	),
	fx.Invoke(startScheduleService),
)

// ---------------------------------------------------------------------------
// domain providers
// ---------------------------------------------------------------------------

func provideIdentityService(log *slog.Logger, st store.Store, locks *keylock.Map, conversations *conversation.Service) *identities.Service {
	return identities.NewService(log, st, locks, conversations)
}

func provideSigner(cfg config.Config, rc *boot.RuntimeConfig) (*attachment.Signer, error) {
	return attachment.NewSigner(rc.SigningSecret, cfg.Storage.URLTTL.Duration, cfg.Storage.PublicBaseURL)
}

func provideMediaService(log *slog.Logger, cfg config.Config) (*media.Service, error) {
	provider, err := storage.NewLocal(cfg.Storage.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return media.NewService(log, provider), nil
}

type pipelineParams struct {
	fx.In

	Lifecycle     fx.Lifecycle
	Logger        *slog.Logger
	Config        config.Config
	Store         store.Store
	Locks         *keylock.Map
	Events        event.Publisher
	Identities    *identities.Service
	Conversations *conversation.Service
	Registry      *channel.Registry
	Sender        message.Sender
	Signer        *attachment.Signer
}

func provideMessagePipeline(p pipelineParams) *message.Pipeline {
	pipeline := message.NewPipeline(p.Logger, message.Deps{
		Store:         p.Store,
		Locks:         p.Locks,
		Events:        p.Events,
		Identities:    p.Identities,
		Conversations: p.Conversations,
		Registry:      p.Registry,
		Sender:        p.Sender,
		Links:         p.Signer,
	}, p.Config.Outbound)
	p.Lifecycle.Append(fx.Hook{
		OnStart: pipeline.Start,
		OnStop:  pipeline.Stop,
	})
	return pipeline
}

func providePresenceTracker(log *slog.Logger, cfg config.Config, events event.Publisher, st store.Store, pipeline *message.Pipeline, conversations *conversation.Service) *presence.Tracker {
	return presence.NewTracker(log, cfg.Presence, events, st, pipeline, conversations)
}

func provideAttachmentService(log *slog.Logger, st store.Store, assets *media.Service, pipeline *message.Pipeline, signer *attachment.Signer) *attachment.Service {
	return attachment.NewService(log, st, assets, pipeline, signer)
}

func startScheduleService(lc fx.Lifecycle, cfg config.Config, scheduler *schedule.Service, pipeline *message.Pipeline) error {
	sweep := schedule.TaskFunc(func(ctx context.Context) error {
		_, err := pipeline.SweepStale(ctx)
		return err
	})
	if err := scheduler.Register(sweepJobName, cfg.Outbound.SweepSchedule, sweep); err != nil {
		return fmt.Errorf("register %s: %w", sweepJobName, err)
	}
	lc.Append(fx.Hook{
		OnStart: scheduler.Start,
		OnStop:  scheduler.Stop,
	})
	return nil
}
