package modules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/memohai/unibox/internal/boot"
	"github.com/memohai/unibox/internal/config"
	"github.com/memohai/unibox/internal/db"
	"github.com/memohai/unibox/internal/keylock"
	"github.com/memohai/unibox/internal/logger"
	"github.com/memohai/unibox/internal/message/event"
	"github.com/memohai/unibox/internal/store"
	"github.com/memohai/unibox/internal/store/memory"
	"github.com/memohai/unibox/internal/store/postgres"
	"github.com/memohai/unibox/internal/tracing"
)

// ConfigPath is the TOML file the server loads.
type ConfigPath string

var InfraModule = fx.Module(
	"infra",
	fx.Provide(
		provideConfig,
		boot.ProvideRuntimeConfig,
		provideLogger,
		provideStore,
		keylock.New,
		event.NewHub,
		func(hub *event.Hub) event.Publisher { return hub },
	),
	fx.Invoke(
		startTracing,
		startRedisBridge,
	),
)

// ---------------------------------------------------------------------------
// infrastructure providers
// ---------------------------------------------------------------------------

func provideConfig(path ConfigPath) (config.Config, error) {
	cfg, err := config.Load(string(path))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	return logger.Init(cfg.Log.Level, cfg.Log.Format)
}

func provideStore(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, rc *boot.RuntimeConfig) (store.Store, error) {
	switch rc.StoreBackend {
	case boot.BackendMemory:
		log.Warn("using in-memory store; data does not survive a restart")
		return memory.New(), nil
	case boot.BackendPostgres:
		pool, err := db.Open(context.Background(), cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				pool.Close()
				return nil
			},
		})
		return postgres.New(pool), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", rc.StoreBackend)
	}
}

func startTracing(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) {
	manager := tracing.NewManager(log, cfg.Tracing)
	lc.Append(fx.Hook{
		OnStart: manager.Start,
		OnStop:  manager.Stop,
	})
}

// startRedisBridge fans hub events out to other instances when a Redis URL
// is configured.
func startRedisBridge(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, rc *boot.RuntimeConfig, hub *event.Hub) error {
	url := rc.RedisURL
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	bridge := event.NewRedisBridge(log, client, cfg.Redis.Channel, hub)
	lc.Append(fx.Hook{
		OnStart: bridge.Start,
		OnStop: func(ctx context.Context) error {
			stopErr := bridge.Stop(ctx)
			if err := client.Close(); err != nil && stopErr == nil {
				stopErr = err
			}
			return stopErr
		},
	})
	return nil
}
