// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":8080"
	DefaultStoreBackend    = "memory"
	DefaultDataRoot        = "data"
	DefaultPGHost          = "127.0.0.1"
	DefaultPGPort          = 5432
	DefaultPGUser          = "postgres"
	DefaultPGDatabase      = "unibox"
	DefaultPGSSLMode       = "disable"
	DefaultRedisChannel    = "unibox:events"
	DefaultSubscriberBuf   = 64
	DefaultPingInterval    = 20 * time.Second
	DefaultHeartbeatWindow = 45 * time.Second
	DefaultTypingTTL       = 5 * time.Second
	DefaultTypingPerSecond = 1.0
	DefaultTypingBurst     = 3
	DefaultSendWorkers     = 4
	DefaultSendQueueSize   = 256
	DefaultSendRetryMax    = 3
	DefaultSendBackoff     = 500 * time.Millisecond
	DefaultSendTimeout     = 30 * time.Second
	DefaultStaleAfter      = 5 * time.Minute
	DefaultSweepSchedule   = "@every 1m"
	DefaultSignedURLTTL    = 15 * time.Minute
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Realtime RealtimeConfig `toml:"realtime"`
	Presence PresenceConfig `toml:"presence"`
	Outbound OutboundConfig `toml:"outbound"`
	Storage  StorageConfig  `toml:"storage"`
	Tracing  TracingConfig  `toml:"tracing"`
	Channels ChannelsConfig `toml:"channels"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// StoreConfig selects the persistence backend: "memory" or "postgres".
type StoreConfig struct {
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// RedisConfig enables the cross-instance event bridge when URL is set.
type RedisConfig struct {
	URL     string `toml:"url"`
	Channel string `toml:"channel"`
}

// RealtimeConfig controls subscriber buffering and keepalive pings.
type RealtimeConfig struct {
	SubscriberBuffer int      `toml:"subscriber_buffer"`
	PingInterval     Duration `toml:"ping_interval"`
}

// PresenceConfig controls heartbeat staleness and typing signals.
type PresenceConfig struct {
	HeartbeatWindow Duration `toml:"heartbeat_window"`
	TypingTTL       Duration `toml:"typing_ttl"`
	TypingPerSecond float64  `toml:"typing_per_second"`
	TypingBurst     int      `toml:"typing_burst"`
}

// OutboundConfig controls the asynchronous send path.
type OutboundConfig struct {
	Workers       int      `toml:"workers"`
	QueueSize     int      `toml:"queue_size"`
	RetryMax      int      `toml:"retry_max"`
	RetryBackoff  Duration `toml:"retry_backoff"`
	SendTimeout   Duration `toml:"send_timeout"`
	StaleAfter    Duration `toml:"stale_after"`
	SweepSchedule string   `toml:"sweep_schedule"`
}

// StorageConfig holds the attachment blob root and URL signing settings.
type StorageConfig struct {
	DataRoot      string   `toml:"data_root"`
	SigningSecret string   `toml:"signing_secret"`
	URLTTL        Duration `toml:"url_ttl"`
	PublicBaseURL string   `toml:"public_base_url"`
}

// TracingConfig holds OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled      bool    `toml:"enabled"`
	ServiceName  string  `toml:"service_name"`
	Environment  string  `toml:"environment"`
	OTLPEndpoint string  `toml:"otlp_endpoint"`
	SampleRate   float64 `toml:"sample_rate"`
	UseStdout    bool    `toml:"use_stdout"`
}

// ChannelsConfig holds per-channel adapter credentials. An empty section
// leaves the adapter unregistered.
type ChannelsConfig struct {
	Email    EmailChannelConfig    `toml:"email"`
	Telegram TelegramChannelConfig `toml:"telegram"`
	SMS      SMSChannelConfig      `toml:"sms"`
}

// EmailChannelConfig holds SMTP settings for outbound email.
type EmailChannelConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	TLS      string `toml:"tls"`
}

// TelegramChannelConfig holds the bot token. When WorkspaceID is set the
// server also long-polls the bot and ingests updates into that workspace.
type TelegramChannelConfig struct {
	BotToken    string `toml:"bot_token"`
	WorkspaceID string `toml:"workspace_id"`
}

// SMSChannelConfig holds the HTTP gateway used for outbound SMS.
type SMSChannelConfig struct {
	GatewayURL string `toml:"gateway_url"`
	APIKey     string `toml:"api_key"`
	From       string `toml:"from"`
}

// Duration is a time.Duration decoded from a TOML string such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Store: StoreConfig{
			Backend: DefaultStoreBackend,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Redis: RedisConfig{
			Channel: DefaultRedisChannel,
		},
		Realtime: RealtimeConfig{
			SubscriberBuffer: DefaultSubscriberBuf,
			PingInterval:     Duration{DefaultPingInterval},
		},
		Presence: PresenceConfig{
			HeartbeatWindow: Duration{DefaultHeartbeatWindow},
			TypingTTL:       Duration{DefaultTypingTTL},
			TypingPerSecond: DefaultTypingPerSecond,
			TypingBurst:     DefaultTypingBurst,
		},
		Outbound: OutboundConfig{
			Workers:       DefaultSendWorkers,
			QueueSize:     DefaultSendQueueSize,
			RetryMax:      DefaultSendRetryMax,
			RetryBackoff:  Duration{DefaultSendBackoff},
			SendTimeout:   Duration{DefaultSendTimeout},
			StaleAfter:    Duration{DefaultStaleAfter},
			SweepSchedule: DefaultSweepSchedule,
		},
		Storage: StorageConfig{
			DataRoot: DefaultDataRoot,
			URLTTL:   Duration{DefaultSignedURLTTL},
		},
		Tracing: TracingConfig{
			ServiceName: "unibox",
			Environment: "development",
			SampleRate:  0.1,
			UseStdout:   true,
		},
	}
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
