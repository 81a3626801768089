package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultStoreBackend, cfg.Store.Backend)
	assert.Equal(t, DefaultTypingTTL, cfg.Presence.TypingTTL.Duration)
	assert.Equal(t, DefaultSweepSchedule, cfg.Outbound.SweepSchedule)
}

func TestLoadOverridesOnlyGivenFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[server]
addr = ":9090"

[store]
backend = "postgres"

[presence]
typing_ttl = "8s"

[outbound]
workers = 2
stale_after = "90s"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, 8*time.Second, cfg.Presence.TypingTTL.Duration)
	assert.Equal(t, DefaultHeartbeatWindow, cfg.Presence.HeartbeatWindow.Duration)
	assert.Equal(t, 2, cfg.Outbound.Workers)
	assert.Equal(t, 90*time.Second, cfg.Outbound.StaleAfter.Duration)
	assert.Equal(t, DefaultSendQueueSize, cfg.Outbound.QueueSize)
	assert.Equal(t, DefaultPGDatabase, cfg.Postgres.Database)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[presence]\ntyping_ttl = \"soon\"\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
