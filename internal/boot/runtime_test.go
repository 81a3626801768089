package boot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/unibox/internal/config"
)

func TestProvideRuntimeConfigEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":7000")
	t.Setenv("UNIBOX_STORE", "Postgres")
	t.Setenv("UNIBOX_SIGNING_SECRET", "s3cret")

	cfg := config.Default()
	rc, err := ProvideRuntimeConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, ":7000", rc.ServerAddr)
	assert.Equal(t, BackendPostgres, rc.StoreBackend)
	assert.Equal(t, "s3cret", rc.SigningSecret)
}

func TestProvideRuntimeConfigRejects(t *testing.T) {
	cfg := config.Default()
	_, err := ProvideRuntimeConfig(cfg)
	assert.ErrorContains(t, err, "signing secret")

	cfg.Storage.SigningSecret = "x"
	cfg.Store.Backend = "sqlite"
	_, err = ProvideRuntimeConfig(cfg)
	assert.ErrorContains(t, err, "unknown store backend")
}
