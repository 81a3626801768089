// Package boot derives runtime settings from the loaded config and the environment.
package boot

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/memohai/unibox/internal/config"
)

// Store backends accepted by [store] backend.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// RuntimeConfig holds settings that may be overridden by environment variables
// (HTTP_ADDR, UNIBOX_STORE, REDIS_URL, UNIBOX_SIGNING_SECRET).
type RuntimeConfig struct {
	ServerAddr    string
	StoreBackend  string
	RedisURL      string
	SigningSecret string
}

// ProvideRuntimeConfig builds RuntimeConfig from cfg and applies env overrides.
func ProvideRuntimeConfig(cfg config.Config) (*RuntimeConfig, error) {
	ret := &RuntimeConfig{
		ServerAddr:    cfg.Server.Addr,
		StoreBackend:  strings.ToLower(strings.TrimSpace(cfg.Store.Backend)),
		RedisURL:      strings.TrimSpace(cfg.Redis.URL),
		SigningSecret: cfg.Storage.SigningSecret,
	}

	if value := os.Getenv("HTTP_ADDR"); value != "" {
		ret.ServerAddr = value
	}
	if value := os.Getenv("UNIBOX_STORE"); value != "" {
		ret.StoreBackend = strings.ToLower(strings.TrimSpace(value))
	}
	if value := os.Getenv("REDIS_URL"); value != "" {
		ret.RedisURL = value
	}
	if value := os.Getenv("UNIBOX_SIGNING_SECRET"); value != "" {
		ret.SigningSecret = value
	}

	switch ret.StoreBackend {
	case "":
		ret.StoreBackend = BackendMemory
	case BackendMemory, BackendPostgres:
	default:
		return nil, fmt.Errorf("unknown store backend %q", ret.StoreBackend)
	}
	if strings.TrimSpace(ret.SigningSecret) == "" {
		return nil, errors.New("storage signing secret is required")
	}
	return ret, nil
}
