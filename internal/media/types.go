package media

import (
	"errors"
	"io"
)

// MaxAssetBytes is the default upload limit.
const MaxAssetBytes int64 = 25 << 20

var (
	ErrProviderUnavailable = errors.New("storage provider is not configured")
	ErrAssetNotFound       = errors.New("asset not found")
	ErrAssetTooLarge       = errors.New("asset exceeds size limit")
	ErrEmptyAsset          = errors.New("asset payload is empty")
)

// MediaType classifies the kind of media asset.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeAudio MediaType = "audio"
	MediaTypeVideo MediaType = "video"
	MediaTypeFile  MediaType = "file"
)

// Asset is a persisted blob. ContentHash is the SHA-256 hex of the bytes and
// StorageKey is relative to the workspace prefix.
type Asset struct {
	ContentHash string `json:"content_hash"`
	WorkspaceID string `json:"workspace_id"`
	Mime        string `json:"mime"`
	SizeBytes   int64  `json:"size_bytes"`
	StorageKey  string `json:"storage_key"`
}

// IngestInput carries the data needed to persist a new asset.
type IngestInput struct {
	WorkspaceID string
	Mime        string
	// Reader provides the raw bytes; caller is responsible for closing.
	Reader io.Reader
	// MaxBytes optionally overrides the default size limit.
	MaxBytes int64
}
