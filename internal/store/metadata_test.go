package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeMetadata(t *testing.T) {
	existing := map[string]any{"display_name": "Jane", "avatar": "a.png"}
	patch := map[string]any{"display_name": "", "avatar": "b.png", "locale": "en", "tags": []any{}, "nil": nil}

	got := MergeMetadata(existing, patch)
	assert.Equal(t, map[string]any{"display_name": "Jane", "avatar": "b.png", "locale": "en"}, got)
	assert.Equal(t, "a.png", existing["avatar"], "existing map must not be mutated")
}

func TestMergeMetadataNilInputs(t *testing.T) {
	assert.Empty(t, MergeMetadata(nil, nil))
	assert.Equal(t, map[string]any{"k": 1}, MergeMetadata(nil, map[string]any{"k": 1, " ": "x"}))
}
