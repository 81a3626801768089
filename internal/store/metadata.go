package store

import "strings"

// CompactMetadata drops empty values so that merging the result never blanks
// an existing field.
func CompactMetadata(patch map[string]any) map[string]any {
	out := make(map[string]any, len(patch))
	for key, value := range patch {
		key = strings.TrimSpace(key)
		if key == "" || isEmptyValue(value) {
			continue
		}
		out[key] = value
	}
	return out
}

// MergeMetadata returns existing overlaid with the compacted patch; new keys win.
func MergeMetadata(existing, patch map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(patch))
	for key, value := range existing {
		out[key] = value
	}
	for key, value := range CompactMetadata(patch) {
		out[key] = value
	}
	return out
}

func isEmptyValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	}
	return false
}
