package contacts

import "errors"

var (
	ErrWorkspaceRequired = errors.New("workspace id is required")
	ErrDisplayName       = errors.New("display name is required")
)

// CreateRequest creates a contact. Identities are linked separately.
type CreateRequest struct {
	DisplayName string         `json:"display_name"`
	Stage       string         `json:"stage,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// UpdateRequest patches a contact; nil fields keep their value and Metadata
// is merged key by key.
type UpdateRequest struct {
	DisplayName *string        `json:"display_name,omitempty"`
	Stage       *string        `json:"stage,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
