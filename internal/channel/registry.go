package channel

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry holds the registered channel adapters. It must be created via
// NewRegistry and passed explicitly to components that need it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Type]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: map[Type]Adapter{},
	}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return errors.New("adapter is nil")
	}
	desc := adapter.Descriptor()
	ct := normalizeType(desc.Type.String())
	if ct == "" {
		return errors.New("channel type is required")
	}
	if !desc.IdentityType.Valid() {
		return fmt.Errorf("channel %s: invalid identity type %q", ct, desc.IdentityType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[ct]; exists {
		return fmt.Errorf("channel type already registered: %s", ct)
	}
	r.adapters[ct] = adapter
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

// Get returns the adapter for the given channel type.
func (r *Registry) Get(channelType Type) (Adapter, bool) {
	ct := normalizeType(channelType.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[ct]
	return adapter, ok
}

// Descriptor returns the descriptor for the given channel type.
func (r *Registry) Descriptor(channelType Type) (Descriptor, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return Descriptor{}, false
	}
	desc := adapter.Descriptor()
	desc.Type = normalizeType(desc.Type.String())
	desc.OutboundPolicy = NormalizeOutboundPolicy(desc.OutboundPolicy)
	return desc, true
}

// Descriptors returns all descriptors sorted by type.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	types := make([]Type, 0, len(r.adapters))
	for ct := range r.adapters {
		types = append(types, ct)
	}
	r.mu.RUnlock()
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	items := make([]Descriptor, 0, len(types))
	for _, ct := range types {
		if desc, ok := r.Descriptor(ct); ok {
			items = append(items, desc)
		}
	}
	return items
}

// ParseType validates and normalizes a raw string into a registered Type.
func (r *Registry) ParseType(raw string) (Type, error) {
	ct := normalizeType(raw)
	if ct == "" {
		return "", fmt.Errorf("unsupported channel type: %s", raw)
	}
	if _, ok := r.Get(ct); !ok {
		return "", fmt.Errorf("unsupported channel type: %s", raw)
	}
	return ct, nil
}
