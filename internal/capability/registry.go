package capability

import (
	"context"
	"fmt"
	"sync"
)

// Params are the typed parameters passed to a capability handler.
// When extraction degrades, the raw query travels under "query".
type Params map[string]any

// String returns the string value for key, or "" when absent or not
// a string.
func (p Params) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Capability is a single-shot external operation invoked with typed
// parameters. Mutating capabilities exist in the registry but the
// direct executor refuses to run them: only workflows may mutate,
// because only workflows can ask for confirmation first.
type Capability struct {
	ID          string
	Description string
	Schema      string // JSON schema guiding parameter extraction
	Mutating    bool
	Handler     func(ctx context.Context, p Params) (string, error)
}

// Registry maps capability ids to executables.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]*Capability
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]*Capability)}
}

// Register adds a capability; re-registering an id replaces it.
func (r *Registry) Register(c *Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[c.ID] = c
}

// Get resolves a capability by id.
func (r *Registry) Get(id string) (*Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[id]
	if !ok {
		return nil, fmt.Errorf("unknown capability: %s", id)
	}
	return c, nil
}

// List returns all registered capability ids.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.caps))
	for id := range r.caps {
		ids = append(ids, id)
	}
	return ids
}
