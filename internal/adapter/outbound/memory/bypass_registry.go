package memory

import (
	"sort"
	"sync"

	"github.com/GanaRepository/mintoons-sub000/internal/domain/quota"
)

// BypassRegistry implements quota.BypassRegistry as a mutex-protected set.
// Exemptions live only as long as the process; use the state-file registry
// when overrides must survive restarts.
type BypassRegistry struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewBypassRegistry creates an empty in-memory bypass registry.
func NewBypassRegistry() *BypassRegistry {
	return &BypassRegistry{keys: make(map[string]struct{})}
}

// IsBypassed reports whether key is exempt from enforcement.
func (r *BypassRegistry) IsBypassed(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.keys[key]
	return ok
}

// Add registers key as exempt.
func (r *BypassRegistry) Add(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[key] = struct{}{}
	return nil
}

// Remove revokes an exemption.
func (r *BypassRegistry) Remove(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, key)
	return nil
}

// Clear drops every exemption.
func (r *BypassRegistry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = make(map[string]struct{})
	return nil
}

// List returns the current exemptions in lexical order.
func (r *BypassRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.keys))
	for k := range r.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Compile-time interface verification.
var _ quota.BypassRegistry = (*BypassRegistry)(nil)
