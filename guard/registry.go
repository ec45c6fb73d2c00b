// Package guard implements the guard registry and resolver: request-time
// authorization predicates declared by plugins, with transitive dependency
// resolution across local and exported external scopes.
package guard

import (
	"fmt"
	"sync"
)

// Scope distinguishes a guard declared by the owning plugin from a
// reference to a guard exported by another plugin.
type Scope string

const (
	ScopeLocal    Scope = "local"
	ScopeExternal Scope = "external"
)

// Entry is a single registered guard declaration, keyed by (Owner, Name).
type Entry struct {
	Owner        string
	Name         string
	Scope        Scope
	ClassRef     string
	Dependencies []string // names of other guards this guard depends on
	Exported     bool     // only meaningful for ScopeLocal entries
	Source       string   // only meaningful for ScopeExternal entries: the plugin exporting Name
}

func key(owner, name string) string { return owner + "\x00" + name }

// Registry stores guard declarations and resolves dependency closures.
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	byOwner map[string][]string // owner -> ordered list of entry keys, declaration order preserved
}

// NewRegistry creates an empty guard Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		byOwner: make(map[string][]string),
	}
}

// ErrDuplicateGuard is returned by Register when (owner, name) is already
// registered.
var ErrDuplicateGuard = fmt.Errorf("guard: duplicate (owner, name)")

// Register adds e to the registry. Re-registering the same (Owner, Name)
// pair is rejected, per the loader's edge-case policy.
func (r *Registry) Register(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(e.Owner, e.Name)
	if _, exists := r.entries[k]; exists {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateGuard, e.Owner, e.Name)
	}
	r.entries[k] = e
	r.byOwner[e.Owner] = append(r.byOwner[e.Owner], k)
	return nil
}

// UnregisterOwner removes every guard declared by owner, used during
// plugin unload.
func (r *Registry) UnregisterOwner(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range r.byOwner[owner] {
		delete(r.entries, k)
	}
	delete(r.byOwner, owner)
}

// Get returns the guard declared by owner under name, if registered.
func (r *Registry) Get(owner, name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key(owner, name)]
	return e, ok
}

// snapshot returns a defensive copy of every entry, keyed as in the
// registry; no ordering is kept. Used by Resolve so resolution operates on
// a frozen view even if mutations happen concurrently.
func (r *Registry) snapshot() map[string]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Entry, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}
