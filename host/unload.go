package host

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/pluginhost/depgraph"
	"github.com/GoCodeAlone/pluginhost/events"
	"github.com/GoCodeAlone/pluginhost/lifecycle"
)

// Unload tears a single loaded plugin down: guards and services are
// unregistered and its state transitions to Unloaded. Unloading a plugin
// on which another loaded plugin depends is rejected unless force is
// true, in which case the dependents are unloaded first.
func (h *Host) Unload(name string, force bool) error {
	h.mu.RLock()
	_, ok := h.loaded[name]
	graph := h.lastGraph
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	dependents := loadedDependents(graph, name, h.isLoaded)
	if len(dependents) > 0 {
		if !force {
			return fmt.Errorf("%w: %s (dependents: %v)", ErrHasDependents, name, dependents)
		}
		for _, dep := range dependents {
			if err := h.Unload(dep, true); err != nil {
				return err
			}
		}
	}

	h.guards.UnregisterOwner(name)
	h.services.UnregisterOwner(name)

	if err := h.lifecycle.Transition(name, lifecycle.Unload, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	h.mu.Lock()
	delete(h.loaded, name)
	h.mu.Unlock()

	h.bus.Publish(events.TypeUnloaded, name, nil)
	return nil
}

func (h *Host) isLoaded(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.loaded[name]
	return ok
}

// loadedDependents returns the currently-loaded plugins that directly or
// transitively depend on name, per the built graph's Incoming adjacency.
// Dependents includes name itself (it is its own zero-distance closure
// member), which is filtered out here.
func loadedDependents(g *depgraph.Graph, name string, isLoaded func(string) bool) []string {
	if g == nil {
		return nil
	}
	var out []string
	for _, dep := range g.Dependents(name) {
		if dep != name && isLoaded(dep) {
			out = append(out, dep)
		}
	}
	return out
}

// Reload tears every loaded plugin down in reverse topological order, then
// runs LoadAll again with the last-used strategy. Reload preserves no
// in-flight state and is triggered automatically by the plugin directory
// watcher (A5) on filesystem change, or callable directly.
func (h *Host) Reload(ctx context.Context) (LoadResult, error) {
	h.mu.RLock()
	order := h.lastOrder
	h.mu.RUnlock()

	for _, name := range depgraph.ReverseOrder(order) {
		if !h.isLoaded(name) {
			continue
		}
		if err := h.Unload(name, true); err != nil {
			h.logger.Error("reload: failed to unload plugin cleanly", "plugin", name, "error", err)
		}
	}

	return h.LoadAll(ctx, h.strategy)
}
