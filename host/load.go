package host

import (
	"context"
	"fmt"
	"plugin"
	"time"

	"github.com/GoCodeAlone/pluginhost/depgraph"
	"github.com/GoCodeAlone/pluginhost/events"
	"github.com/GoCodeAlone/pluginhost/guard"
	"github.com/GoCodeAlone/pluginhost/lifecycle"
	"github.com/GoCodeAlone/pluginhost/manifest"
	"github.com/GoCodeAlone/pluginhost/orchestrator"
	"github.com/GoCodeAlone/pluginhost/scanner"
	"github.com/GoCodeAlone/pluginhost/sdk"
)

// LoadAll runs the full pipeline: discover, build the dependency graph,
// run the orchestrator over the resulting batches, and for each plugin
// unsafe-scan, full-validate, instantiate, and register. It is never
// itself an error unless the root directory is unreadable or a critical
// plugin failed to load, per the loader's failure-taxonomy contract.
func (h *Host) LoadAll(ctx context.Context, strategy orchestrator.Strategy) (LoadResult, error) {
	h.strategy = strategy

	discoveries, err := h.DiscoverAll(h.pluginsDir)
	if err != nil {
		return LoadResult{}, err
	}

	byName := make(map[string]Discovery, len(discoveries))
	nodes := make([]depgraph.Node, 0, len(discoveries))
	for _, d := range discoveries {
		byName[d.Name] = d
		nodes = append(nodes, depgraph.Node{
			Name:         d.Name,
			Dependencies: d.Manifest.Dependencies,
			LoadOrder:    d.Manifest.LoadOrder,
			Critical:     d.Manifest.Critical,
		})
	}

	graphResult := depgraph.Build(nodes)
	h.mu.Lock()
	h.lastGraph = graphResult.Graph
	h.lastOrder = graphResult.Order
	h.mu.Unlock()

	result := LoadResult{Failed: make(map[string]error), Batches: graphResult.Batches}
	var critical []string

	for _, c := range graphResult.Cycles {
		for _, name := range c.Members {
			h.failBeforeLoad(name, fmt.Errorf("%w: %v", ErrDependencyCycle, c.Members))
			result.Failed[name] = fmt.Errorf("%w: %v", ErrDependencyCycle, c.Members)
			if byName[name].Manifest != nil && byName[name].Manifest.Critical {
				result.Aborted = true
				critical = append(critical, name)
			}
		}
	}
	for _, name := range graphResult.Unsatisfied {
		h.failBeforeLoad(name, ErrDependencyUnsatisfied)
		result.Failed[name] = ErrDependencyUnsatisfied
		if byName[name].Manifest != nil && byName[name].Manifest.Critical {
			result.Aborted = true
			critical = append(critical, name)
		}
	}

	if result.Aborted {
		return result, fmt.Errorf("host: critical plugin(s) %v failed, load aborted", critical)
	}

	load := func(ctx context.Context, name string) error {
		return h.loadOne(ctx, byName[name])
	}

	orchCfg := orchestrator.Config{
		Strategy:         h.strategy,
		Concurrency:      h.concurrency,
		PerPluginTimeout: h.perPluginTimeout,
		Breakers:         h.breakers,
		Logger:           h.logger,
	}
	runResult := orchestrator.Run(ctx, graphResult.Batches, load, orchCfg)
	result.Sample = runResult.Sample

	for _, o := range runResult.Outcomes {
		if o.Err == nil {
			result.Loaded = append(result.Loaded, o.Name)
			continue
		}
		result.Failed[o.Name] = o.Err
		if byName[o.Name].Manifest != nil && byName[o.Name].Manifest.Critical {
			result.Aborted = true
			critical = append(critical, o.Name)
		}
	}

	h.bus.Publish(events.TypePerformance, "", runResult.Sample)

	if result.Aborted {
		return result, fmt.Errorf("host: critical plugin(s) %v failed to load", critical)
	}
	return result, nil
}

// failBeforeLoad drives a plugin to Failed for dependency-graph problems
// discovered before the orchestrator runs, without attempting a load. The
// table has no Discovered->Failed edge, so this goes through StartLoading
// (Loading) first, matching how a real load attempt would also fail.
func (h *Host) failBeforeLoad(name string, cause error) {
	_ = h.lifecycle.Transition(name, lifecycle.StartLoading, nil)
	_ = h.lifecycle.Transition(name, lifecycle.Fail, map[string]any{"error": cause.Error()})
	h.bus.Publish(events.TypeLoadFailed, name, cause.Error())
}

// loadOne drives a single discovered plugin through scan, validation,
// instantiation, and registration. It owns the plugin's full lifecycle
// transition sequence and is safe to run concurrently across distinct
// plugins; all shared state it touches (guards, services, lifecycle,
// cache) is internally synchronized.
func (h *Host) loadOne(ctx context.Context, d Discovery) error {
	name := d.Name
	start := time.Now()

	for _, dep := range d.Manifest.Dependencies {
		if s, ok := h.lifecycle.Current(dep); ok && s == lifecycle.Failed {
			h.bus.Publish(events.TypeDependencyFailed, name, dep)
			cause := fmt.Errorf("%w: dependency %q failed to load", ErrDependencyUnsatisfied, dep)
			h.failBeforeLoad(name, cause)
			return cause
		}
	}

	if err := h.lifecycle.Transition(name, lifecycle.StartLoading, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	h.bus.Publish(events.TypeLoadingStarted, name, nil)

	findings, err := scanner.Scan(d.Dir, h.scannerLimits)
	if err != nil {
		return h.failLoad(name, start, fmt.Errorf("%w: %v", ErrInternalError, err))
	}
	for _, f := range findings {
		if len(f.DisallowedModules) > 0 || f.ScanFailed {
			h.bus.Publish(events.TypeSecurityViolation, name, f)
			return h.failLoad(name, start, fmt.Errorf("%w: %s imports %v", ErrUnsafeImport, f.RelativePath, f.DisallowedModules))
		}
	}
	h.bus.Publish(events.TypeSecurityScanCompleted, name, nil)

	statsBefore := h.cache.Stats()
	result := h.cache.GetOrValidate(d.RawManifest, d.Manifest, manifest.Full)
	if h.metrics != nil {
		h.metrics.RecordValidationCache(h.cache.Stats().Hits > statsBefore.Hits)
	}
	if !result.Valid {
		return h.failLoad(name, start, fmt.Errorf("%w: %v", ErrManifestInvalid, result.Errors))
	}
	h.bus.Publish(events.TypeValidationCompleted, name, result)

	handle, err := plugin.Open(d.Dir + "/" + soFile)
	if err != nil {
		return h.failLoad(name, start, fmt.Errorf("%w: open %s: %v", ErrInstantiationFailed, soFile, err))
	}

	lp := &LoadedPlugin{
		Name:        name,
		Manifest:    d.Manifest,
		Handle:      handle,
		Controllers: make(map[string]sdk.Controller),
		Providers:   make(map[string]sdk.Provider),
		Guards:      make(map[string]sdk.Guard),
		LoadedAt:    time.Now(),
	}

	if err := h.resolveControllers(handle, d.Manifest, lp); err != nil {
		return h.failLoad(name, start, err)
	}
	if err := h.resolveProviders(handle, d.Manifest, lp); err != nil {
		return h.failLoad(name, start, err)
	}
	if err := h.resolveGuards(handle, d.Manifest, lp); err != nil {
		return h.failLoad(name, start, err)
	}

	if err := h.lifecycle.Transition(name, lifecycle.Complete, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	h.mu.Lock()
	h.loaded[name] = lp
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetCircuitBreakerState(name, 0)
		h.metrics.RecordPluginLoad(name, "loaded", time.Since(start))
	}
	h.bus.Publish(events.TypeLoaded, name, nil)
	return nil
}

func (h *Host) failLoad(name string, start time.Time, cause error) error {
	_ = h.lifecycle.Transition(name, lifecycle.Fail, map[string]any{"error": cause.Error()})
	if h.metrics != nil {
		h.metrics.RecordPluginLoad(name, "failed", time.Since(start))
	}
	h.bus.Publish(events.TypeLoadFailed, name, cause.Error())
	return cause
}

func (h *Host) resolveControllers(p *plugin.Plugin, m *manifest.Manifest, lp *LoadedPlugin) error {
	for _, symName := range m.Module.Controllers {
		sym, err := p.Lookup(symName)
		if err != nil {
			return fmt.Errorf("%w: controller %q: %v", ErrSymbolNotFound, symName, err)
		}
		c, ok := sym.(sdk.Controller)
		if !ok {
			return fmt.Errorf("%w: controller %q does not satisfy sdk.Controller", ErrSymbolNotFound, symName)
		}
		lp.Controllers[c.Name()] = c
	}
	return nil
}

func exportedSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

func (h *Host) resolveProviders(p *plugin.Plugin, m *manifest.Manifest, lp *LoadedPlugin) error {
	exported := exportedSet(m.Module.Exports)
	for _, symName := range m.Module.Providers {
		sym, err := p.Lookup(symName)
		if err != nil {
			return fmt.Errorf("%w: provider %q: %v", ErrSymbolNotFound, symName, err)
		}
		prov, ok := sym.(sdk.Provider)
		if !ok {
			return fmt.Errorf("%w: provider %q does not satisfy sdk.Provider", ErrSymbolNotFound, symName)
		}
		lp.Providers[prov.Name()] = prov

		factory := func() (any, error) { return prov.NewInstance(context.Background()) }
		if _, err := h.services.Register(lp.Name, prov.Name(), factory, exported[prov.Name()], m.Version); err != nil {
			return fmt.Errorf("%w: register service %q: %v", ErrInstantiationFailed, prov.Name(), err)
		}
	}
	return nil
}

// resolveGuards registers every guard a plugin declares and then resolves
// the transitive closure of those declarations against the registry,
// rejecting the load if any reference is missing or participates in a
// cycle -- registration alone only catches a duplicate (owner, name); it
// never checks that an external guard's source actually exports it, which
// is what Resolve enforces.
func (h *Host) resolveGuards(p *plugin.Plugin, m *manifest.Manifest, lp *LoadedPlugin) error {
	names := make([]string, 0, len(m.Module.Guards))
	for _, g := range m.Module.Guards {
		names = append(names, g.Name)
		switch g.Scope {
		case manifest.GuardLocal:
			classRef := g.Class
			if classRef == "" {
				classRef = g.Name
			}
			sym, err := p.Lookup(classRef)
			if err != nil {
				return fmt.Errorf("%w: guard %q: %v", ErrSymbolNotFound, g.Name, err)
			}
			impl, ok := sym.(sdk.Guard)
			if !ok {
				return fmt.Errorf("%w: guard %q does not satisfy sdk.Guard", ErrSymbolNotFound, g.Name)
			}
			lp.Guards[g.Name] = impl
			entry := guard.Entry{
				Owner: lp.Name, Name: g.Name, Scope: guard.ScopeLocal,
				ClassRef: classRef, Dependencies: g.Dependencies, Exported: g.Exported,
			}
			if err := h.guards.Register(entry); err != nil {
				return fmt.Errorf("%w: %v", ErrGuardResolutionFailed, err)
			}
		case manifest.GuardExternal:
			entry := guard.Entry{
				Owner: lp.Name, Name: g.Name, Scope: guard.ScopeExternal, Source: g.Source,
			}
			if err := h.guards.Register(entry); err != nil {
				return fmt.Errorf("%w: %v", ErrGuardResolutionFailed, err)
			}
		}
	}

	if len(names) == 0 {
		return nil
	}

	res := h.guards.Resolve(lp.Name, names)
	if len(res.Missing) > 0 || len(res.Circular) > 0 {
		if h.metrics != nil {
			h.metrics.RecordGuardResolution("failed")
		}
		return fmt.Errorf("%w: missing=%v circular=%v", ErrGuardResolutionFailed, res.Missing, res.Circular)
	}
	if h.metrics != nil {
		h.metrics.RecordGuardResolution("resolved")
	}
	return nil
}
