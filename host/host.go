// Package host implements the plugin loader core (C9): discovery,
// validation pipeline, module instantiation via the stdlib plugin package,
// registration into the guard registry and service manager, and teardown.
// It is the integration point for every other package in this module,
// grounded on the reference stack's PluginLoader: conflict-on-duplicate
// registration, manifest validation before wiring, and a flat owned-value
// struct rather than package-level globals.
package host

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GoCodeAlone/pluginhost/circuitbreaker"
	"github.com/GoCodeAlone/pluginhost/compat"
	"github.com/GoCodeAlone/pluginhost/depgraph"
	"github.com/GoCodeAlone/pluginhost/events"
	"github.com/GoCodeAlone/pluginhost/guard"
	"github.com/GoCodeAlone/pluginhost/lifecycle"
	"github.com/GoCodeAlone/pluginhost/manifest"
	"github.com/GoCodeAlone/pluginhost/metrics"
	"github.com/GoCodeAlone/pluginhost/orchestrator"
	"github.com/GoCodeAlone/pluginhost/scanner"
	"github.com/GoCodeAlone/pluginhost/service"
)

// Host owns every long-lived registry the loader touches. All fields are
// constructor-injected; there is no package-level singleton state.
type Host struct {
	pluginsDir       string
	hostAPIVersion   string
	strategy         orchestrator.Strategy
	concurrency      int
	perPluginTimeout time.Duration
	scannerLimits    scanner.Limits

	logger    *slog.Logger
	metrics   *metrics.Collector
	bus       *events.Bus
	breakers  *circuitbreaker.Registry
	lifecycle *lifecycle.Machine
	guards    *guard.Registry
	services  *service.Manager
	compatM   *compat.Matrix
	cache     *manifest.ResultCache

	mu          sync.RWMutex
	discoveries map[string]Discovery
	loaded      map[string]*LoadedPlugin
	lastGraph   *depgraph.Graph
	lastOrder   []string
}

// New constructs a Host, filling every unset Config field with a
// long-lived default.
func New(cfg Config) *Host {
	if cfg.PluginsDir == "" {
		cfg.PluginsDir = "./plugins"
	}
	if cfg.Strategy == "" {
		cfg.Strategy = orchestrator.Auto
	}
	if cfg.PerPluginTimeout <= 0 {
		cfg.PerPluginTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Events == nil {
		cfg.Events = events.New(cfg.Logger)
	}
	if cfg.Breakers == nil {
		cfg.Breakers = circuitbreaker.NewRegistry()
	}
	if cfg.Lifecycle == nil {
		cfg.Lifecycle = lifecycle.New(cfg.Logger)
	}
	if cfg.CompatMatrix == nil {
		cfg.CompatMatrix = defaultCompatMatrix()
	}
	if cfg.HostAPIVersion == "" {
		versions := cfg.CompatMatrix.Versions()
		if len(versions) > 0 {
			cfg.HostAPIVersion = versions[len(versions)-1]
		}
	}
	cacheCfg := cfg.CacheConfig
	if cacheCfg.MaxSize == 0 {
		cacheCfg = manifest.DefaultCacheConfig()
	}
	limits := cfg.ScannerLimits
	if limits.MaxContentSize == 0 {
		limits = scanner.DefaultLimits()
	}

	h := &Host{
		pluginsDir:       cfg.PluginsDir,
		hostAPIVersion:   cfg.HostAPIVersion,
		strategy:         cfg.Strategy,
		concurrency:      cfg.Concurrency,
		perPluginTimeout: cfg.PerPluginTimeout,
		scannerLimits:    limits,
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
		bus:              cfg.Events,
		breakers:         cfg.Breakers,
		lifecycle:        cfg.Lifecycle,
		guards:           guard.NewRegistry(),
		services:         service.NewManager(),
		compatM:          cfg.CompatMatrix,
		cache:            manifest.NewResultCache(cacheCfg),
		discoveries:      make(map[string]Discovery),
		loaded:           make(map[string]*LoadedPlugin),
	}

	// Bridge every lifecycle transition onto the event bus as state.changed,
	// so subscribers see one unified stream instead of having to watch the
	// state machine separately.
	h.lifecycle.Subscribe(func(evt lifecycle.ChangeEvent) {
		h.bus.Publish(events.TypeStateChanged, evt.Name, evt)
	})

	if h.metrics != nil {
		m := h.metrics
		h.bus.SubscribeAll(func(evt events.Event) {
			m.RecordEventPublished(string(evt.Type))
		})
	}

	return h
}

// DiscoverAll enumerates rootDir's immediate subdirectories. Each must
// contain plugin.manifest.json and plugin.so; otherwise it is skipped with
// a logged warning. Manifests are parsed, passed through the compatibility
// engine (migrating if a path exists), and surface-validated at Essential
// severity.
func (h *Host) DiscoverAll(rootDir string) ([]Discovery, error) {
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return nil, fmt.Errorf("%w: read plugins dir: %v", ErrInternalError, err)
	}

	seen := make(map[string]string) // manifest name -> directory
	var out []Discovery

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dirName := e.Name()
		dir := filepath.Join(rootDir, dirName)
		mPath := filepath.Join(dir, manifestFile)
		soPath := filepath.Join(dir, soFile)

		if _, err := os.Stat(soPath); err != nil {
			h.logger.Warn("skipping plugin directory missing plugin.so", "dir", dir)
			continue
		}
		raw, err := os.ReadFile(mPath)
		if err != nil {
			h.logger.Warn("skipping plugin directory missing manifest", "dir", dir, "error", err)
			continue
		}

		m, migratedRaw, warn, err := h.parseWithCompat(raw)
		if err != nil {
			h.logger.Warn("skipping plugin with unusable manifest", "dir", dir, "error", err)
			continue
		}

		result := manifest.Validate(m, manifest.Essential)
		if !result.Valid {
			h.logger.Warn("skipping plugin failing essential validation", "dir", dir, "errors", result.Errors)
			continue
		}

		if existingDir, dup := seen[m.Name]; dup {
			h.logger.Warn("duplicate plugin name, rejecting second occurrence",
				"name", m.Name, "kept_dir", existingDir, "rejected_dir", dir)
			continue
		}
		seen[m.Name] = dir

		d := Discovery{Name: m.Name, Dir: dir, Manifest: m, RawManifest: migratedRaw, Warning: warn}
		if dirName != m.Name {
			d.Warning = fmt.Sprintf("manifest name %q differs from directory name %q", m.Name, dirName)
			h.logger.Warn(d.Warning, "dir", dir)
		}

		if s, known := h.lifecycle.Current(m.Name); known && s == lifecycle.Unloaded {
			_ = h.lifecycle.Transition(m.Name, lifecycle.Rediscover, nil)
		} else {
			h.lifecycle.Seed(m.Name)
		}
		h.bus.Publish(events.TypeDiscovered, m.Name, nil)
		out = append(out, d)
	}

	h.mu.Lock()
	h.discoveries = make(map[string]Discovery, len(out))
	for _, d := range out {
		h.discoveries[d.Name] = d
	}
	h.mu.Unlock()

	return out, nil
}

// parseWithCompat decodes raw manifest bytes, runs them through the
// compatibility matrix (migrating forward if the declared apiVersion is
// not directly compatible), and parses the resulting shape into a
// Manifest. Absent apiVersion is treated as the earliest known version,
// per the compat engine's contract.
func (h *Host) parseWithCompat(raw []byte) (*manifest.Manifest, []byte, string, error) {
	var shape map[string]any
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, nil, "", fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}

	declared, _ := shape["apiVersion"].(string)
	if declared == "" {
		if vs := h.compatM.Versions(); len(vs) > 0 {
			declared = vs[0]
		}
	}
	report := h.compatM.Check(declared, h.hostAPIVersion)
	if !report.IsValid {
		return nil, nil, "", fmt.Errorf("%w: %v", ErrVersionIncompatible, report.Errors)
	}

	warn := ""
	if !report.IsCompatible {
		if len(report.MigrationPath) == 0 {
			return nil, nil, "", fmt.Errorf("%w: no migration path from %q to %q", ErrVersionIncompatible, declared, h.hostAPIVersion)
		}
		migrated, err := h.compatM.Migrate(declared, shape, report.MigrationPath)
		if err != nil {
			return nil, nil, "", fmt.Errorf("%w: migration: %v", ErrVersionIncompatible, err)
		}
		shape = migrated
	}
	if report.IsDeprecated {
		warn = fmt.Sprintf("apiVersion %q is deprecated", declared)
	}

	migratedRaw, err := json.Marshal(shape)
	if err != nil {
		return nil, nil, "", fmt.Errorf("%w: re-marshal migrated shape: %v", ErrInternalError, err)
	}
	m, err := manifest.Parse(migratedRaw)
	if err != nil {
		return nil, nil, "", fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	return m, migratedRaw, warn, nil
}

// GetPlugin returns a loaded plugin by name.
func (h *Host) GetPlugin(name string) (*LoadedPlugin, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.loaded[name]
	return p, ok
}

// GetAllLoaded returns a snapshot of every currently loaded plugin.
func (h *Host) GetAllLoaded() []*LoadedPlugin {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*LoadedPlugin, 0, len(h.loaded))
	for _, p := range h.loaded {
		out = append(out, p)
	}
	return out
}

// Stats summarizes the host's current state.
func (h *Host) Stats() Stats {
	h.mu.RLock()
	discovered := len(h.discoveries)
	loaded := len(h.loaded)
	h.mu.RUnlock()

	failed := 0
	for name := range h.discoveries {
		if s, ok := h.lifecycle.Current(name); ok && s == lifecycle.Failed {
			failed++
		}
	}

	return Stats{
		Discovered: discovered,
		Loaded:     loaded,
		Failed:     failed,
		Cache:      h.cache.Stats(),
		Services:   h.services.Stats(),
	}
}

// defaultCompatMatrix seeds a single-version matrix when the caller does
// not supply one, so a Host is usable without any migration history.
func defaultCompatMatrix() *compat.Matrix {
	return compat.NewMatrix([]compat.VersionEntry{
		{Version: "1.0", SupportsUnmodified: []string{"1.0"}},
	})
}
