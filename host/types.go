package host

import (
	"log/slog"
	"plugin"
	"time"

	"github.com/GoCodeAlone/pluginhost/circuitbreaker"
	"github.com/GoCodeAlone/pluginhost/compat"
	"github.com/GoCodeAlone/pluginhost/events"
	"github.com/GoCodeAlone/pluginhost/lifecycle"
	"github.com/GoCodeAlone/pluginhost/manifest"
	"github.com/GoCodeAlone/pluginhost/metrics"
	"github.com/GoCodeAlone/pluginhost/orchestrator"
	"github.com/GoCodeAlone/pluginhost/scanner"
	"github.com/GoCodeAlone/pluginhost/sdk"
	"github.com/GoCodeAlone/pluginhost/service"
)

// manifestFile and soFile name the two files DiscoverAll requires in every
// plugin directory.
const (
	manifestFile = "plugin.manifest.json"
	soFile       = "plugin.so"
)

// Discovery is one plugin directory found by DiscoverAll, with its parsed
// and essential-validated manifest.
type Discovery struct {
	Name        string
	Dir         string
	Manifest    *manifest.Manifest
	RawManifest []byte
	Warning     string
}

// LoadedPlugin is a plugin that completed the full load pipeline: its
// symbols have been resolved and registered.
type LoadedPlugin struct {
	Name        string
	Manifest    *manifest.Manifest
	Handle      *plugin.Plugin
	Controllers map[string]sdk.Controller
	Providers   map[string]sdk.Provider
	Guards      map[string]sdk.Guard
	LoadedAt    time.Time
}

// LoadResult is the outcome of a single LoadAll call.
type LoadResult struct {
	Loaded  []string
	Failed  map[string]error
	Batches [][]string
	// Aborted is true only when a critical plugin failed to build into
	// the graph or to load, per the critical-failure-cascade policy.
	Aborted bool
	// Sample is the orchestrator's performance sample for this run. It is
	// the zero value when a critical plugin failed during graph building,
	// since the orchestrator then never ran.
	Sample orchestrator.Sample
}

// Stats summarizes the host's current state across every owned registry.
type Stats struct {
	Discovered int
	Loaded     int
	Failed     int
	Cache      manifest.Stats
	Services   service.Stats
}

// Config parameterizes a Host. Every field left at its zero value is
// replaced by a long-lived default owned by the constructed Host -- no
// package-level singletons, per the design note on global mutable state.
type Config struct {
	PluginsDir       string
	HostAPIVersion   string
	Strategy         orchestrator.Strategy
	Concurrency      int
	PerPluginTimeout time.Duration

	ScannerLimits scanner.Limits
	CacheConfig   manifest.CacheConfig
	CompatMatrix  *compat.Matrix

	Logger    *slog.Logger
	Metrics   *metrics.Collector
	Events    *events.Bus
	Breakers  *circuitbreaker.Registry
	Lifecycle *lifecycle.Machine
}
