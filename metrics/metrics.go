// Package metrics wires Prometheus metrics for the host process under the
// pluginhost_* namespace, grounded on the reference stack's
// MetricsCollector: a private registry, pre-declared vectors, and an
// http.Handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector wraps the host's Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	PluginLoadsTotal     *prometheus.CounterVec
	PluginLoadDuration   *prometheus.HistogramVec
	PluginsLoaded        prometheus.Gauge
	CircuitBreakerState  *prometheus.GaugeVec
	ValidationCacheHits  prometheus.Counter
	ValidationCacheMiss  prometheus.Counter
	GuardResolutions     *prometheus.CounterVec
	ServiceTokensIssued  prometheus.Counter
	EventsPublishedTotal *prometheus.CounterVec
}

// New creates a Collector with its own registry and registers every
// declared vector.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		PluginLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pluginhost_plugin_loads_total",
			Help: "Total plugin load attempts by outcome.",
		}, []string{"plugin", "outcome"}),
		PluginLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pluginhost_plugin_load_duration_seconds",
			Help:    "Duration of individual plugin loads.",
			Buckets: prometheus.DefBuckets,
		}, []string{"plugin"}),
		PluginsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pluginhost_plugins_loaded",
			Help: "Number of plugins currently in the Loaded state.",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pluginhost_circuit_breaker_state",
			Help: "Circuit breaker state per plugin: 0=closed, 1=half-open, 2=open.",
		}, []string{"plugin"}),
		ValidationCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pluginhost_validation_cache_hits_total",
			Help: "Manifest validation cache hits.",
		}),
		ValidationCacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pluginhost_validation_cache_misses_total",
			Help: "Manifest validation cache misses.",
		}),
		GuardResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pluginhost_guard_resolutions_total",
			Help: "Guard resolution attempts by outcome.",
		}, []string{"outcome"}),
		ServiceTokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pluginhost_service_tokens_issued_total",
			Help: "Cross-plugin service tokens issued.",
		}),
		EventsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pluginhost_events_published_total",
			Help: "Events published on the bus by type.",
		}, []string{"type"}),
	}

	reg.MustRegister(
		c.PluginLoadsTotal,
		c.PluginLoadDuration,
		c.PluginsLoaded,
		c.CircuitBreakerState,
		c.ValidationCacheHits,
		c.ValidationCacheMiss,
		c.GuardResolutions,
		c.ServiceTokensIssued,
		c.EventsPublishedTotal,
	)

	return c
}

// Handler returns an http.Handler serving this collector's metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordPluginLoad records a single plugin load attempt's outcome and
// duration.
func (c *Collector) RecordPluginLoad(plugin, outcome string, d time.Duration) {
	c.PluginLoadsTotal.WithLabelValues(plugin, outcome).Inc()
	c.PluginLoadDuration.WithLabelValues(plugin).Observe(d.Seconds())
}

// SetCircuitBreakerState records a circuit breaker's numeric state for a
// plugin: 0 closed, 1 half-open, 2 open.
func (c *Collector) SetCircuitBreakerState(plugin string, state int) {
	c.CircuitBreakerState.WithLabelValues(plugin).Set(float64(state))
}

// RecordValidationCache records a cache hit or miss.
func (c *Collector) RecordValidationCache(hit bool) {
	if hit {
		c.ValidationCacheHits.Inc()
	} else {
		c.ValidationCacheMiss.Inc()
	}
}

// RecordGuardResolution records a resolution outcome (the host reports
// resolved or failed).
func (c *Collector) RecordGuardResolution(outcome string) {
	c.GuardResolutions.WithLabelValues(outcome).Inc()
}

// RecordEventPublished records a bus publish by event type.
func (c *Collector) RecordEventPublished(eventType string) {
	c.EventsPublishedTotal.WithLabelValues(eventType).Inc()
}
