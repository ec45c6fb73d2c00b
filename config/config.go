// Package config loads host and registry settings from environment
// variables with an optional YAML overlay file, following the reference
// stack's config-parsing idiom (yaml.v3 re-marshal-through-struct-tags,
// ValidatePlatformConfig-style required-field checks, applyDefaults).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy mirrors orchestrator.Strategy without importing it, so config
// stays a leaf package with no dependency on the components it configures.
type Strategy string

// Host holds every setting the host process reads from its environment,
// optionally overridden by a YAML file named in HOST_CONFIG_FILE.
type Host struct {
	PluginsDir           string        `yaml:"pluginsDir"`
	RegistryURL          string        `yaml:"registryUrl"`
	LoadingStrategy      Strategy      `yaml:"loadingStrategy"`
	BatchSize            int           `yaml:"batchSize"`
	RegexTimeoutMs       int           `yaml:"regexTimeoutMs"`
	MaxContentSize       int64         `yaml:"maxContentSize"`
	MaxPluginSize        int64         `yaml:"maxPluginSize"`
	ValidationCacheSize  int           `yaml:"validationCacheSize"`
	ValidationCacheTTL   time.Duration `yaml:"validationCacheTtl"`
	MetricsAddr          string        `yaml:"metricsAddr"`
	Addr                 string        `yaml:"addr"`
	OTLPEndpoint         string        `yaml:"otlpEndpoint"`
}

// Registry holds the registry process's settings.
type Registry struct {
	Addr            string `yaml:"addr"`
	JWTSigningKey   string `yaml:"jwtSigningKey"`
	MaxPluginSize   int64  `yaml:"maxPluginSize"`
}

// defaultHost matches the documented environment-variable defaults.
func defaultHost() Host {
	return Host{
		PluginsDir:          "./plugins",
		LoadingStrategy:     "auto",
		BatchSize:           8,
		RegexTimeoutMs:      5000,
		MaxContentSize:      1 << 20,
		MaxPluginSize:       50 << 20,
		ValidationCacheSize: 1000,
		ValidationCacheTTL:  24 * time.Hour,
		MetricsAddr:         ":9090",
		Addr:                ":8080",
	}
}

func defaultRegistry() Registry {
	return Registry{Addr: ":8081", MaxPluginSize: 50 << 20}
}

// LoadHost reads Host settings from the environment, then applies a YAML
// overlay from HOST_CONFIG_FILE if set.
func LoadHost(getenv func(string) string) (Host, error) {
	cfg := defaultHost()

	if v := getenv("PLUGINS_DIR"); v != "" {
		cfg.PluginsDir = v
	}
	if v := getenv("PLUGIN_REGISTRY_URL"); v != "" {
		cfg.RegistryURL = v
	}
	if v := getenv("PLUGIN_LOADING_STRATEGY"); v != "" {
		cfg.LoadingStrategy = Strategy(v)
	}
	if v := getenv("PLUGIN_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchSize = n
		}
	}
	if v := getenv("PLUGIN_REGEX_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RegexTimeoutMs = n
		}
	}
	if v := getenv("PLUGIN_MAX_CONTENT_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxContentSize = n
		}
	}
	if v := getenv("MAX_PLUGIN_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxPluginSize = n
		}
	}
	if v := getenv("PLUGIN_VALIDATION_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ValidationCacheSize = n
		}
	}
	if v := getenv("PLUGIN_VALIDATION_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ValidationCacheTTL = d
		}
	}
	if v := getenv("HOST_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := getenv("HOST_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}

	if path := getenv("HOST_CONFIG_FILE"); path != "" {
		if err := overlayYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, ValidateHost(cfg)
}

// LoadRegistry reads Registry settings from the environment.
func LoadRegistry(getenv func(string) string) (Registry, error) {
	cfg := defaultRegistry()

	if v := getenv("REGISTRY_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := getenv("REGISTRY_JWT_SIGNING_KEY"); v != "" {
		cfg.JWTSigningKey = v
	}
	if v := getenv("MAX_PLUGIN_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxPluginSize = n
		}
	}

	return cfg, ValidateRegistry(cfg)
}

// overlayYAML unmarshals a raw YAML document over cfg via its struct tags,
// so only the fields present in the file replace the env-derived values,
// rather than hand-written field-by-field merging.
func overlayYAML(path string, cfg *Host) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// ValidateHost checks required fields and known-enum values.
func ValidateHost(cfg Host) error {
	if cfg.PluginsDir == "" {
		return fmt.Errorf("config: pluginsDir is required")
	}
	switch cfg.LoadingStrategy {
	case "auto", "sequential", "parallel", "bounded-parallel":
	default:
		return fmt.Errorf("config: loadingStrategy %q is not one of auto, sequential, parallel, bounded-parallel", cfg.LoadingStrategy)
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("config: batchSize must be positive")
	}
	return nil
}

// ValidateRegistry checks required fields.
func ValidateRegistry(cfg Registry) error {
	if cfg.Addr == "" {
		return fmt.Errorf("config: registry addr is required")
	}
	return nil
}
