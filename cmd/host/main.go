// Command host runs the plugin host process: it discovers, validates, and
// loads plugins from PLUGINS_DIR, watches the directory for changes, and
// serves Prometheus metrics.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoCodeAlone/pluginhost/config"
	"github.com/GoCodeAlone/pluginhost/host"
	"github.com/GoCodeAlone/pluginhost/manifest"
	"github.com/GoCodeAlone/pluginhost/metrics"
	"github.com/GoCodeAlone/pluginhost/orchestrator"
	"github.com/GoCodeAlone/pluginhost/scanner"
	"github.com/GoCodeAlone/pluginhost/tracing"
	"github.com/GoCodeAlone/pluginhost/watcher"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadHost(os.Getenv)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    "pluginhost-host",
		ServiceVersion: "dev",
		SampleRate:     1.0,
	})
	if err != nil {
		logger.Error("failed to start tracing provider", "error", err)
		os.Exit(1)
	}
	defer func() {
		shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shCancel()
		if err := tp.Shutdown(shCtx); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
	}()

	collector := metrics.New()
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: collector.Handler()}
	go func() {
		logger.Info("metrics server listening", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	h := host.New(host.Config{
		PluginsDir:       cfg.PluginsDir,
		Strategy:         orchestrator.Strategy(cfg.LoadingStrategy),
		PerPluginTimeout: 30 * time.Second,
		ScannerLimits: scanner.Limits{
			MaxContentSize: cfg.MaxContentSize,
			MaxIterations:  10000,
			RegexTimeoutMs: cfg.RegexTimeoutMs,
		},
		CacheConfig: manifest.CacheConfig{
			MaxSize:    cfg.ValidationCacheSize,
			DefaultTTL: cfg.ValidationCacheTTL,
		},
		Logger:  logger,
		Metrics: collector,
	})

	if _, err := h.LoadAll(ctx, orchestrator.Strategy(cfg.LoadingStrategy)); err != nil {
		logger.Error("initial load failed", "error", err)
	}

	w := watcher.New(cfg.PluginsDir, func() {
		logger.Info("plugin directory changed, reloading")
		if _, err := h.Reload(ctx); err != nil {
			logger.Error("reload failed", "error", err)
		}
	}, watcher.WithLogger(logger))
	if err := w.Start(); err != nil {
		logger.Error("failed to start plugin directory watcher", "error", err)
	}
	defer w.Stop()

	<-ctx.Done()
	logger.Info("shutting down host")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	if err := metricsSrv.Shutdown(shCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}
}
