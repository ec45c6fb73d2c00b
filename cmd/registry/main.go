// Command registry runs the plugin registry HTTP service: upload, list,
// download, delete, and version-management endpoints backed by an
// in-memory artifact store.
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
	"github.com/GoCodeAlone/pluginhost/registry"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadRegistry(os.Getenv)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}
	if cfg.JWTSigningKey == "" {
		logger.Warn("REGISTRY_JWT_SIGNING_KEY is unset; admin-protected endpoints will reject every token")
	}

	store := registry.NewStore(cfg.MaxPluginSize)
	router := registry.NewRouter(store, registry.Config{
		JWTSigningKey:   []byte(cfg.JWTSigningKey),
		MaxArtifactSize: cfg.MaxPluginSize,
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: router}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	go func() {
		logger.Info("registry server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("registry server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down registry")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	if err := srv.Shutdown(shCtx); err != nil {
		logger.Error("registry server shutdown error", "error", err)
	}
}
