// Package main is the entry point for the MATOS server. It loads
// configuration, connects to MariaDB, Redis and the blob store, wires the
// plugins and serves HTTP until interrupted.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/asascience/matos/internal/app"
	"github.com/asascience/matos/internal/blobstore"
	"github.com/asascience/matos/internal/config"
	"github.com/asascience/matos/internal/database"
	"github.com/asascience/matos/internal/policy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	setupLogging(cfg)

	slog.Info("starting MATOS",
		slog.String("env", cfg.Env),
		slog.Int("port", cfg.Port),
	)

	db, err := database.NewMariaDB(cfg.Database)
	if err != nil {
		slog.Error("failed to connect to MariaDB", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to MariaDB")

	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to Redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer rdb.Close()
	slog.Info("connected to Redis")

	blobs, err := blobstore.Open(context.Background(), cfg.Blob)
	if err != nil {
		slog.Error("failed to open blob store", slog.Any("error", err))
		os.Exit(1)
	}

	enforcer, err := policy.NewDefaultEnforcer(cfg.PolicyFile)
	if err != nil {
		slog.Error("failed to compile policy", slog.Any("error", err))
		os.Exit(1)
	}

	application := app.New(cfg, db, rdb, blobs, enforcer)
	application.RegisterRoutes()

	// Drain in-flight requests on SIGINT/SIGTERM.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Echo.Shutdown(ctx); err != nil {
			slog.Error("server forced shutdown", slog.Any("error", err))
		}
	}()

	if err := application.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// setupLogging uses text output in development and JSON elsewhere, at the
// level named by LOG_LEVEL.
func setupLogging(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}

	var handler slog.Handler
	if cfg.IsDevelopment() {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
