package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/humanfirst-ai/attune"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("ATTUNE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	slog.Info("attuned starting", "version", version)

	app, err := attune.New(ctx,
		attune.WithLogger(logger),
		attune.WithVersion(version),
	)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	runErr := app.Run(ctx)

	// Graceful shutdown gets its own deadline; ctx is already canceled.
	slog.Info("attuned shutting down")
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := app.Close(closeCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	if runErr != nil {
		return runErr
	}
	slog.Info("attuned stopped")
	return nil
}
