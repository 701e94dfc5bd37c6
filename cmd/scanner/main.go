// Command scanner polls the Polymarket Gamma API, keeps the configured store
// up to date and emits market change events. It loads configuration, builds
// the logger, sets up signal handling and runs the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/marketscanner/internal/app"
	"github.com/alanyoungcy/marketscanner/internal/config"
	"github.com/alanyoungcy/marketscanner/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "optional TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	logger, logCloser, err := logging.New(os.Stdout, logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	redacted := config.Redacted(cfg)
	logger.Info("market scanner starting",
		slog.String("mode", cfg.Mode),
		slog.String("storage", cfg.Storage.Type),
		slog.String("database_url", redacted.Storage.DatabaseURL),
		slog.String("kv_url", redacted.Storage.KVURL),
		slog.String("json_path", cfg.Storage.JSONPath),
		slog.String("gamma_host", cfg.Gamma.Host),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	logger.Info("market scanner stopped")
	return 0
}
