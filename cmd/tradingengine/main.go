// Command tradingengine is the entry point for the trading state engine. It
// loads configuration, validates it, sets up logging and signal handling, and
// runs the position monitor until shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/app"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/config"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (empty for env only)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, _, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("trading engine starting",
		zap.String("config", *configPath),
		zap.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", zap.Error(err))
		application.Close()
		_ = logger.Sync()
		os.Exit(1)
	}

	logger.Info("trading engine stopped")
}
