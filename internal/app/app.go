// Package app provides the top-level application lifecycle management for the
// trading engine. It wires together all dependencies (stores, caches, price
// oracle, swap executor, services and event sinks) and runs the background
// loops until shutdown.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/cache/redis"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *zap.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "app")),
	}
}

// Run wires all dependencies, starts the position monitor, the price feed,
// the swap dedup janitor and the ops server, and blocks until the context is
// cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting trading engine",
		zap.Bool("monitor", a.cfg.Engine.MonitorEnabled),
		zap.Bool("server", a.cfg.Server.Enabled),
		zap.String("executor", a.cfg.Executor.Mode),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger.Named("engine"))
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Engine.MonitorEnabled {
		g.Go(func() error {
			return deps.Monitor.Run(ctx)
		})
	}

	if a.cfg.Engine.PriceFeedEnabled {
		g.Go(func() error {
			return deps.Monitor.RunPriceFeed(ctx, deps.SignalBus, redis.ChannelPriceTicks)
		})
	}

	g.Go(func() error {
		return deps.Swaps.RunCleanup(ctx, time.Minute)
	})

	if deps.Server != nil {
		g.Go(func() error {
			return deps.Server.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return deps.Server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
