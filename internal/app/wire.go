package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/cache/redis"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/config"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/executor"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/monitor"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/notify"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/price"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/risk"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/server"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/server/handler"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/service"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/store/postgres"
)

// Dependencies bundles everything the engine runs on. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Postgres *postgres.Client
	Redis    *redis.Client

	// Stores
	Balances     domain.BalanceStore
	Positions    domain.PositionStore
	Transactions domain.TransactionStore
	Configs      domain.TradingConfigStore
	Audit        domain.AuditStore
	Tx           domain.TxManager

	// Caches
	BalanceCache  domain.BalanceCache
	PositionCache domain.PositionCache
	ConfigCache   domain.TradingConfigCache
	Locks         domain.LockManager
	SignalBus     *redis.SignalBus

	// Services
	Ledger        *service.Ledger
	PositionMgr   *service.PositionManager
	TradingConfig *service.TradingConfigService
	Trades        *service.TradeService
	StopLoss      *risk.StopLossEvaluator

	Oracle   domain.PriceOracle
	Swaps    *executor.Dedup
	Events   domain.EventSink
	Monitor  *monitor.Monitor
	Server   *server.Server
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Postgres = pgClient

	if cfg.Postgres.RunMigrations {
		applied, err := pgClient.RunMigrations(ctx)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", zap.Strings("files", applied))
		}
	}

	pool := pgClient.Pool()
	deps.Balances = postgres.NewBalanceStore(pool)
	deps.Positions = postgres.NewPositionStore(pool)
	deps.Transactions = postgres.NewTransactionStore(pool)
	deps.Configs = postgres.NewTradingConfigStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)
	deps.Tx = pgClient.TxManager()

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout.Duration,
		ReadTimeout:  cfg.Redis.ReadTimeout.Duration,
		WriteTimeout: cfg.Redis.WriteTimeout.Duration,
		TLSEnabled:   cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Redis = redisClient

	deps.BalanceCache = redis.NewBalanceCache(redisClient)
	deps.PositionCache = redis.NewPositionCache(redisClient)
	deps.ConfigCache = redis.NewTradingConfigCache(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Event sinks ---
	var sinks notify.Multi
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
		sinks = append(sinks, deps.Notifier)
	}
	if cfg.Notify.BusEnabled {
		sinks = append(sinks, notify.NewBusSink(deps.SignalBus, redis.ChannelPositionEvents, redis.StreamPositionEvents, logger))
	}
	if cfg.Notify.KafkaBrokers != "" {
		ks := notify.NewKafkaSink(notify.NewKafkaWriter(cfg.Notify.KafkaBrokers), cfg.Notify.KafkaTopic, logger)
		closers = append(closers, func() {
			if err := ks.Close(); err != nil {
				logger.Warn("close kafka writer", zap.Error(err))
			}
		})
		sinks = append(sinks, ks)
	}
	deps.Events = sinks

	// --- Prices and swaps ---
	oracle := price.NewHTTPOracle(price.HTTPOracleConfig{
		BaseURL:    cfg.Oracle.BaseURL,
		APIKey:     cfg.Oracle.APIKey,
		Timeout:    cfg.Oracle.Timeout.Duration,
		RateLimit:  cfg.Oracle.RateLimit,
		MaxRetries: cfg.Oracle.MaxRetries,
	}, logger)
	shared := redis.NewPriceCache(redisClient, 4*cfg.Engine.PriceCacheTTL.Duration)
	deps.Oracle = price.NewCached(oracle, shared, cfg.Engine.PriceCacheTTL.Duration, logger)

	sim := executor.NewSimulated(deps.Oracle, executor.SimulatedConfig{
		SlippageBps: cfg.Executor.SlippageBps,
		FeeSol:      cfg.Executor.FeeSol,
	}, logger)
	deps.Swaps = executor.NewDedup(sim, cfg.Engine.SwapDedupTTL.Duration)

	// --- Services ---
	eps := cfg.Engine.BalanceEpsilon
	deps.Ledger = service.NewLedger(deps.Balances, deps.BalanceCache, deps.Tx, logger, service.WithBalanceEpsilon(eps))
	deps.PositionMgr = service.NewPositionManager(
		deps.Positions, deps.Transactions, deps.PositionCache, deps.Tx, deps.Events, deps.Audit, logger,
	)
	deps.TradingConfig = service.NewTradingConfigService(deps.Configs, deps.ConfigCache, deps.Audit, logger)
	deps.Trades = service.NewTradeService(
		deps.Transactions, deps.Ledger, deps.PositionMgr, deps.Swaps, deps.Tx, deps.Audit, logger,
	)
	deps.StopLoss = risk.NewStopLossEvaluator(deps.PositionMgr, deps.TradingConfig, deps.Locks, logger,
		risk.WithLockTTL(cfg.Engine.StopLossLockTTL.Duration),
		risk.WithPeakEpsilon(cfg.Engine.PeakEpsilon),
		risk.WithMinPurchasePrice(cfg.Engine.MinPurchasePrice),
	)

	deps.Monitor = monitor.New(
		deps.PositionMgr,
		deps.Oracle,
		deps.TradingConfig,
		deps.StopLoss,
		risk.NewDCAEvaluator(eps),
		risk.NewTakeProfitEvaluator(eps),
		deps.Trades,
		monitor.Config{
			Interval: cfg.Engine.MonitorInterval.Duration,
			Workers:  cfg.Engine.MonitorWorkers,
		},
		logger,
	)

	if cfg.Server.Enabled {
		health := handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": pgClient,
			"redis":    redisClient,
		}, logger)
		deps.Server = server.NewServer(server.Config{Port: cfg.Server.Port}, health, logger)
	}

	return deps, cleanup, nil
}
