package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ENGINE_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ENGINE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ENGINE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ENGINE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ENGINE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ENGINE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ENGINE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ENGINE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ENGINE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ENGINE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ENGINE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ENGINE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ENGINE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ENGINE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ENGINE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ENGINE_REDIS_TLS_ENABLED")

	// ── Engine ──
	setDecimal(&cfg.Engine.BalanceEpsilon, "ENGINE_BALANCE_EPSILON")
	setDecimal(&cfg.Engine.PeakEpsilon, "ENGINE_PEAK_EPSILON")
	setDecimal(&cfg.Engine.MinPurchasePrice, "ENGINE_MIN_PURCHASE_PRICE")
	setDuration(&cfg.Engine.StopLossLockTTL, "ENGINE_STOP_LOSS_LOCK_TTL")
	setBool(&cfg.Engine.MonitorEnabled, "ENGINE_MONITOR_ENABLED")
	setDuration(&cfg.Engine.MonitorInterval, "ENGINE_MONITOR_INTERVAL")
	setInt(&cfg.Engine.MonitorWorkers, "ENGINE_MONITOR_WORKERS")
	setBool(&cfg.Engine.PriceFeedEnabled, "ENGINE_PRICE_FEED_ENABLED")
	setDuration(&cfg.Engine.PriceCacheTTL, "ENGINE_PRICE_CACHE_TTL")
	setDuration(&cfg.Engine.SwapDedupTTL, "ENGINE_SWAP_DEDUP_TTL")

	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "ENGINE_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.APIKey, "ENGINE_ORACLE_API_KEY")
	setDuration(&cfg.Oracle.Timeout, "ENGINE_ORACLE_TIMEOUT")
	setInt(&cfg.Oracle.RateLimit, "ENGINE_ORACLE_RATE_LIMIT")
	setInt(&cfg.Oracle.MaxRetries, "ENGINE_ORACLE_MAX_RETRIES")

	// ── Executor ──
	setStr(&cfg.Executor.Mode, "ENGINE_EXECUTOR_MODE")
	setInt64(&cfg.Executor.SlippageBps, "ENGINE_EXECUTOR_SLIPPAGE_BPS")
	setDecimal(&cfg.Executor.FeeSol, "ENGINE_EXECUTOR_FEE_SOL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ENGINE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ENGINE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ENGINE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ENGINE_NOTIFY_EVENTS")
	setBool(&cfg.Notify.BusEnabled, "ENGINE_NOTIFY_BUS_ENABLED")
	setStr(&cfg.Notify.KafkaBrokers, "ENGINE_NOTIFY_KAFKA_BROKERS")
	setStr(&cfg.Notify.KafkaTopic, "ENGINE_NOTIFY_KAFKA_TOPIC")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ENGINE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ENGINE_SERVER_PORT")

	// ── Log ──
	setStr(&cfg.Log.Level, "ENGINE_LOG_LEVEL")
	setStr(&cfg.Log.File, "ENGINE_LOG_FILE")
	setBool(&cfg.Log.Console, "ENGINE_LOG_CONSOLE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			*dst = d
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
