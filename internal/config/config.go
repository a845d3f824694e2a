// Package config defines the top-level configuration for the trading engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ENGINE_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Engine   EngineConfig   `toml:"engine"`
	Oracle   OracleConfig   `toml:"oracle"`
	Executor ExecutorConfig `toml:"executor"`
	Notify   NotifyConfig   `toml:"notify"`
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	DialTimeout  duration `toml:"dial_timeout"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
	TLSEnabled   bool     `toml:"tls_enabled"`
}

// EngineConfig holds the tolerances and pacing of the state engine.
// Decimal fields are written as TOML strings ("0.00000001").
type EngineConfig struct {
	BalanceEpsilon   decimal.Decimal `toml:"balance_epsilon"`
	PeakEpsilon      decimal.Decimal `toml:"peak_epsilon"`
	MinPurchasePrice decimal.Decimal `toml:"min_purchase_price"`
	StopLossLockTTL  duration        `toml:"stop_loss_lock_ttl"`
	MonitorEnabled   bool            `toml:"monitor_enabled"`
	MonitorInterval  duration        `toml:"monitor_interval"`
	MonitorWorkers   int             `toml:"monitor_workers"`
	PriceFeedEnabled bool            `toml:"price_feed_enabled"`
	PriceCacheTTL    duration        `toml:"price_cache_ttl"`
	SwapDedupTTL     duration        `toml:"swap_dedup_ttl"`
}

// OracleConfig holds the price oracle endpoint.
type OracleConfig struct {
	BaseURL    string   `toml:"base_url"`
	APIKey     string   `toml:"api_key"`
	Timeout    duration `toml:"timeout"`
	RateLimit  int      `toml:"rate_limit"` // requests per minute
	MaxRetries int      `toml:"max_retries"`
}

// ExecutorConfig selects and tunes the swap executor.
type ExecutorConfig struct {
	Mode        string          `toml:"mode"`
	SlippageBps int64           `toml:"slippage_bps"`
	FeeSol      decimal.Decimal `toml:"fee_sol"`
}

// NotifyConfig holds notification channel credentials and sinks.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	BusEnabled        bool     `toml:"bus_enabled"`
	KafkaBrokers      string   `toml:"kafka_brokers"`
	KafkaTopic        string   `toml:"kafka_topic"`
}

// ServerConfig holds the ops HTTP server parameters (health and metrics).
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// LogConfig holds logger settings. An empty File logs to the console only.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Console    bool   `toml:"console"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "trading_engine",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			DialTimeout:  duration{5 * time.Second},
			ReadTimeout:  duration{3 * time.Second},
			WriteTimeout: duration{3 * time.Second},
		},
		Engine: EngineConfig{
			BalanceEpsilon:   decimal.New(1, -8),
			PeakEpsilon:      decimal.New(1, -4),
			MinPurchasePrice: decimal.New(1, -12),
			StopLossLockTTL:  duration{10 * time.Second},
			MonitorEnabled:   true,
			MonitorInterval:  duration{5 * time.Second},
			MonitorWorkers:   8,
			PriceFeedEnabled: false,
			PriceCacheTTL:    duration{2 * time.Second},
			SwapDedupTTL:     duration{30 * time.Second},
		},
		Oracle: OracleConfig{
			BaseURL:    "https://lite-api.jup.ag/price/v2",
			Timeout:    duration{5 * time.Second},
			RateLimit:  600,
			MaxRetries: 2,
		},
		Executor: ExecutorConfig{
			Mode:        "simulated",
			SlippageBps: 50,
			FeeSol:      decimal.New(5, -6),
		},
		Notify: NotifyConfig{
			Events:     []string{"position_created", "position_closed"},
			BusEnabled: true,
			KafkaTopic: "trading-engine.positions",
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    9102,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Console:    true,
		},
	}
}

// validLogLevels enumerates the accepted values for LogConfig.Level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validExecutorModes = map[string]bool{
	"simulated": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log: unknown level %q (valid: debug, info, warn, error)", c.Log.Level))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Engine
	if !c.Engine.BalanceEpsilon.IsPositive() {
		errs = append(errs, "engine: balance_epsilon must be > 0")
	}
	if !c.Engine.PeakEpsilon.IsPositive() {
		errs = append(errs, "engine: peak_epsilon must be > 0")
	}
	if !c.Engine.MinPurchasePrice.IsPositive() {
		errs = append(errs, "engine: min_purchase_price must be > 0")
	}
	if c.Engine.StopLossLockTTL.Duration <= 0 {
		errs = append(errs, "engine: stop_loss_lock_ttl must be > 0")
	}
	if c.Engine.MonitorEnabled {
		if c.Engine.MonitorInterval.Duration <= 0 {
			errs = append(errs, "engine: monitor_interval must be > 0")
		}
		if c.Engine.MonitorWorkers < 1 {
			errs = append(errs, "engine: monitor_workers must be >= 1")
		}
		if c.Oracle.BaseURL == "" {
			errs = append(errs, "oracle: base_url must not be empty when the monitor is enabled")
		}
	}

	// Executor
	if !validExecutorModes[strings.ToLower(c.Executor.Mode)] {
		errs = append(errs, fmt.Sprintf("executor: unknown mode %q (valid: simulated)", c.Executor.Mode))
	}
	if c.Executor.SlippageBps < 0 || c.Executor.SlippageBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("executor: slippage_bps must be 0-9999, got %d", c.Executor.SlippageBps))
	}
	if c.Executor.FeeSol.IsNegative() {
		errs = append(errs, "executor: fee_sol must be >= 0")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	if c.Notify.KafkaBrokers != "" && c.Notify.KafkaTopic == "" {
		errs = append(errs, "notify: kafka_topic is required when kafka_brokers is set")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
