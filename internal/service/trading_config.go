package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/metrics"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/tradingcfg"
)

// TradingConfigService resolves per-agent trading configuration: stored
// documents are merged over the defaults, migrated and validated before use.
type TradingConfigService struct {
	store  domain.TradingConfigStore
	cache  domain.TradingConfigCache
	audit  domain.AuditStore
	logger *zap.Logger
}

// NewTradingConfigService creates a TradingConfigService.
func NewTradingConfigService(store domain.TradingConfigStore, cache domain.TradingConfigCache, audit domain.AuditStore, logger *zap.Logger) *TradingConfigService {
	return &TradingConfigService{
		store:  store,
		cache:  cache,
		audit:  audit,
		logger: logger.With(zap.String("component", "trading_config")),
	}
}

// Load returns the agent's resolved configuration. Agents that never saved
// one get the defaults.
func (s *TradingConfigService) Load(ctx context.Context, agentID string) (domain.TradingConfig, error) {
	cfg, err := s.cache.Get(ctx, agentID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		metrics.CacheFallbacks.WithLabelValues("trading_config", "error").Inc()
		s.logger.Warn("cache read failed, using store", zap.String("agent_id", agentID), zap.Error(err))
	} else {
		metrics.CacheFallbacks.WithLabelValues("trading_config", "miss").Inc()
	}

	raw, err := s.store.Get(ctx, agentID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		cfg = tradingcfg.Defaults()
	case err != nil:
		return domain.TradingConfig{}, fmt.Errorf("trading_config: load %s: %w", agentID, err)
	default:
		cfg, err = tradingcfg.Resolve(raw)
		if err != nil {
			return domain.TradingConfig{}, fmt.Errorf("trading_config: resolve %s: %w", agentID, err)
		}
	}

	if err := s.cache.Set(ctx, agentID, cfg); err != nil {
		metrics.CacheWriteFailures.WithLabelValues("trading_config").Inc()
		s.logger.Warn("cache write failed", zap.String("agent_id", agentID), zap.Error(err))
	}
	return cfg, nil
}

// MergePartial applies a partial document over existing. Absent fields are
// kept, explicit nulls clear optional signal bounds, arrays are replaced.
func (s *TradingConfigService) MergePartial(existing domain.TradingConfig, partial tradingcfg.Partial) domain.TradingConfig {
	return tradingcfg.Merge(existing, partial)
}

// Update loads the agent's configuration, merges raw (a partial JSON
// document) over it and saves the result.
func (s *TradingConfigService) Update(ctx context.Context, agentID string, raw []byte) (domain.TradingConfig, error) {
	partial, err := tradingcfg.DecodePartial(raw)
	if err != nil {
		return domain.TradingConfig{}, err
	}
	current, err := s.Load(ctx, agentID)
	if err != nil {
		return domain.TradingConfig{}, err
	}
	merged := s.MergePartial(current, partial)
	if err := s.Save(ctx, agentID, &merged); err != nil {
		return domain.TradingConfig{}, err
	}
	return tradingcfg.Normalize(merged), nil
}

// Save persists cfg for the agent; nil resets to the defaults. The cache
// entry is dropped after every successful write.
func (s *TradingConfigService) Save(ctx context.Context, agentID string, cfg *domain.TradingConfig) error {
	resolved := tradingcfg.Defaults()
	if cfg != nil {
		resolved = tradingcfg.Normalize(*cfg)
	}
	if err := tradingcfg.Validate(resolved); err != nil {
		return err
	}

	doc, err := sonic.Marshal(resolved)
	if err != nil {
		return fmt.Errorf("trading_config: marshal %s: %w", agentID, err)
	}
	if err := s.store.Upsert(ctx, agentID, doc); err != nil {
		return fmt.Errorf("trading_config: save %s: %w", agentID, err)
	}

	if err := s.cache.Invalidate(ctx, agentID); err != nil {
		metrics.CacheWriteFailures.WithLabelValues("trading_config").Inc()
		s.logger.Warn("cache invalidate failed", zap.String("agent_id", agentID), zap.Error(err))
	}

	if err := s.audit.Log(ctx, "trading_config_saved", map[string]any{
		"agent_id": agentID,
		"reset":    cfg == nil,
	}); err != nil {
		s.logger.Warn("audit log failed", zap.String("agent_id", agentID), zap.Error(err))
	}

	s.logger.Info("trading config saved", zap.String("agent_id", agentID), zap.Bool("reset", cfg == nil))
	return nil
}
