package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/metrics"
)

// PositionManager creates, mutates and closes positions. It is the only
// writer of positions and keeps the cache row and its agent/token index
// memberships in step with the store.
//
// Read-modify-write mutations run in a store transaction holding the row
// lock, so concurrent stop-loss, DCA and take-profit writes to one position
// serialize instead of losing updates.
type PositionManager struct {
	store  domain.PositionStore
	txs    domain.TransactionStore
	cache  domain.PositionCache
	tx     domain.TxManager
	events domain.EventSink
	audit  domain.AuditStore
	logger *zap.Logger
	now    func() time.Time
}

// NewPositionManager creates a PositionManager with all required dependencies.
func NewPositionManager(
	store domain.PositionStore,
	txs domain.TransactionStore,
	cache domain.PositionCache,
	tx domain.TxManager,
	events domain.EventSink,
	audit domain.AuditStore,
	logger *zap.Logger,
) *PositionManager {
	return &PositionManager{
		store:  store,
		txs:    txs,
		cache:  cache,
		tx:     tx,
		events: events,
		audit:  audit,
		logger: logger.With(zap.String("component", "position_manager")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateParams describes a position opened by a confirmed buy.
type CreateParams struct {
	AgentID        string
	Wallet         string
	TransactionID  string
	Token          string
	Symbol         string
	PurchasePrice  decimal.Decimal
	PurchaseAmount decimal.Decimal
	// InvestedOverride replaces the buy's input amount as total invested.
	InvestedOverride *decimal.Decimal
}

// Create opens a position. It fails when the transaction is missing, belongs
// to another agent or wallet, is not a buy, or a position for the same
// (agent, wallet, token) is already open. Inside a transaction the cache and
// the position_created event are left to PublishCommitted.
func (m *PositionManager) Create(ctx context.Context, p CreateParams) (domain.Position, error) {
	if p.AgentID == "" || p.Wallet == "" || p.Token == "" || p.TransactionID == "" {
		return domain.Position{}, domain.Validationf("missing_position_fields", "agent, wallet, token and transaction are required")
	}
	if !p.PurchasePrice.IsPositive() || !p.PurchaseAmount.IsPositive() {
		return domain.Position{}, domain.Validationf("invalid_position_amounts",
			"purchase price %s and amount %s must be positive", p.PurchasePrice, p.PurchaseAmount)
	}

	tx, err := m.txs.GetByID(ctx, p.TransactionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Position{}, domain.NotFoundf(domain.ErrTransactionNotFound, "transaction_not_found", "%s", p.TransactionID)
		}
		return domain.Position{}, fmt.Errorf("position_manager: get transaction %s: %w", p.TransactionID, err)
	}
	if tx.AgentID != p.AgentID || tx.WalletAddress != p.Wallet {
		return domain.Position{}, domain.Validationf("transaction_owner_mismatch",
			"transaction %s does not belong to agent %s wallet %s", tx.ID, p.AgentID, p.Wallet)
	}
	if !tx.IsBuy() {
		return domain.Position{}, domain.Invalidf(domain.ErrNotBuyTransaction, "not_buy_transaction", "%s", tx.ID)
	}

	if _, err := m.store.GetByAgentWalletToken(ctx, p.AgentID, p.Wallet, p.Token); err == nil {
		return domain.Position{}, domain.Conflictf(domain.ErrPositionExists, "position_exists",
			"agent %s wallet %s token %s", p.AgentID, p.Wallet, p.Token)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Position{}, fmt.Errorf("position_manager: check existing position: %w", err)
	}

	invested := tx.InputAmount
	if p.InvestedOverride != nil {
		invested = *p.InvestedOverride
	}

	now := m.now()
	pos := domain.Position{
		ID:                       uuid.NewString(),
		AgentID:                  p.AgentID,
		WalletAddress:            p.Wallet,
		TokenAddress:             p.Token,
		TokenSymbol:              p.Symbol,
		PurchaseTransactionID:    p.TransactionID,
		PurchasePrice:            p.PurchasePrice,
		PurchaseAmount:           p.PurchaseAmount,
		TotalInvested:            invested,
		DCATransactionIDs:        []string{},
		LowestPrice:              domain.DecimalPtr(p.PurchasePrice),
		TakeProfitTransactionIDs: []string{},
		RealizedProfit:           decimal.Zero,
		CreatedAt:                now,
		UpdatedAt:                now,
	}

	if err := m.store.Create(ctx, pos); err != nil {
		if errors.Is(err, domain.ErrPositionExists) {
			return domain.Position{}, domain.Conflictf(domain.ErrPositionExists, "position_exists",
				"agent %s wallet %s token %s", p.AgentID, p.Wallet, p.Token)
		}
		return domain.Position{}, fmt.Errorf("position_manager: create position: %w", err)
	}

	m.auditLog(ctx, "position_created", pos, map[string]any{
		"purchase_price":  pos.PurchasePrice.String(),
		"purchase_amount": pos.PurchaseAmount.String(),
		"invested":        pos.TotalInvested.String(),
		"transaction_id":  pos.PurchaseTransactionID,
	})

	if !m.tx.InTx(ctx) {
		m.PublishCommitted(ctx, pos, domain.PositionCreated)
	}

	m.logger.Info("position opened",
		zap.String("position_id", pos.ID),
		zap.String("agent_id", pos.AgentID),
		zap.String("token", pos.TokenAddress),
		zap.String("purchase_price", pos.PurchasePrice.String()),
		zap.String("purchase_amount", pos.PurchaseAmount.String()),
	)
	return pos, nil
}

// Update applies stop-loss bookkeeping.
func (m *PositionManager) Update(ctx context.Context, id string, upd domain.StopLossUpdate) (domain.Position, error) {
	if upd.PeakPrice != nil && !upd.PeakPrice.IsPositive() {
		return domain.Position{}, domain.Validationf("invalid_peak_price", "peak price %s must be positive", *upd.PeakPrice)
	}
	if _, err := m.Get(ctx, id); err != nil {
		return domain.Position{}, err
	}

	return m.mutate(ctx, id, func(p *domain.Position) (bool, error) {
		if upd.StopLossPct != nil {
			p.CurrentStopLossPct = domain.DecimalPtr(*upd.StopLossPct)
		}
		if upd.PeakPrice != nil {
			p.PeakPrice = domain.DecimalPtr(*upd.PeakPrice)
		}
		now := m.now()
		p.LastStopLossUpdate = &now
		return true, nil
	})
}

// ApplyDCA records a confirmed DCA buy. Tokens bought after a partial
// take-profit are added to the remaining amount, and the take-profit ladder
// is appended after the levels already hit rather than renumbered.
func (m *PositionManager) ApplyDCA(ctx context.Context, id string, u domain.DCAUpdate) (domain.Position, error) {
	if !u.NewAveragePrice.IsPositive() {
		return domain.Position{}, domain.Validationf("invalid_average_price", "new average price %s must be positive", u.NewAveragePrice)
	}
	if !u.NewTotalAmount.IsPositive() || u.TokensAcquired.IsNegative() {
		return domain.Position{}, domain.Validationf("invalid_dca_amounts",
			"total amount %s and tokens acquired %s", u.NewTotalAmount, u.TokensAcquired)
	}

	pos, err := m.mutate(ctx, id, func(p *domain.Position) (bool, error) {
		if u.ExpectedVersion != nil && p.Version != *u.ExpectedVersion {
			return false, domain.Conflictf(nil, "stale_position",
				"position %s is at version %d, update was computed from %d", p.ID, p.Version, *u.ExpectedVersion)
		}
		p.PurchasePrice = u.NewAveragePrice
		p.PurchaseAmount = u.NewTotalAmount
		p.TotalInvested = u.NewTotalInvested
		if u.TransactionID != "" {
			p.DCATransactionIDs = append(p.DCATransactionIDs, u.TransactionID)
		}
		p.DCACount++
		now := m.now()
		p.LastDCATime = &now
		if p.LowestPrice == nil || u.NewAveragePrice.LessThan(*p.LowestPrice) {
			p.LowestPrice = domain.DecimalPtr(u.NewAveragePrice)
		}

		if p.RemainingAmount != nil {
			p.RemainingAmount = domain.DecimalPtr(p.RemainingAmount.Add(u.TokensAcquired))
		}
		p.TPBatchStartLevel = p.TakeProfitLevelsHit
		total := p.TakeProfitLevelsHit + u.ConfiguredLevelCount
		p.TotalTakeProfitLevels = &total
		return true, nil
	})
	if err != nil {
		return domain.Position{}, err
	}

	m.auditLog(ctx, "position_dca", pos, map[string]any{
		"transaction_id":  u.TransactionID,
		"average_price":   u.NewAveragePrice.String(),
		"total_amount":    u.NewTotalAmount.String(),
		"tokens_acquired": u.TokensAcquired.String(),
		"dca_count":       pos.DCACount,
	})
	return pos, nil
}

// ApplyTakeProfit records a confirmed take-profit sell. With SoldAmount set
// the remainder is derived from the locked row, so tokens a concurrent DCA
// added are kept.
func (m *PositionManager) ApplyTakeProfit(ctx context.Context, id string, u domain.TakeProfitUpdate) (domain.Position, error) {
	if u.NewRemainingAmount.IsNegative() {
		return domain.Position{}, domain.Validationf("invalid_remaining_amount", "remaining amount %s is negative", u.NewRemainingAmount)
	}
	if u.SoldAmount != nil && !u.SoldAmount.IsPositive() {
		return domain.Position{}, domain.Validationf("invalid_sold_amount", "sold amount %s must be positive", *u.SoldAmount)
	}
	if u.LevelsExecuted < 0 {
		return domain.Position{}, domain.Validationf("invalid_levels_executed", "levels executed %d is negative", u.LevelsExecuted)
	}
	if u.MoonBagAmount != nil && u.MoonBagAmount.IsNegative() {
		return domain.Position{}, domain.Validationf("invalid_moon_bag", "moon bag amount %s is negative", *u.MoonBagAmount)
	}

	pos, err := m.mutate(ctx, id, func(p *domain.Position) (bool, error) {
		remaining := u.NewRemainingAmount
		if u.SoldAmount != nil {
			remaining = decimal.Max(p.EffectiveRemaining().Sub(*u.SoldAmount), decimal.Zero)
		}
		p.RemainingAmount = domain.DecimalPtr(remaining)
		if u.RealizedPnLDelta != nil {
			p.RealizedProfit = p.RealizedProfit.Add(*u.RealizedPnLDelta)
		}
		if u.TransactionID != "" {
			p.TakeProfitTransactionIDs = append(p.TakeProfitTransactionIDs, u.TransactionID)
		}
		p.TakeProfitLevelsHit += u.LevelsExecuted
		if u.ActivateMoonBag {
			p.MoonBagActivated = true
			if u.MoonBagAmount != nil {
				p.MoonBagAmount = domain.DecimalPtr(*u.MoonBagAmount)
			}
		}
		return true, nil
	})
	if err != nil {
		return domain.Position{}, err
	}

	m.auditLog(ctx, "position_take_profit", pos, map[string]any{
		"transaction_id":   u.TransactionID,
		"levels_executed":  u.LevelsExecuted,
		"remaining_amount": pos.EffectiveRemaining().String(),
		"moon_bag":         pos.MoonBagActivated,
	})
	return pos, nil
}

// RecordLowestPrice lowers the tracked lowest price when price is below it.
func (m *PositionManager) RecordLowestPrice(ctx context.Context, id string, price decimal.Decimal) (domain.Position, error) {
	if !price.IsPositive() {
		return domain.Position{}, domain.Validationf("invalid_price", "price %s must be positive", price)
	}
	return m.mutate(ctx, id, func(p *domain.Position) (bool, error) {
		if p.LowestPrice != nil && !price.LessThan(*p.LowestPrice) {
			return false, nil
		}
		p.LowestPrice = domain.DecimalPtr(price)
		return true, nil
	})
}

// Close destroys an open position. The row is read from the store so the
// audit entry carries what was committed. Inside a transaction the cache
// cleanup and the position_closed event are left to PublishCommitted.
func (m *PositionManager) Close(ctx context.Context, id string) (domain.Position, error) {
	pos, err := m.Reload(ctx, id)
	if err != nil {
		return domain.Position{}, err
	}

	if err := m.store.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Position{}, domain.NotFoundf(domain.ErrPositionNotFound, "position_not_found", "%s", id)
		}
		return domain.Position{}, fmt.Errorf("position_manager: delete position %s: %w", id, err)
	}

	m.auditLog(ctx, "position_closed", pos, map[string]any{
		"realized_profit": pos.RealizedProfit.String(),
	})

	if !m.tx.InTx(ctx) {
		m.PublishCommitted(ctx, pos, domain.PositionClosed)
	}

	m.logger.Info("position closed",
		zap.String("position_id", pos.ID),
		zap.String("agent_id", pos.AgentID),
		zap.String("token", pos.TokenAddress),
	)
	return pos, nil
}

// CloseWithProfit books a final realized P&L on the position and closes it
// in one unit of work.
func (m *PositionManager) CloseWithProfit(ctx context.Context, id string, pnl decimal.Decimal) (domain.Position, error) {
	outer := m.tx.InTx(ctx)
	var closed domain.Position
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		_, err := m.mutate(ctx, id, func(p *domain.Position) (bool, error) {
			p.RealizedProfit = p.RealizedProfit.Add(pnl)
			return true, nil
		})
		if err != nil {
			return err
		}
		closed, err = m.Close(ctx, id)
		return err
	})
	if err != nil {
		return domain.Position{}, err
	}
	if !outer {
		m.PublishCommitted(ctx, closed, domain.PositionClosed)
	}
	return closed, nil
}

// PublishCommitted mirrors a committed change into the cache and emits its
// event. Callers that mutated inside their own transaction call it after
// commit.
func (m *PositionManager) PublishCommitted(ctx context.Context, pos domain.Position, evType domain.PositionEventType) {
	if evType == domain.PositionClosed {
		if err := m.cache.Delete(ctx, pos); err != nil {
			metrics.CacheWriteFailures.WithLabelValues("position").Inc()
			m.logger.Warn("cache delete failed", zap.String("position_id", pos.ID), zap.Error(err))
		}
	} else {
		m.writeCache(ctx, pos)
	}

	ev := domain.PositionEvent{
		Type:          evType,
		AgentID:       pos.AgentID,
		WalletAddress: pos.WalletAddress,
		TokenAddress:  pos.TokenAddress,
		PositionID:    pos.ID,
		At:            m.now(),
	}
	snapshot := pos.Clone()
	ev.Position = &snapshot
	m.events.Publish(ctx, ev)
}

// Get reads a position cache-aside.
func (m *PositionManager) Get(ctx context.Context, id string) (domain.Position, error) {
	pos, err := m.cache.Get(ctx, id)
	if err == nil {
		return pos, nil
	}
	m.noteCacheMiss(id, err)

	pos, err = m.Reload(ctx, id)
	if err != nil {
		return domain.Position{}, err
	}
	m.writeCache(ctx, pos)
	return pos, nil
}

// Reload reads a position from the store, bypassing the cache.
func (m *PositionManager) Reload(ctx context.Context, id string) (domain.Position, error) {
	pos, err := m.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Position{}, domain.NotFoundf(domain.ErrPositionNotFound, "position_not_found", "%s", id)
		}
		return domain.Position{}, fmt.Errorf("position_manager: get position %s: %w", id, err)
	}
	return pos, nil
}

// FindOpen returns the open position of (agent, wallet, token) from the
// store.
func (m *PositionManager) FindOpen(ctx context.Context, agentID, wallet, token string) (domain.Position, error) {
	pos, err := m.store.GetByAgentWalletToken(ctx, agentID, wallet, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Position{}, domain.NotFoundf(domain.ErrPositionNotFound, "position_not_found",
				"agent %s wallet %s token %s", agentID, wallet, token)
		}
		return domain.Position{}, fmt.Errorf("position_manager: find position %s/%s: %w", wallet, token, err)
	}
	return pos, nil
}

// ListByAgent returns an agent's open positions, index first.
func (m *PositionManager) ListByAgent(ctx context.Context, agentID string) ([]domain.Position, error) {
	ids, err := m.cache.IDsByAgent(ctx, agentID)
	if err != nil {
		m.logger.Warn("agent index read failed, using store", zap.String("agent_id", agentID), zap.Error(err))
	}
	if len(ids) > 0 {
		return m.resolveIDs(ctx, ids, domain.Position{AgentID: agentID})
	}

	metrics.CacheFallbacks.WithLabelValues("position_index", "empty").Inc()
	positions, err := m.store.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("position_manager: list positions of %s: %w", agentID, err)
	}
	m.warm(ctx, positions)
	return positions, nil
}

// QueryByToken returns the open positions in token across all agents,
// matching the address case-insensitively. The token index is used when it
// has entries; an empty index falls back to the store and is warmed.
func (m *PositionManager) QueryByToken(ctx context.Context, token string) ([]domain.Position, error) {
	ids, err := m.cache.IDsByToken(ctx, token)
	if err != nil {
		m.logger.Warn("token index read failed, using store", zap.String("token", token), zap.Error(err))
	}
	if len(ids) > 0 {
		return m.resolveIDs(ctx, ids, domain.Position{TokenAddress: token})
	}

	metrics.CacheFallbacks.WithLabelValues("position_index", "empty").Inc()
	positions, err := m.store.ListByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("position_manager: list positions in %s: %w", token, err)
	}
	m.warm(ctx, positions)
	return positions, nil
}

// ListTokens returns the tokens that have at least one open position.
func (m *PositionManager) ListTokens(ctx context.Context) ([]string, error) {
	tokens, err := m.store.ListTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("position_manager: list tokens: %w", err)
	}
	return tokens, nil
}

// resolveIDs loads indexed ids cache-aside. Ids whose row is gone are
// dropped from the index; stale carries the index key being read.
func (m *PositionManager) resolveIDs(ctx context.Context, ids []string, stale domain.Position) ([]domain.Position, error) {
	out := make([]domain.Position, 0, len(ids))
	for _, id := range ids {
		pos, err := m.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s := stale
				s.ID = id
				if err := m.cache.Delete(ctx, s); err != nil {
					m.logger.Debug("drop stale index entry", zap.String("position_id", id), zap.Error(err))
				}
				continue
			}
			return nil, err
		}
		if stale.TokenAddress != "" && !strings.EqualFold(pos.TokenAddress, stale.TokenAddress) {
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

func (m *PositionManager) warm(ctx context.Context, positions []domain.Position) {
	for _, pos := range positions {
		m.writeCache(ctx, pos)
	}
}

// mutate runs fn against the row-locked position and writes the result with
// a version bump. fn reports whether it changed anything.
func (m *PositionManager) mutate(ctx context.Context, id string, fn func(*domain.Position) (bool, error)) (domain.Position, error) {
	outer := m.tx.InTx(ctx)
	var out domain.Position
	changed := false

	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		pos, err := m.store.GetForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.NotFoundf(domain.ErrPositionNotFound, "position_not_found", "%s", id)
			}
			return fmt.Errorf("position_manager: lock position %s: %w", id, err)
		}

		changed, err = fn(&pos)
		if err != nil {
			return err
		}
		if !changed {
			out = pos
			return nil
		}

		pos.UpdatedAt = m.now()
		if err := m.store.Update(ctx, pos); err != nil {
			return fmt.Errorf("position_manager: update position %s: %w", id, err)
		}
		pos.Version++
		out = pos
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}

	if changed && !outer {
		m.PublishCommitted(ctx, out, domain.PositionUpdated)
	}
	return out, nil
}

func (m *PositionManager) writeCache(ctx context.Context, pos domain.Position) {
	if err := m.cache.Set(ctx, pos); err != nil {
		metrics.CacheWriteFailures.WithLabelValues("position").Inc()
		m.logger.Warn("cache write failed, invalidating", zap.String("position_id", pos.ID), zap.Error(err))
		if err := m.cache.Delete(ctx, pos); err != nil {
			m.logger.Warn("cache invalidate failed", zap.String("position_id", pos.ID), zap.Error(err))
		}
	}
}

func (m *PositionManager) noteCacheMiss(id string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		metrics.CacheFallbacks.WithLabelValues("position", "miss").Inc()
		return
	}
	metrics.CacheFallbacks.WithLabelValues("position", "error").Inc()
	m.logger.Warn("cache read failed, using store", zap.String("position_id", id), zap.Error(err))
}

func (m *PositionManager) auditLog(ctx context.Context, event string, pos domain.Position, detail map[string]any) {
	detail["position_id"] = pos.ID
	detail["agent_id"] = pos.AgentID
	detail["wallet"] = pos.WalletAddress
	detail["token"] = pos.TokenAddress
	if err := m.audit.Log(ctx, event, detail); err != nil {
		m.logger.Warn("audit log failed", zap.String("event", event), zap.String("position_id", pos.ID), zap.Error(err))
	}
}
