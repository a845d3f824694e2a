package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/metrics"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/risk"
)

// Sell reasons recorded in the audit log and the swap metrics.
const (
	ReasonManual     = "manual"
	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
	ReasonDCA        = "dca"
	ReasonBuy        = "buy"
)

// maxStaleRetries bounds how often a position update computed from a read
// that went stale is recomputed.
const maxStaleRetries = 3

// NewTransaction is a confirmed transaction to be recorded.
type NewTransaction struct {
	// ID is generated when empty.
	ID      string
	AgentID string
	Wallet  string
	Type    domain.TransactionType
	Input   domain.TokenAmount
	Output  *domain.TokenAmount
	// Price is the base-currency price per traded token. Derived from the
	// amounts when zero.
	Price decimal.Decimal
}

// RecordResult describes everything a recorded transaction changed.
type RecordResult struct {
	Transaction domain.Transaction
	Balances    LedgerResult
	Created     *domain.Position
	Updated     *domain.Position
	Closed      *domain.Position
}

// TradeService turns confirmed transactions and realized swaps into ledger
// bookings and position changes. Record commits the transaction row, the
// balances and the position change together. The Execute methods commit the
// realized swap first and apply the position step in a second unit of work,
// so a swap that happened is always booked.
type TradeService struct {
	txs       domain.TransactionStore
	ledger    *Ledger
	positions *PositionManager
	swaps     domain.SwapExecutor
	tx        domain.TxManager
	audit     domain.AuditStore
	logger    *zap.Logger
	now       func() time.Time
}

// NewTradeService creates a TradeService with all required dependencies.
func NewTradeService(
	txs domain.TransactionStore,
	ledger *Ledger,
	positions *PositionManager,
	swaps domain.SwapExecutor,
	tx domain.TxManager,
	audit domain.AuditStore,
	logger *zap.Logger,
) *TradeService {
	return &TradeService{
		txs:       txs,
		ledger:    ledger,
		positions: positions,
		swaps:     swaps,
		tx:        tx,
		audit:     audit,
		logger:    logger.With(zap.String("component", "trade_service")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Record books a confirmed transaction. A buy with no open position opens
// one; a sell or burn that empties the token balance closes it.
func (s *TradeService) Record(ctx context.Context, nt NewTransaction) (RecordResult, error) {
	return s.commit(ctx, nt, true)
}

// commit records nt in its own unit of work and publishes the result once it
// committed. closeEmpty closes the position of a sold-out token.
func (s *TradeService) commit(ctx context.Context, nt NewTransaction, closeEmpty bool) (RecordResult, error) {
	var res RecordResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.record(ctx, nt, closeEmpty)
		return err
	})
	if err != nil {
		return RecordResult{}, err
	}
	s.publish(ctx, res)
	return res, nil
}

func (s *TradeService) record(ctx context.Context, nt NewTransaction, closeEmpty bool) (RecordResult, error) {
	t := domain.Transaction{
		ID:            nt.ID,
		AgentID:       nt.AgentID,
		WalletAddress: nt.Wallet,
		Type:          nt.Type,
		InputToken:    nt.Input.Token,
		InputSymbol:   nt.Input.Symbol,
		InputAmount:   nt.Input.Amount,
		Price:         nt.Price,
		CreatedAt:     s.now(),
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if nt.Output != nil {
		t.OutputToken = nt.Output.Token
		t.OutputSymbol = nt.Output.Symbol
		t.OutputAmount = nt.Output.Amount
	}
	if t.AgentID == "" || t.WalletAddress == "" {
		return RecordResult{}, domain.Validationf("missing_transaction_owner", "agent and wallet are required")
	}
	if t.Price.IsZero() {
		t.Price = impliedPrice(t)
	}

	// Validate amounts before the row is written.
	if _, err := ComputeDelta(t.Type, nt.Input, nt.Output); err != nil {
		return RecordResult{}, err
	}

	if err := s.txs.Create(ctx, t); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return RecordResult{}, domain.Conflictf(domain.ErrAlreadyExists, "transaction_exists", "%s", t.ID)
		}
		return RecordResult{}, fmt.Errorf("trade_service: create transaction %s: %w", t.ID, err)
	}

	balances, err := s.ledger.ApplyTransaction(ctx, TransactionParams{
		AgentID: t.AgentID,
		Wallet:  t.WalletAddress,
		Type:    t.Type,
		Input:   nt.Input,
		Output:  nt.Output,
	})
	if err != nil {
		return RecordResult{}, err
	}
	res := RecordResult{Transaction: t, Balances: balances}

	switch {
	case t.IsBuy():
		_, err := s.positions.FindOpen(ctx, t.AgentID, t.WalletAddress, t.OutputToken)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return RecordResult{}, err
		}
		pos, err := s.positions.Create(ctx, CreateParams{
			AgentID:        t.AgentID,
			Wallet:         t.WalletAddress,
			TransactionID:  t.ID,
			Token:          t.OutputToken,
			Symbol:         t.OutputSymbol,
			PurchasePrice:  t.Price,
			PurchaseAmount: t.OutputAmount,
		})
		if err != nil {
			return RecordResult{}, err
		}
		res.Created = &pos

	case closeEmpty && (t.IsSell() || t.Type == domain.TransactionBurn):
		if balances.Input.Amount.GreaterThan(s.ledger.Epsilon()) {
			return res, nil
		}
		pos, err := s.positions.FindOpen(ctx, t.AgentID, t.WalletAddress, t.InputToken)
		if errors.Is(err, domain.ErrNotFound) {
			return res, nil
		}
		if err != nil {
			return RecordResult{}, err
		}
		closed, err := s.positions.Close(ctx, pos.ID)
		if err != nil {
			return RecordResult{}, err
		}
		res.Closed = &closed
	}
	return res, nil
}

// publish mirrors a committed recording into the caches and emits the
// position events.
func (s *TradeService) publish(ctx context.Context, res RecordResult) {
	s.ledger.RefreshCache(ctx, res.Balances.Input)
	if res.Balances.Output != nil {
		s.ledger.RefreshCache(ctx, *res.Balances.Output)
	}
	if res.Created != nil {
		s.positions.PublishCommitted(ctx, *res.Created, domain.PositionCreated)
	}
	if res.Updated != nil {
		s.positions.PublishCommitted(ctx, *res.Updated, domain.PositionUpdated)
	}
	if res.Closed != nil {
		s.positions.PublishCommitted(ctx, *res.Closed, domain.PositionClosed)
	}
}

// BuyParams describes a buy of Token paying AmountSol of the base currency.
type BuyParams struct {
	AgentID   string
	Wallet    string
	Token     string
	Symbol    string
	AmountSol decimal.Decimal
}

// ExecuteBuy swaps base currency into a token and records the realized
// amounts, opening a position when none exists.
func (s *TradeService) ExecuteBuy(ctx context.Context, p BuyParams) (RecordResult, error) {
	if !p.AmountSol.IsPositive() {
		return RecordResult{}, domain.Validationf("invalid_buy_amount", "buy amount %s must be positive", p.AmountSol)
	}
	if err := s.ledger.ValidateSufficiency(ctx, p.Wallet, domain.BaseMint, p.AmountSol); err != nil {
		return RecordResult{}, err
	}

	swap, err := s.swap(ctx, ReasonBuy, domain.SwapRequest{
		AgentID:       p.AgentID,
		WalletAddress: p.Wallet,
		InputToken:    domain.BaseMint,
		InputSymbol:   domain.BaseSymbol,
		OutputToken:   p.Token,
		OutputSymbol:  p.Symbol,
		Amount:        p.AmountSol,
	})
	if err != nil {
		return RecordResult{}, err
	}

	return s.Record(ctx, NewTransaction{
		AgentID: p.AgentID,
		Wallet:  p.Wallet,
		Type:    domain.TransactionSwap,
		Input:   domain.TokenAmount{Token: domain.BaseMint, Symbol: domain.BaseSymbol, Amount: swap.InputAmount},
		Output:  &domain.TokenAmount{Token: p.Token, Symbol: p.Symbol, Amount: swap.OutputAmount},
	})
}

// ExecuteSell sells everything the position still holds and closes it with
// the realized P&L. The sale is booked before the position is closed; a
// position that is already gone leaves the booking in place and is not an
// error. When closing fails for another reason the returned result still
// carries the committed booking.
func (s *TradeService) ExecuteSell(ctx context.Context, pos domain.Position, reason string) (RecordResult, error) {
	if reason == "" {
		reason = ReasonManual
	}
	amount := pos.EffectiveRemaining()
	if !amount.IsPositive() {
		return RecordResult{}, domain.Validationf("nothing_to_sell", "position %s holds nothing", pos.ID)
	}

	swap, err := s.swap(ctx, reason, sellRequest(pos, amount))
	if err != nil {
		return RecordResult{}, err
	}
	pnl := swap.OutputAmount.Sub(swap.InputAmount.Mul(pos.PurchasePrice))

	res, err := s.commit(ctx, sellTransaction(pos, swap), false)
	if err != nil {
		return RecordResult{}, err
	}
	s.auditSell(ctx, reason, pos, swap, pnl)

	closed, err := s.positions.CloseWithProfit(ctx, pos.ID, pnl)
	if err != nil {
		return res, s.positionStepFailed(pos, res, "close", err)
	}
	res.Closed = &closed
	return res, nil
}

// ExecuteStopLoss closes a position whose stop was hit.
func (s *TradeService) ExecuteStopLoss(ctx context.Context, pos domain.Position) (RecordResult, error) {
	return s.ExecuteSell(ctx, pos, ReasonStopLoss)
}

// ExecuteDCA buys more of a position's token as recommended and records the
// new running average. The buy is booked first; if the position was closed
// meanwhile the booking opens a new one.
func (s *TradeService) ExecuteDCA(ctx context.Context, pos domain.Position, rec risk.DCAResult, takeProfitLevels int) (RecordResult, error) {
	if !rec.ShouldTrigger || !rec.BuyAmountSol.IsPositive() {
		return RecordResult{}, domain.Validationf("dca_not_triggered", "position %s has no DCA buy to execute", pos.ID)
	}
	if err := s.ledger.ValidateSufficiency(ctx, pos.WalletAddress, domain.BaseMint, rec.BuyAmountSol); err != nil {
		return RecordResult{}, err
	}

	swap, err := s.swap(ctx, ReasonDCA, domain.SwapRequest{
		AgentID:       pos.AgentID,
		WalletAddress: pos.WalletAddress,
		InputToken:    domain.BaseMint,
		InputSymbol:   domain.BaseSymbol,
		OutputToken:   pos.TokenAddress,
		OutputSymbol:  pos.TokenSymbol,
		Amount:        rec.BuyAmountSol,
	})
	if err != nil {
		return RecordResult{}, err
	}

	res, err := s.commit(ctx, NewTransaction{
		AgentID: pos.AgentID,
		Wallet:  pos.WalletAddress,
		Type:    domain.TransactionSwap,
		Input:   domain.TokenAmount{Token: domain.BaseMint, Symbol: domain.BaseSymbol, Amount: swap.InputAmount},
		Output:  &domain.TokenAmount{Token: pos.TokenAddress, Symbol: pos.TokenSymbol, Amount: swap.OutputAmount},
	}, true)
	if err != nil {
		return RecordResult{}, err
	}
	if res.Created != nil {
		s.logger.Warn("position closed before dca, buy opened a new position",
			zap.String("position_id", pos.ID),
			zap.String("new_position_id", res.Created.ID),
			zap.String("transaction_id", res.Transaction.ID),
		)
		return res, nil
	}

	updated, err := s.applyDCA(ctx, pos, swap, res.Transaction.ID, takeProfitLevels)
	if err != nil {
		return res, s.positionStepFailed(pos, res, "apply dca", err)
	}
	res.Updated = &updated

	s.logger.Info("dca executed",
		zap.String("position_id", pos.ID),
		zap.Int("level", rec.LevelIndex),
		zap.String("spent", swap.InputAmount.String()),
		zap.String("acquired", swap.OutputAmount.String()),
		zap.String("average_price", res.Updated.PurchasePrice.String()),
	)
	return res, nil
}

// applyDCA folds a booked DCA buy into the current row. The new totals are
// computed from a fresh read and applied only if the row did not move in
// between; a concurrent change is retried.
func (s *TradeService) applyDCA(ctx context.Context, pos domain.Position, swap domain.SwapResult, txID string, takeProfitLevels int) (domain.Position, error) {
	var err error
	for attempt := 0; attempt < maxStaleRetries; attempt++ {
		var current domain.Position
		current, err = s.positions.FindOpen(ctx, pos.AgentID, pos.WalletAddress, pos.TokenAddress)
		if err != nil {
			return domain.Position{}, err
		}
		var avg decimal.Decimal
		avg, err = risk.ComputeNewAverage(current.TotalInvested, current.PurchaseAmount, swap.InputAmount, swap.OutputAmount)
		if err != nil {
			return domain.Position{}, err
		}
		version := current.Version
		var updated domain.Position
		updated, err = s.positions.ApplyDCA(ctx, current.ID, domain.DCAUpdate{
			NewAveragePrice:      avg,
			NewTotalAmount:       current.PurchaseAmount.Add(swap.OutputAmount),
			NewTotalInvested:     current.TotalInvested.Add(swap.InputAmount),
			TransactionID:        txID,
			TokensAcquired:       swap.OutputAmount,
			ConfiguredLevelCount: takeProfitLevels,
			ExpectedVersion:      &version,
		})
		if !errors.Is(err, domain.ErrConflict) {
			return updated, err
		}
		s.logger.Debug("position moved during dca, retrying", zap.String("position_id", current.ID), zap.Int("attempt", attempt+1))
	}
	return domain.Position{}, err
}

// ExecuteTakeProfit sells the recommended amount and advances the ladder, or
// closes the position on a full exit. Like ExecuteSell it books the sale
// first; the remainder is derived from the stored row, not from pos.
func (s *TradeService) ExecuteTakeProfit(ctx context.Context, pos domain.Position, rec risk.TakeProfitResult) (RecordResult, error) {
	if !rec.ShouldTrigger || !rec.SellAmount.IsPositive() {
		return RecordResult{}, domain.Validationf("take_profit_not_triggered", "position %s has no take-profit sell to execute", pos.ID)
	}

	swap, err := s.swap(ctx, ReasonTakeProfit, sellRequest(pos, rec.SellAmount))
	if err != nil {
		return RecordResult{}, err
	}
	pnl := swap.OutputAmount.Sub(swap.InputAmount.Mul(pos.PurchasePrice))

	res, err := s.commit(ctx, sellTransaction(pos, swap), false)
	if err != nil {
		return RecordResult{}, err
	}
	s.auditSell(ctx, ReasonTakeProfit, pos, swap, pnl)

	if rec.FullExit || res.Balances.Input.Amount.LessThanOrEqual(s.ledger.Epsilon()) {
		closed, err := s.positions.CloseWithProfit(ctx, pos.ID, pnl)
		if err != nil {
			return res, s.positionStepFailed(pos, res, "close", err)
		}
		res.Closed = &closed
		return res, nil
	}

	sold := swap.InputAmount
	updated, err := s.positions.ApplyTakeProfit(ctx, pos.ID, domain.TakeProfitUpdate{
		SoldAmount:       &sold,
		LevelsExecuted:   rec.LevelsExecuted,
		TransactionID:    res.Transaction.ID,
		ActivateMoonBag:  rec.ActivateMoonBag,
		MoonBagAmount:    rec.MoonBagAmount,
		RealizedPnLDelta: domain.DecimalPtr(pnl),
	})
	if err != nil {
		return res, s.positionStepFailed(pos, res, "apply take-profit", err)
	}
	res.Updated = &updated
	return res, nil
}

// positionStepFailed handles a position change that failed after its swap
// was booked. A position that no longer exists was closed elsewhere and is
// not an error.
func (s *TradeService) positionStepFailed(pos domain.Position, res RecordResult, step string, err error) error {
	if errors.Is(err, domain.ErrPositionNotFound) {
		s.logger.Warn("position gone after swap, booking kept",
			zap.String("position_id", pos.ID),
			zap.String("step", step),
			zap.String("transaction_id", res.Transaction.ID),
		)
		return nil
	}
	s.logger.Error("position step failed after swap was booked",
		zap.String("position_id", pos.ID),
		zap.String("step", step),
		zap.String("transaction_id", res.Transaction.ID),
		zap.Error(err),
	)
	return fmt.Errorf("trade_service: %s position %s after booking %s: %w", step, pos.ID, res.Transaction.ID, err)
}

// swap runs the executor and insists on a successful fill with positive
// realized amounts.
func (s *TradeService) swap(ctx context.Context, reason string, req domain.SwapRequest) (domain.SwapResult, error) {
	res, err := s.swaps.Execute(ctx, req)
	if err != nil {
		metrics.SwapsExecuted.WithLabelValues(reason, "error").Inc()
		return domain.SwapResult{}, domain.Unavailablef(errors.Join(domain.ErrSwapFailed, err), "swap_failed",
			"%s %s -> %s", reason, req.InputToken, req.OutputToken)
	}
	if !res.Success || !res.InputAmount.IsPositive() || !res.OutputAmount.IsPositive() {
		metrics.SwapsExecuted.WithLabelValues(reason, "failed").Inc()
		return domain.SwapResult{}, domain.Conflictf(domain.ErrSwapFailed, "swap_failed",
			"%s %s -> %s: %s", reason, req.InputToken, req.OutputToken, res.Reason)
	}
	metrics.SwapsExecuted.WithLabelValues(reason, "filled").Inc()
	return res, nil
}

func (s *TradeService) auditSell(ctx context.Context, reason string, pos domain.Position, swap domain.SwapResult, pnl decimal.Decimal) {
	if err := s.audit.Log(ctx, "position_sell", map[string]any{
		"position_id": pos.ID,
		"agent_id":    pos.AgentID,
		"token":       pos.TokenAddress,
		"reason":      reason,
		"sold":        swap.InputAmount.String(),
		"received":    swap.OutputAmount.String(),
		"pnl":         pnl.String(),
		"signature":   swap.Signature,
	}); err != nil {
		s.logger.Warn("audit log failed", zap.String("position_id", pos.ID), zap.Error(err))
	}
	s.logger.Info("position sold",
		zap.String("position_id", pos.ID),
		zap.String("reason", reason),
		zap.String("sold", swap.InputAmount.String()),
		zap.String("received", swap.OutputAmount.String()),
		zap.String("pnl", pnl.String()),
	)
}

func sellRequest(pos domain.Position, amount decimal.Decimal) domain.SwapRequest {
	return domain.SwapRequest{
		AgentID:       pos.AgentID,
		WalletAddress: pos.WalletAddress,
		InputToken:    pos.TokenAddress,
		InputSymbol:   pos.TokenSymbol,
		OutputToken:   domain.BaseMint,
		OutputSymbol:  domain.BaseSymbol,
		Amount:        amount,
	}
}

func sellTransaction(pos domain.Position, swap domain.SwapResult) NewTransaction {
	return NewTransaction{
		AgentID: pos.AgentID,
		Wallet:  pos.WalletAddress,
		Type:    domain.TransactionSwap,
		Input:   domain.TokenAmount{Token: pos.TokenAddress, Symbol: pos.TokenSymbol, Amount: swap.InputAmount},
		Output:  &domain.TokenAmount{Token: domain.BaseMint, Symbol: domain.BaseSymbol, Amount: swap.OutputAmount},
	}
}

// impliedPrice returns base currency per token for swaps touching the base
// currency, zero otherwise.
func impliedPrice(t domain.Transaction) decimal.Decimal {
	switch {
	case t.IsBuy() && t.OutputAmount.IsPositive():
		return t.InputAmount.Div(t.OutputAmount)
	case t.IsSell() && t.InputAmount.IsPositive():
		return t.OutputAmount.Div(t.InputAmount)
	}
	return decimal.Zero
}
