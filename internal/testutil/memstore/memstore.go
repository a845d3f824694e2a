// Package memstore provides in-memory implementations of the domain store
// interfaces for tests. All stores created from one DB share a transaction
// manager that snapshots the data on entry and restores it on rollback.
package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

type txKey struct{}

// DB holds the rows of every store. Fail injects an error for an operation
// named "<store>.<Method>", e.g. "balances.Upsert".
type DB struct {
	mu   sync.Mutex
	txMu sync.Mutex

	balances     map[string]domain.Balance
	positions    map[string]domain.Position
	transactions map[string]domain.Transaction
	configs      map[string]json.RawMessage
	audit        []domain.AuditEntry

	fail map[string]error
}

// New creates an empty DB.
func New() *DB {
	return &DB{
		balances:     make(map[string]domain.Balance),
		positions:    make(map[string]domain.Position),
		transactions: make(map[string]domain.Transaction),
		configs:      make(map[string]json.RawMessage),
		fail:         make(map[string]error),
	}
}

// Fail makes every later call of op return err. A nil err clears it.
func (db *DB) Fail(op string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err == nil {
		delete(db.fail, op)
		return
	}
	db.fail[op] = err
}

func (db *DB) injected(op string) error {
	return db.fail[op]
}

type snapshot struct {
	balances     map[string]domain.Balance
	positions    map[string]domain.Position
	transactions map[string]domain.Transaction
	configs      map[string]json.RawMessage
	audit        []domain.AuditEntry
}

func (db *DB) snapshot() snapshot {
	db.mu.Lock()
	defer db.mu.Unlock()
	s := snapshot{
		balances:     make(map[string]domain.Balance, len(db.balances)),
		positions:    make(map[string]domain.Position, len(db.positions)),
		transactions: make(map[string]domain.Transaction, len(db.transactions)),
		configs:      make(map[string]json.RawMessage, len(db.configs)),
		audit:        append([]domain.AuditEntry(nil), db.audit...),
	}
	for k, v := range db.balances {
		s.balances[k] = v
	}
	for k, v := range db.positions {
		s.positions[k] = v.Clone()
	}
	for k, v := range db.transactions {
		s.transactions[k] = v
	}
	for k, v := range db.configs {
		s.configs[k] = v
	}
	return s
}

func (db *DB) restore(s snapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.balances = s.balances
	db.positions = s.positions
	db.transactions = s.transactions
	db.configs = s.configs
	db.audit = s.audit
}

// TxManager implements domain.TxManager. Transactions are serialized.
type TxManager struct {
	db *DB
}

var _ domain.TxManager = (*TxManager)(nil)

// TxManager returns the DB's transaction manager.
func (db *DB) TxManager() *TxManager { return &TxManager{db: db} }

// WithinTx runs fn and rolls every store back when it fails.
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.InTx(ctx) {
		return fn(ctx)
	}
	m.db.txMu.Lock()
	defer m.db.txMu.Unlock()

	snap := m.db.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		m.db.restore(snap)
		return err
	}
	return nil
}

// InTx reports whether ctx is inside WithinTx.
func (m *TxManager) InTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// BalanceStore implements domain.BalanceStore.
type BalanceStore struct{ db *DB }

var _ domain.BalanceStore = (*BalanceStore)(nil)

// Balances returns the DB's balance store.
func (db *DB) Balances() *BalanceStore { return &BalanceStore{db: db} }

func balanceKey(wallet, token string) string { return wallet + "|" + token }

func (s *BalanceStore) Get(_ context.Context, wallet, token string) (domain.Balance, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.injected("balances.Get"); err != nil {
		return domain.Balance{}, err
	}
	b, ok := s.db.balances[balanceKey(wallet, token)]
	if !ok {
		return domain.Balance{}, domain.ErrNotFound
	}
	return b, nil
}

func (s *BalanceStore) GetForUpdate(ctx context.Context, wallet, token string) (domain.Balance, error) {
	return s.Get(ctx, wallet, token)
}

func (s *BalanceStore) Upsert(_ context.Context, b domain.Balance) (domain.Balance, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.injected("balances.Upsert"); err != nil {
		return domain.Balance{}, err
	}
	key := balanceKey(b.WalletAddress, b.TokenAddress)
	if prev, ok := s.db.balances[key]; ok && b.TokenSymbol == "" {
		b.TokenSymbol = prev.TokenSymbol
	}
	b.UpdatedAt = time.Now().UTC()
	s.db.balances[key] = b
	return b, nil
}

func (s *BalanceStore) ListByWallet(_ context.Context, wallet string) ([]domain.Balance, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Balance
	for _, b := range s.db.balances {
		if b.WalletAddress == wallet {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenAddress < out[j].TokenAddress })
	return out, nil
}

// PositionStore implements domain.PositionStore.
type PositionStore struct{ db *DB }

var _ domain.PositionStore = (*PositionStore)(nil)

// Positions returns the DB's position store.
func (db *DB) Positions() *PositionStore { return &PositionStore{db: db} }

func (s *PositionStore) Create(_ context.Context, pos domain.Position) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.injected("positions.Create"); err != nil {
		return err
	}
	for _, p := range s.db.positions {
		if p.ID == pos.ID {
			return domain.ErrAlreadyExists
		}
		if p.AgentID == pos.AgentID && p.WalletAddress == pos.WalletAddress && p.TokenAddress == pos.TokenAddress {
			return domain.ErrPositionExists
		}
	}
	s.db.positions[pos.ID] = pos.Clone()
	return nil
}

func (s *PositionStore) Update(_ context.Context, pos domain.Position) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.injected("positions.Update"); err != nil {
		return err
	}
	cur, ok := s.db.positions[pos.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != pos.Version {
		return domain.Conflictf(nil, "stale_position", "position %s changed since version %d", pos.ID, pos.Version)
	}
	next := pos.Clone()
	next.Version++
	s.db.positions[pos.ID] = next
	return nil
}

func (s *PositionStore) Delete(_ context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.injected("positions.Delete"); err != nil {
		return err
	}
	if _, ok := s.db.positions[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.db.positions, id)
	return nil
}

func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.injected("positions.GetByID"); err != nil {
		return domain.Position{}, err
	}
	p, ok := s.db.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *PositionStore) GetForUpdate(ctx context.Context, id string) (domain.Position, error) {
	return s.GetByID(ctx, id)
}

func (s *PositionStore) GetByAgentWalletToken(_ context.Context, agentID, wallet, token string) (domain.Position, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, p := range s.db.positions {
		if p.AgentID == agentID && p.WalletAddress == wallet && p.TokenAddress == token {
			return p.Clone(), nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (s *PositionStore) ListByAgent(_ context.Context, agentID string) ([]domain.Position, error) {
	return s.filter(func(p domain.Position) bool { return p.AgentID == agentID }), nil
}

func (s *PositionStore) ListByToken(_ context.Context, token string) ([]domain.Position, error) {
	return s.filter(func(p domain.Position) bool { return strings.EqualFold(p.TokenAddress, token) }), nil
}

func (s *PositionStore) ListTokens(_ context.Context) ([]string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.injected("positions.ListTokens"); err != nil {
		return nil, err
	}
	first := make(map[string]string)
	for _, p := range s.db.positions {
		key := strings.ToLower(p.TokenAddress)
		if cur, ok := first[key]; !ok || p.TokenAddress < cur {
			first[key] = p.TokenAddress
		}
	}
	out := make([]string, 0, len(first))
	for _, addr := range first {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out, nil
}

func (s *PositionStore) filter(keep func(domain.Position) bool) []domain.Position {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Position
	for _, p := range s.db.positions {
		if keep(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Count returns the number of stored positions.
func (s *PositionStore) Count() int {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return len(s.db.positions)
}

// TransactionStore implements domain.TransactionStore.
type TransactionStore struct{ db *DB }

var _ domain.TransactionStore = (*TransactionStore)(nil)

// Transactions returns the DB's transaction store.
func (db *DB) Transactions() *TransactionStore { return &TransactionStore{db: db} }

func (s *TransactionStore) Create(_ context.Context, tx domain.Transaction) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.injected("transactions.Create"); err != nil {
		return err
	}
	if _, ok := s.db.transactions[tx.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.db.transactions[tx.ID] = tx
	return nil
}

func (s *TransactionStore) GetByID(_ context.Context, id string) (domain.Transaction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	tx, ok := s.db.transactions[id]
	if !ok {
		return domain.Transaction{}, domain.ErrNotFound
	}
	return tx, nil
}

func (s *TransactionStore) ListByAgent(_ context.Context, agentID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range s.db.transactions {
		if tx.AgentID == agentID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// TradingConfigStore implements domain.TradingConfigStore.
type TradingConfigStore struct{ db *DB }

var _ domain.TradingConfigStore = (*TradingConfigStore)(nil)

// TradingConfigs returns the DB's trading config store.
func (db *DB) TradingConfigs() *TradingConfigStore { return &TradingConfigStore{db: db} }

func (s *TradingConfigStore) Get(_ context.Context, agentID string) (json.RawMessage, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	doc, ok := s.db.configs[agentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append(json.RawMessage(nil), doc...), nil
}

func (s *TradingConfigStore) Upsert(_ context.Context, agentID string, doc json.RawMessage) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.injected("configs.Upsert"); err != nil {
		return err
	}
	s.db.configs[agentID] = append(json.RawMessage(nil), doc...)
	return nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct{ db *DB }

var _ domain.AuditStore = (*AuditStore)(nil)

// Audit returns the DB's audit store.
func (db *DB) Audit() *AuditStore { return &AuditStore{db: db} }

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.injected("audit.Log"); err != nil {
		return err
	}
	s.db.audit = append(s.db.audit, domain.AuditEntry{
		ID:        int64(len(s.db.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns entries newest first, as the postgres store does.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]domain.AuditEntry, 0, len(s.db.audit))
	for i := len(s.db.audit) - 1; i >= 0; i-- {
		e := s.db.audit[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Events returns the names of the logged audit events in order.
func (s *AuditStore) Events() []string {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]string, len(s.db.audit))
	for i, e := range s.db.audit {
		out[i] = e.Event
	}
	return out
}

// ErrInjected is a convenience error for fault injection.
var ErrInjected = errors.New("memstore: injected failure")
