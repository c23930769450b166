// Package memory is a volatile Store backed by maps.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rickgao/trade-relay/internal/model"
	"github.com/rickgao/trade-relay/internal/storage"
	"github.com/shopspring/decimal"
)

type tradeRecord struct {
	trade model.Trade
	seq   int64 // Insertion order, breaks CreatedAt ties
}

// Store holds every entity under one RWMutex.
type Store struct {
	mu      sync.RWMutex
	users   map[string]model.User
	markets map[string]model.Market
	trades  map[string]*tradeRecord
	seq     int64

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		users:   make(map[string]model.User),
		markets: make(map[string]model.Market),
		trades:  make(map[string]*tradeRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ storage.Store = (*Store)(nil)

func (s *Store) GetUser(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return model.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) UpsertUser(_ context.Context, u model.User) (model.User, error) {
	if u.ID == "" {
		return model.User{}, fmt.Errorf("%w: user id is required", storage.ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if prev, ok := s.users[u.ID]; ok {
		u.CreatedAt = prev.CreatedAt
	} else {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) UpdateBalance(_ context.Context, userID string, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.Balance = balance
	u.UpdatedAt = s.now()
	s.users[userID] = u
	return nil
}

func (s *Store) GetAllMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *Store) GetMarket(_ context.Context, symbol string) (model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[symbol]
	if !ok {
		return model.Market{}, storage.ErrNotFound
	}
	return m, nil
}

func (s *Store) UpsertMarket(_ context.Context, symbol string, patch model.MarketPatch) (model.Market, error) {
	if symbol == "" {
		return model.Market{}, fmt.Errorf("%w: market symbol is required", storage.ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.upsertMarketLocked(symbol, patch), nil
}

func (s *Store) UpsertMarkets(_ context.Context, patches map[string]model.MarketPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for symbol, patch := range patches {
		if symbol == "" {
			continue
		}
		s.upsertMarketLocked(symbol, patch)
	}
	return nil
}

func (s *Store) upsertMarketLocked(symbol string, patch model.MarketPatch) model.Market {
	m, ok := s.markets[symbol]
	if !ok {
		m = model.Market{Symbol: symbol, IsActive: true}
	}
	m = patch.Apply(m)
	if patch.UpdatedAt.IsNone() {
		m.UpdatedAt = s.now()
	}
	s.markets[symbol] = m
	return m
}

func (s *Store) CreateTrade(_ context.Context, spec model.NewTrade) (model.Trade, error) {
	if spec.UserID == "" || spec.Symbol == "" || !spec.Amount.IsPositive() {
		return model.Trade{}, fmt.Errorf("%w: trade requires user id, symbol and a positive amount", storage.ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	t := model.Trade{
		ID:           uuid.NewString(),
		UserID:       spec.UserID,
		Symbol:       spec.Symbol,
		Direction:    spec.Direction,
		ContractType: spec.ContractType,
		Amount:       spec.Amount,
		EntryPrice:   spec.EntryPrice,
		Duration:     spec.Duration,
		DurationUnit: spec.DurationUnit,
		Status:       model.TradeStatusOpen,
		CreatedAt:    s.now(),
		BrokerRef:    spec.BrokerRef,
	}
	s.trades[t.ID] = &tradeRecord{trade: t, seq: s.seq}
	return t, nil
}

func (s *Store) GetTrade(_ context.Context, id string) (model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.trades[id]
	if !ok {
		return model.Trade{}, storage.ErrNotFound
	}
	return rec.trade, nil
}

func (s *Store) GetTradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	return s.listTrades(userID, false), nil
}

func (s *Store) GetOpenTradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	return s.listTrades(userID, true), nil
}

func (s *Store) listTrades(userID string, openOnly bool) []model.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]*tradeRecord, 0)
	for _, rec := range s.trades {
		if rec.trade.UserID != userID {
			continue
		}
		if openOnly && !rec.trade.IsOpen() {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.trade.CreatedAt.Equal(b.trade.CreatedAt) {
			return a.trade.CreatedAt.After(b.trade.CreatedAt)
		}
		return a.seq > b.seq
	})

	out := make([]model.Trade, len(recs))
	for i, rec := range recs {
		out[i] = rec.trade
	}
	return out
}

func (s *Store) UpdateTrade(_ context.Context, id string, patch model.TradePatch) (model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.trades[id]
	if !ok {
		return model.Trade{}, storage.ErrNotFound
	}
	rec.trade = patch.Apply(rec.trade)
	return rec.trade, nil
}

func (s *Store) CloseTrade(_ context.Context, id string, exitPrice, payout, profit decimal.Decimal) (model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.trades[id]
	if !ok {
		return model.Trade{}, storage.ErrNotFound
	}
	if !rec.trade.IsOpen() {
		return rec.trade, storage.ErrTradeClosed
	}
	rec.trade = rec.trade.Close(exitPrice, payout, profit, s.now())
	return rec.trade, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
