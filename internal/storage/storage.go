// Package storage defines the persistence contract shared by the in-memory
// and PostgreSQL backends. Callers depend only on Store.
package storage

import (
	"context"
	"errors"

	"github.com/rickgao/trade-relay/internal/model"
	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrNotFound    = errors.New("not found")
	ErrTradeClosed = errors.New("trade already closed")
	ErrInvalid     = errors.New("invalid argument")
)

// Store is the persistence facade. Every backend honors it identically.
//
// Lists are ordered: markets by symbol, trades newest first.
type Store interface {
	GetUser(ctx context.Context, id string) (model.User, error)
	UpsertUser(ctx context.Context, u model.User) (model.User, error)
	UpdateBalance(ctx context.Context, userID string, balance decimal.Decimal) error

	GetAllMarkets(ctx context.Context) ([]model.Market, error)
	GetMarket(ctx context.Context, symbol string) (model.Market, error)
	// UpsertMarket creates the market if absent and applies the set fields of patch.
	UpsertMarket(ctx context.Context, symbol string, patch model.MarketPatch) (model.Market, error)
	UpsertMarkets(ctx context.Context, patches map[string]model.MarketPatch) error

	CreateTrade(ctx context.Context, spec model.NewTrade) (model.Trade, error)
	GetTrade(ctx context.Context, id string) (model.Trade, error)
	GetTradesByUser(ctx context.Context, userID string) ([]model.Trade, error)
	GetOpenTradesByUser(ctx context.Context, userID string) ([]model.Trade, error)
	UpdateTrade(ctx context.Context, id string, patch model.TradePatch) (model.Trade, error)
	// CloseTrade atomically moves an open trade to won or lost, derived from
	// the sign of profit. A trade that is already closed is returned
	// unchanged together with ErrTradeClosed.
	CloseTrade(ctx context.Context, id string, exitPrice, payout, profit decimal.Decimal) (model.Trade, error)

	Close() error
}
