package model

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

// User is one broker identity known to the relay.
type User struct {
	ID        string          `json:"id"`      // Client id (stable for the process lifetime)
	LoginID   string          `json:"loginId"` // Broker account login (e.g. "CR123456")
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// -----------------------------------------------------------------------------
// Markets
// -----------------------------------------------------------------------------

// Market is a tradable instrument and its latest quote.
type Market struct {
	Symbol        string    `json:"symbol"` // Primary key (e.g. "frxEURUSD")
	DisplayName   string    `json:"displayName"`
	Category      string    `json:"category"`      // e.g. "forex", "synthetic_index"
	CurrentPrice  string    `json:"currentPrice"`  // e.g. "1.08550"
	Change        string    `json:"change"`        // Absolute change vs previous quote
	ChangePercent string    `json:"changePercent"` // e.g. "0.12"
	High          string    `json:"high"`
	Low           string    `json:"low"`
	IsActive      bool      `json:"isActive"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// MarketPatch is a partial update. Unset fields are left untouched by UpsertMarket.
type MarketPatch struct {
	DisplayName   optional.Option[string]
	Category      optional.Option[string]
	CurrentPrice  optional.Option[string]
	Change        optional.Option[string]
	ChangePercent optional.Option[string]
	High          optional.Option[string]
	Low           optional.Option[string]
	IsActive      optional.Option[bool]
	UpdatedAt     optional.Option[time.Time]
}

// Apply returns m with every set field of p copied over.
func (p MarketPatch) Apply(m Market) Market {
	if p.DisplayName.IsSome() {
		m.DisplayName = p.DisplayName.Unwrap()
	}
	if p.Category.IsSome() {
		m.Category = p.Category.Unwrap()
	}
	if p.CurrentPrice.IsSome() {
		m.CurrentPrice = p.CurrentPrice.Unwrap()
	}
	if p.Change.IsSome() {
		m.Change = p.Change.Unwrap()
	}
	if p.ChangePercent.IsSome() {
		m.ChangePercent = p.ChangePercent.Unwrap()
	}
	if p.High.IsSome() {
		m.High = p.High.Unwrap()
	}
	if p.Low.IsSome() {
		m.Low = p.Low.Unwrap()
	}
	if p.IsActive.IsSome() {
		m.IsActive = p.IsActive.Unwrap()
	}
	if p.UpdatedAt.IsSome() {
		m.UpdatedAt = p.UpdatedAt.Unwrap()
	}
	return m
}

// -----------------------------------------------------------------------------
// Trades
// -----------------------------------------------------------------------------

// Direction is the side of a rise/fall contract.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// TradeStatus is the lifecycle state of a trade. open -> {won, lost}, never reversed.
type TradeStatus string

const (
	TradeStatusOpen TradeStatus = "open"
	TradeStatusWon  TradeStatus = "won"
	TradeStatusLost TradeStatus = "lost"
)

// Trade is an order placed by a user against a Market.
//
// ExitPrice, Payout, Profit and ClosedAt are None while Status is open and all Some once closed.
type Trade struct {
	ID           string                           `json:"id"`
	UserID       string                           `json:"userId"`
	Symbol       string                           `json:"symbol"`
	Direction    Direction                        `json:"direction"`
	ContractType string                           `json:"contractType"` // e.g. "CALL", "PUT"
	Amount       decimal.Decimal                  `json:"amount"`       // Stake
	EntryPrice   decimal.Decimal                  `json:"entryPrice"`
	ExitPrice    optional.Option[decimal.Decimal] `json:"exitPrice"`
	Payout       optional.Option[decimal.Decimal] `json:"payout"`
	Profit       optional.Option[decimal.Decimal] `json:"profit"`
	Duration     int                              `json:"duration"`
	DurationUnit string                           `json:"durationUnit"` // t, s, m, h, d
	Status       TradeStatus                      `json:"status"`
	CreatedAt    time.Time                        `json:"createdAt"`
	ClosedAt     optional.Option[time.Time]       `json:"closedAt"`
	BrokerRef    optional.Option[string]          `json:"brokerRef"` // Upstream contract id
}

// IsOpen reports whether the trade has not been closed yet.
func (t Trade) IsOpen() bool {
	return t.Status == TradeStatusOpen
}

// NewTrade is the input to CreateTrade.
type NewTrade struct {
	UserID       string
	Symbol       string
	Direction    Direction
	ContractType string
	Amount       decimal.Decimal
	EntryPrice   decimal.Decimal
	Duration     int
	DurationUnit string
	BrokerRef    optional.Option[string]
}

// TradePatch is a partial update applied by UpdateTrade. Status and closing
// fields change only through CloseTrade.
type TradePatch struct {
	EntryPrice optional.Option[decimal.Decimal]
	BrokerRef  optional.Option[string]
}

// Apply returns t with every set field of p copied over.
func (p TradePatch) Apply(t Trade) Trade {
	if p.EntryPrice.IsSome() {
		t.EntryPrice = p.EntryPrice.Unwrap()
	}
	if p.BrokerRef.IsSome() {
		t.BrokerRef = p.BrokerRef
	}
	return t
}

// StatusForProfit derives the closing status from the sign of profit.
func StatusForProfit(profit decimal.Decimal) TradeStatus {
	if profit.IsPositive() {
		return TradeStatusWon
	}
	return TradeStatusLost
}

// Close returns t closed with the given values. A trade that is already
// closed is returned unchanged.
func (t Trade) Close(exitPrice, payout, profit decimal.Decimal, at time.Time) Trade {
	if !t.IsOpen() {
		return t
	}
	t.ExitPrice = optional.Some(exitPrice)
	t.Payout = optional.Some(payout)
	t.Profit = optional.Some(profit)
	t.ClosedAt = optional.Some(at)
	t.Status = StatusForProfit(profit)
	return t
}
