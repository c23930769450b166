package connection

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is a normalized upstream event. Concrete types are the *Event structs
// below; consumers switch on the type.
type Event interface {
	Kind() string
}

// StateEvent reports a Connector state transition.
type StateEvent struct {
	State   State
	Attempt int   // Reconnect attempt counter at the time of the transition
	Err     error // Cause, if any
}

// TickEvent is one quote on a subscribed symbol.
type TickEvent struct {
	Symbol     string
	Quote      decimal.Decimal
	Epoch      int64  // Upstream quote time (unix seconds)
	StreamID   string // Upstream subscription id, used to forget the stream
	ReqID      int64  // Correlation id of the subscribe request
	ReceivedAt time.Time
}

// AuthorizedEvent carries the account returned by a successful authorize.
type AuthorizedEvent struct {
	LoginID  string
	Currency string
	Balance  decimal.Decimal
}

// SymbolInfo is one entry of the market directory.
type SymbolInfo struct {
	Symbol      string
	DisplayName string
	Market      string
	Submarket   string
	IsOpen      bool
}

// DirectoryEvent is the response to an active_symbols request.
type DirectoryEvent struct {
	Symbols []SymbolInfo
}

// OrderResultEvent is the broker's acknowledgment of a buy.
type OrderResultEvent struct {
	ReqID         int64
	ContractID    int64
	TransactionID int64
	Longcode      string
	BuyPrice      decimal.Decimal
	Payout        decimal.Decimal
	BalanceAfter  decimal.Decimal
	StartTime     int64
}

// ContractUpdateEvent is the state of an open contract. Sold is true once
// the broker has settled it.
type ContractUpdateEvent struct {
	ContractID int64
	Sold       bool
	Status     string
	ExitTick   decimal.Decimal
	SellPrice  decimal.Decimal
	Profit     decimal.Decimal
	SellTime   int64
}

// ErrorEvent is an upstream error response. Op is the msg_type of the
// request that failed; ReqID correlates it when the request carried one.
type ErrorEvent struct {
	Op      string
	ReqID   int64
	Code    string
	Message string
}

func (StateEvent) Kind() string          { return "state" }
func (TickEvent) Kind() string           { return "tick" }
func (AuthorizedEvent) Kind() string     { return "authorized" }
func (DirectoryEvent) Kind() string      { return "directory" }
func (OrderResultEvent) Kind() string    { return "order_result" }
func (ContractUpdateEvent) Kind() string { return "contract_update" }
func (ErrorEvent) Kind() string          { return "error" }
