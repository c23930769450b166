package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrStaleConnection    = errors.New("connection stale (no ping)")
	ErrAlreadyClosed      = errors.New("already closed")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrDisconnected       = errors.New("disconnected while connecting")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrInvalidOrder       = errors.New("invalid order")
)

// TransportError is a socket-level failure. It is recoverable: an unexpected
// transport loss triggers the reconnect policy.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is a malformed inbound frame. The frame is dropped and the
// connection is preserved.
type ProtocolError struct {
	Reason string
	Data   []byte
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return "protocol: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// State is the Connector lifecycle state. Values are ordered so that
// state >= StateConnected means a live transport.
type State int

const (
	StateDisconnected State = iota
	StateExhausted
	StateConnecting
	StateConnected
	StateAuthenticating
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateExhausted:
		return "exhausted"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// OrderSpec is a rise/fall order as submitted by a user.
type OrderSpec struct {
	Symbol       string          `json:"symbol" validate:"required"`
	Direction    string          `json:"direction" validate:"required,oneof=up down"`
	ContractType string          `json:"contractType" validate:"omitempty,alphanum,uppercase"` // Defaults from Direction
	Amount       decimal.Decimal `json:"amount"`                                               // Stake, must be > 0
	Duration     int             `json:"duration" validate:"required,gt=0"`
	DurationUnit string          `json:"durationUnit" validate:"required,oneof=t s m h d"`
}

// ResolvedContractType returns ContractType, or CALL/PUT derived from Direction.
func (o OrderSpec) ResolvedContractType() string {
	if o.ContractType != "" {
		return o.ContractType
	}
	if o.Direction == "down" {
		return "PUT"
	}
	return "CALL"
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // Full WebSocket URL including app_id
	PingTimeout  time.Duration // Max time without ping/pong before considering connection stale
	PingInterval time.Duration // Interval between keepalive pings
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1024,
	}
}

// ConnectorConfig configures one upstream session.
type ConnectorConfig struct {
	URL                  string        // e.g. wss://ws.derivws.com/websockets/v3
	AppID                string        // Appended as ?app_id= when set
	ReconnectBaseDelay   time.Duration // Delay before the first reconnect attempt
	MaxReconnectAttempts int           // Consecutive failed attempts before Exhausted
	PingTimeout          time.Duration
	PingInterval         time.Duration
	WriteTimeout         time.Duration
	MessageBufferSize    int    // Transport inbound buffer
	EventBufferSize      int    // Normalized event queue consumed by the Multiplexer
	Currency             string // Order currency
	Basis                string // Order basis ("stake" or "payout")
	ProductType          string // active_symbols product_type
	RequestDirectory     bool   // Request active_symbols after every (re)connect
}

// DefaultConnectorConfig returns sensible defaults.
func DefaultConnectorConfig() ConnectorConfig {
	return ConnectorConfig{
		URL:                  "wss://ws.derivws.com/websockets/v3",
		AppID:                "1089",
		ReconnectBaseDelay:   1 * time.Second,
		MaxReconnectAttempts: 5,
		PingTimeout:          60 * time.Second,
		PingInterval:         30 * time.Second,
		WriteTimeout:         5 * time.Second,
		MessageBufferSize:    1024,
		EventBufferSize:      1024,
		Currency:             "USD",
		Basis:                "stake",
		ProductType:          "basic",
		RequestDirectory:     true,
	}
}

// Backoff returns the delay before reconnect attempt n (1-based): base * 2^(n-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// -----------------------------------------------------------------------------
// Outbound wire types
// -----------------------------------------------------------------------------

type authorizeRequest struct {
	Authorize string `json:"authorize"`
	ReqID     int64  `json:"req_id,omitempty"`
}

type activeSymbolsRequest struct {
	ActiveSymbols string `json:"active_symbols"` // "brief" or "full"
	ProductType   string `json:"product_type"`
	ReqID         int64  `json:"req_id,omitempty"`
}

type ticksRequest struct {
	Ticks     string `json:"ticks"`
	Subscribe int    `json:"subscribe"`
	ReqID     int64  `json:"req_id"`
}

type forgetRequest struct {
	Forget string `json:"forget"`
	ReqID  int64  `json:"req_id,omitempty"`
}

type buyRequest struct {
	Buy        int           `json:"buy"`
	Price      float64       `json:"price"` // Max price willing to pay
	Parameters buyParameters `json:"parameters"`
	ReqID      int64         `json:"req_id"`
}

type buyParameters struct {
	Amount       float64 `json:"amount"`
	Basis        string  `json:"basis"`
	ContractType string  `json:"contract_type"`
	Currency     string  `json:"currency"`
	Duration     int     `json:"duration"`
	DurationUnit string  `json:"duration_unit"`
	Symbol       string  `json:"symbol"`
}

type proposalOpenContractRequest struct {
	ProposalOpenContract int   `json:"proposal_open_contract"`
	ContractID           int64 `json:"contract_id"`
	Subscribe            int   `json:"subscribe"`
	ReqID                int64 `json:"req_id,omitempty"`
}

// -----------------------------------------------------------------------------
// Inbound wire types
// -----------------------------------------------------------------------------

// envelope is used for fast discriminator extraction.
type envelope struct {
	MsgType      string     `json:"msg_type"`
	ReqID        int64      `json:"req_id"`
	Error        *wireError `json:"error"`
	Subscription *struct {
		ID string `json:"id"`
	} `json:"subscription"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type tickWire struct {
	Tick *struct {
		Symbol string          `json:"symbol"`
		Quote  decimal.Decimal `json:"quote"`
		Epoch  int64           `json:"epoch"`
		ID     string          `json:"id"`
	} `json:"tick"`
}

type authorizeWire struct {
	Authorize *struct {
		LoginID  string          `json:"loginid"`
		Currency string          `json:"currency"`
		Balance  decimal.Decimal `json:"balance"`
		Email    string          `json:"email"`
	} `json:"authorize"`
}

type activeSymbolsWire struct {
	ActiveSymbols []struct {
		Symbol             string          `json:"symbol"`
		DisplayName        string          `json:"display_name"`
		Market             string          `json:"market"`
		MarketDisplayName  string          `json:"market_display_name"`
		Submarket          string          `json:"submarket"`
		ExchangeIsOpen     int             `json:"exchange_is_open"`
		IsTradingSuspended int             `json:"is_trading_suspended"`
		Pip                decimal.Decimal `json:"pip"`
	} `json:"active_symbols"`
}

type buyWire struct {
	Buy *struct {
		ContractID    int64           `json:"contract_id"`
		TransactionID int64           `json:"transaction_id"`
		BuyPrice      decimal.Decimal `json:"buy_price"`
		Payout        decimal.Decimal `json:"payout"`
		BalanceAfter  decimal.Decimal `json:"balance_after"`
		Longcode      string          `json:"longcode"`
		StartTime     int64           `json:"start_time"`
	} `json:"buy"`
}

type proposalOpenContractWire struct {
	ProposalOpenContract *struct {
		ContractID int64           `json:"contract_id"`
		IsSold     int             `json:"is_sold"`
		Status     string          `json:"status"` // open, won, lost, sold
		ExitTick   decimal.Decimal `json:"exit_tick"`
		SellPrice  decimal.Decimal `json:"sell_price"`
		Profit     decimal.Decimal `json:"profit"`
		BuyPrice   decimal.Decimal `json:"buy_price"`
		SellTime   int64           `json:"sell_time"`
	} `json:"proposal_open_contract"`
}
