package session

import (
	"errors"

	"github.com/rickgao/trade-relay/internal/connection"
	"github.com/rickgao/trade-relay/internal/hub"
	"github.com/rickgao/trade-relay/internal/model"
	"github.com/rickgao/trade-relay/internal/pricing"
	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrAlreadyConnected = errors.New("session already connected")
	ErrNotConnected     = errors.New("session not connected")
)

// Broadcaster receives every downstream event. *hub.Hub implements it.
type Broadcaster interface {
	Publish(eventType hub.EventType, data any)
}

// Config configures a Multiplexer.
type Config struct {
	Connector        connection.ConnectorConfig
	Dial             connection.Dialer // nil uses connection.NewClient
	DefaultSymbols   []string          // Subscribed right after a session connects
	PayoutMultiplier decimal.Decimal   // Used for the trade_placed preview
}

func (c Config) multiplier() decimal.Decimal {
	if c.PayoutMultiplier.IsZero() {
		return pricing.DefaultPayoutMultiplier
	}
	return c.PayoutMultiplier
}

// ClientStatus is a point-in-time view of one session.
type ClientStatus struct {
	ClientID      string           `json:"clientId"`
	State         connection.State `json:"state"`
	Connected     bool             `json:"connected"`
	Authorized    bool             `json:"authorized"`
	LoginID       string           `json:"loginId,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	Balance       *decimal.Decimal `json:"balance,omitempty"`
	Attempts      int              `json:"attempts"`
	Subscriptions []string         `json:"subscriptions"`
}

// StatusEvent is the payload of a deriv_status broadcast.
type StatusEvent struct {
	ClientID   string           `json:"clientId"`
	State      connection.State `json:"state"`
	Connected  bool             `json:"connected"`
	Authorized bool             `json:"authorized"`
	Attempt    int              `json:"attempt,omitempty"`
	LoginID    string           `json:"loginId,omitempty"`
	Balance    *decimal.Decimal `json:"balance,omitempty"`
	Error      string           `json:"error,omitempty"`
	Code       string           `json:"code,omitempty"`
}

// TradePlaced is the payload of a trade_placed broadcast.
type TradePlaced struct {
	Trade           model.Trade `json:"trade"`
	PotentialPayout string      `json:"potentialPayout"`
	PotentialProfit string      `json:"potentialProfit"`
}
