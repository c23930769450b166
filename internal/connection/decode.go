package connection

import (
	"encoding/json"
	"time"
)

// Message types of the upstream protocol.
const (
	msgTypeTick                 = "tick"
	msgTypeAuthorize            = "authorize"
	msgTypeActiveSymbols        = "active_symbols"
	msgTypeBuy                  = "buy"
	msgTypeProposalOpenContract = "proposal_open_contract"
	msgTypeForget               = "forget"
	msgTypePing                 = "ping"
)

// decodeFrame classifies one inbound frame. It returns (nil, nil) for frames
// that carry nothing the Connector forwards, and a *ProtocolError for frames
// that cannot be parsed.
func decodeFrame(data []byte, receivedAt time.Time) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Reason: "invalid json", Data: data, Err: err}
	}

	if env.Error != nil {
		return ErrorEvent{
			Op:      env.MsgType,
			ReqID:   env.ReqID,
			Code:    env.Error.Code,
			Message: env.Error.Message,
		}, nil
	}

	switch env.MsgType {
	case msgTypeTick:
		var w tickWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, &ProtocolError{Reason: "bad tick", Data: data, Err: err}
		}
		if w.Tick == nil || w.Tick.Symbol == "" {
			return nil, &ProtocolError{Reason: "tick without symbol", Data: data}
		}
		streamID := w.Tick.ID
		if streamID == "" && env.Subscription != nil {
			streamID = env.Subscription.ID
		}
		return TickEvent{
			Symbol:     w.Tick.Symbol,
			Quote:      w.Tick.Quote,
			Epoch:      w.Tick.Epoch,
			StreamID:   streamID,
			ReqID:      env.ReqID,
			ReceivedAt: receivedAt,
		}, nil

	case msgTypeAuthorize:
		var w authorizeWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, &ProtocolError{Reason: "bad authorize", Data: data, Err: err}
		}
		if w.Authorize == nil {
			return nil, &ProtocolError{Reason: "authorize without body", Data: data}
		}
		return AuthorizedEvent{
			LoginID:  w.Authorize.LoginID,
			Currency: w.Authorize.Currency,
			Balance:  w.Authorize.Balance,
		}, nil

	case msgTypeActiveSymbols:
		var w activeSymbolsWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, &ProtocolError{Reason: "bad active_symbols", Data: data, Err: err}
		}
		symbols := make([]SymbolInfo, 0, len(w.ActiveSymbols))
		for _, s := range w.ActiveSymbols {
			if s.Symbol == "" {
				continue
			}
			symbols = append(symbols, SymbolInfo{
				Symbol:      s.Symbol,
				DisplayName: s.DisplayName,
				Market:      s.Market,
				Submarket:   s.Submarket,
				IsOpen:      s.ExchangeIsOpen == 1 && s.IsTradingSuspended == 0,
			})
		}
		return DirectoryEvent{Symbols: symbols}, nil

	case msgTypeBuy:
		var w buyWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, &ProtocolError{Reason: "bad buy", Data: data, Err: err}
		}
		if w.Buy == nil {
			return nil, &ProtocolError{Reason: "buy without body", Data: data}
		}
		return OrderResultEvent{
			ReqID:         env.ReqID,
			ContractID:    w.Buy.ContractID,
			TransactionID: w.Buy.TransactionID,
			Longcode:      w.Buy.Longcode,
			BuyPrice:      w.Buy.BuyPrice,
			Payout:        w.Buy.Payout,
			BalanceAfter:  w.Buy.BalanceAfter,
			StartTime:     w.Buy.StartTime,
		}, nil

	case msgTypeProposalOpenContract:
		var w proposalOpenContractWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, &ProtocolError{Reason: "bad proposal_open_contract", Data: data, Err: err}
		}
		// The first response to a subscription can be empty
		if w.ProposalOpenContract == nil || w.ProposalOpenContract.ContractID == 0 {
			return nil, nil
		}
		c := w.ProposalOpenContract
		return ContractUpdateEvent{
			ContractID: c.ContractID,
			Sold:       c.IsSold == 1,
			Status:     c.Status,
			ExitTick:   c.ExitTick,
			SellPrice:  c.SellPrice,
			Profit:     c.Profit,
			SellTime:   c.SellTime,
		}, nil

	case msgTypeForget, msgTypePing:
		return nil, nil

	case "":
		return nil, &ProtocolError{Reason: "missing msg_type", Data: data}
	}

	// Unknown but well-formed: ignored
	return nil, nil
}
