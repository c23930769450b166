package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rickgao/trade-relay/internal/connection"
	"github.com/rickgao/trade-relay/internal/hub"
	"github.com/rickgao/trade-relay/internal/model"
	"github.com/rickgao/trade-relay/internal/storage"
	"go.uber.org/zap"
)

// storeTimeout bounds each store write made on behalf of an upstream event.
const storeTimeout = 5 * time.Second

// consume drains one session's events in order until the session is
// stopped or its Connector gives up.
func (m *Multiplexer) consume(s *session) {
	defer m.consumers.Done()

	events := s.conn.Events()
	exhausted := s.conn.Exhausted()
	for {
		select {
		case <-s.stop:
			return
		case ev := <-events:
			if m.handle(s, ev) {
				return
			}
		case <-exhausted:
			// The terminal StateEvent may have been dropped on a full queue
			for {
				select {
				case ev := <-events:
					if m.handle(s, ev) {
						return
					}
				default:
					m.retire(s)
					return
				}
			}
		}
	}
}

// handle applies one event. It returns true once the session is retired.
func (m *Multiplexer) handle(s *session, ev connection.Event) bool {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	switch e := ev.(type) {
	case connection.TickEvent:
		m.onTick(ctx, s, e)
	case connection.AuthorizedEvent:
		m.onAuthorized(ctx, s, e)
	case connection.DirectoryEvent:
		m.onDirectory(ctx, s, e)
	case connection.OrderResultEvent:
		m.onOrderResult(ctx, s, e)
	case connection.ContractUpdateEvent:
		m.onContractUpdate(ctx, s, e)
	case connection.ErrorEvent:
		m.onError(s, e)
	case connection.StateEvent:
		m.publish(hub.EventDerivStatus, s.statusEvent(e))
		if e.State == connection.StateExhausted {
			m.retire(s)
			return true
		}
	}
	return false
}

// retire drops an exhausted session from the registry.
func (m *Multiplexer) retire(s *session) {
	if m.remove(s) {
		s.logger.Error("upstream reconnect exhausted, session removed", zap.Int("attempts", s.conn.Attempts()))
	}
	s.shutdown()
}

func (m *Multiplexer) onTick(ctx context.Context, s *session, e connection.TickEvent) {
	market, err := m.store.GetMarket(ctx, e.Symbol)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("failed to load market", zap.String("symbol", e.Symbol), zap.Error(err))
		return
	}

	at := e.ReceivedAt
	if at.IsZero() {
		at = m.now()
	}
	updated, err := m.store.UpsertMarket(ctx, e.Symbol, model.QuotePatch(market, e.Quote, at.UTC()))
	if err != nil {
		s.logger.Warn("failed to store quote", zap.String("symbol", e.Symbol), zap.Error(err))
		return
	}
	m.publish(hub.EventPriceUpdate, []model.Market{updated})
}

func (m *Multiplexer) onAuthorized(ctx context.Context, s *session, e connection.AuthorizedEvent) {
	s.mu.Lock()
	s.loginID = e.LoginID
	s.currency = e.Currency
	s.balance = e.Balance
	s.hasBalance = true
	open := make([]int64, 0, len(s.contracts))
	for contractID := range s.contracts {
		open = append(open, contractID)
	}
	s.mu.Unlock()

	// A fresh transport carries no contract streams.
	for _, contractID := range open {
		if err := s.conn.WatchContract(contractID); err != nil {
			s.logger.Warn("failed to rewatch contract", zap.Int64("contract_id", contractID), zap.Error(err))
		}
	}

	_, err := m.store.UpsertUser(ctx, model.User{
		ID:       s.clientID,
		LoginID:  e.LoginID,
		Currency: e.Currency,
		Balance:  e.Balance,
	})
	if err != nil {
		s.logger.Warn("failed to store user", zap.Error(err))
	}

	s.logger.Info("session authorized", zap.String("login_id", e.LoginID), zap.String("currency", e.Currency))
	m.publish(hub.EventDerivStatus, s.statusEvent(connection.StateEvent{State: connection.StateReady}))
}

func (m *Multiplexer) onDirectory(ctx context.Context, s *session, e connection.DirectoryEvent) {
	patches := make(map[string]model.MarketPatch, len(e.Symbols))
	for _, info := range e.Symbols {
		patches[info.Symbol] = model.MarketPatch{
			DisplayName: optional.Some(info.DisplayName),
			Category:    optional.Some(info.Market),
			IsActive:    optional.Some(info.IsOpen),
		}
	}
	if err := m.store.UpsertMarkets(ctx, patches); err != nil {
		s.logger.Warn("failed to store market directory", zap.Error(err))
		return
	}
	s.logger.Debug("market directory stored", zap.Int("count", len(patches)))
}

func (m *Multiplexer) onOrderResult(ctx context.Context, s *session, e connection.OrderResultEvent) {
	s.mu.Lock()
	tradeID, ok := s.pending[e.ReqID]
	delete(s.pending, e.ReqID)
	if ok {
		s.contracts[e.ContractID] = tradeID
	}
	s.balance = e.BalanceAfter
	s.hasBalance = true
	s.mu.Unlock()

	if err := m.store.UpdateBalance(ctx, s.clientID, e.BalanceAfter); err != nil {
		s.logger.Warn("failed to store balance", zap.Error(err))
	}

	if !ok {
		s.logger.Warn("order result without pending trade", zap.Int64("req_id", e.ReqID), zap.Int64("contract_id", e.ContractID))
		return
	}

	ref := strconv.FormatInt(e.ContractID, 10)
	if _, err := m.store.UpdateTrade(ctx, tradeID, model.TradePatch{BrokerRef: optional.Some(ref)}); err != nil {
		s.logger.Warn("failed to store broker ref", zap.String("trade_id", tradeID), zap.Error(err))
	}
	if err := s.conn.WatchContract(e.ContractID); err != nil {
		s.logger.Warn("failed to watch contract", zap.Int64("contract_id", e.ContractID), zap.Error(err))
	}

	s.logger.Info("order accepted",
		zap.String("trade_id", tradeID),
		zap.Int64("contract_id", e.ContractID),
		zap.String("buy_price", e.BuyPrice.String()),
	)
}

func (m *Multiplexer) onContractUpdate(ctx context.Context, s *session, e connection.ContractUpdateEvent) {
	if !e.Sold {
		return
	}

	s.mu.Lock()
	tradeID, ok := s.contracts[e.ContractID]
	delete(s.contracts, e.ContractID)
	s.mu.Unlock()
	if !ok {
		return
	}

	trade, err := m.store.CloseTrade(ctx, tradeID, e.ExitTick, e.SellPrice, e.Profit)
	switch {
	case errors.Is(err, storage.ErrTradeClosed):
		s.logger.Debug("trade already closed", zap.String("trade_id", tradeID))
		return
	case err != nil:
		s.logger.Warn("failed to close trade", zap.String("trade_id", tradeID), zap.Error(err))
		return
	}

	s.logger.Info("trade settled",
		zap.String("trade_id", tradeID),
		zap.String("status", string(trade.Status)),
		zap.String("profit", e.Profit.String()),
	)
	m.publish(hub.EventTradeClosed, trade)
}

func (m *Multiplexer) onError(s *session, e connection.ErrorEvent) {
	s.logger.Warn("upstream error",
		zap.String("op", e.Op),
		zap.Int64("req_id", e.ReqID),
		zap.String("code", e.Code),
		zap.String("message", e.Message),
	)

	if e.Op == "buy" {
		s.mu.Lock()
		if tradeID, ok := s.pending[e.ReqID]; ok {
			delete(s.pending, e.ReqID)
			s.logger.Warn("order rejected, trade left open", zap.String("trade_id", tradeID))
		}
		s.mu.Unlock()
	}

	st := s.statusEvent(connection.StateEvent{State: s.conn.State()})
	st.Error = e.Message
	st.Code = e.Code
	m.publish(hub.EventDerivStatus, st)
}

func (s *session) statusEvent(e connection.StateEvent) StatusEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := StatusEvent{
		ClientID:   s.clientID,
		State:      e.State,
		Connected:  e.State >= connection.StateConnected,
		Authorized: e.State == connection.StateReady,
		Attempt:    e.Attempt,
		LoginID:    s.loginID,
	}
	if s.hasBalance {
		b := s.balance
		st.Balance = &b
	}
	if e.Err != nil {
		st.Error = e.Err.Error()
	}
	return st
}
