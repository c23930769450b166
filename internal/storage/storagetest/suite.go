// Package storagetest holds the behavioral suite every storage.Store backend
// must pass.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rickgao/trade-relay/internal/model"
	"github.com/rickgao/trade-relay/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

// Suite runs against the Store returned by NewStore, called once per test.
type Suite struct {
	suite.Suite

	NewStore func() storage.Store

	store storage.Store
	ctx   context.Context
}

func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.NewStore()
}

func (s *Suite) TearDownTest() {
	if s.store != nil {
		s.NoError(s.store.Close())
	}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (s *Suite) newTrade(userID, symbol string) model.Trade {
	t, err := s.store.CreateTrade(s.ctx, model.NewTrade{
		UserID:       userID,
		Symbol:       symbol,
		Direction:    model.DirectionUp,
		ContractType: "CALL",
		Amount:       dec("10"),
		EntryPrice:   dec("1.08550"),
		Duration:     5,
		DurationUnit: "t",
	})
	s.Require().NoError(err)
	return t
}

func (s *Suite) TestUserRoundTrip() {
	_, err := s.store.GetUser(s.ctx, "client-1")
	s.ErrorIs(err, storage.ErrNotFound)

	u, err := s.store.UpsertUser(s.ctx, model.User{ID: "client-1", LoginID: "CR1", Currency: "USD", Balance: dec("1000.50")})
	s.Require().NoError(err)
	s.Equal("CR1", u.LoginID)
	s.False(u.CreatedAt.IsZero())

	s.Require().NoError(s.store.UpdateBalance(s.ctx, "client-1", dec("990.50")))

	got, err := s.store.GetUser(s.ctx, "client-1")
	s.Require().NoError(err)
	s.True(got.Balance.Equal(dec("990.50")), "balance %s", got.Balance)
	s.Equal("USD", got.Currency)

	s.ErrorIs(s.store.UpdateBalance(s.ctx, "ghost", dec("1")), storage.ErrNotFound)

	_, err = s.store.UpsertUser(s.ctx, model.User{})
	s.ErrorIs(err, storage.ErrInvalid)
}

func (s *Suite) TestMarketPatchLeavesUnsetFields() {
	m, err := s.store.UpsertMarket(s.ctx, "frxEURUSD", model.MarketPatch{
		DisplayName: optional.Some("EUR/USD"),
		Category:    optional.Some("forex"),
	})
	s.Require().NoError(err)
	s.True(m.IsActive)
	s.Equal("EUR/USD", m.DisplayName)

	m, err = s.store.UpsertMarket(s.ctx, "frxEURUSD", model.QuotePatch(m, dec("1.0855"), time.Now().UTC()))
	s.Require().NoError(err)
	s.Equal("1.08550", m.CurrentPrice)
	s.Equal("EUR/USD", m.DisplayName)
	s.Equal("forex", m.Category)

	got, err := s.store.GetMarket(s.ctx, "frxEURUSD")
	s.Require().NoError(err)
	s.Equal(m.CurrentPrice, got.CurrentPrice)

	_, err = s.store.GetMarket(s.ctx, "R_100")
	s.ErrorIs(err, storage.ErrNotFound)
}

func (s *Suite) TestMarketsSortedBySymbol() {
	all, err := s.store.GetAllMarkets(s.ctx)
	s.Require().NoError(err)
	s.NotNil(all)
	s.Empty(all)

	s.Require().NoError(s.store.UpsertMarkets(s.ctx, map[string]model.MarketPatch{
		"R_100":     {DisplayName: optional.Some("Volatility 100")},
		"frxEURUSD": {DisplayName: optional.Some("EUR/USD")},
		"R_50":      {IsActive: optional.Some(false)},
	}))

	all, err = s.store.GetAllMarkets(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal([]string{"R_100", "R_50", "frxEURUSD"}, []string{all[0].Symbol, all[1].Symbol, all[2].Symbol})
	s.False(all[1].IsActive)
}

func (s *Suite) TestCreateTrade() {
	t := s.newTrade("client-1", "frxEURUSD")
	s.NotEmpty(t.ID)
	s.Equal(model.TradeStatusOpen, t.Status)
	s.True(t.ExitPrice.IsNone())
	s.True(t.ClosedAt.IsNone())
	s.True(t.BrokerRef.IsNone())

	got, err := s.store.GetTrade(s.ctx, t.ID)
	s.Require().NoError(err)
	s.True(got.Amount.Equal(dec("10")))
	s.True(got.EntryPrice.Equal(dec("1.08550")))

	_, err = s.store.CreateTrade(s.ctx, model.NewTrade{UserID: "client-1", Symbol: "R_100", Amount: dec("0")})
	s.ErrorIs(err, storage.ErrInvalid)

	_, err = s.store.GetTrade(s.ctx, "missing")
	s.ErrorIs(err, storage.ErrNotFound)
}

func (s *Suite) TestUpdateTradeBrokerRef() {
	t := s.newTrade("client-1", "R_100")

	got, err := s.store.UpdateTrade(s.ctx, t.ID, model.TradePatch{BrokerRef: optional.Some("555")})
	s.Require().NoError(err)
	s.Equal("555", got.BrokerRef.Unwrap())
	s.Equal(model.TradeStatusOpen, got.Status)

	_, err = s.store.UpdateTrade(s.ctx, "missing", model.TradePatch{BrokerRef: optional.Some("1")})
	s.ErrorIs(err, storage.ErrNotFound)
}

func (s *Suite) TestCloseTradeStatusFromProfit() {
	tests := []struct {
		profit string
		want   model.TradeStatus
	}{
		{"8.50", model.TradeStatusWon},
		{"-10", model.TradeStatusLost},
		{"0", model.TradeStatusLost},
	}
	for _, tt := range tests {
		t := s.newTrade("client-1", "R_100")
		closed, err := s.store.CloseTrade(s.ctx, t.ID, dec("1.1"), dec("18.50"), dec(tt.profit))
		s.Require().NoError(err)
		s.Equal(tt.want, closed.Status, "profit %s", tt.profit)
		s.True(closed.Profit.Unwrap().Equal(dec(tt.profit)))
		s.True(closed.ClosedAt.IsSome())
	}
}

func (s *Suite) TestCloseTradeIsFinal() {
	t := s.newTrade("client-1", "R_100")

	first, err := s.store.CloseTrade(s.ctx, t.ID, dec("1.2"), dec("18.50"), dec("8.50"))
	s.Require().NoError(err)
	s.Equal(model.TradeStatusWon, first.Status)

	second, err := s.store.CloseTrade(s.ctx, t.ID, dec("0.9"), dec("0"), dec("-10"))
	s.ErrorIs(err, storage.ErrTradeClosed)
	s.Equal(model.TradeStatusWon, second.Status)
	s.True(second.Profit.Unwrap().Equal(dec("8.50")))

	_, err = s.store.CloseTrade(s.ctx, "missing", dec("1"), dec("1"), dec("1"))
	s.ErrorIs(err, storage.ErrNotFound)
}

func (s *Suite) TestConcurrentCloseHasOneWinner() {
	t := s.newTrade("client-1", "R_100")

	const workers = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		closed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.CloseTrade(s.ctx, t.ID, dec("1"), dec("18.50"), dec("8.50"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, storage.ErrTradeClosed):
				closed++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, wins)
	s.Equal(workers-1, closed)
}

func (s *Suite) TestTradeListsNewestFirst() {
	a := s.newTrade("client-1", "R_100")
	b := s.newTrade("client-1", "R_50")
	c := s.newTrade("client-1", "frxEURUSD")
	s.newTrade("client-2", "R_100")

	_, err := s.store.CloseTrade(s.ctx, b.ID, dec("1"), dec("0"), dec("-10"))
	s.Require().NoError(err)

	all, err := s.store.GetTradesByUser(s.ctx, "client-1")
	s.Require().NoError(err)
	s.Equal([]string{c.ID, b.ID, a.ID}, tradeIDs(all))

	open, err := s.store.GetOpenTradesByUser(s.ctx, "client-1")
	s.Require().NoError(err)
	s.Equal([]string{c.ID, a.ID}, tradeIDs(open))

	none, err := s.store.GetTradesByUser(s.ctx, "nobody")
	s.Require().NoError(err)
	s.NotNil(none)
	s.Empty(none)
}

func tradeIDs(trades []model.Trade) []string {
	ids := make([]string, len(trades))
	for i, t := range trades {
		ids[i] = t.ID
	}
	return ids
}
