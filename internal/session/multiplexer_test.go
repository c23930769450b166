package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rickgao/trade-relay/internal/connection"
	"github.com/rickgao/trade-relay/internal/hub"
	"github.com/rickgao/trade-relay/internal/mocks"
	"github.com/rickgao/trade-relay/internal/model"
	"github.com/rickgao/trade-relay/internal/storage"
	"github.com/rickgao/trade-relay/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

const waitTimeout = 2 * time.Second

// fakeBroker answers the commands a session sends. Every dial creates a
// fakeClient that replies synchronously from Send.
type fakeBroker struct {
	failDial       atomic.Bool
	rejectBuy      atomic.Bool
	holdSettlement atomic.Bool
	dials          atomic.Int64

	mu      sync.Mutex
	clients []*fakeClient
	sent    []map[string]any
}

func (b *fakeBroker) dial(connection.ClientConfig, *zap.Logger) connection.Client {
	c := &fakeClient{
		broker:   b,
		messages: make(chan connection.TimestampedMessage, 64),
		errors:   make(chan error, 1),
	}
	b.mu.Lock()
	b.clients = append(b.clients, c)
	b.mu.Unlock()
	return c
}

// dropAll fails every live transport.
func (b *fakeBroker) dropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.clients {
		select {
		case c.errors <- errors.New("connection reset"):
		default:
		}
	}
}

// tick pushes a quote on the most recent transport.
func (b *fakeBroker) tick(symbol, quote string) {
	b.mu.Lock()
	c := b.clients[len(b.clients)-1]
	b.mu.Unlock()
	c.push(fmt.Sprintf(`{"msg_type":"tick","tick":{"symbol":%q,"quote":%s,"epoch":1700000000,"id":"stream-%s"}}`, symbol, quote, symbol))
}

func (b *fakeBroker) requests(key string) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, r := range b.sent {
		if _, ok := r[key]; ok {
			out = append(out, r)
		}
	}
	return out
}

type fakeClient struct {
	broker   *fakeBroker
	messages chan connection.TimestampedMessage
	errors   chan error

	mu     sync.Mutex
	closed bool
}

func (c *fakeClient) Connect(context.Context) error {
	c.broker.dials.Add(1)
	if c.broker.failDial.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeClient) Messages() <-chan connection.TimestampedMessage { return c.messages }
func (c *fakeClient) Errors() <-chan error                           { return c.errors }

func (c *fakeClient) push(frame string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.messages <- connection.TimestampedMessage{Data: []byte(frame), ReceivedAt: time.Now()}
}

func (c *fakeClient) Send(data []byte) error {
	var req map[string]any
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	c.broker.mu.Lock()
	c.broker.sent = append(c.broker.sent, req)
	c.broker.mu.Unlock()

	reqID, _ := req["req_id"].(float64)
	switch {
	case req["authorize"] != nil:
		if req["authorize"] == "bad-token" {
			c.push(`{"msg_type":"authorize","error":{"code":"InvalidToken","message":"The token is invalid."}}`)
			return nil
		}
		c.push(`{"msg_type":"authorize","authorize":{"loginid":"CR90000","currency":"USD","balance":1000}}`)
	case req["buy"] != nil:
		if c.broker.rejectBuy.Load() {
			c.push(fmt.Sprintf(`{"msg_type":"buy","req_id":%d,"error":{"code":"InsufficientBalance","message":"Not enough funds."}}`, int64(reqID)))
			return nil
		}
		c.push(fmt.Sprintf(`{"msg_type":"buy","req_id":%d,"buy":{"contract_id":555,"transaction_id":9,"buy_price":100,"payout":185,"balance_after":900,"longcode":"Win payout"}}`, int64(reqID)))
	case req["proposal_open_contract"] != nil:
		if c.broker.holdSettlement.Load() {
			c.push(`{"msg_type":"proposal_open_contract","proposal_open_contract":{"contract_id":555,"is_sold":0,"status":"open"}}`)
			return nil
		}
		c.push(`{"msg_type":"proposal_open_contract","proposal_open_contract":{"contract_id":555,"is_sold":1,"status":"won","exit_tick":"1.08600","sell_price":185,"profit":85}}`)
	}
	return nil
}

// recorder is a Broadcaster that keeps every envelope.
type recorder struct {
	ch chan hub.Envelope
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan hub.Envelope, 1024)}
}

func (r *recorder) Publish(eventType hub.EventType, data any) {
	r.ch <- hub.Envelope{Type: eventType, Data: data}
}

// next returns the next envelope of eventType that satisfies match.
func (r *recorder) next(t *testing.T, eventType hub.EventType, match func(any) bool) any {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case env := <-r.ch:
			if env.Type == eventType && (match == nil || match(env.Data)) {
				return env.Data
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
			return nil
		}
	}
}

func authorized(data any) bool {
	st, ok := data.(StatusEvent)
	return ok && st.Authorized && st.Balance != nil
}

func testConfig(b *fakeBroker) Config {
	return Config{
		Connector: connection.ConnectorConfig{
			URL:                  "wss://broker.test/websockets/v3",
			ReconnectBaseDelay:   time.Millisecond,
			MaxReconnectAttempts: 2,
		},
		Dial: b.dial,
	}
}

type fixture struct {
	broker *fakeBroker
	store  *memory.Store
	out    *recorder
	mux    *Multiplexer
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{broker: &fakeBroker{}, store: memory.New(), out: newRecorder()}
	cfg := testConfig(f.broker)
	if mutate != nil {
		mutate(&cfg)
	}
	f.mux = New(cfg, f.store, f.out, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = f.mux.Shutdown(ctx)
	})
	return f
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestRegisterSession(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.mux.RegisterSession(context.Background(), "client-1", ""))
	assert.True(t, f.mux.IsConnected("client-1"))

	err := f.mux.RegisterSession(context.Background(), "client-1", "")
	assert.ErrorIs(t, err, ErrAlreadyConnected)
	assert.EqualValues(t, 1, f.broker.dials.Load())

	assert.ErrorIs(t, f.mux.RegisterSession(context.Background(), "", ""), storage.ErrInvalid)
}

func TestRegisterSession_ConcurrentSameID(t *testing.T) {
	f := newFixture(t, nil)

	const callers = 16
	var (
		wg       sync.WaitGroup
		ok       atomic.Int64
		rejected atomic.Int64
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			switch err := f.mux.RegisterSession(context.Background(), "client-1", ""); {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrAlreadyConnected):
				rejected.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, callers-1, rejected.Load())
	assert.Len(t, f.mux.ListConnectedClients(), 1)
}

func TestRegisterSession_DialFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.broker.failDial.Store(true)

	err := f.mux.RegisterSession(context.Background(), "client-1", "")
	var terr *connection.TransportError
	require.ErrorAs(t, err, &terr)

	_, found := f.mux.Status("client-1")
	assert.False(t, found)
	assert.False(t, f.mux.IsConnected("client-1"))

	// The reservation is released, so a retry can succeed
	f.broker.failDial.Store(false)
	require.NoError(t, f.mux.RegisterSession(context.Background(), "client-1", ""))
}

func TestUnregisterSession(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.mux.RegisterSession(context.Background(), "client-1", ""))

	f.mux.UnregisterSession("client-1")
	assert.False(t, f.mux.IsConnected("client-1"))
	assert.Empty(t, f.mux.ListConnectedClients())

	// Absent id is a no-op
	f.mux.UnregisterSession("client-1")
	f.mux.UnregisterSession("ghost")
}

func TestTickBecomesPriceUpdate(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.DefaultSymbols = []string{"frxEURUSD"} })
	require.NoError(t, f.mux.RegisterSession(context.Background(), "client-1", ""))
	require.Len(t, f.broker.requests("ticks"), 1)

	f.broker.tick("frxEURUSD", "1.0855")
	data := f.out.next(t, hub.EventPriceUpdate, nil)
	markets, ok := data.([]model.Market)
	require.True(t, ok)
	require.Len(t, markets, 1)
	assert.Equal(t, "frxEURUSD", markets[0].Symbol)
	assert.Equal(t, "1.08550", markets[0].CurrentPrice)
	assert.Equal(t, "0.00000", markets[0].Change)

	f.broker.tick("frxEURUSD", "1.0865")
	markets = f.out.next(t, hub.EventPriceUpdate, nil).([]model.Market)
	assert.Equal(t, "1.08650", markets[0].CurrentPrice)
	assert.Equal(t, "0.00100", markets[0].Change)
	assert.Equal(t, "1.08650", markets[0].High)
	assert.Equal(t, "1.08550", markets[0].Low)

	stored, err := f.store.GetMarket(context.Background(), "frxEURUSD")
	require.NoError(t, err)
	assert.Equal(t, "1.08650", stored.CurrentPrice)
}

func TestRouteSubscribe(t *testing.T) {
	f := newFixture(t, nil)

	// Absent session: silent no-op
	f.mux.RouteSubscribe("client-1", []string{"R_100"})
	assert.Empty(t, f.broker.requests("ticks"))

	require.NoError(t, f.mux.RegisterSession(context.Background(), "client-1", ""))
	f.mux.RouteSubscribe("client-1", []string{"R_100", "R_50", "R_100"})
	assert.Len(t, f.broker.requests("ticks"), 2)

	st, ok := f.mux.Status("client-1")
	require.True(t, ok)
	assert.Equal(t, []string{"R_100", "R_50"}, st.Subscriptions)

	f.mux.RouteUnsubscribe("client-1", []string{"R_50"})
	forgets := f.broker.requests("forget")
	require.Len(t, forgets, 1)
	st, _ = f.mux.Status("client-1")
	assert.Equal(t, []string{"R_100"}, st.Subscriptions)
}

func TestAuthorizeCachesBalance(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.mux.RegisterSession(context.Background(), "client-1", "good-token"))

	st := f.out.next(t, hub.EventDerivStatus, authorized).(StatusEvent)
	assert.Equal(t, "CR90000", st.LoginID)
	assert.True(t, st.Balance.Equal(dec("1000")))

	bal, ok := f.mux.BalanceOf("client-1")
	require.True(t, ok)
	assert.True(t, bal.Equal(dec("1000")))

	u, err := f.store.GetUser(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, "USD", u.Currency)

	_, ok = f.mux.BalanceOf("ghost")
	assert.False(t, ok)
}

func TestAuthorizeRejected(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.mux.RegisterSession(context.Background(), "client-1", "bad-token"))

	st := f.out.next(t, hub.EventDerivStatus, func(d any) bool { return d.(StatusEvent).Code != "" }).(StatusEvent)
	assert.Equal(t, "InvalidToken", st.Code)
	assert.True(t, st.Connected)
	assert.False(t, st.Authorized)

	_, err := f.mux.RouteOrder(context.Background(), "client-1", orderSpec("100"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestRouteOrder_NotConnected(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.mux.RouteOrder(context.Background(), "ghost", orderSpec("100"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestRouteOrder_UnauthorizedCreatesNoTrade(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().GetMarket(gomock.Any(), "R_100").Return(model.Market{}, storage.ErrNotFound).AnyTimes()
	store.EXPECT().CreateTrade(gomock.Any(), gomock.Any()).Times(0)

	b := &fakeBroker{}
	mux := New(testConfig(b), store, newRecorder(), nil)
	defer mux.Shutdown(context.Background())

	require.NoError(t, mux.RegisterSession(context.Background(), "anon", ""))
	require.True(t, mux.IsConnected("anon"))
	_, err := mux.RouteOrder(context.Background(), "anon", orderSpec("100"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, b.requests("buy"))
}

func TestOrderLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.store.UpsertMarket(ctx, "R_100", model.MarketPatch{CurrentPrice: optional.Some("1.08550")})
	require.NoError(t, err)

	require.NoError(t, f.mux.RegisterSession(ctx, "client-1", "good-token"))
	f.out.next(t, hub.EventDerivStatus, authorized)

	trade, err := f.mux.RouteOrder(ctx, "client-1", orderSpec("100"))
	require.NoError(t, err)
	assert.Equal(t, model.TradeStatusOpen, trade.Status)
	assert.Equal(t, "CALL", trade.ContractType)
	assert.True(t, trade.EntryPrice.Equal(dec("1.0855")))

	placed := f.out.next(t, hub.EventTradePlaced, nil).(TradePlaced)
	assert.Equal(t, trade.ID, placed.Trade.ID)
	assert.Equal(t, "185.00", placed.PotentialPayout)
	assert.Equal(t, "85.00", placed.PotentialProfit)

	closed := f.out.next(t, hub.EventTradeClosed, nil).(model.Trade)
	assert.Equal(t, trade.ID, closed.ID)
	assert.Equal(t, model.TradeStatusWon, closed.Status)
	assert.True(t, closed.Profit.Unwrap().Equal(dec("85")))
	assert.Equal(t, "555", closed.BrokerRef.Unwrap())

	stored, err := f.store.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsOpen())

	bal, _ := f.mux.BalanceOf("client-1")
	assert.True(t, bal.Equal(dec("900")))
	require.Len(t, f.broker.requests("proposal_open_contract"), 1)

	// A manual close after settlement changes nothing
	_, err = f.mux.CloseTrade(ctx, trade.ID, dec("1"), dec("0"), dec("-100"))
	assert.ErrorIs(t, err, storage.ErrTradeClosed)
	select {
	case env := <-f.out.ch:
		assert.NotEqual(t, hub.EventTradeClosed, env.Type)
	default:
	}
}

func TestOpenContractSettlesAfterReconnect(t *testing.T) {
	f := newFixture(t, nil)
	f.broker.holdSettlement.Store(true)
	ctx := context.Background()

	require.NoError(t, f.mux.RegisterSession(ctx, "client-1", "good-token"))
	f.out.next(t, hub.EventDerivStatus, authorized)

	trade, err := f.mux.RouteOrder(ctx, "client-1", orderSpec("100"))
	require.NoError(t, err)
	f.out.next(t, hub.EventTradePlaced, nil)
	require.Eventually(t, func() bool {
		return len(f.broker.requests("proposal_open_contract")) == 1
	}, waitTimeout, 5*time.Millisecond)

	f.broker.holdSettlement.Store(false)
	f.broker.dropAll()
	f.out.next(t, hub.EventDerivStatus, authorized)

	closed := f.out.next(t, hub.EventTradeClosed, nil).(model.Trade)
	assert.Equal(t, trade.ID, closed.ID)
	assert.Equal(t, model.TradeStatusWon, closed.Status)

	watches := f.broker.requests("proposal_open_contract")
	require.Len(t, watches, 2)
	assert.EqualValues(t, 555, watches[1]["contract_id"])
	assert.EqualValues(t, 2, f.broker.dials.Load())
}

func TestOrderRejectedByBroker(t *testing.T) {
	f := newFixture(t, nil)
	f.broker.rejectBuy.Store(true)
	ctx := context.Background()

	require.NoError(t, f.mux.RegisterSession(ctx, "client-1", "good-token"))
	f.out.next(t, hub.EventDerivStatus, authorized)

	trade, err := f.mux.RouteOrder(ctx, "client-1", orderSpec("10"))
	require.NoError(t, err)

	st := f.out.next(t, hub.EventDerivStatus, func(d any) bool { return d.(StatusEvent).Code != "" }).(StatusEvent)
	assert.Equal(t, "InsufficientBalance", st.Code)
	assert.Empty(t, f.broker.requests("proposal_open_contract"))

	stored, err := f.store.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	assert.True(t, stored.BrokerRef.IsNone())
}

func TestManualCloseTrade(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	trade, err := f.store.CreateTrade(ctx, model.NewTrade{UserID: "client-1", Symbol: "R_100", Amount: dec("10")})
	require.NoError(t, err)

	closed, err := f.mux.CloseTrade(ctx, trade.ID, dec("101.5"), dec("0"), dec("-10"))
	require.NoError(t, err)
	assert.Equal(t, model.TradeStatusLost, closed.Status)

	published := f.out.next(t, hub.EventTradeClosed, nil).(model.Trade)
	assert.Equal(t, trade.ID, published.ID)

	_, err = f.mux.CloseTrade(ctx, "missing", dec("1"), dec("1"), dec("1"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExhaustedSessionIsRemoved(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.mux.RegisterSession(context.Background(), "client-1", ""))

	f.broker.failDial.Store(true)
	f.broker.dropAll()

	st := f.out.next(t, hub.EventDerivStatus, func(d any) bool {
		return d.(StatusEvent).State == connection.StateExhausted
	}).(StatusEvent)
	assert.False(t, st.Connected)

	require.Eventually(t, func() bool {
		_, found := f.mux.Status("client-1")
		return !found
	}, waitTimeout, 5*time.Millisecond)
	assert.EqualValues(t, 3, f.broker.dials.Load())

	// Exhausted ids can register again
	f.broker.failDial.Store(false)
	require.NoError(t, f.mux.RegisterSession(context.Background(), "client-1", ""))
}

func TestListConnectedClientsSorted(t *testing.T) {
	f := newFixture(t, nil)
	for _, id := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, f.mux.RegisterSession(context.Background(), id, ""))
	}

	list := f.mux.ListConnectedClients()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].ClientID)
	assert.Equal(t, "bravo", list[1].ClientID)
	assert.Equal(t, "charlie", list[2].ClientID)
	assert.True(t, list[0].Connected)
	assert.Nil(t, list[0].Balance)
}

func TestShutdown(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.mux.RegisterSession(context.Background(), "a", ""))
	require.NoError(t, f.mux.RegisterSession(context.Background(), "b", "good-token"))

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, f.mux.Shutdown(ctx))

	assert.Empty(t, f.mux.ListConnectedClients())
	assert.ErrorIs(t, f.mux.RegisterSession(context.Background(), "c", ""), ErrNotConnected)
}

func orderSpec(amount string) connection.OrderSpec {
	return connection.OrderSpec{
		Symbol:       "R_100",
		Direction:    "up",
		Amount:       dec(amount),
		Duration:     5,
		DurationUnit: "t",
	}
}
