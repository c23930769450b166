package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/trade-relay/internal/connection"
	"github.com/rickgao/trade-relay/internal/hub"
	"github.com/rickgao/trade-relay/internal/model"
	"github.com/rickgao/trade-relay/internal/pricing"
	"github.com/rickgao/trade-relay/internal/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Multiplexer maps client ids to sessions. Reads take the registry read
// lock; register and unregister take the write lock, so two registrations
// for the same id can never both succeed.
type Multiplexer struct {
	cfg    Config
	store  storage.Store
	out    Broadcaster
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool

	consumers sync.WaitGroup
}

// session is one client's Connector plus the state its consumer keeps.
type session struct {
	clientID string
	conn     *connection.Connector
	logger   *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once

	// mu guards everything below. RouteOrder holds it across PlaceOrder and
	// CreateTrade so the order result can never be consumed before the
	// pending entry exists.
	mu         sync.Mutex
	loginID    string
	currency   string
	balance    decimal.Decimal
	hasBalance bool
	pending    map[int64]string // buy req_id -> trade id
	contracts  map[int64]string // contract id -> trade id
}

func (s *session) shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// New creates an empty Multiplexer.
func New(cfg Config, store storage.Store, out Broadcaster, logger *zap.Logger) *Multiplexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multiplexer{
		cfg:      cfg,
		store:    store,
		out:      out,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*session),
	}
}

// RegisterSession opens an upstream session for clientID. The result is the
// result of the initial connect only; authorization completes later and is
// reported via deriv_status.
func (m *Multiplexer) RegisterSession(ctx context.Context, clientID, credential string) error {
	if clientID == "" {
		return fmt.Errorf("%w: client id is required", storage.ErrInvalid)
	}

	logger := m.logger.With(zap.String("client_id", clientID))
	s := &session{
		clientID:  clientID,
		conn:      connection.NewConnector(m.cfg.Connector, credential, m.cfg.Dial, logger),
		logger:    logger,
		stop:      make(chan struct{}),
		pending:   make(map[int64]string),
		contracts: make(map[int64]string),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if _, ok := m.sessions[clientID]; ok {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.sessions[clientID] = s
	m.consumers.Add(1)
	m.mu.Unlock()

	go m.consume(s)

	if err := s.conn.Connect(ctx); err != nil {
		m.remove(s)
		s.conn.Disconnect()
		s.shutdown()
		logger.Warn("session connect failed", zap.Error(err))
		return err
	}

	for _, symbol := range m.cfg.DefaultSymbols {
		if _, err := s.conn.Subscribe(symbol); err != nil {
			logger.Warn("default subscription failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	logger.Info("session registered", zap.Bool("credential", s.conn.HasCredential()))
	return nil
}

// UnregisterSession disconnects and forgets clientID. Absent ids are a no-op.
func (m *Multiplexer) UnregisterSession(clientID string) {
	m.mu.Lock()
	s, ok := m.sessions[clientID]
	if ok {
		delete(m.sessions, clientID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	s.conn.Disconnect()
	s.shutdown()
	m.publish(hub.EventDerivStatus, StatusEvent{ClientID: clientID, State: connection.StateDisconnected})
	s.logger.Info("session unregistered")
}

// remove deletes s from the registry if it is still the registered session
// for its id.
func (m *Multiplexer) remove(s *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.sessions[s.clientID]; ok && cur == s {
		delete(m.sessions, s.clientID)
		return true
	}
	return false
}

func (m *Multiplexer) get(clientID string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[clientID]
}

// connected returns the session for clientID when its transport is live.
func (m *Multiplexer) connected(clientID string) *session {
	s := m.get(clientID)
	if s == nil || s.conn.State() < connection.StateConnected {
		return nil
	}
	return s
}

// RouteOrder places an order on clientID's session and records it as an
// open trade. The session must be authorized (Ready); no trade is created
// unless the broker command was sent.
func (m *Multiplexer) RouteOrder(ctx context.Context, clientID string, spec connection.OrderSpec) (model.Trade, error) {
	s := m.get(clientID)
	if s == nil || s.conn.State() < connection.StateReady {
		return model.Trade{}, ErrNotConnected
	}

	entry := decimal.Zero
	market, err := m.store.GetMarket(ctx, spec.Symbol)
	switch {
	case err == nil:
		if p, ok := model.ParsePrice(market.CurrentPrice); ok {
			entry = p
		}
	case !errors.Is(err, storage.ErrNotFound):
		return model.Trade{}, fmt.Errorf("load market: %w", err)
	}

	s.mu.Lock()
	reqID, err := s.conn.PlaceOrder(spec)
	if err != nil {
		s.mu.Unlock()
		return model.Trade{}, err
	}

	trade, err := m.store.CreateTrade(ctx, model.NewTrade{
		UserID:       clientID,
		Symbol:       spec.Symbol,
		Direction:    model.Direction(spec.Direction),
		ContractType: spec.ResolvedContractType(),
		Amount:       spec.Amount,
		EntryPrice:   entry,
		Duration:     spec.Duration,
		DurationUnit: spec.DurationUnit,
	})
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("order sent but trade not recorded", zap.Int64("req_id", reqID), zap.Error(err))
		return model.Trade{}, fmt.Errorf("create trade: %w", err)
	}
	s.pending[reqID] = trade.ID
	s.mu.Unlock()

	payout, profit := pricing.Potential(spec.Amount, m.cfg.multiplier())
	m.publish(hub.EventTradePlaced, TradePlaced{
		Trade:           trade,
		PotentialPayout: pricing.Format(payout),
		PotentialProfit: pricing.Format(profit),
	})

	s.logger.Info("trade placed",
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.Int64("req_id", reqID),
	)
	return trade, nil
}

// RouteSubscribe subscribes clientID's session to symbols. Absent or
// disconnected sessions are ignored.
func (m *Multiplexer) RouteSubscribe(clientID string, symbols []string) {
	s := m.connected(clientID)
	if s == nil {
		return
	}
	for _, symbol := range symbols {
		if _, err := s.conn.Subscribe(symbol); err != nil {
			s.logger.Warn("subscribe failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// RouteUnsubscribe is the inverse of RouteSubscribe.
func (m *Multiplexer) RouteUnsubscribe(clientID string, symbols []string) {
	s := m.connected(clientID)
	if s == nil {
		return
	}
	for _, symbol := range symbols {
		if err := s.conn.Unsubscribe(symbol); err != nil {
			s.logger.Warn("unsubscribe failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// BalanceOf returns the last balance reported for clientID.
func (m *Multiplexer) BalanceOf(clientID string) (decimal.Decimal, bool) {
	s := m.get(clientID)
	if s == nil {
		return decimal.Zero, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, s.hasBalance
}

// IsConnected reports whether clientID has a live transport.
func (m *Multiplexer) IsConnected(clientID string) bool {
	return m.connected(clientID) != nil
}

// Status returns the status of clientID's session.
func (m *Multiplexer) Status(clientID string) (ClientStatus, bool) {
	s := m.get(clientID)
	if s == nil {
		return ClientStatus{}, false
	}
	return s.status(), true
}

// ListConnectedClients returns the status of every registered session,
// sorted by client id.
func (m *Multiplexer) ListConnectedClients() []ClientStatus {
	m.mu.RLock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]ClientStatus, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

func (s *session) status() ClientStatus {
	state := s.conn.State()
	subs := s.conn.Subscriptions()
	symbols := make([]string, 0, len(subs))
	for symbol := range subs {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	s.mu.Lock()
	defer s.mu.Unlock()

	st := ClientStatus{
		ClientID:      s.clientID,
		State:         state,
		Connected:     state >= connection.StateConnected,
		Authorized:    state == connection.StateReady,
		LoginID:       s.loginID,
		Currency:      s.currency,
		Attempts:      s.conn.Attempts(),
		Subscriptions: symbols,
	}
	if s.hasBalance {
		b := s.balance
		st.Balance = &b
	}
	return st
}

// CloseTrade settles a trade by hand. Settlement normally arrives from the
// broker; this path exists for demos and support.
func (m *Multiplexer) CloseTrade(ctx context.Context, tradeID string, exitPrice, payout, profit decimal.Decimal) (model.Trade, error) {
	m.logger.Warn("manual trade close",
		zap.String("trade_id", tradeID),
		zap.String("exit_price", exitPrice.String()),
		zap.String("profit", profit.String()),
	)

	trade, err := m.store.CloseTrade(ctx, tradeID, exitPrice, payout, profit)
	if err != nil {
		return trade, err
	}
	m.publish(hub.EventTradeClosed, trade)
	return trade, nil
}

// Shutdown disconnects every session and waits for their consumers, or
// until ctx is done. No session can be registered afterwards.
func (m *Multiplexer) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.conn.Disconnect()
		s.shutdown()
	}

	done := make(chan struct{})
	go func() {
		m.consumers.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("sessions drained", zap.Int("count", len(sessions)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Multiplexer) publish(eventType hub.EventType, data any) {
	if m.out != nil {
		m.out.Publish(eventType, data)
	}
}
