package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Connector owns one upstream broker session: the transport, the
// authorization handshake, the tick subscription table and the reconnect
// policy.
//
// Every internal goroutine (read loop, reconnect timer) captures the
// generation it was started under and becomes a no-op once Disconnect has
// advanced it.
type Connector struct {
	cfg        ConnectorConfig
	credential string
	endpoint   string
	dial       Dialer
	logger     *zap.Logger
	validate   *validator.Validate

	events      chan Event
	exhausted   chan struct{}
	exhaustOnce sync.Once

	reqID int64 // Atomic counter, never reset

	mu         sync.Mutex
	state      State
	gen        uint64
	link       *link
	attempts   int
	timer      *time.Timer
	dialCancel context.CancelFunc
	subs       map[string]*subscription
}

type link struct {
	client   Client
	stop     chan struct{}
	stopOnce sync.Once
}

func (l *link) close() {
	l.stopOnce.Do(func() { close(l.stop) })
	l.client.Close()
}

type subscription struct {
	reqID    int64
	streamID string
}

// NewConnector creates a Connector in the Disconnected state. An empty
// credential yields an anonymous session that can stream ticks but never
// reaches Ready. A nil dial uses NewClient.
func NewConnector(cfg ConnectorConfig, credential string, dial Dialer, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dial == nil {
		dial = NewClient
	}
	def := DefaultConnectorConfig()
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = def.EventBufferSize
	}
	if cfg.MessageBufferSize <= 0 {
		cfg.MessageBufferSize = def.MessageBufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.Currency == "" {
		cfg.Currency = def.Currency
	}
	if cfg.Basis == "" {
		cfg.Basis = def.Basis
	}
	if cfg.ProductType == "" {
		cfg.ProductType = def.ProductType
	}

	return &Connector{
		cfg:        cfg,
		credential: credential,
		endpoint:   endpointURL(cfg.URL, cfg.AppID),
		dial:       dial,
		logger:     logger,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		events:     make(chan Event, cfg.EventBufferSize),
		exhausted:  make(chan struct{}),
		subs:       make(map[string]*subscription),
	}
}

func endpointURL(raw, appID string) string {
	if appID == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Get("app_id") == "" {
		q.Set("app_id", appID)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Events returns the normalized event stream, in transport order.
func (c *Connector) Events() <-chan Event {
	return c.events
}

// Exhausted is closed the first time the reconnect policy gives up.
func (c *Connector) Exhausted() <-chan struct{} {
	return c.exhausted
}

// State returns the current lifecycle state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the consecutive failed reconnect counter.
func (c *Connector) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// HasCredential reports whether the session can authorize.
func (c *Connector) HasCredential() bool {
	return c.credential != ""
}

// Subscriptions returns a copy of the subscription table (symbol -> correlation id).
func (c *Connector) Subscriptions() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int64, len(c.subs))
	for sym, sub := range c.subs {
		out[sym] = sub.reqID
	}
	return out
}

func (c *Connector) nextID() int64 {
	return atomic.AddInt64(&c.reqID, 1)
}

// Connect opens the transport. It is a no-op when a transport is already
// open or being opened. A dial failure leaves the Connector Disconnected and
// returns a *TransportError; the reconnect policy applies only to losses of
// an established transport.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state >= StateConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateExhausted {
		c.attempts = 0
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.setStateLocked(StateConnecting, nil)
	gen := c.gen
	dialCtx, cancel := context.WithCancel(ctx)
	c.dialCancel = cancel
	c.mu.Unlock()

	client, err := c.open(dialCtx)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		if client != nil {
			client.Close()
		}
		return ErrDisconnected
	}
	c.dialCancel = nil
	if err != nil {
		c.setStateLocked(StateDisconnected, err)
		return &TransportError{Op: "dial", Err: err}
	}

	c.installLocked(client)
	return nil
}

// Disconnect closes the transport, cancels any pending reconnect or dial,
// clears the subscription table and settles in Disconnected. Idempotent.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if c.link != nil {
		c.link.close()
		c.link = nil
	}
	clear(c.subs)
	c.attempts = 0

	if c.state != StateDisconnected {
		c.setStateLocked(StateDisconnected, nil)
		c.logger.Info("upstream session disconnected")
	}
}

// Subscribe starts the tick stream for symbol and returns its correlation
// id. Subscribing to a symbol already in the table returns the existing id
// without sending anything.
func (c *Connector) Subscribe(symbol string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.link == nil || c.state < StateConnected {
		return 0, ErrNotConnected
	}
	if sub, ok := c.subs[symbol]; ok {
		return sub.reqID, nil
	}

	id := c.nextID()
	c.subs[symbol] = &subscription{reqID: id}
	if err := c.sendLocked(ticksRequest{Ticks: symbol, Subscribe: 1, ReqID: id}); err != nil {
		delete(c.subs, symbol)
		return 0, &TransportError{Op: "subscribe", Err: err}
	}

	c.logger.Debug("subscribed", zap.String("symbol", symbol), zap.Int64("req_id", id))
	return id, nil
}

// Unsubscribe removes symbol from the table and asks the broker to forget
// the stream. Unknown symbols are a no-op.
func (c *Connector) Unsubscribe(symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[symbol]
	if !ok {
		return nil
	}
	delete(c.subs, symbol)

	if c.link == nil {
		return nil
	}

	target := sub.streamID
	if target == "" {
		target = strconv.FormatInt(sub.reqID, 10)
	}
	if err := c.sendLocked(forgetRequest{Forget: target}); err != nil {
		return &TransportError{Op: "forget", Err: err}
	}
	return nil
}

// PlaceOrder submits a buy and returns its correlation id. The result
// arrives later as an OrderResultEvent or ErrorEvent carrying that id.
func (c *Connector) PlaceOrder(spec OrderSpec) (int64, error) {
	if c.credential == "" {
		return 0, ErrUnauthorized
	}
	if err := c.validate.Struct(spec); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if !spec.Amount.IsPositive() {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.link == nil || c.state != StateReady {
		return 0, ErrUnauthorized
	}

	amount := spec.Amount.InexactFloat64()
	id := c.nextID()
	req := buyRequest{
		Buy:   1,
		Price: amount,
		Parameters: buyParameters{
			Amount:       amount,
			Basis:        c.cfg.Basis,
			ContractType: spec.ResolvedContractType(),
			Currency:     c.cfg.Currency,
			Duration:     spec.Duration,
			DurationUnit: spec.DurationUnit,
			Symbol:       spec.Symbol,
		},
		ReqID: id,
	}
	if err := c.sendLocked(req); err != nil {
		return 0, &TransportError{Op: "buy", Err: err}
	}

	c.logger.Info("order submitted",
		zap.String("symbol", spec.Symbol),
		zap.String("contract_type", req.Parameters.ContractType),
		zap.String("amount", spec.Amount.String()),
		zap.Int64("req_id", id),
	)
	return id, nil
}

// WatchContract subscribes to settlement updates for an open contract.
func (c *Connector) WatchContract(contractID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.link == nil || c.state != StateReady {
		return ErrUnauthorized
	}
	req := proposalOpenContractRequest{ProposalOpenContract: 1, ContractID: contractID, Subscribe: 1, ReqID: c.nextID()}
	if err := c.sendLocked(req); err != nil {
		return &TransportError{Op: "proposal_open_contract", Err: err}
	}
	return nil
}

// RequestDirectory asks for the active symbol list.
func (c *Connector) RequestDirectory() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.link == nil {
		return ErrNotConnected
	}
	return c.sendLocked(activeSymbolsRequest{ActiveSymbols: "brief", ProductType: c.cfg.ProductType})
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

func (c *Connector) open(ctx context.Context) (Client, error) {
	client := c.dial(ClientConfig{
		URL:          c.endpoint,
		PingTimeout:  c.cfg.PingTimeout,
		PingInterval: c.cfg.PingInterval,
		WriteTimeout: c.cfg.WriteTimeout,
		BufferSize:   c.cfg.MessageBufferSize,
	}, c.logger)
	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// installLocked adopts a freshly dialed transport: Connected, then the
// authorize handshake, the directory request and re-subscription of every
// symbol in the table under fresh correlation ids.
func (c *Connector) installLocked(client Client) {
	l := &link{client: client, stop: make(chan struct{})}
	c.link = l
	c.attempts = 0
	c.setStateLocked(StateConnected, nil)

	go c.readLoop(l)

	if c.credential != "" {
		if err := c.sendLocked(authorizeRequest{Authorize: c.credential}); err != nil {
			c.logger.Warn("failed to send authorize", zap.Error(err))
		} else {
			c.setStateLocked(StateAuthenticating, nil)
		}
	}

	if c.cfg.RequestDirectory {
		if err := c.sendLocked(activeSymbolsRequest{ActiveSymbols: "brief", ProductType: c.cfg.ProductType}); err != nil {
			c.logger.Warn("failed to request market directory", zap.Error(err))
		}
	}

	for symbol, sub := range c.subs {
		sub.reqID = c.nextID()
		sub.streamID = ""
		if err := c.sendLocked(ticksRequest{Ticks: symbol, Subscribe: 1, ReqID: sub.reqID}); err != nil {
			c.logger.Warn("failed to resubscribe", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

func (c *Connector) sendLocked(v any) error {
	if c.link == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.link.client.Send(data)
}

// setStateLocked records the transition and emits a StateEvent.
func (c *Connector) setStateLocked(s State, cause error) {
	c.state = s
	c.emit(StateEvent{State: s, Attempt: c.attempts, Err: cause})
}

// emit enqueues without blocking. A full queue drops the event.
func (c *Connector) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event queue full, dropping event", zap.String("kind", ev.Kind()))
	}
}

func (c *Connector) readLoop(l *link) {
	for {
		select {
		case <-l.stop:
			return
		case err := <-l.client.Errors():
			c.drainBuffered(l)
			c.handleLoss(l, err)
			return
		case msg, ok := <-l.client.Messages():
			if !ok {
				c.handleLoss(l, ErrNotConnected)
				return
			}
			c.handleFrame(l, msg)
		}
	}
}

// drainBuffered handles the frames the transport read before it failed.
func (c *Connector) drainBuffered(l *link) {
	for {
		select {
		case msg, ok := <-l.client.Messages():
			if !ok {
				return
			}
			c.handleFrame(l, msg)
		default:
			return
		}
	}
}

func (c *Connector) handleFrame(l *link, msg TimestampedMessage) {
	ev, err := decodeFrame(msg.Data, msg.ReceivedAt)
	if err != nil {
		c.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}
	if ev == nil {
		return
	}

	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}

	switch e := ev.(type) {
	case TickEvent:
		if sub, ok := c.subs[e.Symbol]; ok && sub.streamID == "" {
			sub.streamID = e.StreamID
		}
	case AuthorizedEvent:
		if c.state == StateAuthenticating {
			c.setStateLocked(StateReady, nil)
			c.logger.Info("upstream session authorized", zap.String("login_id", e.LoginID))
		}
	case ErrorEvent:
		switch e.Op {
		case msgTypeAuthorize:
			if c.state == StateAuthenticating {
				c.setStateLocked(StateConnected, ErrUnauthorized)
			}
			c.logger.Warn("authorization rejected", zap.String("code", e.Code), zap.String("message", e.Message))
		case msgTypeTick:
			for symbol, sub := range c.subs {
				if sub.reqID == e.ReqID {
					delete(c.subs, symbol)
					break
				}
			}
		}
	}

	c.emit(ev)
	c.mu.Unlock()
}

func (c *Connector) handleLoss(l *link, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.link != l {
		return
	}
	c.link = nil
	l.close()

	c.logger.Warn("upstream connection lost", zap.Error(cause))
	c.scheduleReconnectLocked(&TransportError{Op: "read", Err: cause})
}

// scheduleReconnectLocked counts one more failure and arms the backoff
// timer, or enters Exhausted once the attempt budget is spent.
func (c *Connector) scheduleReconnectLocked(cause error) {
	c.attempts++
	if c.attempts > c.cfg.MaxReconnectAttempts {
		c.attempts = c.cfg.MaxReconnectAttempts
		c.setStateLocked(StateExhausted, ErrReconnectExhausted)
		c.exhaustOnce.Do(func() { close(c.exhausted) })
		c.logger.Error("reconnect attempts exhausted", zap.Int("max_attempts", c.cfg.MaxReconnectAttempts))
		return
	}

	delay := Backoff(c.cfg.ReconnectBaseDelay, c.attempts)
	c.setStateLocked(StateDisconnected, cause)

	gen := c.gen
	c.timer = time.AfterFunc(delay, func() { c.reconnect(gen) })
	c.logger.Info("reconnect scheduled", zap.Int("attempt", c.attempts), zap.Duration("delay", delay))
}

func (c *Connector) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateDisconnected || c.link != nil {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	attempt := c.attempts
	c.setStateLocked(StateConnecting, nil)
	dialCtx, cancel := context.WithCancel(context.Background())
	c.dialCancel = cancel
	c.mu.Unlock()

	c.logger.Info("attempting reconnection", zap.Int("attempt", attempt))
	client, err := c.open(dialCtx)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		if client != nil {
			client.Close()
		}
		return
	}
	c.dialCancel = nil
	if err != nil {
		c.logger.Warn("reconnection failed", zap.Int("attempt", attempt), zap.Error(err))
		c.scheduleReconnectLocked(&TransportError{Op: "dial", Err: err})
		return
	}

	c.logger.Info("reconnected", zap.Int("attempt", attempt))
	c.installLocked(client)
}
