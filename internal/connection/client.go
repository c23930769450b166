package connection

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is a single WebSocket transport to the broker. It knows nothing about
// the protocol spoken over it; the Connector owns that.
type Client interface {
	// Connect dials the endpoint.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection. Safe to call more than once.
	Close() error

	// Send writes one text frame.
	Send(data []byte) error

	// Messages returns every inbound frame with its local receive time.
	Messages() <-chan TimestampedMessage

	// Errors returns at most one terminal transport error.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// Dialer constructs a Client. The Connector calls it once per (re)connect.
type Dialer func(cfg ClientConfig, logger *zap.Logger) Client

// keepaliveFrame is the broker's application-level ping. Idle sockets are
// dropped upstream after two minutes even when control pings flow.
var keepaliveFrame = []byte(`{"ping":1}`)

type client struct {
	cfg    ClientConfig
	logger *zap.Logger

	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	// lastSeen is the unix-nano time of the last frame, ping or pong read
	// from the peer.
	lastSeen atomic.Int64

	writeMu sync.Mutex

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	closed    bool
}

// NewClient creates a transport for cfg.URL. Nothing is dialed until Connect.
func NewClient(cfg ClientConfig, logger *zap.Logger) Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultClientConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (c *client) Connect(ctx context.Context) error {
	if c.isClosed() {
		return ErrAlreadyClosed
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, http.Header{"Accept": []string{"application/json"}})
	if err != nil {
		return err
	}

	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.touch()

	go c.readLoop(conn)
	go c.heartbeatLoop()

	c.logger.Debug("websocket connected", zap.String("url", c.cfg.URL))
	return nil
}

func (c *client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *client) idle() time.Duration {
	return time.Since(time.Unix(0, c.lastSeen.Load()))
}

func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *client) Send(data []byte) error {
	c.mu.RLock()
	conn, ok := c.conn, c.connected
	c.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	return c.write(conn, data)
}

func (c *client) write(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) Messages() <-chan TimestampedMessage { return c.messages }
func (c *client) Errors() <-chan error                { return c.errors }

func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// readLoop forwards inbound frames until the socket fails or Close is
// called. A full buffer drops the frame rather than stalling the socket.
func (c *client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Read errors after Close are expected
			default:
				c.fail(err)
			}
			return
		}

		c.touch()
		msg := TimestampedMessage{Data: data, ReceivedAt: time.Now()}

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		default:
			c.logger.Warn("message buffer full, dropping message", zap.Int("bytes", len(data)))
		}
	}
}

func (c *client) fail(err error) {
	select {
	case c.errors <- err:
	default:
	}
}

// heartbeatLoop sends the broker keepalive every PingInterval and reports
// ErrStaleConnection once nothing has been read for PingTimeout.
func (c *client) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		if c.cfg.PingTimeout > 0 && c.idle() > c.cfg.PingTimeout {
			c.logger.Warn("no traffic from broker, connection stale",
				zap.Duration("idle", c.idle()),
				zap.Duration("timeout", c.cfg.PingTimeout),
			)
			c.fail(ErrStaleConnection)
			return
		}

		if err := c.Send(keepaliveFrame); err != nil {
			c.logger.Debug("failed to send keepalive", zap.Error(err))
		}
	}
}
