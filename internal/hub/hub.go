package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/trade-relay/internal/model"
	"go.uber.org/zap"
)

// EventType names a broadcast event.
type EventType string

const (
	EventMarkets     EventType = "markets"
	EventPriceUpdate EventType = "price_update"
	EventTradePlaced EventType = "trade_placed"
	EventTradeClosed EventType = "trade_closed"
	EventDerivStatus EventType = "deriv_status"
)

// DefaultSubscriberBuffer is the per-subscriber queue length.
const DefaultSubscriberBuffer = 256

// DefaultSnapshotTimeout bounds the markets read a Subscribe makes while
// holding the hub lock.
const DefaultSnapshotTimeout = 2 * time.Second

var ErrClosed = errors.New("hub closed")

// Envelope is one broadcast event, serialized as {"type":...,"data":...}.
// Origin names the instance that produced it; it is never serialized.
type Envelope struct {
	Type   EventType `json:"type"`
	Data   any       `json:"data"`
	Origin string    `json:"-"`
}

// SnapshotSource provides the markets snapshot sent to new subscribers.
type SnapshotSource interface {
	GetAllMarkets(ctx context.Context) ([]model.Market, error)
}

// Observer sees every published envelope after fan-out. It is called
// synchronously from Publish and must not block.
type Observer func(Envelope)

// Stats are cumulative hub counters.
type Stats struct {
	Subscribers int
	Published   int64
	Delivered   int64
	Dropped     int64
}

// Hub is the process-wide broadcast point.
type Hub struct {
	source          SnapshotSource
	buffer          int
	snapshotTimeout time.Duration
	logger          *zap.Logger

	mu        sync.RWMutex
	subs      map[uint64]*Subscriber
	observers []Observer
	nextID    uint64
	closed    bool

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// New creates a Hub. buffer <= 0 uses DefaultSubscriberBuffer.
func New(source SnapshotSource, buffer int, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{
		source:          source,
		buffer:          buffer,
		snapshotTimeout: DefaultSnapshotTimeout,
		logger:          logger,
		subs:            make(map[uint64]*Subscriber),
	}
}

// Subscribe registers a subscriber whose queue already holds the markets
// snapshot. The snapshot is read under the hub lock, so no broadcast can
// slip in between the snapshot and registration. The read is cut off
// after DefaultSnapshotTimeout so a slow store cannot stall broadcasts.
func (h *Hub) Subscribe(ctx context.Context) (*Subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	readCtx, cancel := context.WithTimeout(ctx, h.snapshotTimeout)
	defer cancel()
	markets, err := h.source.GetAllMarkets(readCtx)
	if err != nil {
		return nil, fmt.Errorf("load markets snapshot: %w", err)
	}
	if markets == nil {
		markets = []model.Market{}
	}
	frame, err := json.Marshal(Envelope{Type: EventMarkets, Data: markets})
	if err != nil {
		return nil, fmt.Errorf("encode markets snapshot: %w", err)
	}

	h.nextID++
	sub := &Subscriber{id: h.nextID, ch: make(chan []byte, h.buffer)}
	sub.ch <- frame
	h.subs[sub.id] = sub

	h.logger.Debug("subscriber added", zap.Uint64("subscriber_id", sub.id), zap.Int("markets", len(markets)))
	return sub, nil
}

// Unsubscribe removes sub and closes its queue. Idempotent.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	delete(h.subs, sub.id)
	h.mu.Unlock()

	sub.close()
}

// Observe registers fn to see every published envelope.
func (h *Hub) Observe(fn Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, fn)
}

// Publish broadcasts one event produced by this instance.
func (h *Hub) Publish(eventType EventType, data any) {
	h.PublishEnvelope(Envelope{Type: eventType, Data: data})
}

// PublishEnvelope broadcasts env to every current subscriber, then to observers.
func (h *Hub) PublishEnvelope(env Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("type", string(env.Type)), zap.Error(err))
		return
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	for _, sub := range h.subs {
		if sub.send(frame) {
			h.delivered.Add(1)
		} else {
			h.dropped.Add(1)
		}
	}
	observers := h.observers
	h.mu.RUnlock()

	h.published.Add(1)
	for _, fn := range observers {
		fn(env)
	}
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.subs)
	h.mu.RUnlock()

	return Stats{
		Subscribers: n,
		Published:   h.published.Load(),
		Delivered:   h.delivered.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// Close unsubscribes everyone. Later Subscribe calls fail and Publish is a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uint64]*Subscriber)
	h.closed = true
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// Subscriber is one observer's bounded queue of encoded envelopes.
type Subscriber struct {
	id uint64
	ch chan []byte

	mu      sync.Mutex
	closed  bool
	dropped int64
}

// ID returns the hub-assigned id.
func (s *Subscriber) ID() uint64 {
	return s.id
}

// C returns the queue. It is closed on Unsubscribe.
func (s *Subscriber) C() <-chan []byte {
	return s.ch
}

// Dropped returns how many events this subscriber lost to a full queue.
func (s *Subscriber) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscriber) send(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- frame:
		return true
	default:
		s.dropped++
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
