// Package audit streams trade lifecycle events to Kafka.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rickgao/trade-relay/internal/config"
	"github.com/rickgao/trade-relay/internal/hub"
	"github.com/rickgao/trade-relay/internal/model"
	"github.com/rickgao/trade-relay/internal/session"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DefaultBuffer is the number of records queued ahead of the writer.
const DefaultBuffer = 1024

// maxBatch caps the records handed to one WriteMessages call.
const maxBatch = 100

// drainTimeout bounds the final flush after Run's context is done.
const drainTimeout = 5 * time.Second

// Writer is the subset of *kafka.Writer the sink uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Record is one audit message value.
type Record struct {
	Event           hub.EventType `json:"event"`
	TradeID         string        `json:"tradeId"`
	UserID          string        `json:"userId"`
	Trade           model.Trade   `json:"trade"`
	PotentialPayout string        `json:"potentialPayout,omitempty"`
	PotentialProfit string        `json:"potentialProfit,omitempty"`
	At              time.Time     `json:"at"`
}

// Sink is a hub observer that forwards trade_placed and trade_closed
// produced by this instance.
type Sink struct {
	w      Writer
	logger *zap.Logger
	now    func() time.Time
	queue  chan kafka.Message
}

// NewWriter builds a kafka-go writer for cfg.
func NewWriter(cfg config.AuditConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    maxBatch,
		BatchTimeout: 200 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// New creates a Sink. buffer <= 0 uses DefaultBuffer.
func New(w Writer, buffer int, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Sink{
		w:      w,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		queue:  make(chan kafka.Message, buffer),
	}
}

// Observe enqueues a record for env. It never blocks.
func (s *Sink) Observe(env hub.Envelope) {
	if env.Origin != "" {
		return
	}

	rec := Record{Event: env.Type, At: s.now()}
	switch env.Type {
	case hub.EventTradePlaced:
		placed, ok := env.Data.(session.TradePlaced)
		if !ok {
			return
		}
		rec.Trade = placed.Trade
		rec.PotentialPayout = placed.PotentialPayout
		rec.PotentialProfit = placed.PotentialProfit
	case hub.EventTradeClosed:
		trade, ok := env.Data.(model.Trade)
		if !ok {
			return
		}
		rec.Trade = trade
	default:
		return
	}
	rec.TradeID = rec.Trade.ID
	rec.UserID = rec.Trade.UserID

	value, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn("failed to encode audit record", zap.String("trade_id", rec.TradeID), zap.Error(err))
		return
	}

	select {
	case s.queue <- kafka.Message{Key: []byte(rec.UserID), Value: value}:
	default:
		s.logger.Warn("audit queue full, dropping record", zap.String("trade_id", rec.TradeID))
	}
}

// Run writes queued records until ctx is done, then flushes what is left
// and closes the writer.
func (s *Sink) Run(ctx context.Context) error {
	defer func() {
		if err := s.w.Close(); err != nil {
			s.logger.Warn("failed to close audit writer", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return nil
		case msg := <-s.queue:
			batch := s.collect([]kafka.Message{msg}, maxBatch)
			if err := s.w.WriteMessages(ctx, batch...); err != nil {
				if ctx.Err() != nil {
					s.drain()
					return nil
				}
				s.logger.Error("audit write failed", zap.Int("records", len(batch)), zap.Error(err))
			}
		}
	}
}

// collect appends already queued records to batch until it holds limit
// records or the queue is empty. limit <= 0 means no limit.
func (s *Sink) collect(batch []kafka.Message, limit int) []kafka.Message {
	for limit <= 0 || len(batch) < limit {
		select {
		case msg := <-s.queue:
			batch = append(batch, msg)
		default:
			return batch
		}
	}
	return batch
}

func (s *Sink) drain() {
	pending := s.collect(nil, 0)
	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := s.w.WriteMessages(ctx, pending...); err != nil {
		s.logger.Error("audit flush failed", zap.Int("records", len(pending)), zap.Error(err))
	}
}
