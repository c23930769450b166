package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/trade-relay/internal/config"
	"github.com/rickgao/trade-relay/internal/hub"
	"github.com/rickgao/trade-relay/internal/model"
	"github.com/rickgao/trade-relay/internal/session"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	calls  int
	fail   error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.fail != nil {
		return w.fail
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func testTrade() model.Trade {
	return model.Trade{
		ID:     "trade-1",
		UserID: "client-1",
		Symbol: "R_100",
		Amount: decimal.NewFromInt(100),
		Status: model.TradeStatusOpen,
	}
}

func TestObserveFiltersEvents(t *testing.T) {
	s := New(&fakeWriter{}, 8, nil)

	s.Observe(hub.Envelope{Type: hub.EventPriceUpdate, Data: []model.Market{}})
	s.Observe(hub.Envelope{Type: hub.EventTradeClosed, Data: testTrade(), Origin: "relay-b"})
	s.Observe(hub.Envelope{Type: hub.EventTradeClosed, Data: "not a trade"})
	assert.Empty(t, s.queue)

	s.Observe(hub.Envelope{Type: hub.EventTradePlaced, Data: session.TradePlaced{
		Trade:           testTrade(),
		PotentialPayout: "185.00",
		PotentialProfit: "85.00",
	}})
	require.Len(t, s.queue, 1)

	msg := <-s.queue
	assert.Equal(t, "client-1", string(msg.Key))

	var rec Record
	require.NoError(t, json.Unmarshal(msg.Value, &rec))
	assert.Equal(t, hub.EventTradePlaced, rec.Event)
	assert.Equal(t, "trade-1", rec.TradeID)
	assert.Equal(t, "185.00", rec.PotentialPayout)
}

func TestRunWritesAndFlushes(t *testing.T) {
	w := &fakeWriter{}
	s := New(w, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	closed := testTrade()
	closed.Status = model.TradeStatusWon
	s.Observe(hub.Envelope{Type: hub.EventTradeClosed, Data: closed})

	require.Eventually(t, func() bool { return len(w.written()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, w.closed)
}

func TestRunBatchesQueuedRecords(t *testing.T) {
	w := &fakeWriter{}
	s := New(w, 256, nil)
	for i := 0; i < maxBatch+20; i++ {
		s.Observe(hub.Envelope{Type: hub.EventTradeClosed, Data: testTrade()})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(w.written()) == maxBatch+20 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Equal(t, 2, w.calls)
}

func TestRunKeepsGoingAfterWriteError(t *testing.T) {
	w := &fakeWriter{fail: errors.New("broker unavailable")}
	s := New(w, 8, nil)
	s.Observe(hub.Envelope{Type: hub.EventTradeClosed, Data: testTrade()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(s.queue) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, w.written())
}

func TestObserveDropsWhenFull(t *testing.T) {
	s := New(&fakeWriter{}, 1, nil)
	s.Observe(hub.Envelope{Type: hub.EventTradeClosed, Data: testTrade()})
	s.Observe(hub.Envelope{Type: hub.EventTradeClosed, Data: testTrade()})
	assert.Len(t, s.queue, 1)
}

func TestNewWriter(t *testing.T) {
	w := NewWriter(configForTest())
	assert.Equal(t, "trade-relay.trades", w.Topic)
	assert.Equal(t, kafka.RequireOne, w.RequiredAcks)
	assert.Equal(t, maxBatch, w.BatchSize)
}

func configForTest() config.AuditConfig {
	return config.AuditConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "trade-relay.trades"}
}
