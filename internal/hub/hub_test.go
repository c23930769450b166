package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/trade-relay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	markets []model.Market
	err     error
}

func (s staticSource) GetAllMarkets(context.Context) ([]model.Market, error) {
	return s.markets, s.err
}

// stallingSource blocks until the caller's context ends.
type stallingSource struct{}

func (stallingSource) GetAllMarkets(ctx context.Context) ([]model.Market, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type frame struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

func decode(t *testing.T, data []byte) frame {
	t.Helper()
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func next(t *testing.T, sub *Subscriber) frame {
	t.Helper()
	select {
	case data, ok := <-sub.C():
		require.True(t, ok, "subscriber closed")
		return decode(t, data)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frame")
		return frame{}
	}
}

func TestSubscribe_SnapshotFirst(t *testing.T) {
	src := staticSource{markets: []model.Market{{Symbol: "frxEURUSD", CurrentPrice: "1.08550"}}}
	h := New(src, 8, nil)

	sub, err := h.Subscribe(context.Background())
	require.NoError(t, err)

	h.Publish(EventPriceUpdate, model.Market{Symbol: "frxEURUSD", CurrentPrice: "1.08560"})

	first := next(t, sub)
	assert.Equal(t, EventMarkets, first.Type)
	var markets []model.Market
	require.NoError(t, json.Unmarshal(first.Data, &markets))
	require.Len(t, markets, 1)
	assert.Equal(t, "1.08550", markets[0].CurrentPrice)

	second := next(t, sub)
	assert.Equal(t, EventPriceUpdate, second.Type)
}

func TestSubscribe_EmptySnapshotIsArray(t *testing.T) {
	h := New(staticSource{}, 8, nil)
	sub, err := h.Subscribe(context.Background())
	require.NoError(t, err)

	f := next(t, sub)
	assert.Equal(t, EventMarkets, f.Type)
	assert.JSONEq(t, `[]`, string(f.Data))
}

func TestSubscribe_SnapshotError(t *testing.T) {
	h := New(staticSource{err: errors.New("db down")}, 8, nil)
	_, err := h.Subscribe(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, h.Stats().Subscribers)
}

func TestSubscribe_SlowSnapshotTimesOut(t *testing.T) {
	h := New(stallingSource{}, 8, nil)
	h.snapshotTimeout = 20 * time.Millisecond

	start := time.Now()
	_, err := h.Subscribe(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	published := make(chan struct{})
	go func() {
		h.Publish(EventPriceUpdate, model.Market{Symbol: "R_100"})
		close(published)
	}()
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publish blocked after a failed subscribe")
	}
	assert.Equal(t, 0, h.Stats().Subscribers)
}

func TestPublish_FIFO(t *testing.T) {
	h := New(staticSource{}, 64, nil)
	sub, err := h.Subscribe(context.Background())
	require.NoError(t, err)
	next(t, sub)

	for i := 0; i < 10; i++ {
		h.Publish(EventPriceUpdate, map[string]int{"seq": i})
	}
	for i := 0; i < 10; i++ {
		f := next(t, sub)
		var data map[string]int
		require.NoError(t, json.Unmarshal(f.Data, &data))
		assert.Equal(t, i, data["seq"])
	}
}

func TestPublish_DropsWhenFull(t *testing.T) {
	h := New(staticSource{}, 2, nil)
	slow, err := h.Subscribe(context.Background())
	require.NoError(t, err)
	fast, err := h.Subscribe(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	var fastCount int
	go func() {
		defer close(done)
		for range fast.C() {
			fastCount++
		}
	}()

	for i := 0; i < 3; i++ {
		h.Publish(EventPriceUpdate, i)
		time.Sleep(5 * time.Millisecond)
	}

	// Snapshot + one update fill the slow queue; the rest are dropped
	assert.Len(t, slow.C(), 2)
	assert.Equal(t, int64(2), slow.Dropped())

	h.Unsubscribe(fast)
	<-done
	assert.Equal(t, 4, fastCount, "fast subscriber receives snapshot and every update")
	assert.Equal(t, int64(2), h.Stats().Dropped)
}

func TestUnsubscribe_DuringBroadcast(t *testing.T) {
	h := New(staticSource{}, 4, nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				h.Publish(EventPriceUpdate, "x")
			}
		}
	}()

	for i := 0; i < 100; i++ {
		sub, err := h.Subscribe(context.Background())
		require.NoError(t, err)
		h.Unsubscribe(sub)
		h.Unsubscribe(sub)

		_, ok := <-drainUntilClosed(sub)
		assert.False(t, ok)
	}

	close(stop)
	wg.Wait()
	assert.Equal(t, 0, h.Stats().Subscribers)
}

// drainUntilClosed empties a closed subscriber queue and returns it.
func drainUntilClosed(sub *Subscriber) <-chan []byte {
	for range sub.C() {
	}
	return sub.C()
}

func TestSubscribe_ConcurrentWithPublish(t *testing.T) {
	h := New(staticSource{markets: []model.Market{{Symbol: "R_100"}}}, 1024, nil)

	stop := make(chan struct{})
	var pubs sync.WaitGroup
	pubs.Add(1)
	go func() {
		defer pubs.Done()
		for {
			select {
			case <-stop:
				return
			default:
				h.Publish(EventPriceUpdate, model.Market{Symbol: "R_100"})
			}
		}
	}()

	subs := make([]*Subscriber, 20)
	var wg sync.WaitGroup
	for i := range subs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub, err := h.Subscribe(context.Background())
			if assert.NoError(t, err) {
				subs[i] = sub
			}
		}(i)
	}
	wg.Wait()
	close(stop)
	pubs.Wait()

	for _, sub := range subs {
		require.NotNil(t, sub)
		assert.Equal(t, EventMarkets, next(t, sub).Type)
	}
}

func TestObserve(t *testing.T) {
	h := New(staticSource{}, 4, nil)

	var got []Envelope
	h.Observe(func(env Envelope) { got = append(got, env) })

	h.PublishEnvelope(Envelope{Type: EventTradeClosed, Data: "t1", Origin: "other"})
	h.Publish(EventTradePlaced, "t2")

	require.Len(t, got, 2)
	assert.Equal(t, "other", got[0].Origin)
	assert.Equal(t, "", got[1].Origin)
	assert.Equal(t, EventTradePlaced, got[1].Type)
}

func TestEnvelope_JSON(t *testing.T) {
	data, err := json.Marshal(Envelope{Type: EventDerivStatus, Data: map[string]bool{"connected": true}, Origin: "node-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"deriv_status","data":{"connected":true}}`, string(data))
}

func TestClose(t *testing.T) {
	h := New(staticSource{}, 4, nil)
	sub, err := h.Subscribe(context.Background())
	require.NoError(t, err)

	h.Close()

	_, ok := <-drainUntilClosed(sub)
	assert.False(t, ok)

	_, err = h.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	// Publishing after close is a no-op
	h.Publish(EventPriceUpdate, "x")
	assert.Equal(t, int64(0), h.Stats().Published)
}
