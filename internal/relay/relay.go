// Package relay bridges the hubs of several trade-relay instances over a
// Redis pub/sub channel.
//
// Every envelope published locally is mirrored to the channel tagged with
// this instance's id. Envelopes read from the channel that carry another
// instance's id are re-published on the local hub with their Origin set, so
// they are never mirrored back. Markets snapshots are per-subscriber and are
// not relayed.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rickgao/trade-relay/internal/config"
	"github.com/rickgao/trade-relay/internal/hub"
	"go.uber.org/zap"
)

// DefaultOutboundBuffer is the number of local envelopes queued for Redis.
const DefaultOutboundBuffer = 1024

// ErrSubscriptionClosed is returned by Run when Redis closes the channel.
var ErrSubscriptionClosed = errors.New("relay subscription closed")

// Publisher is the local side of the bridge. *hub.Hub implements it.
type Publisher interface {
	PublishEnvelope(env hub.Envelope)
}

// message is the wire form on the Redis channel.
type message struct {
	Origin string          `json:"origin"`
	Type   hub.EventType   `json:"type"`
	Data   json.RawMessage `json:"data"`
}

// Bridge mirrors envelopes between the local hub and Redis.
type Bridge struct {
	client     *redis.Client
	channel    string
	instanceID string
	local      Publisher
	logger     *zap.Logger

	out       chan []byte
	ready     chan struct{}
	readyOnce sync.Once
}

// NewClient builds a go-redis client from config.
func NewClient(cfg config.RelayConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// New creates a Bridge. Register Forward as a hub observer and start Run.
func New(client *redis.Client, channel, instanceID string, local Publisher, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		local:      local,
		logger:     logger.With(zap.String("channel", channel)),
		out:        make(chan []byte, DefaultOutboundBuffer),
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the Redis subscription is confirmed.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// Forward queues a locally produced envelope for Redis. It never blocks;
// a full queue drops the envelope.
func (b *Bridge) Forward(env hub.Envelope) {
	if env.Origin != "" || env.Type == hub.EventMarkets {
		return
	}

	data, err := json.Marshal(env.Data)
	if err != nil {
		b.logger.Warn("failed to encode envelope", zap.String("type", string(env.Type)), zap.Error(err))
		return
	}
	raw, err := json.Marshal(message{Origin: b.instanceID, Type: env.Type, Data: data})
	if err != nil {
		b.logger.Warn("failed to encode relay message", zap.Error(err))
		return
	}

	select {
	case b.out <- raw:
	default:
		b.logger.Warn("relay queue full, dropping envelope", zap.String("type", string(env.Type)))
	}
}

// Run subscribes to the channel and pumps both directions until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.readyOnce.Do(func() { close(b.ready) })
	b.logger.Info("relay subscribed", zap.String("instance_id", b.instanceID))

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw := <-b.out:
			if err := b.client.Publish(ctx, b.channel, raw).Err(); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				b.logger.Warn("relay publish failed", zap.Error(err))
			}
		case msg, ok := <-msgs:
			if !ok {
				return ErrSubscriptionClosed
			}
			b.deliver(msg.Payload)
		}
	}
}

func (b *Bridge) deliver(payload string) {
	var m message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		b.logger.Warn("dropping malformed relay message", zap.Error(err))
		return
	}
	if m.Origin == "" || m.Origin == b.instanceID || m.Type == hub.EventMarkets {
		return
	}
	b.local.PublishEnvelope(hub.Envelope{Type: m.Type, Data: m.Data, Origin: m.Origin})
}
