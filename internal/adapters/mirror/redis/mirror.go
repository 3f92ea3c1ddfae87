package redis

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"hostdeck.app/internal/core/broker"
	"hostdeck.app/internal/core/domain"
	"hostdeck.app/internal/core/logger"
)

// EventChannel carries every envelope published by any worker. Each worker
// both publishes and subscribes; the origin tag keeps a worker from
// re-delivering its own traffic.
const EventChannel = "rooms:events"

type frame struct {
	Origin   string          `json:"origin"`
	Envelope domain.Envelope `json:"envelope"`
}

// Mirror relays envelopes between workers over redis pub/sub. A deployment
// with several server processes behind one load balancer needs every worker
// to see every published event, because the subscriber for a room may live on
// a different worker than the producer.
type Mirror struct {
	client *redis.Client
	origin string
}

func NewMirror(url string) (*Mirror, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	return &Mirror{
		client: client,
		origin: uuid.NewString(),
	}, client, nil
}

// Mirror publishes env to the shared channel.
func (m *Mirror) Mirror(ctx context.Context, env domain.Envelope) error {
	data, err := json.Marshal(frame{Origin: m.origin, Envelope: env})
	if err != nil {
		return err
	}
	return m.client.Publish(ctx, EventChannel, data).Err()
}

// Run subscribes to the shared channel and re-delivers foreign envelopes into
// the local broker until ctx is canceled. Delivery uses PublishLocal so
// relayed events do not echo back out through the mirror.
func (m *Mirror) Run(ctx context.Context, b *broker.Broker) {
	pubsub := m.client.Subscribe(ctx, EventChannel)
	defer pubsub.Close()

	logger.Info("event relay started", "channel", EventChannel, "origin", m.origin)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			var f frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				logger.Warn("event relay: bad frame", "error", err)
				continue
			}
			if f.Origin == m.origin {
				continue
			}
			b.PublishLocal(f.Envelope.Room, f.Envelope.Event)
		}
	}
}
