package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// Channel carries events between the processes that produce them (API
// instances, background workers) and the hubs holding the sockets.
const Channel = "realtime_events"

type envelope struct {
	UserID utils.SixID `json:"user_id"`
	Event  Event       `json:"event"`
}

// RedisPublisher fans events out to every hub through Redis pub/sub.
type RedisPublisher struct {
	rdb redis.UniversalClient
}

func NewRedisPublisher(rdb redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, userID utils.SixID, event Event) error {
	data, err := json.Marshal(envelope{UserID: userID, Event: event})
	if err != nil {
		return fmt.Errorf("failed to encode realtime event: %w", err)
	}
	if err := p.rdb.Publish(ctx, Channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish realtime event: %w", err)
	}
	return nil
}

// Listen forwards events published on Channel to the local connections.
// It blocks until ctx is done.
func (h *Hub) Listen(ctx context.Context, rdb redis.UniversalClient) error {
	pubsub := rdb.Subscribe(ctx, Channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", Channel, err)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logrus.WithError(err).Warn("Dropping malformed realtime event")
				continue
			}
			h.SendToUser(env.UserID, env.Event)
		}
	}
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, utils.SixID, Event) error { return nil }
