package ws

import (
	"context"
	"encoding/json"

	"github.com/pliu/securedm/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const RelayChannel = "securedm:events"

// RedisRelay lets several server processes share one fan-out. Publish goes
// to Redis; every process subscribes and feeds its own hub.
type RedisRelay struct {
	client  *redis.Client
	hub     *Hub
	channel string
	log     *zap.Logger
}

func NewRedisRelay(client *redis.Client, hub *Hub, log *zap.Logger) *RedisRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRelay{client: client, hub: hub, channel: RelayChannel, log: log}
}

func (r *RedisRelay) Publish(ctx context.Context, event models.NewMessageEvent) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, msg).Err()
}

// Start subscribes, waits for the subscription to be confirmed, and forwards
// relayed events to the hub until ctx is cancelled.
func (r *RedisRelay) Start(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return err
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				if err := r.hub.Broadcast(ctx, []byte(m.Payload)); err != nil {
					r.log.Warn("relay stopped", zap.Error(err))
					return
				}
			}
		}
	}()
	return nil
}
