package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher forwards events as JSON to a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher returns a publisher, or nil when client is nil.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if client == nil {
		return nil
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Publish encodes and sends event.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.Type, err)
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", event.Type, err)
	}
	return nil
}

// Handler adapts the publisher for Dispatcher.Subscribe.
func (p *RedisPublisher) Handler() EventHandler {
	return p.Publish
}
