package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events on a Redis pub/sub channel.
type RedisPublisher struct {
	rdb     redis.Cmdable
	channel string
}

// NewRedisPublisher wraps an existing client; the caller owns its lifetime.
func NewRedisPublisher(rdb redis.Cmdable, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

// Publish sends the event as JSON to the configured channel.
func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.channel, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error { return nil }

var _ Publisher = (*RedisPublisher)(nil)
