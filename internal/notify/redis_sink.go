package notify

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// RedisSink publishes events on the Redis channel "<prefix>:<kind>".
type RedisSink struct {
	client *redis.Client
	prefix string
}

// NewRedisSink creates a RedisSink connected to addr.
func NewRedisSink(addr, prefix string) *RedisSink {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return NewRedisSinkWithClient(client, prefix)
}

// NewRedisSinkWithClient creates a RedisSink over an existing client.
func NewRedisSinkWithClient(client *redis.Client, prefix string) *RedisSink {
	return &RedisSink{client: client, prefix: prefix}
}

// Ping verifies the connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Channel returns the channel events of kind are published on.
func (s *RedisSink) Channel(kind Kind) string {
	if s.prefix == "" {
		return string(kind)
	}
	return s.prefix + ":" + string(kind)
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, ev Event) error {
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	channel := s.Channel(ev.Type)
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH %s: %w", channel, err)
	}
	return nil
}

// Close implements Sink.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
