// Package broadcast pushes realtime events to per-user Redis channels.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is the envelope published on a channel.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sent_at"`
}

// RedisPublisher publishes JSON messages with PUBLISH.
type RedisPublisher struct {
	client redis.Cmdable
}

// NewRedisPublisher wraps client.
func NewRedisPublisher(client redis.Cmdable) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish sends event with payload to channel. Having no subscriber is not an error.
func (p *RedisPublisher) Publish(ctx context.Context, channel, event string, payload interface{}) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("redis publisher not configured")
	}
	raw, err := Encode(event, payload, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s on %s: %w", event, channel, err)
	}
	return nil
}

// Encode renders the wire form of a message.
func Encode(event string, payload interface{}, sentAt time.Time) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	raw, err := json.Marshal(Message{Event: event, Payload: body, SentAt: sentAt})
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return raw, nil
}
