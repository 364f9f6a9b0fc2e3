package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher is the minimal redis.Client surface RedisSink needs,
// narrowed the way internal/fabric.RedisPubSubClient narrows go-redis
// for RedisEventBus.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes notifications to a Redis Pub/Sub channel so
// every orchestratord replica watching the same project sees the
// same result, grounded on internal/fabric/redis_event_bus.go.
type RedisSink struct {
	client RedisPublisher
	prefix string
}

// NewRedisSink wraps an existing *redis.Client. channelPrefix
// defaults to "orchestrator:notify:" when empty.
func NewRedisSink(client RedisPublisher, channelPrefix string) *RedisSink {
	if channelPrefix == "" {
		channelPrefix = "orchestrator:notify:"
	}
	return &RedisSink{client: client, prefix: channelPrefix}
}

type redisPayload struct {
	Channel string    `json:"channel"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notify publishes message as JSON on prefix+channel.
func (s *RedisSink) Notify(ctx context.Context, channel, message string) error {
	payload, err := json.Marshal(redisPayload{Channel: channel, Message: message, At: time.Now()})
	if err != nil {
		return fmt.Errorf("notify: marshal redis payload: %w", err)
	}
	if err := s.client.Publish(ctx, s.prefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("notify: redis publish: %w", err)
	}
	return nil
}
