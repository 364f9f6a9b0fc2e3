package notify

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubSink publishes notifications to a GCP Pub/Sub topic for
// durable, at-least-once fan-out to downstream consumers, grounded on
// internal/events/pubsub_bus.go's publishToPubSub.
type PubSubSink struct {
	topic *pubsub.Topic
}

// NewPubSubSink wraps an existing topic handle. The caller owns the
// *pubsub.Client's lifecycle.
func NewPubSubSink(topic *pubsub.Topic) *PubSubSink {
	return &PubSubSink{topic: topic}
}

// Notify publishes message as the payload, with channel and a
// formatted timestamp as message attributes for server-side
// filtering, mirroring pubsub_bus.go's CloudEvents attribute mapping.
func (s *PubSubSink) Notify(ctx context.Context, channel, message string) error {
	result := s.topic.Publish(ctx, &pubsub.Message{
		Data: []byte(message),
		Attributes: map[string]string{
			"channel": channel,
			"at":      time.Now().Format(time.RFC3339Nano),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("notify: pubsub publish: %w", err)
	}
	return nil
}
