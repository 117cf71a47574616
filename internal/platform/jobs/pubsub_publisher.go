package jobs

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/medicore-clinic/billing/internal/domain"
)

// PubSubOrderPublisher publishes order events to a Pub/Sub topic.
type PubSubOrderPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubOrderPublisher constructs a publisher for topic.
func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	return &PubSubOrderPublisher{topic: topic}, nil
}

// PublishOrderCreated blocks until Pub/Sub acknowledges the message or ctx ends.
func (p *PubSubOrderPublisher) PublishOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error {
	_, data, attrs, err := encodeOrderCreated(event)
	if err != nil {
		return fmt.Errorf("encode order event: %w", err)
	}
	if _, err := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (p *PubSubOrderPublisher) Close() error {
	p.topic.Stop()
	return nil
}
