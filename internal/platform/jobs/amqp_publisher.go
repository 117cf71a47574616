package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/medicore-clinic/billing/internal/domain"
)

// amqpChannel is the subset of *amqp.Channel used for publishing.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPOrderPublisher publishes order events to a RabbitMQ topic exchange using the event type as
// routing key.
type AMQPOrderPublisher struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
}

// DialAMQPOrderPublisher connects to url and declares a durable topic exchange.
func DialAMQPOrderPublisher(url, exchange string) (*AMQPOrderPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	p, err := newAMQPOrderPublisher(ch, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newAMQPOrderPublisher(ch amqpChannel, exchange string) (*AMQPOrderPublisher, error) {
	if exchange == "" {
		return nil, errors.New("amqp order publisher: exchange is required")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	return &AMQPOrderPublisher{ch: ch, exchange: exchange}, nil
}

// PublishOrderCreated publishes a persistent JSON message.
func (p *AMQPOrderPublisher) PublishOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error {
	event, body, attrs, err := encodeOrderCreated(event)
	if err != nil {
		return fmt.Errorf("encode order event: %w", err)
	}
	headers := make(amqp.Table, len(attrs))
	for k, v := range attrs {
		headers[k] = v
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID,
		Type:         EventTypeOrderCreated,
		Timestamp:    event.OccurredAt.UTC().Truncate(time.Second),
		Headers:      headers,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, EventTypeOrderCreated, false, false, msg); err != nil {
		return fmt.Errorf("amqp publish order event: %w", err)
	}
	return nil
}

// Close closes the channel and connection.
func (p *AMQPOrderPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
