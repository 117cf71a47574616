// Package jobs publishes billing domain events to downstream consumers.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/medicore-clinic/billing/internal/domain"
	"github.com/medicore-clinic/billing/internal/platform/textutil"
)

// EventTypeOrderCreated names the event emitted after an order commits.
const EventTypeOrderCreated = "billing.order.created"

// orderCreatedMessage is the wire form shared by every transport. Money travels as a string.
type orderCreatedMessage struct {
	EventID    string    `json:"eventId"`
	EventType  string    `json:"eventType"`
	OrderID    string    `json:"orderId"`
	Code       string    `json:"code"`
	Type       string    `json:"type"`
	PatientID  string    `json:"patientId"`
	StaffID    string    `json:"staffId,omitempty"`
	Currency   string    `json:"currency"`
	Total      string    `json:"total"`
	PaymentID  string    `json:"paymentId"`
	OccurredAt time.Time `json:"occurredAt"`
}

// encodeOrderCreated assigns an event id when missing and returns the body and routing attributes.
func encodeOrderCreated(event domain.OrderCreatedEvent) (domain.OrderCreatedEvent, []byte, map[string]string, error) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	body, err := json.Marshal(orderCreatedMessage{
		EventID:    event.EventID,
		EventType:  EventTypeOrderCreated,
		OrderID:    event.OrderID,
		Code:       event.Code,
		Type:       string(event.Type),
		PatientID:  event.PatientID,
		StaffID:    event.StaffID,
		Currency:   event.Currency,
		Total:      event.Total.StringFixed(2),
		PaymentID:  event.PaymentID,
		OccurredAt: event.OccurredAt.UTC(),
	})
	if err != nil {
		return event, nil, nil, err
	}
	attrs := textutil.NormalizeStringMap(map[string]string{
		"eventId":   event.EventID,
		"eventType": EventTypeOrderCreated,
		"orderId":   event.OrderID,
		"orderType": string(event.Type),
		"staffId":   event.StaffID,
	})
	return event, body, attrs, nil
}

// NopPublisher discards events. Used when no events driver is configured.
type NopPublisher struct{}

// PublishOrderCreated implements the order event publisher contract.
func (NopPublisher) PublishOrderCreated(context.Context, domain.OrderCreatedEvent) error { return nil }

// OrderPublisher is the contract shared by every transport.
type OrderPublisher interface {
	PublishOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error
}

// PublishRecorder counts publish attempts by outcome.
type PublishRecorder interface {
	RecordEventPublish(outcome string)
}

// RecordingPublisher reports the outcome of each publish to a recorder.
type RecordingPublisher struct {
	next     OrderPublisher
	recorder PublishRecorder
}

// NewRecordingPublisher wraps next. A nil recorder returns next unchanged.
func NewRecordingPublisher(next OrderPublisher, recorder PublishRecorder) OrderPublisher {
	if next == nil || recorder == nil {
		return next
	}
	return &RecordingPublisher{next: next, recorder: recorder}
}

// PublishOrderCreated forwards to the wrapped publisher.
func (p *RecordingPublisher) PublishOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error {
	if err := p.next.PublishOrderCreated(ctx, event); err != nil {
		p.recorder.RecordEventPublish("error")
		return err
	}
	p.recorder.RecordEventPublish("ok")
	return nil
}
