package ports

import (
	"context"
	"time"
)

// Topics published for order lifecycle transitions.
const (
	TopicOrderCreated         = "order.created"
	TopicOrderConfirmed       = "order.confirmed"
	TopicOrderPaid            = "order.paid"
	TopicOrderPaymentFailed   = "order.payment_failed"
	TopicOrderShipped         = "order.shipped"
	TopicOrderDelivered       = "order.delivered"
	TopicOrderCancelled       = "order.cancelled"
	TopicOrderReturnRequested = "order.return_requested"
	TopicOrderRefunded        = "order.refunded"
)

// OutboxMessage is an event waiting to be delivered to the bus. It is
// written in the same transaction as the state change it describes.
type OutboxMessage struct {
	ID            string
	OrderID       string
	Topic         string
	CorrelationID string
	Payload       []byte
	Attempts      int
	LastError     string
	CreatedAt     time.Time
}

// EventBus defines the contract for publishing order lifecycle events.
type EventBus interface {
	Publish(ctx context.Context, msg OutboxMessage) error
}

// OutboxStore exposes the undelivered messages to the relay.
type OutboxStore interface {
	Pending(ctx context.Context, limit int, maxAttempts int) ([]OutboxMessage, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// Notifier delivers messages that were just committed. Failures are left
// for the relay and never reported to the caller.
type Notifier interface {
	Notify(ctx context.Context, messages []OutboxMessage)
}
