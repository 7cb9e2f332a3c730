package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"go.opentelemetry.io/otel/trace"
)

// Payload is the JSON body published for every order topic.
type Payload struct {
	EventID           string            `json:"event_id"`
	Topic             string            `json:"topic"`
	OrderID           string            `json:"order_id"`
	OrderNumber       string            `json:"order_number"`
	CustomerID        string            `json:"customer_id"`
	LifecycleStatus   string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	FulfillmentStatus string            `json:"fulfillment_status"`
	TotalCents        int64             `json:"total_cents"`
	RefundedCents     int64             `json:"refunded_cents"`
	Actor             string            `json:"actor"`
	OccurredAt        time.Time         `json:"occurred_at"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// TopicFor maps an event log entry to the bus topic it announces. Most
// transitions record several events; only one of them carries the topic.
func TopicFor(ev domain.Event) (string, bool) {
	switch {
	case ev.Type == domain.EventOrderCreated:
		return ports.TopicOrderCreated, true
	case ev.Type == domain.EventOrderConfirmed:
		return ports.TopicOrderConfirmed, true
	case ev.Type == domain.EventPaymentSucceeded && ev.Axis == domain.AxisLifecycle:
		return ports.TopicOrderPaid, true
	case ev.Type == domain.EventPaymentFailed:
		return ports.TopicOrderPaymentFailed, true
	case ev.Type == domain.EventOrderShipped:
		return ports.TopicOrderShipped, true
	case ev.Type == domain.EventOrderDelivered:
		return ports.TopicOrderDelivered, true
	case ev.Type == domain.EventOrderCancelled && ev.Axis == domain.AxisLifecycle:
		return ports.TopicOrderCancelled, true
	case ev.Type == domain.EventReturnRequested:
		return ports.TopicOrderReturnRequested, true
	case ev.Type == domain.EventReturnRefunded && ev.Axis == domain.AxisPayment:
		return ports.TopicOrderRefunded, true
	default:
		return "", false
	}
}

// MessagesFor builds outbox rows for the order's unpersisted events. The
// event ID doubles as the message ID so consumers can deduplicate.
func MessagesFor(ctx context.Context, order *domain.Order) ([]ports.OutboxMessage, error) {
	correlationID := order.ID()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		correlationID = sc.TraceID().String()
	}

	var messages []ports.OutboxMessage
	for _, ev := range order.PendingEvents() {
		topic, ok := TopicFor(ev)
		if !ok {
			continue
		}
		payload := Payload{
			EventID:           ev.ID,
			Topic:             topic,
			OrderID:           order.ID(),
			OrderNumber:       order.Number(),
			CustomerID:        order.CustomerID(),
			LifecycleStatus:   string(order.Lifecycle()),
			PaymentStatus:     string(order.Payment()),
			FulfillmentStatus: string(order.Fulfillment()),
			TotalCents:        order.Amounts().TotalCents,
			RefundedCents:     order.Amounts().RefundedCents,
			Actor:             ev.Actor,
			OccurredAt:        ev.OccurredAt,
			Metadata:          ev.Metadata,
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", topic, err)
		}
		messages = append(messages, ports.OutboxMessage{
			ID:            ev.ID,
			OrderID:       order.ID(),
			Topic:         topic,
			CorrelationID: correlationID,
			Payload:       body,
			CreatedAt:     ev.OccurredAt,
		})
	}
	return messages, nil
}
