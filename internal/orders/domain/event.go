package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names an entry in the order's audit trail.
type EventType string

const (
	EventOrderCreated         EventType = "ORDER_CREATED"
	EventInventoryReserved    EventType = "INVENTORY_RESERVED"
	EventOrderConfirmed       EventType = "ORDER_CONFIRMED"
	EventPaymentRetried       EventType = "PAYMENT_RETRIED"
	EventPaymentSucceeded     EventType = "PAYMENT_SUCCEEDED"
	EventPaymentFailed        EventType = "PAYMENT_FAILED"
	EventInventoryConverted   EventType = "INVENTORY_CONVERTED"
	EventInventoryReleased    EventType = "INVENTORY_RELEASED"
	EventReconciliationNeeded EventType = "RECONCILIATION_NEEDED"
	EventFulfillmentInitiated EventType = "FULFILLMENT_INITIATED"
	EventFulfillmentFailed    EventType = "FULFILLMENT_INITIATION_FAILED"
	EventItemsShipped         EventType = "ITEMS_SHIPPED"
	EventOrderShipped         EventType = "ORDER_SHIPPED"
	EventOrderDelivered       EventType = "ORDER_DELIVERED"
	EventOrderCancelled       EventType = "ORDER_CANCELLED"
	EventReturnRequested      EventType = "RETURN_REQUESTED"
	EventReturnApproved       EventType = "RETURN_APPROVED"
	EventReturnRejected       EventType = "RETURN_REJECTED"
	EventReturnReceived       EventType = "RETURN_RECEIVED"
	EventReturnRefunded       EventType = "RETURN_REFUNDED"
	EventRefundFailed         EventType = "REFUND_FAILED"
)

// Event is one immutable audit record. Events are only ever appended.
type Event struct {
	ID         string            `json:"id"`
	OrderID    string            `json:"order_id"`
	Type       EventType         `json:"type"`
	Axis       Axis              `json:"axis,omitempty"`
	From       string            `json:"from,omitempty"`
	To         string            `json:"to,omitempty"`
	Actor      string            `json:"actor"`
	OccurredAt time.Time         `json:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Meta is a convenience for building event metadata.
type Meta map[string]string

func newEvent(orderID string, typ EventType, actor string, at time.Time, meta Meta) Event {
	var md map[string]string
	if len(meta) > 0 {
		md = make(map[string]string, len(meta))
		for k, v := range meta {
			md[k] = v
		}
	}
	return Event{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		Type:       typ,
		Actor:      actor,
		OccurredAt: at,
		Metadata:   md,
	}
}
