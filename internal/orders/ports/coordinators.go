package ports

import (
	"context"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

// ReservationLine is the quantity of one variant to hold for an order.
type ReservationLine struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// InventoryCoordinator holds, converts and releases stock per order. Every
// operation is idempotent for its key.
type InventoryCoordinator interface {
	// Reserve is all-or-nothing: on error no hold for orderID remains.
	// Generation counts the holds taken for the order, starting at 1; a hold
	// re-taken after a release uses a new generation.
	Reserve(ctx context.Context, orderID string, generation int, lines []ReservationLine) error
	Convert(ctx context.Context, orderID string) error
	Release(ctx context.Context, orderID string) error
	// Restock returns received goods to available stock. Key identifies the
	// return so a retried call is applied once.
	Restock(ctx context.Context, key string, lines []ReservationLine) error
}

// ChargeRequest asks the payment service to capture an order's total.
// Attempt starts at 1 and grows with each payment retry.
type ChargeRequest struct {
	OrderID     string
	Attempt     int
	AmountCents int64
	Method      string
}

// RefundRequest returns money for one return. Key deduplicates retries.
type RefundRequest struct {
	OrderID     string
	Key         string
	AmountCents int64
	Reason      string
}

// PaymentCoordinator charges and refunds. Charges are deduplicated per order
// and attempt, refunds per RefundRequest.Key.
type PaymentCoordinator interface {
	Charge(ctx context.Context, req ChargeRequest) (reference string, err error)
	Refund(ctx context.Context, req RefundRequest) (reference string, err error)
}

// FulfillmentCoordinator hands paid orders to the shipping subsystem.
type FulfillmentCoordinator interface {
	InitiateFulfillment(ctx context.Context, order domain.Snapshot) (estimatedDelivery time.Time, err error)
	RecordTracking(ctx context.Context, orderID string, itemIDs []string, trackingNumber, carrier string) error
	RecordDelivery(ctx context.Context, orderID string, deliveredAt time.Time) error
}
