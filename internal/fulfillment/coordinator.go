// Package fulfillment hands paid orders to the shipping subsystem.
package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

// ShippingService is the shipping subsystem. CreateShipment returns the zero
// time when it cannot quote a delivery date.
type ShippingService interface {
	CreateShipment(ctx context.Context, order domain.Snapshot) (time.Time, error)
	RecordTracking(ctx context.Context, orderID string, itemIDs []string, trackingNumber, carrier string) error
	RecordDelivery(ctx context.Context, orderID string, deliveredAt time.Time) error
}

var transitDays = map[domain.ShippingMethod]int{
	domain.ShippingStandard:  5,
	domain.ShippingExpress:   2,
	domain.ShippingOvernight: 1,
}

// Coordinator implements ports.FulfillmentCoordinator.
type Coordinator struct {
	service ShippingService
	now     func() time.Time
}

func NewCoordinator(service ShippingService) *Coordinator {
	return &Coordinator{service: service, now: time.Now}
}

// InitiateFulfillment creates the shipment and returns the delivery estimate,
// falling back to the shipping method's transit time.
func (c *Coordinator) InitiateFulfillment(ctx context.Context, order domain.Snapshot) (time.Time, error) {
	eta, err := c.service.CreateShipment(ctx, order)
	if err != nil {
		return time.Time{}, fmt.Errorf("create shipment for order %s: %w", order.ID, err)
	}
	if !eta.IsZero() {
		return eta.UTC(), nil
	}
	return EstimateDelivery(order.Shipping.Method, c.now()), nil
}

func (c *Coordinator) RecordTracking(ctx context.Context, orderID string, itemIDs []string, trackingNumber, carrier string) error {
	if err := c.service.RecordTracking(ctx, orderID, itemIDs, trackingNumber, carrier); err != nil {
		return fmt.Errorf("record tracking for order %s: %w", orderID, err)
	}
	return nil
}

func (c *Coordinator) RecordDelivery(ctx context.Context, orderID string, deliveredAt time.Time) error {
	if err := c.service.RecordDelivery(ctx, orderID, deliveredAt); err != nil {
		return fmt.Errorf("record delivery for order %s: %w", orderID, err)
	}
	return nil
}

// EstimateDelivery adds the method's transit days to from. Unknown methods
// get the standard estimate.
func EstimateDelivery(method domain.ShippingMethod, from time.Time) time.Time {
	days, ok := transitDays[method]
	if !ok {
		days = transitDays[domain.ShippingStandard]
	}
	return from.UTC().AddDate(0, 0, days)
}
