package commands

import (
	"context"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

// reserve takes the order's stock hold. On failure any hold taken for this
// attempt is released before the error is returned.
func (o *orchestrator) reserve(ctx context.Context, order *domain.Order) error {
	callCtx, cancel := o.call(ctx)
	err := o.Inventory.Reserve(callCtx, order.ID(), order.ReservationGeneration(), reservationLines(order))
	cancel()
	if err != nil {
		o.discardHold(ctx, order.ID(), "reservation failed")
		return coordinatorFailure("inventory", "reserve", err)
	}
	return order.MarkReserved(systemActor, o.now())
}

// discardHold releases stock for an order whose hold was never recorded.
func (o *orchestrator) discardHold(ctx context.Context, orderID, reason string) {
	callCtx, cancel := o.compensationContext(ctx)
	err := o.Inventory.Release(callCtx, orderID)
	cancel()

	o.Metrics.RecordCompensation(ctx, "release_reservation", err == nil)
	if err != nil {
		o.Logger.ErrorContext(ctx, "failed to release unrecorded reservation",
			"order_id", orderID,
			"reason", reason,
			"error", err,
		)
	}
}
