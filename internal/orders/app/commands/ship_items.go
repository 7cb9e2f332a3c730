package commands

import (
	"context"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

type ShipItemsCommand struct {
	OrderID        string
	ItemIDs        []string
	TrackingNumber string
	Carrier        string
	Actor          string
}

func (c ShipItemsCommand) Name() string { return "ShipItems" }

func (c ShipItemsCommand) LogAttrs() []any {
	return []any{"order_id", c.OrderID, "items", len(c.ItemIDs), "tracking_number", c.TrackingNumber, "carrier", c.Carrier}
}

// ShipItemsCommandHandler marks items fulfilled. Repeating a shipment with
// the same tracking number returns the order unchanged.
type ShipItemsCommandHandler struct {
	orchestrator
}

func NewShipItemsCommandHandler(deps Deps) *ShipItemsCommandHandler {
	return &ShipItemsCommandHandler{orchestrator{deps}}
}

func (h *ShipItemsCommandHandler) Handle(ctx context.Context, cmd ShipItemsCommand) (*domain.Order, error) {
	return h.withOrder(ctx, cmd.OrderID, true, func(order *domain.Order) (*domain.Order, error) {
		plan, err := order.PlanShipment(cmd.ItemIDs, cmd.TrackingNumber, cmd.Carrier)
		if err != nil {
			return nil, err
		}
		if plan.Empty() {
			return order, nil
		}

		callCtx, cancel := h.call(ctx)
		err = h.Fulfillment.RecordTracking(callCtx, order.ID(), plan.ItemIDs, plan.TrackingNumber, plan.Carrier)
		cancel()
		if err != nil {
			return nil, coordinatorFailure("fulfillment", "record tracking", err)
		}

		if _, err := order.ApplyShipment(plan, actorOr(cmd.Actor, systemActor), h.now()); err != nil {
			return nil, err
		}
		if err := h.commit(ctx, order, false); err != nil {
			return nil, err
		}
		return order, nil
	})
}
