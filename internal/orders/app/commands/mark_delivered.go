package commands

import (
	"context"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

type MarkDeliveredCommand struct {
	OrderID string
	Actor   string
}

func (c MarkDeliveredCommand) Name() string { return "MarkDelivered" }

func (c MarkDeliveredCommand) LogAttrs() []any { return []any{"order_id", c.OrderID} }

type MarkDeliveredCommandHandler struct {
	orchestrator
}

func NewMarkDeliveredCommandHandler(deps Deps) *MarkDeliveredCommandHandler {
	return &MarkDeliveredCommandHandler{orchestrator{deps}}
}

func (h *MarkDeliveredCommandHandler) Handle(ctx context.Context, cmd MarkDeliveredCommand) (*domain.Order, error) {
	return h.withOrder(ctx, cmd.OrderID, true, func(order *domain.Order) (*domain.Order, error) {
		now := h.now()
		if err := order.MarkDelivered(actorOr(cmd.Actor, systemActor), now); err != nil {
			return nil, err
		}

		callCtx, cancel := h.call(ctx)
		err := h.Fulfillment.RecordDelivery(callCtx, order.ID(), now)
		cancel()
		if err != nil {
			return nil, coordinatorFailure("fulfillment", "record delivery", err)
		}

		if err := h.commit(ctx, order, false); err != nil {
			return nil, err
		}
		return order, nil
	})
}
