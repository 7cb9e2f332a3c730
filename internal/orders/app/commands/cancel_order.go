package commands

import (
	"context"
	"strings"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

type CancelOrderCommand struct {
	OrderID string
	Reason  string
	Actor   string
}

func (c CancelOrderCommand) Name() string { return "CancelOrder" }

func (c CancelOrderCommand) LogAttrs() []any { return []any{"order_id", c.OrderID, "reason", c.Reason} }

// CancelOrderCommandHandler never waits for the order lock: a cancel that
// races an in-flight confirmation is rejected with ErrOrderBusy.
type CancelOrderCommandHandler struct {
	orchestrator
}

func NewCancelOrderCommandHandler(deps Deps) *CancelOrderCommandHandler {
	return &CancelOrderCommandHandler{orchestrator{deps}}
}

func (h *CancelOrderCommandHandler) Handle(ctx context.Context, cmd CancelOrderCommand) (*domain.Order, error) {
	if strings.TrimSpace(cmd.Reason) == "" {
		return nil, &domain.ValidationError{Field: "reason", Message: "is required"}
	}

	return h.withOrder(ctx, cmd.OrderID, false, func(order *domain.Order) (*domain.Order, error) {
		if _, err := h.abandonStalledCharge(ctx, order); err != nil {
			return nil, err
		}
		held := order.Reservation() == domain.ReservationHeld
		if err := order.Cancel(cmd.Reason, actorOr(cmd.Actor, order.CustomerID()), h.now()); err != nil {
			return nil, err
		}
		if held {
			h.releaseReservation(ctx, order, "order cancelled")
		}

		if err := h.commit(ctx, order, false); err != nil {
			return nil, err
		}
		return order, nil
	})
}
