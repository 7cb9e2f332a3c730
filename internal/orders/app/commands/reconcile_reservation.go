package commands

import (
	"context"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

type ReconcileReservationCommand struct {
	OrderID string
}

func (c ReconcileReservationCommand) Name() string { return "ReconcileReservation" }

func (c ReconcileReservationCommand) LogAttrs() []any { return []any{"order_id", c.OrderID} }

// ReconcileReservationCommandHandler settles a reservation that is still
// held although the order's state says it should be converted or released.
// Both downstream calls are idempotent, so it is safe to run repeatedly. A
// charge left PENDING by an interrupted confirmation is failed first so its
// hold can be released.
type ReconcileReservationCommandHandler struct {
	orchestrator
}

func NewReconcileReservationCommandHandler(deps Deps) *ReconcileReservationCommandHandler {
	return &ReconcileReservationCommandHandler{orchestrator{deps}}
}

func (h *ReconcileReservationCommandHandler) Handle(ctx context.Context, cmd ReconcileReservationCommand) (*domain.Order, error) {
	return h.withOrder(ctx, cmd.OrderID, true, func(order *domain.Order) (*domain.Order, error) {
		abandoned, err := h.abandonStalledCharge(ctx, order)
		if err != nil {
			return nil, err
		}
		convert, release := order.ReservationSettlement()
		if !convert && !release {
			if abandoned {
				if err := h.commit(ctx, order, false); err != nil {
					return nil, err
				}
			}
			return order, nil
		}

		callCtx, cancel := h.call(ctx)
		defer cancel()

		if convert {
			if err := h.Inventory.Convert(callCtx, order.ID()); err != nil {
				return nil, coordinatorFailure("inventory", "convert", err)
			}
			if err := order.MarkReservationConverted("reconciler", h.now()); err != nil {
				return nil, err
			}
		} else {
			if err := h.Inventory.Release(callCtx, order.ID()); err != nil {
				return nil, coordinatorFailure("inventory", "release", err)
			}
			if err := order.MarkReservationReleased("reconciliation", "reconciler", h.now()); err != nil {
				return nil, err
			}
			h.Metrics.RecordCompensation(ctx, "release_reservation", true)
		}

		if err := h.commit(ctx, order, false); err != nil {
			return nil, err
		}
		return order, nil
	})
}
