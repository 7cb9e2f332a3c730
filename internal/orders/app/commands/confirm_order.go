package commands

import (
	"context"
	"errors"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

type ConfirmOrderCommand struct {
	OrderID string
	Actor   string
}

func (c ConfirmOrderCommand) Name() string { return "ConfirmOrder" }

func (c ConfirmOrderCommand) LogAttrs() []any { return []any{"order_id", c.OrderID} }

// ConfirmOrderCommandHandler runs the payment saga: charge, then convert the
// reservation, then hand off to fulfillment. A failed charge releases the
// reservation; failures after a successful charge never undo the payment.
type ConfirmOrderCommandHandler struct {
	orchestrator
}

func NewConfirmOrderCommandHandler(deps Deps) *ConfirmOrderCommandHandler {
	return &ConfirmOrderCommandHandler{orchestrator{deps}}
}

func (h *ConfirmOrderCommandHandler) Handle(ctx context.Context, cmd ConfirmOrderCommand) (*domain.Order, error) {
	return h.withOrder(ctx, cmd.OrderID, true, func(order *domain.Order) (*domain.Order, error) {
		mode, err := order.ConfirmationMode(h.Policy.MaxPaymentAttempts, h.now(), h.chargeStalledAfter())
		if err != nil {
			return nil, err
		}
		actor := actorOr(cmd.Actor, order.CustomerID())

		reserved := false
		switch mode {
		case domain.ConfirmFresh:
			if err := order.Confirm(actor, h.now()); err != nil {
				return nil, err
			}
		case domain.ConfirmRetry:
			if order.Reservation() != domain.ReservationHeld {
				if err := h.reserve(ctx, order); err != nil {
					return nil, err
				}
				reserved = true
			}
			if err := order.RetryPayment(actor, h.now()); err != nil {
				return nil, err
			}
		case domain.ConfirmResume:
			h.Logger.WarnContext(ctx, "resuming interrupted charge",
				"order_id", order.ID(),
				"charge_attempt", order.ChargeAttempt(),
			)
		}

		// CONFIRMED with payment PENDING must be durable before the charge so
		// that a cancel arriving from elsewhere sees the payment in flight.
		if mode != domain.ConfirmResume {
			if err := h.commit(ctx, order, false); err != nil {
				if reserved {
					h.discardHold(ctx, order.ID(), "confirmation not persisted")
				}
				return nil, err
			}
		}

		callCtx, cancel := h.call(ctx)
		reference, err := h.Payment.Charge(callCtx, ports.ChargeRequest{
			OrderID:     order.ID(),
			Attempt:     order.ChargeAttempt(),
			AmountCents: order.Amounts().TotalCents,
			Method:      order.PaymentMethod(),
		})
		cancel()

		// The charge happened or may have happened; what follows must be
		// recorded even if the caller has gone away.
		ctx = context.WithoutCancel(ctx)
		if err != nil {
			return h.paymentFailed(ctx, order, coordinatorFailure("payment", "charge", err))
		}
		return h.paymentSucceeded(ctx, order, reference)
	})
}

func (h *ConfirmOrderCommandHandler) paymentFailed(ctx context.Context, order *domain.Order, cause error) (*domain.Order, error) {
	failure := asPaymentFailure(cause)
	if failure.Ambiguous {
		h.Logger.WarnContext(ctx, "payment outcome unknown, treating as failed",
			"order_id", order.ID(),
			"error", cause,
		)
		h.flag(ctx, order, "charge", cause)
	}

	if err := order.MarkPaymentFailed(failure.Reason, failure.Ambiguous, systemActor, h.now()); err != nil {
		return nil, err
	}
	h.releaseReservation(ctx, order, "payment failed")

	if err := h.commit(ctx, order, false); err != nil {
		return nil, err
	}
	return order, failure
}

func (h *ConfirmOrderCommandHandler) paymentSucceeded(ctx context.Context, order *domain.Order, reference string) (*domain.Order, error) {
	if err := order.MarkPaid(reference, systemActor, h.now()); err != nil {
		return nil, err
	}

	callCtx, cancel := h.call(ctx)
	err := h.Inventory.Convert(callCtx, order.ID())
	cancel()
	if err != nil {
		h.Logger.WarnContext(ctx, "reservation convert failed after payment, flagged for reconciliation",
			"order_id", order.ID(),
			"error", err,
		)
		h.flag(ctx, order, "convert_reservation", err)
	} else if err := order.MarkReservationConverted(systemActor, h.now()); err != nil {
		return nil, err
	}

	callCtx, cancel = h.call(ctx)
	eta, err := h.Fulfillment.InitiateFulfillment(callCtx, order.Snapshot())
	cancel()
	if err != nil {
		h.Logger.WarnContext(ctx, "fulfillment hand-off failed",
			"order_id", order.ID(),
			"error", err,
		)
		order.RecordFulfillmentFailure(err.Error(), systemActor, h.now())
		h.Metrics.RecordReconciliationFlagged(ctx, "initiate_fulfillment")
	} else if err := order.RecordFulfillmentInitiated(eta, systemActor, h.now()); err != nil {
		return nil, err
	}

	if err := h.commit(ctx, order, false); err != nil {
		return nil, err
	}
	return order, nil
}

// asPaymentFailure folds any charge or refund error into a PaymentFailedError.
// Unreachable or timed-out gateways are retryable by re-issuing the operation.
func asPaymentFailure(err error) *domain.PaymentFailedError {
	var failure *domain.PaymentFailedError
	if errors.As(err, &failure) {
		return failure
	}
	return &domain.PaymentFailedError{
		Reason:    err.Error(),
		Retryable: true,
		Ambiguous: ambiguous(err),
	}
}
