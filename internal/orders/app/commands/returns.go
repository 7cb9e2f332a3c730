package commands

import (
	"context"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

type RequestReturnCommand struct {
	OrderID string
	Lines   []domain.ReturnLine
	Reason  string
	Actor   string
}

func (c RequestReturnCommand) Name() string { return "RequestReturn" }

func (c RequestReturnCommand) LogAttrs() []any {
	return []any{"order_id", c.OrderID, "lines", len(c.Lines), "reason", c.Reason}
}

type RequestReturnCommandHandler struct {
	orchestrator
}

func NewRequestReturnCommandHandler(deps Deps) *RequestReturnCommandHandler {
	return &RequestReturnCommandHandler{orchestrator{deps}}
}

func (h *RequestReturnCommandHandler) Handle(ctx context.Context, cmd RequestReturnCommand) (*domain.Order, error) {
	return h.withOrder(ctx, cmd.OrderID, true, func(order *domain.Order) (*domain.Order, error) {
		actor := actorOr(cmd.Actor, order.CustomerID())
		if _, err := order.RequestReturn(cmd.Lines, cmd.Reason, h.Policy.ReturnWindow, actor, h.now()); err != nil {
			return nil, err
		}
		if err := h.commit(ctx, order, false); err != nil {
			return nil, err
		}
		return order, nil
	})
}

// ReturnDecision is shared by the approve, reject, receive and refund
// commands, which all address one return of one order.
type ReturnDecision struct {
	OrderID  string
	ReturnID string
	Reason   string
	Actor    string
}

func (d ReturnDecision) LogAttrs() []any { return []any{"order_id", d.OrderID, "return_id", d.ReturnID} }

type ApproveReturnCommand struct{ ReturnDecision }

func (ApproveReturnCommand) Name() string { return "ApproveReturn" }

type RejectReturnCommand struct{ ReturnDecision }

func (RejectReturnCommand) Name() string { return "RejectReturn" }

type ReceiveReturnCommand struct{ ReturnDecision }

func (ReceiveReturnCommand) Name() string { return "ReceiveReturn" }

type RefundReturnCommand struct{ ReturnDecision }

func (RefundReturnCommand) Name() string { return "RefundReturn" }

type ApproveReturnCommandHandler struct {
	orchestrator
}

func NewApproveReturnCommandHandler(deps Deps) *ApproveReturnCommandHandler {
	return &ApproveReturnCommandHandler{orchestrator{deps}}
}

func (h *ApproveReturnCommandHandler) Handle(ctx context.Context, cmd ApproveReturnCommand) (*domain.Order, error) {
	return h.withOrder(ctx, cmd.OrderID, true, func(order *domain.Order) (*domain.Order, error) {
		if err := order.ApproveReturn(cmd.ReturnID, actorOr(cmd.Actor, systemActor), h.now()); err != nil {
			return nil, err
		}
		if err := h.commit(ctx, order, false); err != nil {
			return nil, err
		}
		return order, nil
	})
}

type RejectReturnCommandHandler struct {
	orchestrator
}

func NewRejectReturnCommandHandler(deps Deps) *RejectReturnCommandHandler {
	return &RejectReturnCommandHandler{orchestrator{deps}}
}

func (h *RejectReturnCommandHandler) Handle(ctx context.Context, cmd RejectReturnCommand) (*domain.Order, error) {
	if cmd.Reason == "" {
		return nil, &domain.ValidationError{Field: "reason", Message: "is required"}
	}
	return h.withOrder(ctx, cmd.OrderID, true, func(order *domain.Order) (*domain.Order, error) {
		if err := order.RejectReturn(cmd.ReturnID, cmd.Reason, actorOr(cmd.Actor, systemActor), h.now()); err != nil {
			return nil, err
		}
		if err := h.commit(ctx, order, false); err != nil {
			return nil, err
		}
		return order, nil
	})
}

// ReceiveReturnCommandHandler records returned goods and puts them back into
// stock. A failed restock does not block the receipt; it is flagged instead.
type ReceiveReturnCommandHandler struct {
	orchestrator
}

func NewReceiveReturnCommandHandler(deps Deps) *ReceiveReturnCommandHandler {
	return &ReceiveReturnCommandHandler{orchestrator{deps}}
}

func (h *ReceiveReturnCommandHandler) Handle(ctx context.Context, cmd ReceiveReturnCommand) (*domain.Order, error) {
	return h.withOrder(ctx, cmd.OrderID, true, func(order *domain.Order) (*domain.Order, error) {
		if err := order.ReceiveReturn(cmd.ReturnID, actorOr(cmd.Actor, systemActor), h.now()); err != nil {
			return nil, err
		}

		callCtx, cancel := h.call(ctx)
		err := h.Inventory.Restock(callCtx, order.ID()+":"+cmd.ReturnID, restockLines(order, cmd.ReturnID))
		cancel()
		if err != nil {
			h.Logger.WarnContext(ctx, "restock failed, flagged for reconciliation",
				"order_id", order.ID(),
				"return_id", cmd.ReturnID,
				"error", err,
			)
			h.flag(ctx, order, "restock", err)
		}

		if err := h.commit(ctx, order, false); err != nil {
			return nil, err
		}
		return order, nil
	})
}

func restockLines(order *domain.Order, returnID string) []ports.ReservationLine {
	ret, ok := order.Return(returnID)
	if !ok {
		return nil
	}
	variants := make(map[string]string)
	for _, item := range order.Items() {
		variants[item.ID] = item.VariantID
	}
	lines := make([]ports.ReservationLine, 0, len(ret.Lines))
	for _, line := range ret.Lines {
		lines = append(lines, ports.ReservationLine{VariantID: variants[line.ItemID], Quantity: line.Quantity})
	}
	return lines
}

// RefundReturnCommandHandler pays back a received return. The refund is
// keyed by order and return ID so a retry cannot refund twice.
type RefundReturnCommandHandler struct {
	orchestrator
}

func NewRefundReturnCommandHandler(deps Deps) *RefundReturnCommandHandler {
	return &RefundReturnCommandHandler{orchestrator{deps}}
}

func (h *RefundReturnCommandHandler) Handle(ctx context.Context, cmd RefundReturnCommand) (*domain.Order, error) {
	return h.withOrder(ctx, cmd.OrderID, true, func(order *domain.Order) (*domain.Order, error) {
		amount, err := order.RefundableAmount(cmd.ReturnID)
		if err != nil {
			return nil, err
		}
		ret, _ := order.Return(cmd.ReturnID)

		callCtx, cancel := h.call(ctx)
		reference, err := h.Payment.Refund(callCtx, ports.RefundRequest{
			OrderID:     order.ID(),
			Key:         order.ID() + ":" + ret.ID,
			AmountCents: amount,
			Reason:      ret.Reason,
		})
		cancel()

		ctx = context.WithoutCancel(ctx)
		if err != nil {
			failure := asPaymentFailure(coordinatorFailure("payment", "refund", err))
			order.RecordRefundFailure(ret.ID, failure.Reason, systemActor, h.now())
			if failure.Ambiguous {
				h.flag(ctx, order, "refund", failure)
			}
			if err := h.commit(ctx, order, false); err != nil {
				return nil, err
			}
			return order, failure
		}

		if err := order.MarkReturnRefunded(ret.ID, amount, reference, actorOr(cmd.Actor, systemActor), h.now()); err != nil {
			return nil, err
		}
		if err := h.commit(ctx, order, false); err != nil {
			return nil, err
		}
		return order, nil
	})
}
