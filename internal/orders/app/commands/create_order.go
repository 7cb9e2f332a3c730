package commands

import (
	"context"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

type CreateOrderCommand struct {
	CustomerID    string
	Items         []domain.NewLineItem
	Shipping      domain.ShippingDetails
	PaymentMethod string
	DiscountCents int64
}

func (c CreateOrderCommand) Name() string { return "CreateOrder" }

func (c CreateOrderCommand) LogAttrs() []any {
	return []any{"customer_id", c.CustomerID, "lines", len(c.Items), "shipping_method", c.Shipping.Method}
}

// CreateOrderCommandHandler builds an order, reserves its stock and
// persists it. Nothing is persisted unless every line was reserved.
type CreateOrderCommandHandler struct {
	orchestrator
}

func NewCreateOrderCommandHandler(deps Deps) *CreateOrderCommandHandler {
	return &CreateOrderCommandHandler{orchestrator{deps}}
}

func (h *CreateOrderCommandHandler) Handle(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error) {
	order, err := domain.NewOrder(domain.NewOrderParams{
		CustomerID:    cmd.CustomerID,
		Items:         cmd.Items,
		Shipping:      cmd.Shipping,
		PaymentMethod: cmd.PaymentMethod,
		DiscountCents: cmd.DiscountCents,
		Actor:         cmd.CustomerID,
	}, h.Policy.Limits, h.Policy.Pricing, h.now())
	if err != nil {
		return nil, err
	}

	if err := h.reserve(ctx, order); err != nil {
		return nil, err
	}

	if err := h.commit(ctx, order, true); err != nil {
		h.discardHold(ctx, order.ID(), "order not persisted")
		return nil, err
	}

	return order, nil
}
