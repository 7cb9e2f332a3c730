package queries

import (
	"context"
	"strings"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

type GetOrderQuery struct {
	OrderID string
}

// GetOrderQueryHandler loads one order with its full state.
type GetOrderQueryHandler struct {
	repo ports.OrderRepository
}

func NewGetOrderQueryHandler(repo ports.OrderRepository) *GetOrderQueryHandler {
	return &GetOrderQueryHandler{repo: repo}
}

// Handle returns ports.ErrNotFound for an unknown ID.
func (h *GetOrderQueryHandler) Handle(ctx context.Context, query GetOrderQuery) (*domain.Order, error) {
	id, err := orderID(query.OrderID)
	if err != nil {
		return nil, err
	}
	return h.repo.GetByID(ctx, id)
}

// OrderEventsQuery asks for an order's audit trail.
type OrderEventsQuery struct {
	OrderID string
}

type OrderEventsQueryHandler struct {
	repo ports.OrderRepository
}

func NewOrderEventsQueryHandler(repo ports.OrderRepository) *OrderEventsQueryHandler {
	return &OrderEventsQueryHandler{repo: repo}
}

// Handle returns the events oldest first.
func (h *OrderEventsQueryHandler) Handle(ctx context.Context, query OrderEventsQuery) ([]domain.Event, error) {
	id, err := orderID(query.OrderID)
	if err != nil {
		return nil, err
	}
	return h.repo.Events(ctx, id)
}

func orderID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", &domain.ValidationError{Field: "order_id", Message: "is required"}
	}
	return id, nil
}
