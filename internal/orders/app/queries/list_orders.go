package queries

import (
	"context"
	"fmt"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

// ListOrdersQuery pages through orders. Status and PaymentStatus are
// optional; UpdatedBefore selects orders idle since the given time.
type ListOrdersQuery struct {
	CustomerID    string
	Status        string
	PaymentStatus string
	UpdatedBefore *time.Time
	Page          int
	PageSize      int
}

type ListOrdersQueryHandler struct {
	repo ports.OrderRepository
}

func NewListOrdersQueryHandler(repo ports.OrderRepository) *ListOrdersQueryHandler {
	return &ListOrdersQueryHandler{repo: repo}
}

func (h *ListOrdersQueryHandler) Handle(ctx context.Context, query ListOrdersQuery) ([]*domain.Order, error) {
	filter, err := query.Filter()
	if err != nil {
		return nil, err
	}
	return h.repo.List(ctx, filter)
}

// Filter validates the query and converts it to a repository filter.
func (q ListOrdersQuery) Filter() (ports.ListFilter, error) {
	if q.Page < 0 {
		return ports.ListFilter{}, &domain.ValidationError{Field: "page", Message: "must not be negative"}
	}
	if q.PageSize < 0 {
		return ports.ListFilter{}, &domain.ValidationError{Field: "page_size", Message: "must not be negative"}
	}

	filter := ports.ListFilter{
		CustomerID:    q.CustomerID,
		UpdatedBefore: q.UpdatedBefore,
		Page:          q.Page,
		PageSize:      q.PageSize,
	}
	if q.Status != "" {
		status := domain.LifecycleStatus(q.Status)
		if !status.Valid() {
			return ports.ListFilter{}, &domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", q.Status)}
		}
		filter.Status = &status
	}
	if q.PaymentStatus != "" {
		status := domain.PaymentStatus(q.PaymentStatus)
		if !status.Valid() {
			return ports.ListFilter{}, &domain.ValidationError{Field: "payment_status", Message: fmt.Sprintf("unknown payment status %q", q.PaymentStatus)}
		}
		filter.PaymentStatus = &status
	}
	return filter.Normalize(), nil
}
