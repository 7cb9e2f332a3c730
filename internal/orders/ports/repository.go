package ports

import (
	"context"
	"errors"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

// OrderRepository persists the order aggregate together with its event log
// and the outbox messages produced by the same transition. Implementations
// must write all three atomically.
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order, messages []OutboxMessage) error
	// Save writes a modified order. It fails with ErrConcurrentUpdate when the
	// stored version no longer matches order.Version().
	Save(ctx context.Context, order *domain.Order, messages []OutboxMessage) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context, filter ListFilter) ([]*domain.Order, error)
	Events(ctx context.Context, orderID string) ([]domain.Event, error)
}

// ListFilter narrows list queries by owner, status, age and pagination.
type ListFilter struct {
	CustomerID    string
	Status        *domain.LifecycleStatus
	PaymentStatus *domain.PaymentStatus
	UpdatedBefore *time.Time
	Page          int
	PageSize      int
}

// Normalize applies default pagination.
func (f ListFilter) Normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.PageSize < 1:
		f.PageSize = 20
	case f.PageSize > 100:
		f.PageSize = 100
	}
	return f
}

// Offset is the number of rows to skip for the current page.
func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

var (
	// ErrNotFound is returned when the requested order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrConcurrentUpdate is returned when another writer saved the order first.
	ErrConcurrentUpdate = errors.New("order was modified concurrently")
	// ErrAlreadyExists is returned when an order with the same ID is stored.
	ErrAlreadyExists = errors.New("order already exists")
)
