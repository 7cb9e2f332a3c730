package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

type outboxEntry struct {
	msg         ports.OutboxMessage
	publishedAt *time.Time
}

// Repository provides an in-memory store useful for local development and tests.
// It also serves as the outbox store for the orders it holds.
type Repository struct {
	mu     sync.RWMutex
	orders map[string]domain.Snapshot
	events map[string][]domain.Event
	outbox []*outboxEntry
}

// NewRepository constructs a new in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		orders: make(map[string]domain.Snapshot),
		events: make(map[string][]domain.Event),
	}
}

// Create stores a new order instance.
func (r *Repository) Create(_ context.Context, order *domain.Order, messages []ports.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID()]; exists {
		return fmt.Errorf("%w: %s", ports.ErrAlreadyExists, order.ID())
	}
	r.write(order, 1, messages)
	return nil
}

// Save replaces a stored order if nobody else saved it since it was loaded.
func (r *Repository) Save(_ context.Context, order *domain.Order, messages []ports.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID()]
	if !ok {
		return ports.ErrNotFound
	}
	if stored.Version != order.Version() {
		return ports.ErrConcurrentUpdate
	}
	r.write(order, order.Version()+1, messages)
	return nil
}

func (r *Repository) write(order *domain.Order, version int64, messages []ports.OutboxMessage) {
	snapshot := order.Snapshot()
	snapshot.Version = version
	r.orders[order.ID()] = snapshot
	r.events[order.ID()] = append(r.events[order.ID()], order.PendingEvents()...)
	for _, msg := range messages {
		r.outbox = append(r.outbox, &outboxEntry{msg: msg})
	}
	order.MarkPersisted(version)
}

// GetByID fetches a single order by identifier.
func (r *Repository) GetByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot, ok := r.orders[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return domain.Rehydrate(snapshot, r.events[id]), nil
}

// List returns orders respecting the provided filter, newest first.
func (r *Repository) List(_ context.Context, filter ports.ListFilter) ([]*domain.Order, error) {
	filter = filter.Normalize()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []domain.Snapshot
	for _, s := range r.orders {
		if filter.CustomerID != "" && s.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != nil && s.Lifecycle != *filter.Status {
			continue
		}
		if filter.PaymentStatus != nil && s.Payment != *filter.PaymentStatus {
			continue
		}
		if filter.UpdatedBefore != nil && !s.Timestamps.UpdatedAt.Before(*filter.UpdatedBefore) {
			continue
		}
		matched = append(matched, s)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Timestamps.CreatedAt.Equal(matched[j].Timestamps.CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].Timestamps.CreatedAt.After(matched[j].Timestamps.CreatedAt)
	})

	start := filter.Offset()
	if start >= len(matched) {
		return []*domain.Order{}, nil
	}
	end := min(start+filter.PageSize, len(matched))

	result := make([]*domain.Order, 0, end-start)
	for _, s := range matched[start:end] {
		result = append(result, domain.Rehydrate(s, r.events[s.ID]))
	}
	return result, nil
}

// Events returns the order's audit trail in the order it was recorded.
func (r *Repository) Events(_ context.Context, orderID string) ([]domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.orders[orderID]; !ok {
		return nil, ports.ErrNotFound
	}
	return append([]domain.Event(nil), r.events[orderID]...), nil
}

// Pending returns undelivered messages oldest first.
func (r *Repository) Pending(_ context.Context, limit, maxAttempts int) ([]ports.OutboxMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pending []ports.OutboxMessage
	for _, e := range r.outbox {
		if e.publishedAt != nil || e.msg.Attempts >= maxAttempts {
			continue
		}
		pending = append(pending, e.msg)
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (r *Repository) MarkPublished(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.outbox {
		if e.msg.ID == id && e.publishedAt == nil {
			e.publishedAt = &at
		}
	}
	return nil
}

func (r *Repository) MarkFailed(_ context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.outbox {
		if e.msg.ID == id && e.publishedAt == nil {
			e.msg.Attempts++
			e.msg.LastError = reason
		}
	}
	return nil
}

// Outbox returns every message written so far, delivered or not.
func (r *Repository) Outbox() []ports.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]ports.OutboxMessage, 0, len(r.outbox))
	for _, e := range r.outbox {
		all = append(all, e.msg)
	}
	return all
}
