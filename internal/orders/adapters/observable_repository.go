package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/dejobratic/orderflow/internal/database"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/dejobratic/orderflow/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ObservableRepository traces every store call and records its latency and
// outcome.
type ObservableRepository struct {
	repo    ports.OrderRepository
	metrics *database.Metrics
}

func NewObservableRepository(repo ports.OrderRepository, metrics *database.Metrics) *ObservableRepository {
	return &ObservableRepository{
		repo:    repo,
		metrics: metrics,
	}
}

func (r *ObservableRepository) Create(ctx context.Context, order *domain.Order, messages []ports.OutboxMessage) error {
	return r.observe(ctx, "create_order", func(ctx context.Context, span trace.Span) error {
		telemetry.AddSpanAttributes(span,
			telemetry.OrderIDKey.String(order.ID()),
			attribute.Int("events.count", len(order.PendingEvents())),
			attribute.Int("outbox.count", len(messages)),
		)
		return r.repo.Create(ctx, order, messages)
	})
}

func (r *ObservableRepository) Save(ctx context.Context, order *domain.Order, messages []ports.OutboxMessage) error {
	return r.observe(ctx, "save_order", func(ctx context.Context, span trace.Span) error {
		telemetry.AddSpanAttributes(span,
			telemetry.OrderIDKey.String(order.ID()),
			telemetry.OrderVersionKey.Int64(order.Version()),
			telemetry.OrderStatusKey.String(string(order.Lifecycle())),
			attribute.Int("events.count", len(order.PendingEvents())),
			attribute.Int("outbox.count", len(messages)),
		)
		return r.repo.Save(ctx, order, messages)
	})
}

func (r *ObservableRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	var order *domain.Order
	err := r.observe(ctx, "get_order_by_id", func(ctx context.Context, span trace.Span) error {
		telemetry.AddSpanAttributes(span, telemetry.OrderIDKey.String(id))
		var err error
		order, err = r.repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *ObservableRepository) List(ctx context.Context, filter ports.ListFilter) ([]*domain.Order, error) {
	var orders []*domain.Order
	err := r.observe(ctx, "list_orders", func(ctx context.Context, span trace.Span) error {
		attrs := []attribute.KeyValue{
			attribute.Int("page", filter.Page),
			attribute.Int("page_size", filter.PageSize),
		}
		if filter.Status != nil {
			attrs = append(attrs, attribute.String("filter.status", string(*filter.Status)))
		}
		if filter.PaymentStatus != nil {
			attrs = append(attrs, attribute.String("filter.payment_status", string(*filter.PaymentStatus)))
		}
		telemetry.AddSpanAttributes(span, attrs...)

		var err error
		orders, err = r.repo.List(ctx, filter)
		telemetry.AddSpanAttributes(span, attribute.Int("result.count", len(orders)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *ObservableRepository) Events(ctx context.Context, orderID string) ([]domain.Event, error) {
	var events []domain.Event
	err := r.observe(ctx, "list_order_events", func(ctx context.Context, span trace.Span) error {
		telemetry.AddSpanAttributes(span, telemetry.OrderIDKey.String(orderID))
		var err error
		events, err = r.repo.Events(ctx, orderID)
		telemetry.AddSpanAttributes(span, attribute.Int("result.count", len(events)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *ObservableRepository) observe(ctx context.Context, operation string, fn func(context.Context, trace.Span) error) error {
	ctx, span := telemetry.StartSpan(ctx, "OrderRepository."+operation,
		trace.WithAttributes(attribute.String("db.operation", operation)),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx, span)
	r.metrics.RecordQuery(ctx, operation, queryOutcome(err), time.Since(start).Seconds())

	// Not-found leaves the span successful.
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		telemetry.RecordSpanError(span, err)
		return err
	}
	telemetry.SetSpanSuccess(span)
	return err
}

func queryOutcome(err error) string {
	switch {
	case err == nil:
		return database.OutcomeOK
	case errors.Is(err, ports.ErrNotFound):
		return database.OutcomeNotFound
	case errors.Is(err, ports.ErrConcurrentUpdate), errors.Is(err, ports.ErrAlreadyExists):
		return database.OutcomeConflict
	default:
		return database.OutcomeError
	}
}
