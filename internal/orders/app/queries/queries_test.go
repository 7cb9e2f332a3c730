package queries_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/adapters/memory"
	"github.com/dejobratic/orderflow/internal/orders/app/queries"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, repo *memory.Repository, customerID string, at time.Time) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder(domain.NewOrderParams{
		CustomerID: customerID,
		Items: []domain.NewLineItem{
			{ProductID: "prod-a", VariantID: "variant-a", Quantity: 1, UnitPriceCents: 1999},
		},
		Shipping: domain.ShippingDetails{
			Recipient:  "Ana Example",
			Line1:      "1 Main St",
			City:       "Belgrade",
			PostalCode: "11000",
			Country:    "RS",
			Method:     domain.ShippingExpress,
		},
		PaymentMethod: "pm_card_visa",
		Actor:         customerID,
	}, domain.Limits{}, domain.Pricing{}, at)
	if err != nil {
		t.Fatalf("NewOrder() error = %v", err)
	}
	if err := repo.Create(context.Background(), order, nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return order
}

func TestGetOrder(t *testing.T) {
	t.Run("returns order by ID", func(t *testing.T) {
		repo := memory.NewRepository()
		handler := queries.NewGetOrderQueryHandler(repo)
		expected := seed(t, repo, "cust-1", t0)

		order, err := handler.Handle(context.Background(), queries.GetOrderQuery{OrderID: expected.ID()})

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if order.ID() != expected.ID() || order.Number() != expected.Number() {
			t.Errorf("expected order %s, got %s", expected.ID(), order.ID())
		}
		if order.Amounts().TotalCents != 1999 {
			t.Errorf("expected total 1999, got %d", order.Amounts().TotalCents)
		}
	})

	t.Run("returns ErrNotFound for unknown ID", func(t *testing.T) {
		handler := queries.NewGetOrderQueryHandler(memory.NewRepository())

		_, err := handler.Handle(context.Background(), queries.GetOrderQuery{OrderID: "missing"})

		if !errors.Is(err, ports.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("rejects blank ID", func(t *testing.T) {
		handler := queries.NewGetOrderQueryHandler(memory.NewRepository())

		_, err := handler.Handle(context.Background(), queries.GetOrderQuery{OrderID: "  "})

		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}

func TestListOrders(t *testing.T) {
	repo := memory.NewRepository()
	handler := queries.NewListOrdersQueryHandler(repo)
	first := seed(t, repo, "cust-1", t0)
	second := seed(t, repo, "cust-1", t0.Add(time.Minute))
	seed(t, repo, "cust-2", t0.Add(2*time.Minute))

	t.Run("filters by customer, newest first", func(t *testing.T) {
		orders, err := handler.Handle(context.Background(), queries.ListOrdersQuery{CustomerID: "cust-1"})

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(orders) != 2 {
			t.Fatalf("expected 2 orders, got %d", len(orders))
		}
		if orders[0].ID() != second.ID() || orders[1].ID() != first.ID() {
			t.Error("expected newest order first")
		}
	})

	t.Run("paginates", func(t *testing.T) {
		orders, err := handler.Handle(context.Background(), queries.ListOrdersQuery{Page: 2, PageSize: 2})

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(orders) != 1 || orders[0].ID() != first.ID() {
			t.Errorf("expected only the oldest order on page 2, got %d orders", len(orders))
		}
	})

	t.Run("filters by status and idle time", func(t *testing.T) {
		before := t0.Add(30 * time.Second)
		orders, err := handler.Handle(context.Background(), queries.ListOrdersQuery{
			Status:        string(domain.LifecyclePending),
			PaymentStatus: string(domain.PaymentPending),
			UpdatedBefore: &before,
		})

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(orders) != 1 || orders[0].ID() != first.ID() {
			t.Errorf("expected only the first order, got %d orders", len(orders))
		}
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		_, err := handler.Handle(context.Background(), queries.ListOrdersQuery{Status: "LOST"})

		var verr *domain.ValidationError
		if !errors.As(err, &verr) || verr.Field != "status" {
			t.Errorf("expected status validation error, got %v", err)
		}
	})
}

func TestOrderEvents(t *testing.T) {
	repo := memory.NewRepository()
	handler := queries.NewOrderEventsQueryHandler(repo)
	order := seed(t, repo, "cust-1", t0)

	events, err := handler.Handle(context.Background(), queries.OrderEventsQuery{OrderID: order.ID()})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(events) != 1 || events[0].Type != domain.EventOrderCreated {
		t.Errorf("expected a single ORDER_CREATED event, got %+v", events)
	}

	if _, err := handler.Handle(context.Background(), queries.OrderEventsQuery{OrderID: "missing"}); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
