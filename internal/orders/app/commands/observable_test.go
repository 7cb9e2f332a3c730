package commands_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/metrics"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type stubHandler struct {
	order *domain.Order
	err   error
}

func (s stubHandler) Handle(context.Context, commands.ConfirmOrderCommand) (*domain.Order, error) {
	return s.order, s.err
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: commands.OutcomeSuccess},
		{name: "validation", err: &domain.ValidationError{Field: "reason", Message: "is required"}, want: commands.OutcomeRejected},
		{name: "illegal transition", err: &domain.IllegalTransitionError{Operation: "cancel"}, want: commands.OutcomeRejected},
		{name: "declined payment", err: &domain.PaymentFailedError{Reason: "declined"}, want: commands.OutcomeRejected},
		{name: "busy", err: fmt.Errorf("%w: o-1", commands.ErrOrderBusy), want: commands.OutcomeRejected},
		{name: "not found", err: ports.ErrNotFound, want: commands.OutcomeRejected},
		{name: "coordinator down", err: &domain.CoordinatorError{Coordinator: "inventory", Operation: "reserve", Err: errors.New("eof")}, want: commands.OutcomeFailed},
		{name: "storage", err: ports.ErrConcurrentUpdate, want: commands.OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := commands.Outcome(tt.err); got != tt.want {
				t.Errorf("Outcome(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestObservableCommandHandler(t *testing.T) {
	newObservable := func(t *testing.T, inner stubHandler) (*commands.ObservableCommandHandler[commands.ConfirmOrderCommand], *sdkmetric.ManualReader) {
		t.Helper()
		reader := sdkmetric.NewManualReader()
		m, err := metrics.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))
		if err != nil {
			t.Fatalf("NewMetrics() error = %v", err)
		}
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		return commands.NewObservableCommandHandler[commands.ConfirmOrderCommand](inner, logger, m), reader
	}

	outcomeOf := func(t *testing.T, reader *sdkmetric.ManualReader) string {
		t.Helper()
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			t.Fatalf("collect: %v", err)
		}
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				if m.Name != "order_operations_total" {
					continue
				}
				sum := m.Data.(metricdata.Sum[int64])
				if len(sum.DataPoints) != 1 {
					t.Fatalf("expected 1 data point, got %d", len(sum.DataPoints))
				}
				v, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("outcome"))
				return v.AsString()
			}
		}
		t.Fatal("order_operations_total not recorded")
		return ""
	}

	t.Run("passes the order through and records success", func(t *testing.T) {
		f := newFixture(t)
		order := f.create(t)
		handler, reader := newObservable(t, stubHandler{order: order})

		got, err := handler.Handle(context.Background(), commands.ConfirmOrderCommand{OrderID: order.ID()})

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got != order {
			t.Error("expected the inner handler's order")
		}
		if outcome := outcomeOf(t, reader); outcome != commands.OutcomeSuccess {
			t.Errorf("expected outcome success, got %s", outcome)
		}
	})

	t.Run("keeps the order returned with an error", func(t *testing.T) {
		f := newFixture(t)
		order := f.create(t)
		failure := &domain.PaymentFailedError{Reason: "declined"}
		handler, reader := newObservable(t, stubHandler{order: order, err: failure})

		got, err := handler.Handle(context.Background(), commands.ConfirmOrderCommand{OrderID: order.ID()})

		if !errors.Is(err, domain.ErrPaymentFailed) {
			t.Fatalf("expected ErrPaymentFailed, got %v", err)
		}
		if got != order {
			t.Error("expected the order to be returned alongside the error")
		}
		if outcome := outcomeOf(t, reader); outcome != commands.OutcomeRejected {
			t.Errorf("expected outcome rejected, got %s", outcome)
		}
	})
}
