package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	operationsTotal       metric.Int64Counter
	operationDuration     metric.Float64Histogram
	compensationsTotal    metric.Int64Counter
	reconciliationsTotal  metric.Int64Counter
	statusTransitionTotal metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.operationsTotal, err = meter.Int64Counter(
		"order_operations_total",
		metric.WithDescription("Total number of orchestrator operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_operations_total counter: %w", err)
	}

	m.operationDuration, err = meter.Float64Histogram(
		"order_operation_duration_seconds",
		metric.WithDescription("Duration of orchestrator operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_operation_duration histogram: %w", err)
	}

	m.compensationsTotal, err = meter.Int64Counter(
		"order_compensations_total",
		metric.WithDescription("Compensating actions run after a failed saga step"),
		metric.WithUnit("{compensation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_compensations_total counter: %w", err)
	}

	m.reconciliationsTotal, err = meter.Int64Counter(
		"order_reconciliations_flagged_total",
		metric.WithDescription("Steps whose outcome was left for reconciliation"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_reconciliations_flagged_total counter: %w", err)
	}

	m.statusTransitionTotal, err = meter.Int64Counter(
		"order_status_transitions_total",
		metric.WithDescription("Persisted status transitions by axis and target status"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_status_transitions_total counter: %w", err)
	}

	return m, nil
}

// RecordOperation counts one orchestrator call. Outcome is success, rejected
// or failed.
func (m *Metrics) RecordOperation(ctx context.Context, operation, outcome string, durationSeconds float64) {
	m.operationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
	m.operationDuration.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

func (m *Metrics) RecordCompensation(ctx context.Context, step string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.compensationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordReconciliationFlagged(ctx context.Context, step string) {
	m.reconciliationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
	))
}

func (m *Metrics) RecordTransition(ctx context.Context, axis, to string) {
	m.statusTransitionTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("axis", axis),
		attribute.String("to", to),
	))
}
