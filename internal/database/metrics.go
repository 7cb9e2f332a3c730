package database

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Query outcomes recorded alongside the latency.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

type Metrics struct {
	queryDuration metric.Float64Histogram
	conflicts     metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	queryDuration, err := meter.Float64Histogram(
		"db_query_duration_seconds",
		metric.WithDescription("Order store operation duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create db_query_duration histogram: %w", err)
	}

	conflicts, err := meter.Int64Counter(
		"db_version_conflicts_total",
		metric.WithDescription("Order writes rejected by the optimistic version check"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create db_version_conflicts counter: %w", err)
	}

	return &Metrics{queryDuration: queryDuration, conflicts: conflicts}, nil
}

func (m *Metrics) RecordQuery(ctx context.Context, operation, outcome string, durationSeconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
	m.queryDuration.Record(ctx, durationSeconds, attrs)
	if outcome == OutcomeConflict {
		m.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
	}
}
