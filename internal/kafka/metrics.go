package kafka

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics covers the producer side of the event stream.
type Metrics struct {
	publishLatency metric.Float64Histogram
	published      metric.Int64Counter
	payloadSize    metric.Int64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	publishLatency, err := meter.Float64Histogram(
		"kafka_producer_latency_seconds",
		metric.WithDescription("Time to hand one order event to the broker"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka_producer_latency histogram: %w", err)
	}

	published, err := meter.Int64Counter(
		"order_events_published_total",
		metric.WithDescription("Order events handed to the broker, by topic and result"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_events_published counter: %w", err)
	}

	payloadSize, err := meter.Int64Histogram(
		"order_event_payload_bytes",
		metric.WithDescription("Encoded size of published order events"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(256, 1024, 4096, 16384, 65536),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_event_payload histogram: %w", err)
	}

	return &Metrics{publishLatency: publishLatency, published: published, payloadSize: payloadSize}, nil
}

// RecordPublish records one publish attempt. Payload size is only recorded
// for events the broker accepted.
func (m *Metrics) RecordPublish(ctx context.Context, topic string, payloadBytes int, durationSeconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("status", status),
	)
	m.publishLatency.Record(ctx, durationSeconds, attrs)
	m.published.Add(ctx, 1, attrs)
	if err == nil {
		m.payloadSize.Record(ctx, int64(payloadBytes), metric.WithAttributes(attribute.String("topic", topic)))
	}
}
