package adapters

import (
	"context"
	"time"

	"github.com/dejobratic/orderflow/internal/kafka"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/dejobratic/orderflow/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

type ObservableEventBus struct {
	bus     ports.EventBus
	metrics *kafka.Metrics
}

func NewObservableEventBus(bus ports.EventBus, metrics *kafka.Metrics) *ObservableEventBus {
	return &ObservableEventBus{
		bus:     bus,
		metrics: metrics,
	}
}

func (e *ObservableEventBus) Publish(ctx context.Context, msg ports.OutboxMessage) error {
	ctx, span := telemetry.StartSpan(ctx, "EventBus.Publish")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		telemetry.OrderIDKey.String(msg.OrderID),
		telemetry.CorrelationIDKey.String(msg.CorrelationID),
		attribute.String("message.id", msg.ID),
		attribute.String("topic", msg.Topic),
		attribute.Int("attempts", msg.Attempts),
	)

	start := time.Now()
	err := e.bus.Publish(ctx, msg)
	e.metrics.RecordPublish(ctx, msg.Topic, len(msg.Payload), time.Since(start).Seconds(), err)

	if err != nil {
		telemetry.RecordSpanError(span, err)
		return err
	}

	telemetry.SetSpanSuccess(span)
	return nil
}
