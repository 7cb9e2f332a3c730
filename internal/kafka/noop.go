package kafka

import (
	"context"
	"log/slog"

	"github.com/dejobratic/orderflow/internal/orders/ports"
)

// LogEventBus stands in for the broker when none is configured. Every event
// is written to the logger at debug level and reported as delivered.
type LogEventBus struct {
	logger *slog.Logger
}

func NewLogEventBus(logger *slog.Logger) *LogEventBus {
	return &LogEventBus{logger: logger.With("component", "event_bus")}
}

func (b *LogEventBus) Publish(ctx context.Context, msg ports.OutboxMessage) error {
	b.logger.DebugContext(ctx, "order event",
		"topic", msg.Topic,
		"message_id", msg.ID,
		"order_id", msg.OrderID,
		"correlation_id", msg.CorrelationID,
		"bytes", len(msg.Payload),
	)
	return nil
}
