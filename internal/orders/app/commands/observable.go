package commands

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/metrics"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/dejobratic/orderflow/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Operation outcomes reported to metrics.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

type ObservableCommandHandler[C Command] struct {
	handler CommandHandler[C]
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewObservableCommandHandler[C Command](handler CommandHandler[C], logger *slog.Logger, metrics *metrics.Metrics) *ObservableCommandHandler[C] {
	return &ObservableCommandHandler[C]{
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

func (o *ObservableCommandHandler[C]) Handle(ctx context.Context, cmd C) (*domain.Order, error) {
	name := cmd.Name()
	ctx, span := telemetry.StartSpan(ctx, name+"Command.Handle")
	defer span.End()

	start := time.Now()
	outcome := OutcomeFailed
	defer func() {
		o.metrics.RecordOperation(ctx, name, outcome, time.Since(start).Seconds())
	}()

	o.logger.InfoContext(ctx, "handling command", append([]any{"command", name}, cmd.LogAttrs()...)...)

	order, err := o.handler.Handle(ctx, cmd)

	if order != nil {
		telemetry.AddSpanAttributes(span,
			telemetry.OrderIDKey.String(order.ID()),
			telemetry.OrderStatusKey.String(string(order.Lifecycle())),
			attribute.String("order.payment_status", string(order.Payment())),
			attribute.String("order.fulfillment_status", string(order.Fulfillment())),
		)
	}

	if err != nil {
		telemetry.RecordSpanError(span, err)
		outcome = Outcome(err)
		level := slog.LevelError
		if outcome == OutcomeRejected {
			level = slog.LevelWarn
		}
		o.logger.Log(ctx, level, "command failed", append([]any{"command", name, "error", err}, cmd.LogAttrs()...)...)
		return order, err
	}

	o.logger.InfoContext(ctx, "command completed",
		"command", name,
		"order_id", order.ID(),
		"status", order.Lifecycle(),
	)

	outcome = OutcomeSuccess
	telemetry.SetSpanSuccess(span)

	return order, nil
}

// Outcome classifies err as a rejection of the request or a failure to
// carry it out.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrPaymentFailed),
		errors.Is(err, domain.ErrReturnWindowExpired),
		errors.Is(err, domain.ErrReturnNotFound),
		errors.Is(err, domain.ErrItemNotFound),
		errors.Is(err, ports.ErrNotFound),
		errors.Is(err, ErrOrderBusy):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
