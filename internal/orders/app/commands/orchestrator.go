package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/metrics"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/dejobratic/orderflow/internal/outbox"
)

// ErrOrderBusy is returned when an operation that must not wait finds the
// order locked by another one.
var ErrOrderBusy = errors.New("order is busy with another operation")

// Actor recorded for steps the orchestrator takes on its own.
const systemActor = "system"

// Policy holds the business limits the handlers enforce.
type Policy struct {
	Limits             domain.Limits
	Pricing            domain.Pricing
	CoordinatorTimeout time.Duration
	ReturnWindow       time.Duration
	MaxPaymentAttempts int
	// ChargeStalledAfter is how long a started charge may go without a
	// recorded outcome. Defaults to twice CoordinatorTimeout.
	ChargeStalledAfter time.Duration
	// UnpaidTTL is how long an order may wait for payment before the
	// auto-cancel sweep picks it up.
	UnpaidTTL          time.Duration
}

// Deps are the collaborators shared by every command handler.
type Deps struct {
	Repo        ports.OrderRepository
	Inventory   ports.InventoryCoordinator
	Payment     ports.PaymentCoordinator
	Fulfillment ports.FulfillmentCoordinator
	Notifier    ports.Notifier
	Locker      ports.OrderLocker
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Policy      Policy
	Now         func() time.Time
}

// orchestrator carries the helpers every saga step goes through.
type orchestrator struct {
	Deps
}

func (o *orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// call bounds one coordinator call.
func (o *orchestrator) call(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := o.Policy.CoordinatorTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// chargeStalledAfter is how long a payment may stay PENDING on a CONFIRMED
// order before the confirmation that started it is presumed lost.
func (o *orchestrator) chargeStalledAfter() time.Duration {
	if o.Policy.ChargeStalledAfter > 0 {
		return o.Policy.ChargeStalledAfter
	}
	timeout := o.Policy.CoordinatorTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return 2 * timeout
}

// abandonStalledCharge fails a charge whose confirmation never recorded an
// outcome, so the order can be cancelled or its hold released. The charge
// may have gone through, so the order is flagged.
func (o *orchestrator) abandonStalledCharge(ctx context.Context, order *domain.Order) (bool, error) {
	now := o.now()
	if !order.ChargeStalled(now, o.chargeStalledAfter()) {
		return false, nil
	}
	if err := order.AbandonStalledCharge(now, o.chargeStalledAfter(), systemActor); err != nil {
		return false, err
	}
	o.Logger.WarnContext(ctx, "abandoning interrupted charge, flagged for reconciliation",
		"order_id", order.ID(),
		"charge_attempt", order.ChargeAttempt(),
	)
	o.flag(ctx, order, "charge", errors.New("charge outcome never recorded"))
	return true, nil
}

// compensationContext survives cancellation of the caller's request so an
// undo step is not skipped because the client went away.
func (o *orchestrator) compensationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return o.call(context.WithoutCancel(ctx))
}

// withOrder loads an order under its lock and runs fn. When wait is false
// a held lock fails fast with ErrOrderBusy.
func (o *orchestrator) withOrder(ctx context.Context, orderID string, wait bool, fn func(*domain.Order) (*domain.Order, error)) (*domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, &domain.ValidationError{Field: "order_id", Message: "is required"}
	}

	var release func()
	var err error
	if wait {
		release, err = o.Locker.Lock(ctx, orderID)
	} else {
		release, err = o.Locker.TryLock(ctx, orderID)
	}
	if err != nil {
		if errors.Is(err, ports.ErrLocked) {
			return nil, fmt.Errorf("%w: %s", ErrOrderBusy, orderID)
		}
		return nil, fmt.Errorf("lock order %s: %w", orderID, err)
	}
	defer release()

	order, err := o.Repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return fn(order)
}

// commit checks invariants, persists the order with outbox rows for its new
// events and hands those rows to the notifier once the write is durable.
func (o *orchestrator) commit(ctx context.Context, order *domain.Order, create bool) error {
	if err := order.CheckInvariants(); err != nil {
		return fmt.Errorf("order %s: invariant violated: %w", order.ID(), err)
	}

	pending := order.PendingEvents()
	messages, err := outbox.MessagesFor(ctx, order)
	if err != nil {
		return err
	}

	if create {
		err = o.Repo.Create(ctx, order, messages)
	} else {
		err = o.Repo.Save(ctx, order, messages)
	}
	if err != nil {
		return fmt.Errorf("persist order %s: %w", order.ID(), err)
	}

	for _, ev := range pending {
		if ev.Axis != "" && ev.To != "" {
			o.Metrics.RecordTransition(ctx, string(ev.Axis), ev.To)
		}
	}
	o.Notifier.Notify(ctx, messages)
	return nil
}

func reservationLines(order *domain.Order) []ports.ReservationLine {
	items := order.Items()
	lines := make([]ports.ReservationLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, ports.ReservationLine{VariantID: item.VariantID, Quantity: item.Quantity})
	}
	return lines
}

// releaseReservation undoes a hold. A failure is flagged on the order for
// reconciliation instead of being returned.
func (o *orchestrator) releaseReservation(ctx context.Context, order *domain.Order, reason string) {
	callCtx, cancel := o.compensationContext(ctx)
	err := o.Inventory.Release(callCtx, order.ID())
	cancel()

	o.Metrics.RecordCompensation(ctx, "release_reservation", err == nil)
	if err != nil {
		o.Logger.WarnContext(ctx, "reservation release failed, flagged for reconciliation",
			"order_id", order.ID(),
			"reason", reason,
			"error", err,
		)
		o.flag(ctx, order, "release_reservation", err)
		return
	}
	if err := order.MarkReservationReleased(reason, systemActor, o.now()); err != nil {
		o.Logger.ErrorContext(ctx, "record reservation release", "order_id", order.ID(), "error", err)
	}
}

func (o *orchestrator) flag(ctx context.Context, order *domain.Order, step string, cause error) {
	order.FlagReconciliation(step, cause.Error(), systemActor, o.now())
	o.Metrics.RecordReconciliationFlagged(ctx, step)
}

// coordinatorFailure translates a downstream error into the orchestrator's
// error taxonomy. Typed errors produced by the coordinators pass through.
func coordinatorFailure(coordinator, operation string, err error) error {
	var stock *domain.InsufficientStockError
	var payment *domain.PaymentFailedError
	var coord *domain.CoordinatorError
	switch {
	case errors.As(err, &stock), errors.As(err, &payment), errors.As(err, &coord):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.CoordinatorError{Coordinator: coordinator, Operation: operation, Ambiguous: true, Err: err}
	default:
		return &domain.CoordinatorError{Coordinator: coordinator, Operation: operation, Err: err}
	}
}

// ambiguous reports whether the downstream outcome of err is unknown.
func ambiguous(err error) bool {
	var payment *domain.PaymentFailedError
	if errors.As(err, &payment) {
		return payment.Ambiguous
	}
	var coord *domain.CoordinatorError
	if errors.As(err, &coord) {
		return coord.Ambiguous
	}
	return errors.Is(err, context.DeadlineExceeded)
}
