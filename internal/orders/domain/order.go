package domain

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Limits bounds what a single order may contain.
type Limits struct {
	MaxItems           int
	MaxOrderValueCents int64
}

// Pricing turns a subtotal into tax and shipping charges.
type Pricing struct {
	TaxRateBasisPoints int64
	ShippingFees       map[ShippingMethod]int64
}

func (p Pricing) tax(subtotal int64) int64 {
	// round half up
	return (subtotal*p.TaxRateBasisPoints + 5000) / 10000
}

// NewOrderParams carries validated cart contents into an order.
type NewOrderParams struct {
	CustomerID    string
	Items         []NewLineItem
	Shipping      ShippingDetails
	PaymentMethod string
	DiscountCents int64
	Actor         string
}

// Amounts are the order's monetary fields in minor units.
type Amounts struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	TaxCents      int64 `json:"tax_cents"`
	ShippingCents int64 `json:"shipping_cents"`
	DiscountCents int64 `json:"discount_cents"`
	TotalCents    int64 `json:"total_cents"`
	RefundedCents int64 `json:"refunded_cents"`
}

// Timestamps holds the once-only transition times.
type Timestamps struct {
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	ShippedAt   *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	ReturnedAt  *time.Time `json:"returned_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`
}

// Order is the aggregate root. Its state is only reachable through the
// transition methods below, which enforce the transition tables and append
// to the event log.
type Order struct {
	id                string
	number            string
	customerID        string
	lifecycle         LifecycleStatus
	payment           PaymentStatus
	fulfillment       FulfillmentStatus
	reservation       ReservationStatus
	items             []LineItem
	shipping          ShippingDetails
	estimatedDelivery *time.Time
	amounts           Amounts
	paymentMethod     string
	paymentReference  string
	paymentAttempts   int
	chargeAttempt     int
	chargeUnresolved  bool
	cancelReason      string
	times             Timestamps
	returns           []Return
	events            []Event
	persistedEvents   int
	version           int64
}

// NewOrder validates cart contents and builds a PENDING order with its
// ORDER_CREATED event.
func NewOrder(params NewOrderParams, limits Limits, pricing Pricing, now time.Time) (*Order, error) {
	if strings.TrimSpace(params.CustomerID) == "" {
		return nil, invalid("customer_id", "is required")
	}
	if len(params.Items) == 0 {
		return nil, invalid("items", "at least one item is required")
	}
	if limits.MaxItems > 0 && len(params.Items) > limits.MaxItems {
		return nil, invalid("items", "at most %d items allowed, got %d", limits.MaxItems, len(params.Items))
	}
	if err := params.Shipping.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.PaymentMethod) == "" {
		return nil, invalid("payment_method", "is required")
	}
	if params.DiscountCents < 0 {
		return nil, invalid("discount_cents", "must not be negative")
	}

	seen := make(map[string]struct{}, len(params.Items))
	items := make([]LineItem, 0, len(params.Items))
	for i, in := range params.Items {
		if err := in.validate(i); err != nil {
			return nil, err
		}
		if _, dup := seen[in.VariantID]; dup {
			return nil, invalid("items", "variant %s appears more than once", in.VariantID)
		}
		seen[in.VariantID] = struct{}{}
		items = append(items, LineItem{
			ID:                uuid.NewString(),
			ProductID:         in.ProductID,
			VariantID:         in.VariantID,
			Name:              in.Name,
			Quantity:          in.Quantity,
			UnitPriceCents:    in.UnitPriceCents,
			FulfillmentStatus: FulfillmentUnfulfilled,
		})
	}

	now = now.UTC()
	o := &Order{
		id:            uuid.NewString(),
		number:        newOrderNumber(now),
		customerID:    params.CustomerID,
		lifecycle:     LifecyclePending,
		payment:       PaymentPending,
		fulfillment:   FulfillmentUnfulfilled,
		reservation:   ReservationNone,
		items:         items,
		shipping:      params.Shipping,
		paymentMethod: params.PaymentMethod,
		times:         Timestamps{CreatedAt: now, UpdatedAt: now},
	}
	o.shipping.Country = strings.ToUpper(strings.TrimSpace(o.shipping.Country))
	o.amounts.DiscountCents = params.DiscountCents
	o.amounts.ShippingCents = pricing.ShippingFees[params.Shipping.Method]
	o.recalculate(pricing)

	if o.amounts.TotalCents < 0 {
		return nil, invalid("discount_cents", "discount exceeds order value")
	}
	if limits.MaxOrderValueCents > 0 && o.amounts.TotalCents > limits.MaxOrderValueCents {
		return nil, invalid("items", "order total %d exceeds maximum %d", o.amounts.TotalCents, limits.MaxOrderValueCents)
	}

	o.record(EventOrderCreated, "", "", "", params.Actor, now, Meta{
		"number":      o.number,
		"total_cents": strconv.FormatInt(o.amounts.TotalCents, 10),
		"item_count":  strconv.Itoa(o.ItemCount()),
	})
	return o, nil
}

func newOrderNumber(now time.Time) string {
	return "ORD-" + ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

// recalculate derives subtotal, tax and total from the line items.
func (o *Order) recalculate(pricing Pricing) {
	var subtotal int64
	for _, item := range o.items {
		subtotal += item.LineTotalCents()
	}
	o.amounts.SubtotalCents = subtotal
	o.amounts.TaxCents = pricing.tax(subtotal)
	o.amounts.TotalCents = subtotal + o.amounts.TaxCents + o.amounts.ShippingCents - o.amounts.DiscountCents
}

func (o *Order) ID() string { return o.id }
func (o *Order) Number() string { return o.number }
func (o *Order) CustomerID() string { return o.customerID }
func (o *Order) Lifecycle() LifecycleStatus { return o.lifecycle }
func (o *Order) Payment() PaymentStatus { return o.payment }
func (o *Order) Fulfillment() FulfillmentStatus { return o.fulfillment }
func (o *Order) Reservation() ReservationStatus { return o.reservation }
func (o *Order) Shipping() ShippingDetails { return o.shipping }
func (o *Order) Amounts() Amounts { return o.amounts }
func (o *Order) Timestamps() Timestamps { return o.times }
func (o *Order) PaymentMethod() string { return o.paymentMethod }
func (o *Order) PaymentReference() string { return o.paymentReference }
func (o *Order) PaymentAttempts() int { return o.paymentAttempts }

// ChargeAttempt is the attempt whose idempotency key the current charge
// uses. It only moves forward after a definite decline, so a charge whose
// outcome was never learned is always re-sent under its original key.
func (o *Order) ChargeAttempt() int {
	if o.chargeAttempt == 0 {
		return o.paymentAttempts
	}
	return o.chargeAttempt
}

// ReservationGeneration numbers stock holds: 1 for the hold taken at
// creation, one more for each hold re-taken by a payment retry.
func (o *Order) ReservationGeneration() int { return o.paymentAttempts + 1 }
func (o *Order) CancelReason() string { return o.cancelReason }
func (o *Order) EstimatedDelivery() *time.Time { return o.estimatedDelivery }
func (o *Order) Version() int64 { return o.version }
func (o *Order) Items() []LineItem { return append([]LineItem(nil), o.items...) }
func (o *Order) Returns() []Return { return append([]Return(nil), o.returns...) }
func (o *Order) Events() []Event { return append([]Event(nil), o.events...) }
func (o *Order) PendingEvents() []Event { return append([]Event(nil), o.events[o.persistedEvents:]...) }

// ItemCount is the number of units across all lines.
func (o *Order) ItemCount() int {
	n := 0
	for _, item := range o.items {
		n += item.Quantity
	}
	return n
}

// Return looks up a return by ID.
func (o *Order) Return(id string) (Return, bool) {
	for _, r := range o.returns {
		if r.ID == id {
			return r, true
		}
	}
	return Return{}, false
}

// MarkPersisted is called by repositories after a successful write.
func (o *Order) MarkPersisted(version int64) {
	o.persistedEvents = len(o.events)
	o.version = version
}

func (o *Order) record(typ EventType, axis Axis, from, to, actor string, at time.Time, meta Meta) {
	ev := newEvent(o.id, typ, actor, at, meta)
	ev.Axis = axis
	ev.From = from
	ev.To = to
	o.events = append(o.events, ev)
	o.times.UpdatedAt = at
}

func (o *Order) setLifecycle(to LifecycleStatus, typ EventType, actor string, at time.Time, meta Meta) error {
	if !CanTransitionLifecycle(o.lifecycle, to) {
		return illegal(string(typ), AxisLifecycle, o.lifecycle, to)
	}
	from := o.lifecycle
	o.lifecycle = to
	o.record(typ, AxisLifecycle, string(from), string(to), actor, at, meta)
	return nil
}

func (o *Order) setPayment(to PaymentStatus, typ EventType, actor string, at time.Time, meta Meta) error {
	if !CanTransitionPayment(o.payment, to) {
		return illegal(string(typ), AxisPayment, o.payment, to)
	}
	from := o.payment
	o.payment = to
	o.record(typ, AxisPayment, string(from), string(to), actor, at, meta)
	return nil
}

func (o *Order) setFulfillment(to FulfillmentStatus, typ EventType, actor string, at time.Time, meta Meta) error {
	if !CanTransitionFulfillment(o.fulfillment, to) {
		return illegal(string(typ), AxisFulfillment, o.fulfillment, to)
	}
	from := o.fulfillment
	o.fulfillment = to
	o.record(typ, AxisFulfillment, string(from), string(to), actor, at, meta)
	return nil
}

func (o *Order) setReservation(to ReservationStatus, typ EventType, actor string, at time.Time, meta Meta) error {
	if !CanTransitionReservation(o.reservation, to) {
		return illegal(string(typ), AxisReservation, o.reservation, to)
	}
	from := o.reservation
	o.reservation = to
	o.record(typ, AxisReservation, string(from), string(to), actor, at, meta)
	return nil
}

func setOnce(field **time.Time, at time.Time) {
	if *field == nil {
		t := at
		*field = &t
	}
}

// MarkReserved records that inventory is held for every line.
func (o *Order) MarkReserved(actor string, at time.Time) error {
	return o.setReservation(ReservationHeld, EventInventoryReserved, actor, at, nil)
}

// ConfirmationMode tells the orchestrator how ConfirmOrder should proceed.
type ConfirmationMode int

const (
	ConfirmFresh ConfirmationMode = iota + 1
	ConfirmRetry
	// ConfirmResume re-sends a charge that was interrupted before its
	// outcome was recorded.
	ConfirmResume
)

// ChargeStalled reports whether a CONFIRMED order has had a PENDING payment
// for at least stalledAfter, meaning the confirmation that started the
// charge never recorded its outcome.
func (o *Order) ChargeStalled(now time.Time, stalledAfter time.Duration) bool {
	return o.lifecycle == LifecycleConfirmed &&
		o.payment == PaymentPending &&
		now.Sub(o.times.UpdatedAt) >= stalledAfter
}

// ConfirmationMode returns whether the order can be confirmed: for the first
// time (PENDING), as a payment retry (CONFIRMED with FAILED payment), or as
// the resumption of a stalled charge.
func (o *Order) ConfirmationMode(maxAttempts int, now time.Time, stalledAfter time.Duration) (ConfirmationMode, error) {
	switch {
	case o.lifecycle == LifecyclePending && o.payment == PaymentPending:
		return ConfirmFresh, nil
	case o.ChargeStalled(now, stalledAfter):
		return ConfirmResume, nil
	case o.lifecycle == LifecycleConfirmed && o.payment == PaymentFailed:
		if maxAttempts > 0 && o.paymentAttempts >= maxAttempts {
			return 0, illegalBecause("confirm order", AxisPayment, o.payment,
				fmt.Sprintf("payment retry limit of %d attempts reached, order must be cancelled", maxAttempts))
		}
		return ConfirmRetry, nil
	case o.lifecycle == LifecycleConfirmed:
		return 0, illegalBecause("confirm order", AxisLifecycle, o.lifecycle, "order is already confirmed")
	default:
		return 0, illegal("confirm order", AxisLifecycle, o.lifecycle, LifecyclePending)
	}
}

// Confirm moves a PENDING order to CONFIRMED and counts a payment attempt.
func (o *Order) Confirm(actor string, at time.Time) error {
	if o.lifecycle != LifecyclePending {
		return illegal("confirm order", AxisLifecycle, o.lifecycle, LifecyclePending)
	}
	if err := o.setLifecycle(LifecycleConfirmed, EventOrderConfirmed, actor, at, nil); err != nil {
		return err
	}
	setOnce(&o.times.ConfirmedAt, at)
	o.paymentAttempts++
	o.chargeAttempt = o.paymentAttempts
	return nil
}

// RetryPayment reopens a FAILED payment on a CONFIRMED order. This is the
// only legal regression of the payment axis and is always logged. After an
// ambiguous failure the retry keeps the previous charge attempt so the
// gateway can deduplicate it.
func (o *Order) RetryPayment(actor string, at time.Time) error {
	if o.lifecycle != LifecycleConfirmed || o.payment != PaymentFailed {
		return illegal("retry payment", AxisPayment, o.payment, PaymentFailed)
	}
	charge := o.paymentAttempts + 1
	if o.chargeUnresolved {
		charge = o.ChargeAttempt()
	}
	if err := o.setPayment(PaymentPending, EventPaymentRetried, actor, at, Meta{
		"attempt":        strconv.Itoa(o.paymentAttempts + 1),
		"charge_attempt": strconv.Itoa(charge),
	}); err != nil {
		return err
	}
	o.paymentAttempts++
	o.chargeAttempt = charge
	return nil
}

// MarkPaid records a successful charge.
func (o *Order) MarkPaid(reference, actor string, at time.Time) error {
	if o.lifecycle != LifecycleConfirmed {
		return illegal("mark paid", AxisLifecycle, o.lifecycle, LifecycleConfirmed)
	}
	meta := Meta{"reference": reference, "amount_cents": strconv.FormatInt(o.amounts.TotalCents, 10)}
	if err := o.setPayment(PaymentPaid, EventPaymentSucceeded, actor, at, meta); err != nil {
		return err
	}
	if err := o.setLifecycle(LifecyclePaid, EventPaymentSucceeded, actor, at, nil); err != nil {
		return err
	}
	o.paymentReference = reference
	o.chargeUnresolved = false
	setOnce(&o.times.PaidAt, at)
	return nil
}

// MarkPaymentFailed records a declined or unresolved charge. The lifecycle
// stays CONFIRMED so the customer can retry or the order can be cancelled.
func (o *Order) MarkPaymentFailed(reason string, ambiguous bool, actor string, at time.Time) error {
	if o.lifecycle != LifecycleConfirmed {
		return illegal("mark payment failed", AxisLifecycle, o.lifecycle, LifecycleConfirmed)
	}
	if err := o.setPayment(PaymentFailed, EventPaymentFailed, actor, at, Meta{
		"reason":         reason,
		"ambiguous":      strconv.FormatBool(ambiguous),
		"charge_attempt": strconv.Itoa(o.ChargeAttempt()),
	}); err != nil {
		return err
	}
	o.chargeUnresolved = ambiguous
	return nil
}

// AbandonStalledCharge gives up on a charge whose confirmation was
// interrupted. The payment is recorded as an ambiguous failure, so the order
// can be cancelled or retried under the same charge key.
func (o *Order) AbandonStalledCharge(now time.Time, stalledAfter time.Duration, actor string) error {
	if !o.ChargeStalled(now, stalledAfter) {
		return illegalBecause("abandon charge", AxisPayment, o.payment, "no stalled charge")
	}
	return o.MarkPaymentFailed("confirmation interrupted before the charge outcome was recorded", true, actor, now)
}

// MarkReservationConverted records that held stock became a permanent
// deduction. Converting twice is a no-op.
func (o *Order) MarkReservationConverted(actor string, at time.Time) error {
	if o.reservation == ReservationConverted {
		return nil
	}
	return o.setReservation(ReservationConverted, EventInventoryConverted, actor, at, nil)
}

// MarkReservationReleased records that held stock went back to available.
// Releasing with nothing held is a no-op.
func (o *Order) MarkReservationReleased(reason, actor string, at time.Time) error {
	if o.reservation != ReservationHeld {
		return nil
	}
	return o.setReservation(ReservationReleased, EventInventoryReleased, actor, at, Meta{"reason": reason})
}

// FlagReconciliation logs a step whose outcome must be settled later.
func (o *Order) FlagReconciliation(step, reason, actor string, at time.Time) {
	o.record(EventReconciliationNeeded, "", "", "", actor, at, Meta{"step": step, "reason": reason})
}

// ReservationSettlement says which idempotent inventory call, if any, the
// current state requires for a still-held reservation.
func (o *Order) ReservationSettlement() (convert, release bool) {
	if o.reservation != ReservationHeld {
		return false, false
	}
	switch {
	case o.payment == PaymentPaid || o.payment == PaymentPartiallyRefunded || o.payment == PaymentRefunded:
		return true, false
	case o.lifecycle == LifecycleCancelled || o.payment == PaymentFailed:
		return false, true
	default:
		return false, false
	}
}

// RecordFulfillmentInitiated stores the shipping estimate after the hand-off
// to fulfillment. The lifecycle moves on once every item has shipped.
func (o *Order) RecordFulfillmentInitiated(eta time.Time, actor string, at time.Time) error {
	if o.lifecycle != LifecyclePaid {
		return illegal("initiate fulfillment", AxisLifecycle, o.lifecycle, LifecyclePaid)
	}
	meta := Meta{}
	if !eta.IsZero() {
		e := eta.UTC()
		o.estimatedDelivery = &e
		meta["estimated_delivery"] = e.Format(time.RFC3339)
	}
	o.record(EventFulfillmentInitiated, "", "", "", actor, at, meta)
	return nil
}

// RecordFulfillmentFailure logs a failed fulfillment hand-off. The order
// stays PAID and can still be shipped.
func (o *Order) RecordFulfillmentFailure(reason, actor string, at time.Time) {
	o.record(EventFulfillmentFailed, "", "", "", actor, at, Meta{"reason": reason})
}

// ShipmentPlan is the result of checking a ShipItems request.
type ShipmentPlan struct {
	ItemIDs        []string
	TrackingNumber string
	Carrier        string
}

// Empty reports whether every requested item was already shipped.
func (p ShipmentPlan) Empty() bool { return len(p.ItemIDs) == 0 }

// PlanShipment checks a ship request without mutating the order. Items
// already fulfilled under the same tracking number are skipped.
func (o *Order) PlanShipment(itemIDs []string, trackingNumber, carrier string) (ShipmentPlan, error) {
	if len(itemIDs) == 0 {
		return ShipmentPlan{}, invalid("item_ids", "at least one item is required")
	}
	if strings.TrimSpace(trackingNumber) == "" {
		return ShipmentPlan{}, invalid("tracking_number", "is required")
	}
	if strings.TrimSpace(carrier) == "" {
		return ShipmentPlan{}, invalid("carrier", "is required")
	}

	plan := ShipmentPlan{TrackingNumber: trackingNumber, Carrier: carrier}
	seen := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		item, ok := o.item(id)
		if !ok {
			return ShipmentPlan{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
		}
		switch item.FulfillmentStatus {
		case FulfillmentUnfulfilled:
			plan.ItemIDs = append(plan.ItemIDs, id)
		case FulfillmentFulfilled:
			if item.TrackingNumber != trackingNumber {
				return ShipmentPlan{}, illegalBecause("ship items", AxisFulfillment, item.FulfillmentStatus,
					fmt.Sprintf("item %s already shipped with tracking %s", id, item.TrackingNumber))
			}
		default:
			return ShipmentPlan{}, illegal("ship item "+id, AxisFulfillment, item.FulfillmentStatus, FulfillmentUnfulfilled)
		}
	}

	if plan.Empty() {
		return plan, nil
	}
	if o.lifecycle != LifecyclePaid && o.lifecycle != LifecycleProcessing {
		return ShipmentPlan{}, illegal("ship items", AxisLifecycle, o.lifecycle, LifecyclePaid, LifecycleProcessing)
	}
	return plan, nil
}

// ApplyShipment marks the planned items FULFILLED and recomputes the order's
// fulfillment status. It reports whether the order as a whole became SHIPPED.
func (o *Order) ApplyShipment(plan ShipmentPlan, actor string, at time.Time) (bool, error) {
	if plan.Empty() {
		return false, nil
	}
	if o.lifecycle != LifecyclePaid && o.lifecycle != LifecycleProcessing {
		return false, illegal("ship items", AxisLifecycle, o.lifecycle, LifecyclePaid, LifecycleProcessing)
	}

	for _, id := range plan.ItemIDs {
		idx := o.itemIndex(id)
		if idx < 0 {
			return false, fmt.Errorf("%w: %s", ErrItemNotFound, id)
		}
		shippedAt := at
		o.items[idx].FulfillmentStatus = FulfillmentFulfilled
		o.items[idx].TrackingNumber = plan.TrackingNumber
		o.items[idx].Carrier = plan.Carrier
		o.items[idx].ShippedAt = &shippedAt
	}

	next := FulfillmentPartiallyFulfilled
	if o.allItems(FulfillmentFulfilled) {
		next = FulfillmentFulfilled
	}
	meta := Meta{
		"items":           strings.Join(plan.ItemIDs, ","),
		"tracking_number": plan.TrackingNumber,
		"carrier":         plan.Carrier,
	}
	if err := o.setFulfillment(next, EventItemsShipped, actor, at, meta); err != nil {
		return false, err
	}
	if next != FulfillmentFulfilled {
		return false, nil
	}
	// Partial shipments leave the lifecycle alone; the last one walks it
	// through PROCESSING to SHIPPED.
	if o.lifecycle == LifecyclePaid {
		if err := o.setLifecycle(LifecycleProcessing, EventItemsShipped, actor, at, nil); err != nil {
			return false, err
		}
	}
	if err := o.setLifecycle(LifecycleShipped, EventOrderShipped, actor, at, nil); err != nil {
		return false, err
	}
	setOnce(&o.times.ShippedAt, at)
	return true, nil
}

// MarkDelivered closes the shipping leg and starts the return window.
func (o *Order) MarkDelivered(actor string, at time.Time) error {
	if o.lifecycle != LifecycleShipped {
		return illegalBecause("mark delivered", AxisLifecycle, o.lifecycle, "order must be shipped before delivery")
	}
	if err := o.setLifecycle(LifecycleDelivered, EventOrderDelivered, actor, at, nil); err != nil {
		return err
	}
	setOnce(&o.times.DeliveredAt, at)
	return nil
}

// CheckCancellable enforces the cancellation rule without mutating.
func (o *Order) CheckCancellable() error {
	switch o.lifecycle {
	case LifecyclePending:
		return nil
	case LifecycleConfirmed:
		if o.payment == PaymentPending || o.payment == PaymentAuthorized {
			return illegalBecause("cancel order", AxisPayment, o.payment, "order cannot be cancelled while payment is in progress")
		}
		return nil
	default:
		return illegalBecause("cancel order", AxisLifecycle, o.lifecycle, "order cannot be cancelled in its current state")
	}
}

// Cancel terminates a PENDING or CONFIRMED order. Items go back to stock.
func (o *Order) Cancel(reason, actor string, at time.Time) error {
	if err := o.CheckCancellable(); err != nil {
		return err
	}
	if err := o.setLifecycle(LifecycleCancelled, EventOrderCancelled, actor, at, Meta{"reason": reason}); err != nil {
		return err
	}
	for i := range o.items {
		o.items[i].FulfillmentStatus = FulfillmentRestocked
	}
	if err := o.setFulfillment(FulfillmentRestocked, EventOrderCancelled, actor, at, nil); err != nil {
		return err
	}
	o.cancelReason = reason
	setOnce(&o.times.CancelledAt, at)
	return nil
}

// RequestReturn opens a return for delivered items. The order's own status
// does not change until the return is received.
func (o *Order) RequestReturn(lines []ReturnLine, reason string, window time.Duration, actor string, at time.Time) (Return, error) {
	if o.lifecycle != LifecycleDelivered && o.lifecycle != LifecycleReturned {
		return Return{}, illegal("request return", AxisLifecycle, o.lifecycle, LifecycleDelivered, LifecycleReturned)
	}
	if o.times.DeliveredAt == nil {
		return Return{}, errors.New("delivered order has no delivery timestamp")
	}
	if window > 0 && at.After(o.times.DeliveredAt.Add(window)) {
		return Return{}, fmt.Errorf("%w: delivered %s, window %s", ErrReturnWindowExpired,
			o.times.DeliveredAt.Format(time.RFC3339), window)
	}
	if strings.TrimSpace(reason) == "" {
		return Return{}, invalid("reason", "is required")
	}
	if len(lines) == 0 {
		return Return{}, invalid("items", "at least one item is required")
	}

	claimed := o.claimedQuantities()
	requested := make(map[string]int, len(lines))
	var value int64
	for _, line := range lines {
		item, ok := o.item(line.ItemID)
		if !ok {
			return Return{}, fmt.Errorf("%w: %s", ErrItemNotFound, line.ItemID)
		}
		if line.Quantity < 1 {
			return Return{}, invalid("items", "item %s: quantity must be at least 1", line.ItemID)
		}
		requested[line.ItemID] += line.Quantity
		if claimed[line.ItemID]+requested[line.ItemID] > item.Quantity {
			return Return{}, invalid("items", "item %s: cannot return more than %d units",
				line.ItemID, item.Quantity-claimed[line.ItemID])
		}
		value += int64(line.Quantity) * item.UnitPriceCents
	}

	// The return that claims the last unit refunds whatever is left, tax and
	// shipping included.
	refundable := o.amounts.TotalCents - o.amounts.RefundedCents - o.outstandingRefunds()
	if value > refundable || o.fullyClaimed(claimed, requested) {
		value = refundable
	}

	ret := Return{
		ID:                uuid.NewString(),
		Lines:             append([]ReturnLine(nil), lines...),
		Reason:            reason,
		Status:            ReturnRequested,
		RefundAmountCents: value,
		RequestedAt:       at,
	}
	o.returns = append(o.returns, ret)
	o.record(EventReturnRequested, AxisReturn, "", string(ReturnRequested), actor, at, Meta{
		"return_id":           ret.ID,
		"reason":              reason,
		"refund_amount_cents": strconv.FormatInt(value, 10),
	})
	return ret, nil
}

// ApproveReturn accepts a requested return.
func (o *Order) ApproveReturn(returnID, actor string, at time.Time) error {
	return o.updateReturn(returnID, ReturnApproved, EventReturnApproved, actor, at, nil, func(r *Return) {
		setOnce(&r.ApprovedAt, at)
	})
}

// RejectReturn declines a requested return and frees its claimed quantities.
func (o *Order) RejectReturn(returnID, reason, actor string, at time.Time) error {
	return o.updateReturn(returnID, ReturnRejected, EventReturnRejected, actor, at, Meta{"reason": reason}, func(r *Return) {
		r.RejectionReason = reason
		setOnce(&r.RejectedAt, at)
	})
}

// ReceiveReturn records the goods coming back. The returned lines are
// restocked and the order moves to RETURNED.
func (o *Order) ReceiveReturn(returnID, actor string, at time.Time) error {
	idx := o.returnIndex(returnID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrReturnNotFound, returnID)
	}
	if o.returns[idx].Status != ReturnApproved {
		return illegal("receive return", AxisReturn, o.returns[idx].Status, ReturnApproved)
	}
	if o.lifecycle != LifecycleDelivered && o.lifecycle != LifecycleReturned {
		return illegal("receive return", AxisLifecycle, o.lifecycle, LifecycleDelivered, LifecycleReturned)
	}
	if err := o.updateReturn(returnID, ReturnReceived, EventReturnReceived, actor, at, nil, func(r *Return) {
		setOnce(&r.ReceivedAt, at)
	}); err != nil {
		return err
	}

	if o.lifecycle == LifecycleDelivered {
		if err := o.setLifecycle(LifecycleReturned, EventReturnReceived, actor, at, Meta{"return_id": returnID}); err != nil {
			return err
		}
		setOnce(&o.times.ReturnedAt, at)
	}

	received := o.receivedQuantities()
	for i := range o.items {
		if received[o.items[i].ID] >= o.items[i].Quantity {
			o.items[i].FulfillmentStatus = FulfillmentRestocked
		}
	}
	if o.allItems(FulfillmentRestocked) {
		return o.setFulfillment(FulfillmentRestocked, EventReturnReceived, actor, at, Meta{"return_id": returnID})
	}
	return nil
}

// RefundableAmount is what a received return may still refund.
func (o *Order) RefundableAmount(returnID string) (int64, error) {
	ret, ok := o.Return(returnID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrReturnNotFound, returnID)
	}
	if ret.Status != ReturnReceived {
		return 0, illegal("refund return", AxisReturn, ret.Status, ReturnReceived)
	}
	if o.payment != PaymentPaid && o.payment != PaymentPartiallyRefunded {
		return 0, illegal("refund return", AxisPayment, o.payment, PaymentPaid, PaymentPartiallyRefunded)
	}
	amount := ret.RefundAmountCents
	if remaining := o.amounts.TotalCents - o.amounts.RefundedCents; amount > remaining {
		amount = remaining
	}
	return amount, nil
}

// MarkReturnRefunded applies a successful refund to payment and lifecycle.
func (o *Order) MarkReturnRefunded(returnID string, amount int64, reference, actor string, at time.Time) error {
	if _, err := o.RefundableAmount(returnID); err != nil {
		return err
	}
	if err := o.updateReturn(returnID, ReturnRefunded, EventReturnRefunded, actor, at, Meta{
		"amount_cents": strconv.FormatInt(amount, 10),
		"reference":    reference,
	}, func(r *Return) {
		r.RefundAmountCents = amount
		r.RefundReference = reference
		setOnce(&r.RefundedAt, at)
	}); err != nil {
		return err
	}

	o.amounts.RefundedCents += amount
	next := PaymentPartiallyRefunded
	if o.amounts.RefundedCents >= o.amounts.TotalCents {
		next = PaymentRefunded
	}
	if err := o.setPayment(next, EventReturnRefunded, actor, at, nil); err != nil {
		return err
	}
	if next == PaymentRefunded && o.lifecycle == LifecycleReturned {
		if err := o.setLifecycle(LifecycleRefunded, EventReturnRefunded, actor, at, nil); err != nil {
			return err
		}
		setOnce(&o.times.RefundedAt, at)
	}
	return nil
}

// RecordRefundFailure logs a refund the payment service did not accept.
func (o *Order) RecordRefundFailure(returnID, reason, actor string, at time.Time) {
	o.record(EventRefundFailed, AxisReturn, "", "", actor, at, Meta{"return_id": returnID, "reason": reason})
}

func (o *Order) updateReturn(id string, to ReturnStatus, typ EventType, actor string, at time.Time, meta Meta, apply func(*Return)) error {
	idx := o.returnIndex(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrReturnNotFound, id)
	}
	from := o.returns[idx].Status
	if err := o.returns[idx].transition(to); err != nil {
		return err
	}
	apply(&o.returns[idx])
	if meta == nil {
		meta = Meta{}
	}
	meta["return_id"] = id
	o.record(typ, AxisReturn, string(from), string(to), actor, at, meta)
	return nil
}

func (o *Order) claimedQuantities() map[string]int {
	claimed := make(map[string]int)
	for _, r := range o.returns {
		if r.Status == ReturnRejected {
			continue
		}
		for _, line := range r.Lines {
			claimed[line.ItemID] += line.Quantity
		}
	}
	return claimed
}

func (o *Order) fullyClaimed(claimed, requested map[string]int) bool {
	for _, item := range o.items {
		if claimed[item.ID]+requested[item.ID] < item.Quantity {
			return false
		}
	}
	return true
}

func (o *Order) receivedQuantities() map[string]int {
	received := make(map[string]int)
	for _, r := range o.returns {
		if r.Status != ReturnReceived && r.Status != ReturnRefunded {
			continue
		}
		for _, line := range r.Lines {
			received[line.ItemID] += line.Quantity
		}
	}
	return received
}

func (o *Order) outstandingRefunds() int64 {
	var total int64
	for _, r := range o.returns {
		switch r.Status {
		case ReturnRequested, ReturnApproved, ReturnReceived:
			total += r.RefundAmountCents
		}
	}
	return total
}

func (o *Order) item(id string) (LineItem, bool) {
	if idx := o.itemIndex(id); idx >= 0 {
		return o.items[idx], true
	}
	return LineItem{}, false
}

func (o *Order) itemIndex(id string) int {
	for i := range o.items {
		if o.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (o *Order) returnIndex(id string) int {
	for i := range o.returns {
		if o.returns[i].ID == id {
			return i
		}
	}
	return -1
}

func (o *Order) allItems(status FulfillmentStatus) bool {
	for _, item := range o.items {
		if item.FulfillmentStatus != status {
			return false
		}
	}
	return len(o.items) > 0
}

// CheckInvariants verifies the aggregate's cross-field rules. The
// orchestrator runs it before every write.
func (o *Order) CheckInvariants() error {
	var subtotal int64
	for _, item := range o.items {
		if item.Quantity < 1 || item.UnitPriceCents <= 0 {
			return fmt.Errorf("item %s has invalid quantity or price", item.ID)
		}
		if item.FulfillmentStatus == FulfillmentFulfilled && o.fulfillment == FulfillmentUnfulfilled {
			return fmt.Errorf("item %s is fulfilled while order is unfulfilled", item.ID)
		}
		subtotal += item.LineTotalCents()
	}
	a := o.amounts
	if subtotal != a.SubtotalCents {
		return fmt.Errorf("subtotal %d does not match items %d", a.SubtotalCents, subtotal)
	}
	if a.TotalCents != a.SubtotalCents+a.TaxCents+a.ShippingCents-a.DiscountCents {
		return fmt.Errorf("total %d does not match components", a.TotalCents)
	}
	if a.RefundedCents > a.TotalCents {
		return fmt.Errorf("refunded %d exceeds total %d", a.RefundedCents, a.TotalCents)
	}
	if o.fulfillment == FulfillmentFulfilled && !o.allItems(FulfillmentFulfilled) && o.lifecycle != LifecycleReturned && o.lifecycle != LifecycleRefunded {
		return errors.New("order is fulfilled but not every item is")
	}
	switch o.lifecycle {
	case LifecyclePaid, LifecycleProcessing, LifecycleShipped, LifecycleDelivered:
		if o.payment != PaymentPaid {
			return fmt.Errorf("lifecycle %s requires payment PAID, got %s", o.lifecycle, o.payment)
		}
	case LifecyclePending:
		if o.payment != PaymentPending || o.fulfillment != FulfillmentUnfulfilled {
			return fmt.Errorf("pending order has payment %s fulfillment %s", o.payment, o.fulfillment)
		}
	}
	return nil
}
