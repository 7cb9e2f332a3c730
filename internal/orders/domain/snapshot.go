package domain

import "time"

// Snapshot is the flat persisted form of an Order. Repositories and the HTTP
// layer read it; only Rehydrate turns one back into an aggregate.
type Snapshot struct {
	ID                string            `json:"id"`
	Number            string            `json:"number"`
	CustomerID        string            `json:"customer_id"`
	Lifecycle         LifecycleStatus   `json:"status"`
	Payment           PaymentStatus     `json:"payment_status"`
	Fulfillment       FulfillmentStatus `json:"fulfillment_status"`
	Reservation       ReservationStatus `json:"reservation_status"`
	Items             []LineItem        `json:"items"`
	Shipping          ShippingDetails   `json:"shipping"`
	EstimatedDelivery *time.Time        `json:"estimated_delivery,omitempty"`
	Amounts           Amounts           `json:"amounts"`
	PaymentMethod     string            `json:"payment_method"`
	PaymentReference  string            `json:"payment_reference,omitempty"`
	PaymentAttempts   int               `json:"payment_attempts"`
	ChargeAttempt     int               `json:"charge_attempt,omitempty"`
	ChargeUnresolved  bool              `json:"charge_unresolved,omitempty"`
	CancelReason      string            `json:"cancel_reason,omitempty"`
	Timestamps        Timestamps        `json:"timestamps"`
	Returns           []Return          `json:"returns,omitempty"`
	Version           int64             `json:"version"`
}

// Snapshot copies the aggregate's current state.
func (o *Order) Snapshot() Snapshot {
	items := make([]LineItem, len(o.items))
	copy(items, o.items)
	returns := make([]Return, len(o.returns))
	for i, r := range o.returns {
		r.Lines = append([]ReturnLine(nil), r.Lines...)
		returns[i] = r
	}
	return Snapshot{
		ID:                o.id,
		Number:            o.number,
		CustomerID:        o.customerID,
		Lifecycle:         o.lifecycle,
		Payment:           o.payment,
		Fulfillment:       o.fulfillment,
		Reservation:       o.reservation,
		Items:             items,
		Shipping:          o.shipping,
		EstimatedDelivery: o.estimatedDelivery,
		Amounts:           o.amounts,
		PaymentMethod:     o.paymentMethod,
		PaymentReference:  o.paymentReference,
		PaymentAttempts:   o.paymentAttempts,
		ChargeAttempt:     o.chargeAttempt,
		ChargeUnresolved:  o.chargeUnresolved,
		CancelReason:      o.cancelReason,
		Timestamps:        o.times,
		Returns:           returns,
		Version:           o.version,
	}
}

// Rehydrate rebuilds an aggregate from storage. The given events are treated
// as already persisted.
func Rehydrate(s Snapshot, events []Event) *Order {
	o := &Order{
		id:                s.ID,
		number:            s.Number,
		customerID:        s.CustomerID,
		lifecycle:         s.Lifecycle,
		payment:           s.Payment,
		fulfillment:       s.Fulfillment,
		reservation:       s.Reservation,
		items:             append([]LineItem(nil), s.Items...),
		shipping:          s.Shipping,
		estimatedDelivery: s.EstimatedDelivery,
		amounts:           s.Amounts,
		paymentMethod:     s.PaymentMethod,
		paymentReference:  s.PaymentReference,
		paymentAttempts:   s.PaymentAttempts,
		chargeAttempt:     s.ChargeAttempt,
		chargeUnresolved:  s.ChargeUnresolved,
		cancelReason:      s.CancelReason,
		times:             s.Timestamps,
		returns:           append([]Return(nil), s.Returns...),
		events:            append([]Event(nil), events...),
		version:           s.Version,
	}
	if o.reservation == "" {
		o.reservation = ReservationNone
	}
	o.persistedEvents = len(o.events)
	return o
}
