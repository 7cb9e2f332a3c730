package domain

// LifecycleStatus is the order's main progression axis.
type LifecycleStatus string

const (
	LifecyclePending    LifecycleStatus = "PENDING"
	LifecycleConfirmed  LifecycleStatus = "CONFIRMED"
	LifecyclePaid       LifecycleStatus = "PAID"
	LifecycleProcessing LifecycleStatus = "PROCESSING"
	LifecycleShipped    LifecycleStatus = "SHIPPED"
	LifecycleDelivered  LifecycleStatus = "DELIVERED"
	LifecycleCancelled  LifecycleStatus = "CANCELLED"
	LifecycleReturned   LifecycleStatus = "RETURNED"
	LifecycleRefunded   LifecycleStatus = "REFUNDED"
)

// PaymentStatus tracks the money side of an order.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentAuthorized        PaymentStatus = "AUTHORIZED"
	PaymentPaid              PaymentStatus = "PAID"
	PaymentFailed            PaymentStatus = "FAILED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
)

// FulfillmentStatus is shared by the order and its line items. Items only use
// UNFULFILLED, FULFILLED and RESTOCKED.
type FulfillmentStatus string

const (
	FulfillmentUnfulfilled        FulfillmentStatus = "UNFULFILLED"
	FulfillmentPartiallyFulfilled FulfillmentStatus = "PARTIALLY_FULFILLED"
	FulfillmentFulfilled          FulfillmentStatus = "FULFILLED"
	FulfillmentRestocked          FulfillmentStatus = "RESTOCKED"
)

// ReservationStatus records where the order's inventory hold stands.
type ReservationStatus string

const (
	ReservationNone      ReservationStatus = "NONE"
	ReservationHeld      ReservationStatus = "HELD"
	ReservationConverted ReservationStatus = "CONVERTED"
	ReservationReleased  ReservationStatus = "RELEASED"
)

// ReturnStatus is the state of a single return request.
type ReturnStatus string

const (
	ReturnRequested ReturnStatus = "REQUESTED"
	ReturnApproved  ReturnStatus = "APPROVED"
	ReturnRejected  ReturnStatus = "REJECTED"
	ReturnReceived  ReturnStatus = "RECEIVED"
	ReturnRefunded  ReturnStatus = "REFUNDED"
)

// Axis names a status dimension in events and errors.
type Axis string

const (
	AxisLifecycle   Axis = "lifecycle"
	AxisPayment     Axis = "payment"
	AxisFulfillment Axis = "fulfillment"
	AxisReservation Axis = "reservation"
	AxisReturn      Axis = "return"
)

var lifecycleTransitions = map[LifecycleStatus][]LifecycleStatus{
	LifecyclePending:    {LifecycleConfirmed, LifecycleCancelled},
	LifecycleConfirmed:  {LifecyclePaid, LifecycleCancelled},
	LifecyclePaid:       {LifecycleProcessing},
	LifecycleProcessing: {LifecycleShipped},
	LifecycleShipped:    {LifecycleDelivered},
	LifecycleDelivered:  {LifecycleReturned},
	LifecycleReturned:   {LifecycleRefunded},
	LifecycleCancelled:  {},
	LifecycleRefunded:   {},
}

// FAILED -> PENDING is only reachable through the payment retry path, which
// is logged as a compensation event.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:           {PaymentAuthorized, PaymentPaid, PaymentFailed},
	PaymentAuthorized:        {PaymentPaid, PaymentFailed},
	PaymentPaid:              {PaymentPartiallyRefunded, PaymentRefunded},
	PaymentPartiallyRefunded: {PaymentPartiallyRefunded, PaymentRefunded},
	PaymentFailed:            {PaymentPending},
	PaymentRefunded:          {},
}

var fulfillmentTransitions = map[FulfillmentStatus][]FulfillmentStatus{
	FulfillmentUnfulfilled:        {FulfillmentPartiallyFulfilled, FulfillmentFulfilled, FulfillmentRestocked},
	FulfillmentPartiallyFulfilled: {FulfillmentPartiallyFulfilled, FulfillmentFulfilled, FulfillmentRestocked},
	FulfillmentFulfilled:          {FulfillmentRestocked},
	FulfillmentRestocked:          {},
}

var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationNone:      {ReservationHeld},
	ReservationHeld:      {ReservationConverted, ReservationReleased},
	ReservationReleased:  {ReservationHeld},
	ReservationConverted: {},
}

var returnTransitions = map[ReturnStatus][]ReturnStatus{
	ReturnRequested: {ReturnApproved, ReturnRejected},
	ReturnApproved:  {ReturnReceived},
	ReturnReceived:  {ReturnRefunded},
	ReturnRejected:  {},
	ReturnRefunded:  {},
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionLifecycle reports whether from -> to is in the lifecycle table.
func CanTransitionLifecycle(from, to LifecycleStatus) bool {
	return allowed(lifecycleTransitions, from, to)
}

// CanTransitionPayment reports whether from -> to is in the payment table.
func CanTransitionPayment(from, to PaymentStatus) bool {
	return allowed(paymentTransitions, from, to)
}

// CanTransitionFulfillment reports whether from -> to is in the fulfillment table.
func CanTransitionFulfillment(from, to FulfillmentStatus) bool {
	return allowed(fulfillmentTransitions, from, to)
}

// CanTransitionReservation reports whether from -> to is in the reservation table.
func CanTransitionReservation(from, to ReservationStatus) bool {
	return allowed(reservationTransitions, from, to)
}

// CanTransitionReturn reports whether from -> to is in the return table.
func CanTransitionReturn(from, to ReturnStatus) bool {
	return allowed(returnTransitions, from, to)
}

// IsTerminal indicates whether no further lifecycle transition exists.
func (s LifecycleStatus) IsTerminal() bool {
	return len(lifecycleTransitions[s]) == 0
}

// Valid reports whether s is a known lifecycle status.
func (s LifecycleStatus) Valid() bool {
	_, ok := lifecycleTransitions[s]
	return ok
}

func (s PaymentStatus) Valid() bool {
	_, ok := paymentTransitions[s]
	return ok
}

// ShippingMethod selects the carrier service level.
type ShippingMethod string

const (
	ShippingStandard  ShippingMethod = "STANDARD"
	ShippingExpress   ShippingMethod = "EXPRESS"
	ShippingOvernight ShippingMethod = "OVERNIGHT"
)

// Valid reports whether m is a supported shipping method.
func (m ShippingMethod) Valid() bool {
	switch m {
	case ShippingStandard, ShippingExpress, ShippingOvernight:
		return true
	default:
		return false
	}
}
