package domain_test

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func validParams() domain.NewOrderParams {
	return domain.NewOrderParams{
		CustomerID: "cust-1",
		Items: []domain.NewLineItem{
			{ProductID: "prod-a", VariantID: "variant-a", Name: "Mug", Quantity: 2, UnitPriceCents: 2999},
			{ProductID: "prod-b", VariantID: "variant-b", Name: "Kettle", Quantity: 1, UnitPriceCents: 3999},
		},
		Shipping: domain.ShippingDetails{
			Recipient:  "Ana Example",
			Line1:      "1 Main St",
			City:       "Belgrade",
			PostalCode: "11000",
			Country:    "rs",
			Method:     domain.ShippingStandard,
		},
		PaymentMethod: "pm_card_visa",
		Actor:         "cust-1",
	}
}

var testLimits = domain.Limits{MaxItems: 50, MaxOrderValueCents: 1_000_000}

func newOrder(t *testing.T) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder(validParams(), testLimits, domain.Pricing{}, t0)
	if err != nil {
		t.Fatalf("NewOrder() error = %v", err)
	}
	return order
}

func paidOrder(t *testing.T) *domain.Order {
	t.Helper()
	order := newOrder(t)
	mustDo(t, order.MarkReserved("system", t0))
	mustDo(t, order.Confirm("cust-1", t0))
	mustDo(t, order.MarkPaid("ch_1", "system", t0))
	mustDo(t, order.MarkReservationConverted("system", t0))
	return order
}

func deliveredOrder(t *testing.T) *domain.Order {
	t.Helper()
	order := paidOrder(t)
	mustDo(t, order.RecordFulfillmentInitiated(t0.Add(5*24*time.Hour), "system", t0))
	plan, err := order.PlanShipment(itemIDs(order), "TRK-1", "DHL")
	mustDo(t, err)
	_, err = order.ApplyShipment(plan, "warehouse", t0.Add(time.Hour))
	mustDo(t, err)
	mustDo(t, order.MarkDelivered("carrier", t0.Add(48*time.Hour)))
	return order
}

func mustDo(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func itemIDs(o *domain.Order) []string {
	ids := make([]string, 0, len(o.Items()))
	for _, item := range o.Items() {
		ids = append(ids, item.ID)
	}
	return ids
}

func TestNewOrder(t *testing.T) {
	order := newOrder(t)

	a := order.Amounts()
	if a.SubtotalCents != 9997 {
		t.Errorf("SubtotalCents = %d, want 9997", a.SubtotalCents)
	}
	if a.TotalCents != 9997 {
		t.Errorf("TotalCents = %d, want 9997", a.TotalCents)
	}
	if order.Lifecycle() != domain.LifecyclePending ||
		order.Fulfillment() != domain.FulfillmentUnfulfilled ||
		order.Payment() != domain.PaymentPending {
		t.Errorf("statuses = %s/%s/%s, want PENDING/UNFULFILLED/PENDING",
			order.Lifecycle(), order.Fulfillment(), order.Payment())
	}
	if order.Reservation() != domain.ReservationNone {
		t.Errorf("Reservation() = %s, want NONE", order.Reservation())
	}
	if !strings.HasPrefix(order.Number(), "ORD-") {
		t.Errorf("Number() = %q, want ORD- prefix", order.Number())
	}
	if order.Shipping().Country != "RS" {
		t.Errorf("Country = %q, want upper-cased RS", order.Shipping().Country)
	}
	if order.ItemCount() != 3 {
		t.Errorf("ItemCount() = %d, want 3", order.ItemCount())
	}
	if got := order.Events(); len(got) != 1 || got[0].Type != domain.EventOrderCreated {
		t.Errorf("Events() = %+v, want single ORDER_CREATED", got)
	}
	if len(order.PendingEvents()) != 1 {
		t.Errorf("PendingEvents() = %d, want 1", len(order.PendingEvents()))
	}
	if err := order.CheckInvariants(); err != nil {
		t.Errorf("CheckInvariants() error = %v", err)
	}
}

func TestNewOrderPricing(t *testing.T) {
	params := validParams()
	params.Shipping.Method = domain.ShippingExpress
	params.DiscountCents = 500
	pricing := domain.Pricing{
		TaxRateBasisPoints: 2000,
		ShippingFees:       map[domain.ShippingMethod]int64{domain.ShippingExpress: 1500},
	}

	order, err := domain.NewOrder(params, testLimits, pricing, t0)
	if err != nil {
		t.Fatalf("NewOrder() error = %v", err)
	}

	a := order.Amounts()
	// 9997 * 20% = 1999.4, rounded to 1999
	if a.TaxCents != 1999 {
		t.Errorf("TaxCents = %d, want 1999", a.TaxCents)
	}
	if a.ShippingCents != 1500 {
		t.Errorf("ShippingCents = %d, want 1500", a.ShippingCents)
	}
	if want := int64(9997 + 1999 + 1500 - 500); a.TotalCents != want {
		t.Errorf("TotalCents = %d, want %d", a.TotalCents, want)
	}
}

func TestNewOrderValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.NewOrderParams)
		limits domain.Limits
	}{
		{"missing customer", func(p *domain.NewOrderParams) { p.CustomerID = " " }, testLimits},
		{"no items", func(p *domain.NewOrderParams) { p.Items = nil }, testLimits},
		{"too many items", func(p *domain.NewOrderParams) {}, domain.Limits{MaxItems: 1}},
		{"zero quantity", func(p *domain.NewOrderParams) { p.Items[0].Quantity = 0 }, testLimits},
		{"zero price", func(p *domain.NewOrderParams) { p.Items[1].UnitPriceCents = 0 }, testLimits},
		{"missing variant", func(p *domain.NewOrderParams) { p.Items[0].VariantID = "" }, testLimits},
		{"duplicate variant", func(p *domain.NewOrderParams) { p.Items[1].VariantID = "variant-a" }, testLimits},
		{"unknown shipping method", func(p *domain.NewOrderParams) { p.Shipping.Method = "DRONE" }, testLimits},
		{"bad country", func(p *domain.NewOrderParams) { p.Shipping.Country = "SRB" }, testLimits},
		{"missing payment method", func(p *domain.NewOrderParams) { p.PaymentMethod = "" }, testLimits},
		{"over max value", func(p *domain.NewOrderParams) {}, domain.Limits{MaxItems: 50, MaxOrderValueCents: 5000}},
		{"discount above value", func(p *domain.NewOrderParams) { p.DiscountCents = 20000 }, testLimits},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validParams()
			tt.mutate(&params)
			_, err := domain.NewOrder(params, tt.limits, domain.Pricing{}, t0)
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("NewOrder() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestConfirmationMode(t *testing.T) {
	t.Run("fresh order", func(t *testing.T) {
		order := newOrder(t)
		mode, err := order.ConfirmationMode(3, t0, time.Minute)
		if err != nil || mode != domain.ConfirmFresh {
			t.Errorf("ConfirmationMode() = %v, %v, want ConfirmFresh", mode, err)
		}
	})

	t.Run("already confirmed", func(t *testing.T) {
		order := newOrder(t)
		mustDo(t, order.Confirm("cust-1", t0))
		_, err := order.ConfirmationMode(3, t0, time.Minute)
		if !errors.Is(err, domain.ErrIllegalTransition) {
			t.Errorf("ConfirmationMode() error = %v, want ErrIllegalTransition", err)
		}
		if !strings.Contains(err.Error(), "already confirmed") {
			t.Errorf("error message = %q, want it to mention already confirmed", err.Error())
		}
	})

	t.Run("retry after failure until limit", func(t *testing.T) {
		order := newOrder(t)
		mustDo(t, order.Confirm("cust-1", t0))
		mustDo(t, order.MarkPaymentFailed("card declined", false, "system", t0))

		for attempt := 2; attempt <= 3; attempt++ {
			mode, err := order.ConfirmationMode(3, t0, time.Minute)
			if err != nil || mode != domain.ConfirmRetry {
				t.Fatalf("attempt %d: ConfirmationMode() = %v, %v, want ConfirmRetry", attempt, mode, err)
			}
			mustDo(t, order.RetryPayment("cust-1", t0))
			if order.Payment() != domain.PaymentPending {
				t.Fatalf("Payment() = %s after retry, want PENDING", order.Payment())
			}
			mustDo(t, order.MarkPaymentFailed("card declined", false, "system", t0))
		}

		if order.PaymentAttempts() != 3 {
			t.Errorf("PaymentAttempts() = %d, want 3", order.PaymentAttempts())
		}
		if _, err := order.ConfirmationMode(3, t0, time.Minute); !errors.Is(err, domain.ErrIllegalTransition) {
			t.Errorf("ConfirmationMode() error = %v, want ErrIllegalTransition after limit", err)
		}
	})

	t.Run("paid order", func(t *testing.T) {
		order := paidOrder(t)
		if _, err := order.ConfirmationMode(3, t0, time.Minute); !errors.Is(err, domain.ErrIllegalTransition) {
			t.Errorf("ConfirmationMode() error = %v, want ErrIllegalTransition", err)
		}
	})
}

func TestChargeAttempt(t *testing.T) {
	t.Run("definite decline moves to a new attempt", func(t *testing.T) {
		order := newOrder(t)
		mustDo(t, order.Confirm("cust-1", t0))
		if order.ChargeAttempt() != 1 {
			t.Fatalf("ChargeAttempt() = %d, want 1", order.ChargeAttempt())
		}
		mustDo(t, order.MarkPaymentFailed("card declined", false, "system", t0))
		mustDo(t, order.RetryPayment("cust-1", t0))
		if order.ChargeAttempt() != 2 || order.PaymentAttempts() != 2 {
			t.Errorf("ChargeAttempt(), PaymentAttempts() = %d, %d, want 2, 2", order.ChargeAttempt(), order.PaymentAttempts())
		}
	})

	t.Run("ambiguous failure keeps the attempt until resolved", func(t *testing.T) {
		order := newOrder(t)
		mustDo(t, order.Confirm("cust-1", t0))
		mustDo(t, order.MarkPaymentFailed("gateway timeout", true, "system", t0))
		mustDo(t, order.RetryPayment("cust-1", t0))
		if order.ChargeAttempt() != 1 {
			t.Fatalf("ChargeAttempt() = %d after ambiguous failure, want 1", order.ChargeAttempt())
		}
		if order.PaymentAttempts() != 2 {
			t.Errorf("PaymentAttempts() = %d, want 2", order.PaymentAttempts())
		}

		mustDo(t, order.MarkPaymentFailed("gateway timeout", true, "system", t0))
		mustDo(t, order.RetryPayment("cust-1", t0))
		if order.ChargeAttempt() != 1 {
			t.Errorf("ChargeAttempt() = %d after second ambiguous failure, want 1", order.ChargeAttempt())
		}

		restored := domain.Rehydrate(order.Snapshot(), order.Events())
		if restored.ChargeAttempt() != 1 {
			t.Errorf("restored ChargeAttempt() = %d, want 1", restored.ChargeAttempt())
		}

		mustDo(t, order.MarkPaymentFailed("card declined", false, "system", t0))
		mustDo(t, order.RetryPayment("cust-1", t0))
		if order.ChargeAttempt() != 4 {
			t.Errorf("ChargeAttempt() = %d after definite decline, want 4", order.ChargeAttempt())
		}
	})

	t.Run("reservation generation follows payment attempts", func(t *testing.T) {
		order := newOrder(t)
		if order.ReservationGeneration() != 1 {
			t.Fatalf("ReservationGeneration() = %d, want 1", order.ReservationGeneration())
		}
		mustDo(t, order.Confirm("cust-1", t0))
		mustDo(t, order.MarkPaymentFailed("card declined", false, "system", t0))
		if order.ReservationGeneration() != 2 {
			t.Errorf("ReservationGeneration() = %d after first attempt, want 2", order.ReservationGeneration())
		}
	})
}

func TestStalledCharge(t *testing.T) {
	const stalledAfter = time.Minute

	order := newOrder(t)
	mustDo(t, order.MarkReserved("system", t0))
	mustDo(t, order.Confirm("cust-1", t0))

	if order.ChargeStalled(t0.Add(time.Second), stalledAfter) {
		t.Fatal("ChargeStalled() = true for a charge that just started")
	}
	if _, err := order.ConfirmationMode(3, t0.Add(time.Second), stalledAfter); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("ConfirmationMode() error = %v, want ErrIllegalTransition while charge runs", err)
	}
	if err := order.AbandonStalledCharge(t0.Add(time.Second), stalledAfter, "system"); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("AbandonStalledCharge() error = %v, want ErrIllegalTransition", err)
	}

	later := t0.Add(stalledAfter)
	mode, err := order.ConfirmationMode(3, later, stalledAfter)
	if err != nil || mode != domain.ConfirmResume {
		t.Fatalf("ConfirmationMode() = %v, %v, want ConfirmResume", mode, err)
	}

	mustDo(t, order.AbandonStalledCharge(later, stalledAfter, "system"))
	if order.Payment() != domain.PaymentFailed {
		t.Errorf("Payment() = %s, want FAILED", order.Payment())
	}
	if convert, release := order.ReservationSettlement(); convert || !release {
		t.Errorf("ReservationSettlement() = %v, %v, want release", convert, release)
	}
	mustDo(t, order.CheckCancellable())

	mustDo(t, order.RetryPayment("cust-1", later))
	if order.ChargeAttempt() != 1 {
		t.Errorf("ChargeAttempt() = %d after abandoned charge, want 1", order.ChargeAttempt())
	}
}

func TestPaymentFailureKeepsOrderConfirmed(t *testing.T) {
	order := newOrder(t)
	mustDo(t, order.MarkReserved("system", t0))
	mustDo(t, order.Confirm("cust-1", t0))
	mustDo(t, order.MarkPaymentFailed("insufficient funds", false, "system", t0))
	mustDo(t, order.MarkReservationReleased("payment failed", "system", t0))

	if order.Lifecycle() != domain.LifecycleConfirmed {
		t.Errorf("Lifecycle() = %s, want CONFIRMED", order.Lifecycle())
	}
	if order.Payment() != domain.PaymentFailed {
		t.Errorf("Payment() = %s, want FAILED", order.Payment())
	}
	if order.Reservation() != domain.ReservationReleased {
		t.Errorf("Reservation() = %s, want RELEASED", order.Reservation())
	}

	before := len(order.Events())
	mustDo(t, order.MarkReservationReleased("again", "system", t0))
	if len(order.Events()) != before {
		t.Errorf("second release appended an event")
	}

	if err := order.MarkPaid("ch_late", "system", t0); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("MarkPaid() after failure error = %v, want ErrIllegalTransition", err)
	}
}

func TestPaymentSuccess(t *testing.T) {
	order := paidOrder(t)

	if order.Lifecycle() != domain.LifecyclePaid || order.Payment() != domain.PaymentPaid {
		t.Errorf("statuses = %s/%s, want PAID/PAID", order.Lifecycle(), order.Payment())
	}
	if order.Reservation() != domain.ReservationConverted {
		t.Errorf("Reservation() = %s, want CONVERTED", order.Reservation())
	}
	if order.PaymentReference() != "ch_1" {
		t.Errorf("PaymentReference() = %q, want ch_1", order.PaymentReference())
	}
	if order.Timestamps().PaidAt == nil {
		t.Error("PaidAt not set")
	}

	before := len(order.Events())
	mustDo(t, order.MarkReservationConverted("system", t0))
	if len(order.Events()) != before {
		t.Error("second convert appended an event")
	}
	if err := order.MarkPaymentFailed("late decline", false, "system", t0); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("PAID -> FAILED error = %v, want ErrIllegalTransition", err)
	}
}

func TestReservationSettlement(t *testing.T) {
	tests := []struct {
		name        string
		build       func(t *testing.T) *domain.Order
		wantConvert bool
		wantRelease bool
	}{
		{
			name: "paid with held reservation",
			build: func(t *testing.T) *domain.Order {
				o := newOrder(t)
				mustDo(t, o.MarkReserved("system", t0))
				mustDo(t, o.Confirm("cust-1", t0))
				mustDo(t, o.MarkPaid("ch_1", "system", t0))
				return o
			},
			wantConvert: true,
		},
		{
			name: "failed payment with held reservation",
			build: func(t *testing.T) *domain.Order {
				o := newOrder(t)
				mustDo(t, o.MarkReserved("system", t0))
				mustDo(t, o.Confirm("cust-1", t0))
				mustDo(t, o.MarkPaymentFailed("timeout", true, "system", t0))
				return o
			},
			wantRelease: true,
		},
		{
			name: "pending order",
			build: func(t *testing.T) *domain.Order {
				o := newOrder(t)
				mustDo(t, o.MarkReserved("system", t0))
				return o
			},
		},
		{
			name:  "already converted",
			build: paidOrder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			convert, release := tt.build(t).ReservationSettlement()
			if convert != tt.wantConvert || release != tt.wantRelease {
				t.Errorf("ReservationSettlement() = %v, %v, want %v, %v", convert, release, tt.wantConvert, tt.wantRelease)
			}
		})
	}
}

func TestShipItems(t *testing.T) {
	order := paidOrder(t)
	eta := t0.Add(5 * 24 * time.Hour)
	mustDo(t, order.RecordFulfillmentInitiated(eta, "system", t0))
	if order.Lifecycle() != domain.LifecyclePaid {
		t.Fatalf("Lifecycle() = %s, want PAID", order.Lifecycle())
	}
	if got := order.EstimatedDelivery(); got == nil || !got.Equal(eta) {
		t.Errorf("EstimatedDelivery() = %v, want %v", got, eta)
	}

	ids := itemIDs(order)

	plan, err := order.PlanShipment(ids[:1], "TRK-1", "DHL")
	mustDo(t, err)
	shipped, err := order.ApplyShipment(plan, "warehouse", t0)
	mustDo(t, err)
	if shipped {
		t.Error("ApplyShipment() reported order shipped after partial shipment")
	}
	if order.Fulfillment() != domain.FulfillmentPartiallyFulfilled {
		t.Errorf("Fulfillment() = %s, want PARTIALLY_FULFILLED", order.Fulfillment())
	}
	if order.Lifecycle() != domain.LifecyclePaid {
		t.Errorf("Lifecycle() = %s, want PAID after partial shipment", order.Lifecycle())
	}

	t.Run("replay with same tracking is a no-op", func(t *testing.T) {
		plan, err := order.PlanShipment(ids[:1], "TRK-1", "DHL")
		if err != nil {
			t.Fatalf("PlanShipment() error = %v", err)
		}
		if !plan.Empty() {
			t.Errorf("plan = %+v, want empty", plan)
		}
	})

	t.Run("different tracking is rejected", func(t *testing.T) {
		_, err := order.PlanShipment(ids[:1], "TRK-9", "DHL")
		if !errors.Is(err, domain.ErrIllegalTransition) {
			t.Errorf("PlanShipment() error = %v, want ErrIllegalTransition", err)
		}
	})

	t.Run("unknown item", func(t *testing.T) {
		_, err := order.PlanShipment([]string{"nope"}, "TRK-2", "DHL")
		if !errors.Is(err, domain.ErrItemNotFound) {
			t.Errorf("PlanShipment() error = %v, want ErrItemNotFound", err)
		}
	})

	plan, err = order.PlanShipment(ids, "TRK-1", "DHL")
	mustDo(t, err)
	if len(plan.ItemIDs) != 1 || plan.ItemIDs[0] != ids[1] {
		t.Fatalf("plan.ItemIDs = %v, want only the unshipped item", plan.ItemIDs)
	}
	shipped, err = order.ApplyShipment(plan, "warehouse", t0)
	mustDo(t, err)
	if !shipped {
		t.Error("ApplyShipment() did not report order shipped")
	}
	if order.Fulfillment() != domain.FulfillmentFulfilled || order.Lifecycle() != domain.LifecycleShipped {
		t.Errorf("statuses = %s/%s, want FULFILLED/SHIPPED", order.Fulfillment(), order.Lifecycle())
	}

	var lifecycle []string
	for _, ev := range order.Events() {
		if ev.Axis == domain.AxisLifecycle && (ev.Type == domain.EventItemsShipped || ev.Type == domain.EventOrderShipped) {
			lifecycle = append(lifecycle, ev.From+"->"+ev.To)
		}
	}
	want := []string{"PAID->PROCESSING", "PROCESSING->SHIPPED"}
	if strings.Join(lifecycle, ",") != strings.Join(want, ",") {
		t.Errorf("lifecycle transitions = %v, want %v", lifecycle, want)
	}
	mustDo(t, order.CheckInvariants())
}

func TestShipItemsRequiresPayment(t *testing.T) {
	order := newOrder(t)
	_, err := order.PlanShipment(itemIDs(order), "TRK-1", "DHL")
	if !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("PlanShipment() on pending order error = %v, want ErrIllegalTransition", err)
	}
}

func TestMarkDelivered(t *testing.T) {
	order := paidOrder(t)
	err := order.MarkDelivered("carrier", t0)
	if !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("MarkDelivered() error = %v, want ErrIllegalTransition", err)
	}
	if !strings.Contains(err.Error(), "must be shipped before delivery") {
		t.Errorf("error message = %q", err.Error())
	}

	delivered := deliveredOrder(t)
	if delivered.Lifecycle() != domain.LifecycleDelivered {
		t.Errorf("Lifecycle() = %s, want DELIVERED", delivered.Lifecycle())
	}
	if delivered.Timestamps().DeliveredAt == nil {
		t.Error("DeliveredAt not set")
	}
}

func TestCancel(t *testing.T) {
	t.Run("pending order", func(t *testing.T) {
		order := newOrder(t)
		mustDo(t, order.MarkReserved("system", t0))
		mustDo(t, order.Cancel("changed my mind", "cust-1", t0))
		mustDo(t, order.MarkReservationReleased("cancelled", "system", t0))

		if order.Lifecycle() != domain.LifecycleCancelled {
			t.Errorf("Lifecycle() = %s, want CANCELLED", order.Lifecycle())
		}
		if order.Fulfillment() != domain.FulfillmentRestocked {
			t.Errorf("Fulfillment() = %s, want RESTOCKED", order.Fulfillment())
		}
		if order.Reservation() != domain.ReservationReleased {
			t.Errorf("Reservation() = %s, want RELEASED", order.Reservation())
		}
		if order.CancelReason() != "changed my mind" {
			t.Errorf("CancelReason() = %q", order.CancelReason())
		}
		for _, item := range order.Items() {
			if item.FulfillmentStatus != domain.FulfillmentRestocked {
				t.Errorf("item %s status = %s, want RESTOCKED", item.ID, item.FulfillmentStatus)
			}
		}
	})

	t.Run("confirmed with failed payment", func(t *testing.T) {
		order := newOrder(t)
		mustDo(t, order.Confirm("cust-1", t0))
		mustDo(t, order.MarkPaymentFailed("declined", false, "system", t0))
		mustDo(t, order.Cancel("unpaid", "sweeper", t0))
	})

	rejected := []struct {
		name  string
		build func(t *testing.T) *domain.Order
	}{
		{"payment in flight", func(t *testing.T) *domain.Order {
			o := newOrder(t)
			mustDo(t, o.Confirm("cust-1", t0))
			return o
		}},
		{"paid", paidOrder},
		{"delivered", deliveredOrder},
		{"already cancelled", func(t *testing.T) *domain.Order {
			o := newOrder(t)
			mustDo(t, o.Cancel("first", "cust-1", t0))
			return o
		}},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			order := tt.build(t)
			before := order.Lifecycle()
			err := order.Cancel("too late", "cust-1", t0)
			if !errors.Is(err, domain.ErrIllegalTransition) {
				t.Errorf("Cancel() error = %v, want ErrIllegalTransition", err)
			}
			if order.Lifecycle() != before {
				t.Errorf("Lifecycle() changed to %s", order.Lifecycle())
			}
		})
	}
}

func TestReturns(t *testing.T) {
	const window = 30 * 24 * time.Hour

	t.Run("window expired", func(t *testing.T) {
		order := deliveredOrder(t)
		late := order.Timestamps().DeliveredAt.Add(window + time.Minute)
		lines := []domain.ReturnLine{{ItemID: itemIDs(order)[0], Quantity: 1}}
		_, err := order.RequestReturn(lines, "broken", window, "cust-1", late)
		if !errors.Is(err, domain.ErrReturnWindowExpired) {
			t.Errorf("RequestReturn() error = %v, want ErrReturnWindowExpired", err)
		}
	})

	t.Run("not delivered", func(t *testing.T) {
		order := paidOrder(t)
		lines := []domain.ReturnLine{{ItemID: itemIDs(order)[0], Quantity: 1}}
		_, err := order.RequestReturn(lines, "broken", window, "cust-1", t0)
		if !errors.Is(err, domain.ErrIllegalTransition) {
			t.Errorf("RequestReturn() error = %v, want ErrIllegalTransition", err)
		}
	})

	t.Run("over-claimed quantity", func(t *testing.T) {
		order := deliveredOrder(t)
		lines := []domain.ReturnLine{{ItemID: itemIDs(order)[1], Quantity: 2}}
		_, err := order.RequestReturn(lines, "broken", window, "cust-1", t0.Add(72*time.Hour))
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("RequestReturn() error = %v, want ErrValidation", err)
		}
	})

	t.Run("partial then full refund", func(t *testing.T) {
		order := deliveredOrder(t)
		ids := itemIDs(order)
		at := t0.Add(72 * time.Hour)

		first, err := order.RequestReturn([]domain.ReturnLine{{ItemID: ids[0], Quantity: 2}}, "wrong colour", window, "cust-1", at)
		mustDo(t, err)
		if first.RefundAmountCents != 5998 {
			t.Errorf("RefundAmountCents = %d, want 5998", first.RefundAmountCents)
		}
		if order.Lifecycle() != domain.LifecycleDelivered {
			t.Errorf("Lifecycle() = %s after request, want DELIVERED", order.Lifecycle())
		}

		if _, err := order.RefundableAmount(first.ID); !errors.Is(err, domain.ErrIllegalTransition) {
			t.Errorf("RefundableAmount() before receipt error = %v, want ErrIllegalTransition", err)
		}

		mustDo(t, order.ApproveReturn(first.ID, "support", at))
		mustDo(t, order.ReceiveReturn(first.ID, "warehouse", at))
		if order.Lifecycle() != domain.LifecycleReturned {
			t.Errorf("Lifecycle() = %s after receipt, want RETURNED", order.Lifecycle())
		}
		if order.Items()[0].FulfillmentStatus != domain.FulfillmentRestocked {
			t.Errorf("returned item status = %s, want RESTOCKED", order.Items()[0].FulfillmentStatus)
		}
		if order.Fulfillment() != domain.FulfillmentFulfilled {
			t.Errorf("Fulfillment() = %s, want FULFILLED while one item is still out", order.Fulfillment())
		}

		amount, err := order.RefundableAmount(first.ID)
		mustDo(t, err)
		mustDo(t, order.MarkReturnRefunded(first.ID, amount, "re_1", "system", at))
		if order.Payment() != domain.PaymentPartiallyRefunded {
			t.Errorf("Payment() = %s, want PARTIALLY_REFUNDED", order.Payment())
		}
		if order.Lifecycle() != domain.LifecycleReturned {
			t.Errorf("Lifecycle() = %s, want RETURNED", order.Lifecycle())
		}

		second, err := order.RequestReturn([]domain.ReturnLine{{ItemID: ids[1], Quantity: 1}}, "no longer needed", window, "cust-1", at)
		mustDo(t, err)
		if second.RefundAmountCents != 3999 {
			t.Errorf("RefundAmountCents = %d, want 3999", second.RefundAmountCents)
		}
		mustDo(t, order.ApproveReturn(second.ID, "support", at))
		mustDo(t, order.ReceiveReturn(second.ID, "warehouse", at))
		amount, err = order.RefundableAmount(second.ID)
		mustDo(t, err)
		mustDo(t, order.MarkReturnRefunded(second.ID, amount, "re_2", "system", at))

		if order.Payment() != domain.PaymentRefunded {
			t.Errorf("Payment() = %s, want REFUNDED", order.Payment())
		}
		if order.Lifecycle() != domain.LifecycleRefunded {
			t.Errorf("Lifecycle() = %s, want REFUNDED", order.Lifecycle())
		}
		if order.Fulfillment() != domain.FulfillmentRestocked {
			t.Errorf("Fulfillment() = %s, want RESTOCKED", order.Fulfillment())
		}
		if order.Amounts().RefundedCents != order.Amounts().TotalCents {
			t.Errorf("RefundedCents = %d, want %d", order.Amounts().RefundedCents, order.Amounts().TotalCents)
		}
		mustDo(t, order.CheckInvariants())
	})

	t.Run("rejected return frees quantities", func(t *testing.T) {
		order := deliveredOrder(t)
		lines := []domain.ReturnLine{{ItemID: itemIDs(order)[1], Quantity: 1}}
		at := t0.Add(72 * time.Hour)

		ret, err := order.RequestReturn(lines, "scratched", window, "cust-1", at)
		mustDo(t, err)
		mustDo(t, order.RejectReturn(ret.ID, "no damage found", "support", at))
		if err := order.ReceiveReturn(ret.ID, "warehouse", at); !errors.Is(err, domain.ErrIllegalTransition) {
			t.Errorf("ReceiveReturn() on rejected return error = %v, want ErrIllegalTransition", err)
		}
		if _, err := order.RequestReturn(lines, "scratched", window, "cust-1", at); err != nil {
			t.Errorf("RequestReturn() after rejection error = %v", err)
		}
	})

	t.Run("unknown return", func(t *testing.T) {
		order := deliveredOrder(t)
		if err := order.ApproveReturn("missing", "support", t0); !errors.Is(err, domain.ErrReturnNotFound) {
			t.Errorf("ApproveReturn() error = %v, want ErrReturnNotFound", err)
		}
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	order := deliveredOrder(t)
	order.MarkPersisted(4)

	restored := domain.Rehydrate(order.Snapshot(), order.Events())

	if restored.ID() != order.ID() || restored.Lifecycle() != order.Lifecycle() {
		t.Errorf("restored = %s/%s, want %s/%s", restored.ID(), restored.Lifecycle(), order.ID(), order.Lifecycle())
	}
	if restored.Version() != 4 {
		t.Errorf("Version() = %d, want 4", restored.Version())
	}
	if len(restored.PendingEvents()) != 0 {
		t.Errorf("PendingEvents() = %d, want 0", len(restored.PendingEvents()))
	}
	mustDo(t, restored.CheckInvariants())
}

// TestRandomTransitions drives orders through random operation sequences and
// checks that every recorded status change is in its transition table and
// that the aggregate's invariants hold after each step.
func TestRandomTransitions(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	type op func(o *domain.Order, at time.Time) error
	ops := []op{
		func(o *domain.Order, at time.Time) error { return o.MarkReserved("p", at) },
		func(o *domain.Order, at time.Time) error { return o.Confirm("p", at) },
		func(o *domain.Order, at time.Time) error { return o.RetryPayment("p", at) },
		func(o *domain.Order, at time.Time) error { return o.MarkPaid("ref", "p", at) },
		func(o *domain.Order, at time.Time) error { return o.MarkPaymentFailed("declined", false, "p", at) },
		func(o *domain.Order, at time.Time) error { return o.MarkReservationConverted("p", at) },
		func(o *domain.Order, at time.Time) error { return o.MarkReservationReleased("r", "p", at) },
		func(o *domain.Order, at time.Time) error { return o.RecordFulfillmentInitiated(at.Add(time.Hour), "p", at) },
		func(o *domain.Order, at time.Time) error {
			ids := itemIDs(o)
			plan, err := o.PlanShipment(ids[rng.Intn(len(ids)):], "TRK", "UPS")
			if err != nil {
				return err
			}
			_, err = o.ApplyShipment(plan, "p", at)
			return err
		},
		func(o *domain.Order, at time.Time) error { return o.MarkDelivered("p", at) },
		func(o *domain.Order, at time.Time) error { return o.Cancel("r", "p", at) },
		func(o *domain.Order, at time.Time) error {
			ids := itemIDs(o)
			_, err := o.RequestReturn([]domain.ReturnLine{{ItemID: ids[rng.Intn(len(ids))], Quantity: 1}}, "r", 0, "p", at)
			return err
		},
		func(o *domain.Order, at time.Time) error {
			for _, r := range o.Returns() {
				if err := o.ApproveReturn(r.ID, "p", at); err == nil {
					return nil
				}
			}
			return nil
		},
		func(o *domain.Order, at time.Time) error {
			for _, r := range o.Returns() {
				if err := o.ReceiveReturn(r.ID, "p", at); err == nil {
					return nil
				}
			}
			return nil
		},
		func(o *domain.Order, at time.Time) error {
			for _, r := range o.Returns() {
				if amount, err := o.RefundableAmount(r.ID); err == nil {
					return o.MarkReturnRefunded(r.ID, amount, "re", "p", at)
				}
			}
			return nil
		},
	}

	for run := 0; run < 200; run++ {
		order := newOrder(t)
		at := t0
		for step := 0; step < 40; step++ {
			at = at.Add(time.Minute)
			_ = ops[rng.Intn(len(ops))](order, at)

			if err := order.CheckInvariants(); err != nil {
				t.Fatalf("run %d step %d: %v", run, step, err)
			}
			if !order.Lifecycle().Valid() {
				t.Fatalf("run %d step %d: invalid lifecycle %q", run, step, order.Lifecycle())
			}
		}
		for _, ev := range order.Events() {
			if ev.Axis == "" || ev.From == "" {
				continue
			}
			if !transitionAllowed(ev) {
				t.Fatalf("run %d: event %s recorded illegal %s transition %s -> %s", run, ev.Type, ev.Axis, ev.From, ev.To)
			}
		}
	}
}

func transitionAllowed(ev domain.Event) bool {
	switch ev.Axis {
	case domain.AxisLifecycle:
		return domain.CanTransitionLifecycle(domain.LifecycleStatus(ev.From), domain.LifecycleStatus(ev.To))
	case domain.AxisPayment:
		return domain.CanTransitionPayment(domain.PaymentStatus(ev.From), domain.PaymentStatus(ev.To))
	case domain.AxisFulfillment:
		return domain.CanTransitionFulfillment(domain.FulfillmentStatus(ev.From), domain.FulfillmentStatus(ev.To))
	case domain.AxisReservation:
		return domain.CanTransitionReservation(domain.ReservationStatus(ev.From), domain.ReservationStatus(ev.To))
	case domain.AxisReturn:
		return domain.CanTransitionReturn(domain.ReturnStatus(ev.From), domain.ReturnStatus(ev.To))
	}
	return false
}
