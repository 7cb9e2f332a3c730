package commands_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dejobratic/orderflow/internal/lock"
	"github.com/dejobratic/orderflow/internal/orders/adapters/memory"
	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/metrics"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"go.opentelemetry.io/otel/metric/noop"
)

type countingInventory struct {
	*memory.Inventory

	mu          sync.Mutex
	reserves    int
	generations []int
	converts    int
	releases    int
	restocks    []string
	reserveErr  error
	convertErr  error
	releaseErr  error
}

func (i *countingInventory) Reserve(ctx context.Context, orderID string, generation int, lines []ports.ReservationLine) error {
	i.mu.Lock()
	i.reserves++
	i.generations = append(i.generations, generation)
	err := i.reserveErr
	i.mu.Unlock()
	if err != nil {
		return err
	}
	return i.Inventory.Reserve(ctx, orderID, generation, lines)
}

func (i *countingInventory) Convert(ctx context.Context, orderID string) error {
	i.mu.Lock()
	i.converts++
	err := i.convertErr
	i.mu.Unlock()
	if err != nil {
		return err
	}
	return i.Inventory.Convert(ctx, orderID)
}

func (i *countingInventory) Release(ctx context.Context, orderID string) error {
	i.mu.Lock()
	i.releases++
	err := i.releaseErr
	i.mu.Unlock()
	if err != nil {
		return err
	}
	return i.Inventory.Release(ctx, orderID)
}

func (i *countingInventory) Restock(ctx context.Context, key string, lines []ports.ReservationLine) error {
	i.mu.Lock()
	i.restocks = append(i.restocks, key)
	i.mu.Unlock()
	return i.Inventory.Restock(ctx, key, lines)
}

// failingSaves fails the failOn-th Save, leaving the previous write in place.
type failingSaves struct {
	*memory.Repository

	mu     sync.Mutex
	saves  int
	failOn int
}

func (r *failingSaves) Save(ctx context.Context, order *domain.Order, messages []ports.OutboxMessage) error {
	r.mu.Lock()
	r.saves++
	fail := r.saves == r.failOn
	r.mu.Unlock()
	if fail {
		return errors.New("database unavailable")
	}
	return r.Repository.Save(ctx, order, messages)
}

type fakePayment struct {
	mu       sync.Mutex
	charges  []ports.ChargeRequest
	refunds  []ports.RefundRequest
	chargeFn func(ctx context.Context, req ports.ChargeRequest) (string, error)
	refundFn func(ctx context.Context, req ports.RefundRequest) (string, error)
}

func (p *fakePayment) Charge(ctx context.Context, req ports.ChargeRequest) (string, error) {
	p.mu.Lock()
	p.charges = append(p.charges, req)
	fn := p.chargeFn
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return "ch_test", nil
}

func (p *fakePayment) Refund(ctx context.Context, req ports.RefundRequest) (string, error) {
	p.mu.Lock()
	p.refunds = append(p.refunds, req)
	fn := p.refundFn
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return "re_test", nil
}

func (p *fakePayment) chargeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.charges)
}

type fakeFulfillment struct {
	eta        time.Time
	initiateFn func(ctx context.Context, order domain.Snapshot) (time.Time, error)
	tracked    []string
	delivered  int
}

func (f *fakeFulfillment) InitiateFulfillment(ctx context.Context, order domain.Snapshot) (time.Time, error) {
	if f.initiateFn != nil {
		return f.initiateFn(ctx, order)
	}
	return f.eta, nil
}

func (f *fakeFulfillment) RecordTracking(_ context.Context, _ string, itemIDs []string, _, _ string) error {
	f.tracked = append(f.tracked, itemIDs...)
	return nil
}

func (f *fakeFulfillment) RecordDelivery(context.Context, string, time.Time) error {
	f.delivered++
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	topics []string
}

func (n *recordingNotifier) Notify(_ context.Context, messages []ports.OutboxMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, msg := range messages {
		n.topics = append(n.topics, msg.Topic)
	}
}

func (n *recordingNotifier) published(topic string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range n.topics {
		if t == topic {
			return true
		}
	}
	return false
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	repo        *memory.Repository
	inventory   *countingInventory
	payment     *fakePayment
	fulfillment *fakeFulfillment
	notifier    *recordingNotifier
	locker      *lock.Local
	clock       *clock
	deps        commands.Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	m, err := metrics.NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	f := &fixture{
		repo:        memory.NewRepository(),
		inventory:   &countingInventory{Inventory: memory.NewInventory(10)},
		payment:     &fakePayment{},
		fulfillment: &fakeFulfillment{eta: time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)},
		notifier:    &recordingNotifier{},
		locker:      lock.NewLocal(),
		clock:       &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.deps = commands.Deps{
		Repo:        f.repo,
		Inventory:   f.inventory,
		Payment:     f.payment,
		Fulfillment: f.fulfillment,
		Notifier:    f.notifier,
		Locker:      f.locker,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:     m,
		Policy: commands.Policy{
			Limits:             domain.Limits{MaxItems: 50, MaxOrderValueCents: 1_000_000},
			CoordinatorTimeout: time.Second,
			ReturnWindow:       30 * 24 * time.Hour,
			MaxPaymentAttempts: 3,
		},
		Now: f.clock.Now,
	}
	return f
}

func createCommand() commands.CreateOrderCommand {
	return commands.CreateOrderCommand{
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
			Country:    "RS",
			Method:     domain.ShippingStandard,
		},
		PaymentMethod: "pm_card_visa",
	}
}

func (f *fixture) create(t *testing.T) *domain.Order {
	t.Helper()
	order, err := commands.NewCreateOrderCommandHandler(f.deps).Handle(context.Background(), createCommand())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func (f *fixture) confirm(t *testing.T, orderID string) (*domain.Order, error) {
	t.Helper()
	return commands.NewConfirmOrderCommandHandler(f.deps).Handle(context.Background(), commands.ConfirmOrderCommand{OrderID: orderID})
}

func (f *fixture) paid(t *testing.T) *domain.Order {
	t.Helper()
	order := f.create(t)
	order, err := f.confirm(t, order.ID())
	if err != nil {
		t.Fatalf("confirm order: %v", err)
	}
	return order
}

func (f *fixture) ship(t *testing.T, orderID string, itemIDs []string, tracking string) (*domain.Order, error) {
	t.Helper()
	return commands.NewShipItemsCommandHandler(f.deps).Handle(context.Background(), commands.ShipItemsCommand{
		OrderID:        orderID,
		ItemIDs:        itemIDs,
		TrackingNumber: tracking,
		Carrier:        "DHL",
	})
}

func (f *fixture) delivered(t *testing.T) *domain.Order {
	t.Helper()
	order := f.paid(t)
	if _, err := f.ship(t, order.ID(), itemIDs(order), "TRK-1"); err != nil {
		t.Fatalf("ship items: %v", err)
	}
	order, err := commands.NewMarkDeliveredCommandHandler(f.deps).Handle(context.Background(), commands.MarkDeliveredCommand{OrderID: order.ID()})
	if err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	return order
}

func (f *fixture) load(t *testing.T, id string) *domain.Order {
	t.Helper()
	order, err := f.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load order %s: %v", id, err)
	}
	return order
}

func itemIDs(o *domain.Order) []string {
	ids := make([]string, 0, len(o.Items()))
	for _, item := range o.Items() {
		ids = append(ids, item.ID)
	}
	return ids
}

func hasEvent(o *domain.Order, typ domain.EventType) bool {
	for _, ev := range o.Events() {
		if ev.Type == typ {
			return true
		}
	}
	return false
}
