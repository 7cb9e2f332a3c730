package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/google/uuid"
)

type holdState int

const (
	holdHeld holdState = iota
	holdConverted
	holdReleased
)

type hold struct {
	lines []ports.ReservationLine
	state holdState
}

// Inventory is an in-process stock ledger for local development. Variants
// that were never stocked start with DefaultStock units.
type Inventory struct {
	mu           sync.Mutex
	defaultStock int
	stock        map[string]int
	holds        map[string]*hold
	restocked    map[string]bool
}

func NewInventory(defaultStock int) *Inventory {
	return &Inventory{
		defaultStock: defaultStock,
		stock:        make(map[string]int),
		holds:        make(map[string]*hold),
		restocked:    make(map[string]bool),
	}
}

func (i *Inventory) SetStock(variantID string, qty int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stock[variantID] = qty
}

func (i *Inventory) Available(variantID string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.available(variantID)
}

func (i *Inventory) available(variantID string) int {
	if qty, ok := i.stock[variantID]; ok {
		return qty
	}
	return i.defaultStock
}

func (i *Inventory) Reserve(_ context.Context, orderID string, _ int, lines []ports.ReservationLine) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if h, ok := i.holds[orderID]; ok && h.state != holdReleased {
		return nil
	}

	need := make(map[string]int)
	for _, line := range lines {
		need[line.VariantID] += line.Quantity
	}
	for variant, qty := range need {
		if avail := i.available(variant); avail < qty {
			return &domain.InsufficientStockError{VariantID: variant, Requested: qty, Available: avail}
		}
	}
	for variant, qty := range need {
		i.stock[variant] = i.available(variant) - qty
	}
	i.holds[orderID] = &hold{lines: append([]ports.ReservationLine(nil), lines...), state: holdHeld}
	return nil
}

func (i *Inventory) Convert(_ context.Context, orderID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	// Nothing held means nothing to consume: a missing or released hold
	// converts as a no-op.
	h, ok := i.holds[orderID]
	if !ok || h.state != holdHeld {
		return nil
	}
	h.state = holdConverted
	return nil
}

func (i *Inventory) Release(_ context.Context, orderID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	h, ok := i.holds[orderID]
	if !ok || h.state != holdHeld {
		return nil
	}
	for _, line := range h.lines {
		i.stock[line.VariantID] = i.available(line.VariantID) + line.Quantity
	}
	h.state = holdReleased
	return nil
}

func (i *Inventory) Restock(_ context.Context, key string, lines []ports.ReservationLine) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.restocked[key] {
		return nil
	}
	for _, line := range lines {
		i.stock[line.VariantID] = i.available(line.VariantID) + line.Quantity
	}
	i.restocked[key] = true
	return nil
}

// Payment approves every charge. Replaying a charge or refund returns the
// reference issued the first time.
type Payment struct {
	mu      sync.Mutex
	charges map[string]string
	refunds map[string]string
}

func NewPayment() *Payment {
	return &Payment{
		charges: make(map[string]string),
		refunds: make(map[string]string),
	}
}

func (p *Payment) Charge(_ context.Context, req ports.ChargeRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := fmt.Sprintf("%s:%d", req.OrderID, req.Attempt)
	if ref, ok := p.charges[key]; ok {
		return ref, nil
	}
	ref := "ch_" + uuid.NewString()
	p.charges[key] = ref
	return ref, nil
}

func (p *Payment) Refund(_ context.Context, req ports.RefundRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ref, ok := p.refunds[req.Key]; ok {
		return ref, nil
	}
	ref := "re_" + uuid.NewString()
	p.refunds[req.Key] = ref
	return ref, nil
}

// Shipping accepts every shipment without quoting a delivery date.
type Shipping struct {
	mu         sync.Mutex
	shipments  map[string]domain.Snapshot
	tracking   map[string]string
	deliveries map[string]time.Time
}

func NewShipping() *Shipping {
	return &Shipping{
		shipments:  make(map[string]domain.Snapshot),
		tracking:   make(map[string]string),
		deliveries: make(map[string]time.Time),
	}
}

func (s *Shipping) CreateShipment(_ context.Context, order domain.Snapshot) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shipments[order.ID] = order
	return time.Time{}, nil
}

func (s *Shipping) RecordTracking(_ context.Context, orderID string, itemIDs []string, trackingNumber, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range itemIDs {
		s.tracking[orderID+"/"+id] = trackingNumber
	}
	return nil
}

func (s *Shipping) RecordDelivery(_ context.Context, orderID string, deliveredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[orderID] = deliveredAt
	return nil
}
