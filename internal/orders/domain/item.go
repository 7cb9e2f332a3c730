package domain

import (
	"strings"
	"time"
)

// LineItem is one product variant on an order.
type LineItem struct {
	ID                string            `json:"id"`
	ProductID         string            `json:"product_id"`
	VariantID         string            `json:"variant_id"`
	Name              string            `json:"name,omitempty"`
	Quantity          int               `json:"quantity"`
	UnitPriceCents    int64             `json:"unit_price_cents"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillment_status"`
	TrackingNumber    string            `json:"tracking_number,omitempty"`
	Carrier           string            `json:"carrier,omitempty"`
	ShippedAt         *time.Time        `json:"shipped_at,omitempty"`
}

// LineTotalCents is quantity times unit price.
func (i LineItem) LineTotalCents() int64 {
	return int64(i.Quantity) * i.UnitPriceCents
}

// NewLineItem is the cart input for one line.
type NewLineItem struct {
	ProductID      string
	VariantID      string
	Name           string
	Quantity       int
	UnitPriceCents int64
}

func (n NewLineItem) validate(idx int) error {
	if strings.TrimSpace(n.VariantID) == "" {
		return invalid("items", "item %d: variant_id is required", idx)
	}
	if strings.TrimSpace(n.ProductID) == "" {
		return invalid("items", "item %d: product_id is required", idx)
	}
	if n.Quantity < 1 {
		return invalid("items", "item %d: quantity must be at least 1", idx)
	}
	if n.UnitPriceCents <= 0 {
		return invalid("items", "item %d: unit price must be positive", idx)
	}
	return nil
}

// ShippingDetails is where and how the order ships.
type ShippingDetails struct {
	Recipient  string         `json:"recipient"`
	Line1      string         `json:"line1"`
	Line2      string         `json:"line2,omitempty"`
	City       string         `json:"city"`
	Region     string         `json:"region,omitempty"`
	PostalCode string         `json:"postal_code"`
	Country    string         `json:"country"`
	Method     ShippingMethod `json:"method"`
}

// Validate ensures the shipping details can be handed to a carrier.
func (s ShippingDetails) Validate() error {
	if strings.TrimSpace(s.Recipient) == "" {
		return invalid("shipping.recipient", "is required")
	}
	if strings.TrimSpace(s.Line1) == "" {
		return invalid("shipping.line1", "is required")
	}
	if strings.TrimSpace(s.City) == "" {
		return invalid("shipping.city", "is required")
	}
	if strings.TrimSpace(s.PostalCode) == "" {
		return invalid("shipping.postal_code", "is required")
	}
	if len(strings.TrimSpace(s.Country)) != 2 {
		return invalid("shipping.country", "must be a two-letter country code")
	}
	if !s.Method.Valid() {
		return invalid("shipping.method", "unsupported shipping method %q", s.Method)
	}
	return nil
}

// ReturnLine claims a quantity of one line item for return.
type ReturnLine struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// Return is a customer return request against delivered items.
type Return struct {
	ID                string       `json:"id"`
	Lines             []ReturnLine `json:"lines"`
	Reason            string       `json:"reason"`
	Status            ReturnStatus `json:"status"`
	RefundAmountCents int64        `json:"refund_amount_cents"`
	RefundReference   string       `json:"refund_reference,omitempty"`
	RejectionReason   string       `json:"rejection_reason,omitempty"`
	RequestedAt       time.Time    `json:"requested_at"`
	ApprovedAt        *time.Time   `json:"approved_at,omitempty"`
	RejectedAt        *time.Time   `json:"rejected_at,omitempty"`
	ReceivedAt        *time.Time   `json:"received_at,omitempty"`
	RefundedAt        *time.Time   `json:"refunded_at,omitempty"`
}

func (r *Return) transition(to ReturnStatus) error {
	if !CanTransitionReturn(r.Status, to) {
		return illegal("update return "+r.ID, AxisReturn, r.Status, to)
	}
	r.Status = to
	return nil
}
