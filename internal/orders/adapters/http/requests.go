package http

import (
	"github.com/dejobratic/orderflow/internal/orders/domain"
)

type createOrderRequest struct {
	CustomerID    string                 `json:"customer_id"`
	Items         []lineItemRequest      `json:"items"`
	Shipping      domain.ShippingDetails `json:"shipping"`
	PaymentMethod string                 `json:"payment_method"`
	DiscountCents int64                  `json:"discount_cents"`
}

type lineItemRequest struct {
	ProductID      string `json:"product_id"`
	VariantID      string `json:"variant_id"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func (r createOrderRequest) lineItems() []domain.NewLineItem {
	items := make([]domain.NewLineItem, len(r.Items))
	for i, it := range r.Items {
		items[i] = domain.NewLineItem{
			ProductID:      it.ProductID,
			VariantID:      it.VariantID,
			Name:           it.Name,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
		}
	}
	return items
}

type shipItemsRequest struct {
	ItemIDs        []string `json:"item_ids"`
	TrackingNumber string   `json:"tracking_number"`
	Carrier        string   `json:"carrier"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type requestReturnRequest struct {
	Lines  []domain.ReturnLine `json:"lines"`
	Reason string              `json:"reason"`
}
