package fulfillment

import (
	"context"
	"net/http"
	"time"

	"github.com/dejobratic/orderflow/internal/httpclient"
	"github.com/dejobratic/orderflow/internal/orders/domain"
)

type shipmentRequest struct {
	OrderID     string                 `json:"order_id"`
	OrderNumber string                 `json:"order_number"`
	Items       []shipmentItem         `json:"items"`
	Address     domain.ShippingDetails `json:"address"`
}

type shipmentItem struct {
	ItemID    string `json:"item_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type shipmentResponse struct {
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
}

type trackingRequest struct {
	ItemIDs        []string `json:"item_ids"`
	TrackingNumber string   `json:"tracking_number"`
	Carrier        string   `json:"carrier"`
}

type deliveryRequest struct {
	DeliveredAt time.Time `json:"delivered_at"`
}

// Client is the ShippingService backed by the shipping service's REST API.
// The order ID is the idempotency key for shipment creation.
type Client struct {
	http *httpclient.Client
}

func NewClient(client *httpclient.Client) *Client {
	return &Client{http: client}
}

func (c *Client) CreateShipment(ctx context.Context, order domain.Snapshot) (time.Time, error) {
	items := make([]shipmentItem, len(order.Items))
	for i, it := range order.Items {
		items[i] = shipmentItem{ItemID: it.ID, VariantID: it.VariantID, Quantity: it.Quantity}
	}

	header := http.Header{}
	header.Set("Idempotency-Key", order.ID)

	var res shipmentResponse
	err := c.http.Do(ctx, http.MethodPost, "/shipments", header, shipmentRequest{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		Items:       items,
		Address:     order.Shipping,
	}, &res)
	if err != nil {
		return time.Time{}, err
	}
	if res.EstimatedDelivery == nil {
		return time.Time{}, nil
	}
	return *res.EstimatedDelivery, nil
}

func (c *Client) RecordTracking(ctx context.Context, orderID string, itemIDs []string, trackingNumber, carrier string) error {
	return c.http.Do(ctx, http.MethodPost, "/shipments/"+orderID+"/tracking", nil, trackingRequest{
		ItemIDs:        itemIDs,
		TrackingNumber: trackingNumber,
		Carrier:        carrier,
	}, nil)
}

func (c *Client) RecordDelivery(ctx context.Context, orderID string, deliveredAt time.Time) error {
	return c.http.Do(ctx, http.MethodPost, "/shipments/"+orderID+"/delivery", nil, deliveryRequest{DeliveredAt: deliveredAt.UTC()}, nil)
}
