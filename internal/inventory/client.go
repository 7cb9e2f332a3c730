package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dejobratic/orderflow/internal/httpclient"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

type lineRequest struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type shortage struct {
	VariantID string `json:"variant_id"`
	Available *int   `json:"available,omitempty"`
}

type restockRequest struct {
	Lines []lineRequest `json:"lines"`
}

// Client reserves stock on a remote inventory service one line at a time.
// A line that cannot be held releases the lines already held for the order.
type Client struct {
	http   *httpclient.Client
	logger *slog.Logger
}

func NewClient(client *httpclient.Client, logger *slog.Logger) *Client {
	return &Client{http: client, logger: logger}
}

// ReservationKey is the idempotency key for one line of one hold. The first
// generation keeps the bare order:variant form.
func ReservationKey(orderID string, generation int, variantID string) string {
	if generation <= 1 {
		return orderID + ":" + variantID
	}
	return fmt.Sprintf("%s:%d:%s", orderID, generation, variantID)
}

func (c *Client) Reserve(ctx context.Context, orderID string, generation int, lines []ports.ReservationLine) error {
	variants, qty := merge(lines)
	for _, v := range variants {
		header := http.Header{}
		header.Set("Idempotency-Key", ReservationKey(orderID, generation, v))

		err := c.http.Do(ctx, http.MethodPost, "/reservations/"+orderID+"/lines", header, lineRequest{VariantID: v, Quantity: qty[v]}, nil)
		if err == nil {
			continue
		}

		if relErr := c.release(context.WithoutCancel(ctx), orderID); relErr != nil {
			c.logger.WarnContext(ctx, "failed to release partial reservation",
				"order_id", orderID,
				"error", relErr,
			)
			return errors.Join(c.reserveError(v, qty[v], err), relErr)
		}
		return c.reserveError(v, qty[v], err)
	}
	return nil
}

func (c *Client) reserveError(variant string, requested int, err error) error {
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict {
		out := &domain.InsufficientStockError{VariantID: variant, Requested: requested, Available: -1}
		var body shortage
		if json.Unmarshal([]byte(statusErr.Body), &body) == nil && body.Available != nil {
			out.Available = *body.Available
		}
		return out
	}
	return fmt.Errorf("reserve %s: %w", variant, err)
}

func (c *Client) Convert(ctx context.Context, orderID string) error {
	return c.http.Do(ctx, http.MethodPost, "/reservations/"+orderID+"/convert", nil, nil, nil)
}

func (c *Client) Release(ctx context.Context, orderID string) error {
	return c.release(ctx, orderID)
}

func (c *Client) release(ctx context.Context, orderID string) error {
	err := c.http.Do(ctx, http.MethodPost, "/reservations/"+orderID+"/release", nil, nil, nil)
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) Restock(ctx context.Context, key string, lines []ports.ReservationLine) error {
	variants, qty := merge(lines)
	body := restockRequest{Lines: make([]lineRequest, 0, len(variants))}
	for _, v := range variants {
		body.Lines = append(body.Lines, lineRequest{VariantID: v, Quantity: qty[v]})
	}

	header := http.Header{}
	header.Set("Idempotency-Key", key)
	return c.http.Do(ctx, http.MethodPost, "/restocks", header, body, nil)
}
