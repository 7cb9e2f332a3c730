// Package payment talks to the payment gateway.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dejobratic/orderflow/internal/httpclient"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

const (
	statusSucceeded = "succeeded"
	statusDeclined  = "declined"
)

type chargeRequest struct {
	OrderID     string `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
	Method      string `json:"payment_method"`
}

type refundRequest struct {
	OrderID     string `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason,omitempty"`
}

type result struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Client implements ports.PaymentCoordinator against the gateway's REST API.
// The gateway collapses requests that share an Idempotency-Key.
type Client struct {
	http *httpclient.Client
}

func NewClient(client *httpclient.Client) *Client {
	return &Client{http: client}
}

// ChargeKey is the idempotency key for one charge attempt. The first attempt
// uses the bare order ID.
func ChargeKey(orderID string, attempt int) string {
	if attempt <= 1 {
		return orderID
	}
	return fmt.Sprintf("%s:%d", orderID, attempt)
}

func (c *Client) Charge(ctx context.Context, req ports.ChargeRequest) (string, error) {
	body := chargeRequest{OrderID: req.OrderID, AmountCents: req.AmountCents, Method: req.Method}
	return c.send(ctx, "charge", "/charges", ChargeKey(req.OrderID, req.Attempt), body)
}

func (c *Client) Refund(ctx context.Context, req ports.RefundRequest) (string, error) {
	body := refundRequest{OrderID: req.OrderID, AmountCents: req.AmountCents, Reason: req.Reason}
	return c.send(ctx, "refund", "/refunds", req.Key, body)
}

func (c *Client) send(ctx context.Context, operation, endpoint, key string, body any) (string, error) {
	header := http.Header{}
	header.Set("Idempotency-Key", key)

	var res result
	err := c.http.Do(ctx, http.MethodPost, endpoint, header, body, &res)
	if err != nil {
		return "", c.classify(operation, err)
	}

	switch res.Status {
	case statusSucceeded, "":
		if res.ID == "" {
			return "", &domain.CoordinatorError{Coordinator: "payment", Operation: operation, Err: errors.New("gateway returned no reference")}
		}
		return res.ID, nil
	case statusDeclined:
		return "", &domain.PaymentFailedError{Reason: declineReason(res.Reason), Retryable: res.Retryable}
	default:
		return "", &domain.CoordinatorError{Coordinator: "payment", Operation: operation, Err: fmt.Errorf("unexpected status %q", res.Status)}
	}
}

// classify maps transport failures. Deadline and connection errors are
// returned unchanged so the caller can tell an unknown outcome apart.
func (c *Client) classify(operation string, err error) error {
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}

	switch {
	case statusErr.StatusCode == http.StatusPaymentRequired:
		var res result
		_ = json.Unmarshal([]byte(statusErr.Body), &res)
		return &domain.PaymentFailedError{Reason: declineReason(res.Reason), Retryable: res.Retryable}
	case statusErr.StatusCode == http.StatusGatewayTimeout:
		return &domain.CoordinatorError{Coordinator: "payment", Operation: operation, Ambiguous: true, Err: err}
	default:
		return &domain.CoordinatorError{Coordinator: "payment", Operation: operation, Err: err}
	}
}

func declineReason(reason string) string {
	if reason == "" {
		return "declined by gateway"
	}
	return reason
}
