package http

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/app"
	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/app/queries"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerActor          = "X-Actor-ID"
	maxBodyBytes         = 1 << 20
)

// Handler exposes HTTP endpoints for order operations.
type Handler struct {
	service *app.Service
	logger  *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *app.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register binds the order handlers to the provided ServeMux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/orders", h.createOrder)
	mux.HandleFunc("GET /v1/orders", h.listOrders)
	mux.HandleFunc("GET /v1/orders/{id}", h.getOrder)
	mux.HandleFunc("GET /v1/orders/{id}/events", h.orderEvents)
	mux.HandleFunc("POST /v1/orders/{id}/confirm", h.confirmOrder)
	mux.HandleFunc("POST /v1/orders/{id}/ship", h.shipItems)
	mux.HandleFunc("POST /v1/orders/{id}/deliver", h.markDelivered)
	mux.HandleFunc("POST /v1/orders/{id}/cancel", h.cancelOrder)
	mux.HandleFunc("POST /v1/orders/{id}/reconcile", h.reconcile)
	mux.HandleFunc("POST /v1/orders/{id}/returns", h.requestReturn)
	mux.HandleFunc("POST /v1/orders/{id}/returns/{returnID}/approve", h.approveReturn)
	mux.HandleFunc("POST /v1/orders/{id}/returns/{returnID}/reject", h.rejectReturn)
	mux.HandleFunc("POST /v1/orders/{id}/returns/{returnID}/receive", h.receiveReturn)
	mux.HandleFunc("POST /v1/orders/{id}/returns/{returnID}/refund", h.refundReturn)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	idemKey := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if idemKey == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "Idempotency-Key header required")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body too large or unreadable")
		return
	}
	sum := sha256.Sum256(raw)
	requestHash := hex.EncodeToString(sum[:])

	if stored, err := h.service.GetIdempotentResponse(ctx, idemKey); err != nil {
		h.fail(ctx, w, err, nil)
		return
	} else if stored != nil {
		if stored.RequestHash != "" && stored.RequestHash != requestHash {
			h.fail(ctx, w, ports.ErrIdempotencyKeyReused, nil)
			return
		}
		for key, values := range restoreHeaders(stored) {
			for _, value := range values {
				w.Header().Add(key, value)
			}
		}
		w.WriteHeader(stored.StatusCode)
		_, _ = w.Write(stored.Body)
		return
	}

	var payload createOrderRequest
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON payload")
		return
	}

	order, err := h.service.CreateOrder(ctx, commands.CreateOrderCommand{
		CustomerID:    payload.CustomerID,
		Items:         payload.lineItems(),
		Shipping:      payload.Shipping,
		PaymentMethod: payload.PaymentMethod,
		DiscountCents: payload.DiscountCents,
	})
	if err != nil {
		h.fail(ctx, w, err, nil)
		return
	}

	body, err := json.Marshal(map[string]any{"order": order.Snapshot()})
	if err != nil {
		h.fail(ctx, w, err, nil)
		return
	}

	stored := ports.StoredResponse{
		StatusCode:  http.StatusCreated,
		Body:        body,
		OrderID:     order.ID(),
		RequestHash: requestHash,
	}

	if err := h.service.SaveIdempotentResponse(ctx, idemKey, stored); err != nil {
		// the order exists; a retry with the same key would create a second one
		h.logger.ErrorContext(ctx, "failed to store idempotent response",
			"error", err,
			"order_id", order.ID(),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/v1/orders/"+order.ID())
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(r.Context(), w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order.Snapshot()})
}

func (h *Handler) orderEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.OrderEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(r.Context(), w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	query := queries.ListOrdersQuery{
		CustomerID:    params.Get("customer_id"),
		Status:        params.Get("status"),
		PaymentStatus: params.Get("payment_status"),
	}

	if pageParam := params.Get("page"); pageParam != "" {
		if page, err := strconv.Atoi(pageParam); err == nil {
			query.Page = page
		}
	}

	if pageSizeParam := params.Get("page_size"); pageSizeParam != "" {
		if pageSize, err := strconv.Atoi(pageSizeParam); err == nil {
			query.PageSize = pageSize
		}
	}

	if before := params.Get("updated_before"); before != "" {
		ts, err := time.Parse(time.RFC3339, before)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "updated_before must be an RFC 3339 timestamp")
			return
		}
		query.UpdatedBefore = &ts
	}

	list := h.service.ListOrders
	if params.Get("expired_unpaid") == "true" {
		list = h.service.ListExpiredUnpaid
	}

	orders, err := list(r.Context(), query)
	if err != nil {
		h.fail(r.Context(), w, err, nil)
		return
	}

	snapshots := make([]domain.Snapshot, len(orders))
	for i, o := range orders {
		snapshots[i] = o.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": snapshots})
}

func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.ConfirmOrder(r.Context(), commands.ConfirmOrderCommand{
		OrderID: r.PathValue("id"),
		Actor:   actor(r),
	})
	h.respond(r.Context(), w, order, err)
}

func (h *Handler) shipItems(w http.ResponseWriter, r *http.Request) {
	var payload shipItemsRequest
	if !decode(w, r, &payload) {
		return
	}
	order, err := h.service.ShipItems(r.Context(), commands.ShipItemsCommand{
		OrderID:        r.PathValue("id"),
		ItemIDs:        payload.ItemIDs,
		TrackingNumber: payload.TrackingNumber,
		Carrier:        payload.Carrier,
		Actor:          actor(r),
	})
	h.respond(r.Context(), w, order, err)
}

func (h *Handler) markDelivered(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.MarkDelivered(r.Context(), commands.MarkDeliveredCommand{
		OrderID: r.PathValue("id"),
		Actor:   actor(r),
	})
	h.respond(r.Context(), w, order, err)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var payload reasonRequest
	if r.ContentLength != 0 && !decode(w, r, &payload) {
		return
	}
	order, err := h.service.CancelOrder(r.Context(), commands.CancelOrderCommand{
		OrderID: r.PathValue("id"),
		Reason:  payload.Reason,
		Actor:   actor(r),
	})
	h.respond(r.Context(), w, order, err)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.ReconcileReservation(r.Context(), commands.ReconcileReservationCommand{
		OrderID: r.PathValue("id"),
	})
	h.respond(r.Context(), w, order, err)
}

func (h *Handler) requestReturn(w http.ResponseWriter, r *http.Request) {
	var payload requestReturnRequest
	if !decode(w, r, &payload) {
		return
	}
	order, err := h.service.RequestReturn(r.Context(), commands.RequestReturnCommand{
		OrderID: r.PathValue("id"),
		Lines:   payload.Lines,
		Reason:  payload.Reason,
		Actor:   actor(r),
	})
	if err != nil {
		h.fail(r.Context(), w, err, order)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order": order.Snapshot()})
}

func (h *Handler) approveReturn(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.ApproveReturn(r.Context(), commands.ApproveReturnCommand{ReturnDecision: decision(r, "")})
	h.respond(r.Context(), w, order, err)
}

func (h *Handler) rejectReturn(w http.ResponseWriter, r *http.Request) {
	var payload reasonRequest
	if !decode(w, r, &payload) {
		return
	}
	order, err := h.service.RejectReturn(r.Context(), commands.RejectReturnCommand{ReturnDecision: decision(r, payload.Reason)})
	h.respond(r.Context(), w, order, err)
}

func (h *Handler) receiveReturn(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.ReceiveReturn(r.Context(), commands.ReceiveReturnCommand{ReturnDecision: decision(r, "")})
	h.respond(r.Context(), w, order, err)
}

func (h *Handler) refundReturn(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.RefundReturn(r.Context(), commands.RefundReturnCommand{ReturnDecision: decision(r, "")})
	h.respond(r.Context(), w, order, err)
}

func decision(r *http.Request, reason string) commands.ReturnDecision {
	return commands.ReturnDecision{
		OrderID:  r.PathValue("id"),
		ReturnID: r.PathValue("returnID"),
		Reason:   reason,
		Actor:    actor(r),
	}
}

func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(headerActor))
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON payload")
		return false
	}
	return true
}

func (h *Handler) respond(ctx context.Context, w http.ResponseWriter, order *domain.Order, err error) {
	if err != nil {
		h.fail(ctx, w, err, order)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order.Snapshot()})
}

// fail writes the error response. Operations such as a declined payment
// still change the order; it is included when present.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error, order *domain.Order) {
	status, code := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed", "error", err)
		message = "internal server error"
	}

	payload := map[string]any{"error": message, "code": code}
	var validation *domain.ValidationError
	if errors.As(err, &validation) && validation.Field != "" {
		payload["field"] = validation.Field
	}
	if order != nil {
		payload["order"] = order.Snapshot()
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": message, "code": code})
}

// restoreHeaders rebuilds the headers of a replayed create response.
func restoreHeaders(stored *ports.StoredResponse) http.Header {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Idempotent-Replayed", "true")
	if stored.OrderID != "" {
		header.Set("Location", "/v1/orders/"+stored.OrderID)
	}
	return header
}
