package http

import (
	"errors"
	"net/http"

	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

// errorStatus maps an application error to a response status and a stable
// machine-readable code.
func errorStatus(err error) (int, string) {
	var coordErr *domain.CoordinatorError
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, domain.ErrReturnNotFound):
		return http.StatusNotFound, "return_not_found"
	case errors.Is(err, domain.ErrItemNotFound):
		return http.StatusNotFound, "item_not_found"
	case errors.Is(err, domain.ErrIllegalTransition):
		return http.StatusConflict, "illegal_transition"
	case errors.Is(err, commands.ErrOrderBusy):
		return http.StatusConflict, "order_busy"
	case errors.Is(err, ports.ErrConcurrentUpdate):
		return http.StatusConflict, "concurrent_update"
	case errors.Is(err, ports.ErrAlreadyExists):
		return http.StatusConflict, "order_exists"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, domain.ErrPaymentFailed):
		return http.StatusPaymentRequired, "payment_failed"
	case errors.Is(err, domain.ErrReturnWindowExpired):
		return http.StatusUnprocessableEntity, "return_window_expired"
	case errors.Is(err, ports.ErrIdempotencyKeyReused):
		return http.StatusUnprocessableEntity, "idempotency_key_reused"
	case errors.As(err, &coordErr):
		if coordErr.Ambiguous {
			return http.StatusGatewayTimeout, "downstream_timeout"
		}
		return http.StatusBadGateway, "downstream_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
