package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected before any coordinator is invoked.
	ErrValidation = errors.New("validation failed")
	// ErrIllegalTransition marks an operation attempted from the wrong state.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrInsufficientStock is returned when a reservation cannot be satisfied.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrPaymentFailed is returned when a charge or refund did not go through.
	ErrPaymentFailed = errors.New("payment failed")
	// ErrCoordinatorUnavailable is returned when a downstream service could not be reached.
	ErrCoordinatorUnavailable = errors.New("downstream service unavailable")
	// ErrReturnWindowExpired is returned when a return is requested too late.
	ErrReturnWindowExpired = errors.New("return window expired")
	// ErrReturnNotFound is returned for an unknown return ID.
	ErrReturnNotFound = errors.New("return not found")
	// ErrItemNotFound is returned for an unknown line item ID.
	ErrItemNotFound = errors.New("order item not found")
)

// ValidationError identifies the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IllegalTransitionError names the current state and what the operation needed.
// Reason, when set, replaces the generic message.
type IllegalTransitionError struct {
	Operation string
	Axis      Axis
	Current   string
	Required  []string
	Reason    string
}

func (e *IllegalTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s status is %s)", e.Reason, e.Axis, e.Current)
	}
	return fmt.Sprintf("cannot %s: %s status is %s, required %v", e.Operation, e.Axis, e.Current, e.Required)
}

func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }

func illegal[S ~string](op string, axis Axis, current S, required ...S) error {
	req := make([]string, len(required))
	for i, r := range required {
		req[i] = string(r)
	}
	return &IllegalTransitionError{Operation: op, Axis: axis, Current: string(current), Required: req}
}

func illegalBecause[S ~string](op string, axis Axis, current S, reason string) error {
	return &IllegalTransitionError{Operation: op, Axis: axis, Current: string(current), Reason: reason}
}

// InsufficientStockError identifies the variant that could not be reserved.
type InsufficientStockError struct {
	VariantID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	if e.Available < 0 {
		return fmt.Sprintf("insufficient stock for item %s", e.VariantID)
	}
	return fmt.Sprintf("insufficient stock for item %s: requested %d, available %d", e.VariantID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// PaymentFailedError carries the gateway's reason. Ambiguous is set when the
// outcome is unknown (timeout); Retryable when re-issuing the operation may help.
type PaymentFailedError struct {
	Reason    string
	Retryable bool
	Ambiguous bool
}

func (e *PaymentFailedError) Error() string {
	return fmt.Sprintf("payment failed: %s", e.Reason)
}

func (e *PaymentFailedError) Is(target error) bool { return target == ErrPaymentFailed }

// CoordinatorError wraps a failure talking to a downstream service.
type CoordinatorError struct {
	Coordinator string
	Operation   string
	Ambiguous   bool
	Err         error
}

func (e *CoordinatorError) Error() string {
	if e.Ambiguous {
		return fmt.Sprintf("%s %s outcome unknown: %v", e.Coordinator, e.Operation, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Coordinator, e.Operation, e.Err)
}

func (e *CoordinatorError) Unwrap() error { return e.Err }

func (e *CoordinatorError) Is(target error) bool { return target == ErrCoordinatorUnavailable }
