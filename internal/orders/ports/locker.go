package ports

import (
	"context"
	"errors"
)

// ErrLocked is returned by TryLock when another operation owns the order.
var ErrLocked = errors.New("order is locked by another operation")

// OrderLocker serializes operations per order ID. The returned release
// function must be called exactly once.
type OrderLocker interface {
	Lock(ctx context.Context, orderID string) (release func(), err error)
	TryLock(ctx context.Context, orderID string) (release func(), err error)
}
