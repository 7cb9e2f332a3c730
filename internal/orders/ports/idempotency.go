package ports

import (
	"context"
	"errors"
)

// ErrIdempotencyKeyReused is returned when a key is replayed with a
// different request body.
var ErrIdempotencyKeyReused = errors.New("idempotency key reused with a different request")

// StoredResponse contains the response data to replay for a reused key.
type StoredResponse struct {
	StatusCode  int
	Body        []byte
	OrderID     string
	RequestHash string
}

// IdempotencyStore ensures create operations can be retried safely.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*StoredResponse, error)
	Save(ctx context.Context, key string, response StoredResponse) error
}
