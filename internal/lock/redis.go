package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "orderflow:lock:"

// Deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis is a lease-based lock shared by every instance that talks to the
// same Redis. A lease that is not released expires after TTL.
type Redis struct {
	client   *redis.Client
	ttl      time.Duration
	maxRetry time.Duration
	logger   *slog.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		client:   client,
		ttl:      ttl,
		maxRetry: 250 * time.Millisecond,
		logger:   logger,
	}
}

func (l *Redis) TryLock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ports.ErrLocked
	}
	return l.releaser(key, token), nil
}

// Lock polls with exponential backoff until the lease is acquired or ctx
// is done.
func (l *Redis) Lock(ctx context.Context, key string) (func(), error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = l.maxRetry
	policy.MaxElapsedTime = 0

	var release func()
	err := backoff.Retry(func() error {
		r, err := l.TryLock(ctx, key)
		if errors.Is(err, ports.ErrLocked) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		release = r
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, err
	}
	return release, nil
}

func (l *Redis) releaser(key, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{keyPrefix + key}, token).Err(); err != nil {
			l.logger.WarnContext(ctx, "failed to release order lock, lease will expire",
				"key", key,
				"ttl", l.ttl,
				"error", err,
			)
		}
	}
}
