// Package inventory holds, converts and releases stock for orders.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/redis/go-redis/v9"
)

const (
	stockPrefix   = "orderflow:stock:"
	holdPrefix    = "orderflow:hold:"
	restockPrefix = "orderflow:restock:"
)

// KEYS: hold state, hold lines, then one stock key per variant.
// ARGV: n, n variant IDs, n quantities.
// Returns {1} on success or {0, variant, available} when short.
var reserveScript = redis.NewScript(`
local state = redis.call("get", KEYS[1])
if state == "held" or state == "converted" then
	return {1}
end
local n = tonumber(ARGV[1])
for i = 1, n do
	local have = tonumber(redis.call("get", KEYS[i + 2]) or "0")
	if have < tonumber(ARGV[n + 1 + i]) then
		return {0, ARGV[1 + i], have}
	end
end
redis.call("del", KEYS[2])
for i = 1, n do
	redis.call("decrby", KEYS[i + 2], ARGV[n + 1 + i])
	redis.call("hset", KEYS[2], ARGV[1 + i], ARGV[n + 1 + i])
end
redis.call("set", KEYS[1], "held")
return {1}
`)

// Returns 1 when converted (or already converted), 0 when no hold exists,
// -1 when the hold was released.
var convertScript = redis.NewScript(`
local state = redis.call("get", KEYS[1])
if not state then
	return 0
end
if state == "released" then
	return -1
end
redis.call("set", KEYS[1], "converted")
return 1
`)

// ARGV[1] is the stock key prefix.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) ~= "held" then
	return 0
end
local lines = redis.call("hgetall", KEYS[2])
for i = 1, #lines, 2 do
	redis.call("incrby", ARGV[1] .. lines[i], lines[i + 1])
end
redis.call("set", KEYS[1], "released")
return 1
`)

// ARGV: stock key prefix, then variant/quantity pairs.
var restockScript = redis.NewScript(`
if not redis.call("set", KEYS[1], "1", "NX") then
	return 0
end
for i = 2, #ARGV, 2 do
	redis.call("incrby", ARGV[1] .. ARGV[i], ARGV[i + 1])
end
return 1
`)

// RedisStore keeps stock counters in Redis and applies every reservation
// change in a single Lua script, so concurrent orders never oversell.
// Variants without a counter have no stock.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

func holdKeys(orderID string) (state, lines string) {
	return holdPrefix + orderID, holdPrefix + orderID + ":lines"
}

// merge sums quantities per variant in a stable order.
func merge(lines []ports.ReservationLine) ([]string, map[string]int) {
	qty := make(map[string]int, len(lines))
	for _, l := range lines {
		qty[l.VariantID] += l.Quantity
	}
	variants := make([]string, 0, len(qty))
	for v := range qty {
		variants = append(variants, v)
	}
	sort.Strings(variants)
	return variants, qty
}

// Reserve ignores the generation: the hold state key already tells a retried
// reservation from one re-taken after a release.
func (s *RedisStore) Reserve(ctx context.Context, orderID string, _ int, lines []ports.ReservationLine) error {
	variants, qty := merge(lines)
	stateKey, linesKey := holdKeys(orderID)

	keys := []string{stateKey, linesKey}
	args := []any{len(variants)}
	for _, v := range variants {
		keys = append(keys, stockPrefix+v)
		args = append(args, v)
	}
	for _, v := range variants {
		args = append(args, qty[v])
	}

	res, err := reserveScript.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return fmt.Errorf("reserve stock for order %s: %w", orderID, err)
	}

	code, ok := res[0].(int64)
	if !ok {
		return fmt.Errorf("unexpected result type from reserve script: %T", res[0])
	}
	switch code {
	case 1:
		return nil
	case 0:
		variant, _ := res[1].(string)
		available, _ := res[2].(int64)
		return &domain.InsufficientStockError{VariantID: variant, Requested: qty[variant], Available: int(available)}
	default:
		return fmt.Errorf("unknown result code from reserve script: %d", code)
	}
}

func (s *RedisStore) Convert(ctx context.Context, orderID string) error {
	stateKey, _ := holdKeys(orderID)
	code, err := convertScript.Run(ctx, s.client, []string{stateKey}).Int64()
	if err != nil {
		return fmt.Errorf("convert reservation for order %s: %w", orderID, err)
	}
	// Without a held reservation there is nothing left to consume.
	switch code {
	case 1:
	case 0:
		s.logger.WarnContext(ctx, "convert found no reservation", "order_id", orderID)
	default:
		s.logger.WarnContext(ctx, "convert found a released reservation", "order_id", orderID)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, orderID string) error {
	stateKey, linesKey := holdKeys(orderID)
	if err := releaseScript.Run(ctx, s.client, []string{stateKey, linesKey}, stockPrefix).Err(); err != nil {
		return fmt.Errorf("release reservation for order %s: %w", orderID, err)
	}
	return nil
}

func (s *RedisStore) Restock(ctx context.Context, key string, lines []ports.ReservationLine) error {
	variants, qty := merge(lines)
	args := []any{stockPrefix}
	for _, v := range variants {
		args = append(args, v, qty[v])
	}
	if err := restockScript.Run(ctx, s.client, []string{restockPrefix + key}, args...).Err(); err != nil {
		return fmt.Errorf("restock %s: %w", key, err)
	}
	return nil
}

// SetStock overwrites the available quantity of a variant.
func (s *RedisStore) SetStock(ctx context.Context, variantID string, qty int) error {
	if err := s.client.Set(ctx, stockPrefix+variantID, qty, 0).Err(); err != nil {
		return fmt.Errorf("set stock for %s: %w", variantID, err)
	}
	return nil
}

// Available returns the unreserved quantity of a variant.
func (s *RedisStore) Available(ctx context.Context, variantID string) (int, error) {
	raw, err := s.client.Get(ctx, stockPrefix+variantID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get stock for %s: %w", variantID, err)
	}
	return strconv.Atoi(raw)
}
