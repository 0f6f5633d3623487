package redisx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Cache backs order snapshots, idempotency shortcuts and event dedup.
// Redis errors are logged and treated as misses.
type Cache struct {
	rdb redis.Cmdable
	log *slog.Logger
}

func NewCache(rdb redis.Cmdable, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{rdb: rdb, log: log}
}

func (c *Cache) OrderSnapshot(ctx context.Context, orderID string) ([]byte, bool) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderSnapshot, orderID)).Bytes()
	if err != nil {
		c.miss("order snapshot", err)
		return nil, false
	}
	return b, true
}

func (c *Cache) StoreOrderSnapshot(ctx context.Context, orderID string, b []byte) {
	if err := c.rdb.Set(ctx, fmt.Sprintf(KeyOrderSnapshot, orderID), b, TTLOrderCache).Err(); err != nil {
		c.log.Warn("redis set order snapshot", "order_id", orderID, "error", err)
	}
}

func (c *Cache) InvalidateOrder(ctx context.Context, orderID string) {
	if err := c.rdb.Del(ctx, fmt.Sprintf(KeyOrderSnapshot, orderID)).Err(); err != nil {
		c.log.Warn("redis invalidate order", "order_id", orderID, "error", err)
	}
}

func (c *Cache) IdempotentOrder(ctx context.Context, buyerID, key string) (string, bool) {
	id, err := c.rdb.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, buyerID, key)).Result()
	if err != nil {
		c.miss("idempotency", err)
		return "", false
	}
	return id, id != ""
}

func (c *Cache) RememberIdempotentOrder(ctx context.Context, buyerID, key, orderID string) {
	if err := c.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, buyerID, key), orderID, TTLIdempotency).Err(); err != nil {
		c.log.Warn("redis set idempotency", "order_id", orderID, "error", err)
	}
}

// Processed reports whether id was marked in scope. Marking happens only
// after successful processing, so a crash mid-way leaves the event
// eligible for redelivery.
func (c *Cache) Processed(ctx context.Context, scope, id string) bool {
	ok, err := Exists(ctx, c.rdb, fmt.Sprintf(KeyDedup, scope, id))
	if err != nil {
		c.log.Warn("redis dedup lookup", "scope", scope, "id", id, "error", err)
		return false
	}
	return ok
}

func (c *Cache) MarkProcessed(ctx context.Context, scope, id string) {
	if err := c.rdb.Set(ctx, fmt.Sprintf(KeyDedup, scope, id), "1", TTLDedup).Err(); err != nil {
		c.log.Warn("redis dedup mark", "scope", scope, "id", id, "error", err)
	}
}

func (c *Cache) miss(what string, err error) {
	if !errors.Is(err, redis.Nil) {
		c.log.Warn("redis get "+what, "error", err)
	}
}
