package redisx

import "time"

const (
	// idem:order:{buyer_id}:{idempotency_key} -> order_id
	KeyIdemOrderCreate = "idem:order:%s:%s"

	// order:{order_id} -> JSON snapshot of the order
	KeyOrderSnapshot = "order:%s"

	// dedup:{scope}:{id}; scope is e.g. "webhook" or "notifier", id the event id
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
