package redisx

import "time"

const (
	// Payment fast path: idem:payment:{session_id} -> tracking_id
	KeyIdemPayment = "idem:payment:%s"

	// Cached status: order_status:{order_id} -> {"orderId": "...", "status": "...", "updatedAt": "..."}
	KeyOrderStatus = "order_status:%s"

	// Consumer dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
