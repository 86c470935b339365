package redisx

import "time"

const (
	// Cache status order: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Processed-event marker: dedup:{scope}
	// scope = inventory:{order_id}:{event_type} or notifications:{event_id}
	KeyDedup = "dedup:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
