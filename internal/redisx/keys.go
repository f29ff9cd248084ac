package redisx

import "time"

const (
	// Cart JSON: cart:{cart_id}
	KeyCart = "cart:%s"

	// Cache of order state for fast GET /orders/{id}: order_status:{order_id}
	KeyOrderStatus = "order_status:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
)
