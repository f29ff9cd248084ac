package event

import (
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-checkout-pipeline/internal/order"
)

const (
	EventOrderPlaced = "OrderPlaced"
)

// Envelope is the versioned wrapper every outbound event travels in.
// CorrelationID is the order id, which is also the partition key, so
// all events for one order keep their ordering.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// OrderPlacedPayload is published once per confirmed order. Consumers
// see it at least once and deduplicate by order_id.
type OrderPlacedPayload struct {
	OrderID     string       `json:"order_id"`
	CustomerRef string       `json:"customer_ref"`
	TotalCents  int64        `json:"total_cents"`
	Currency    string       `json:"currency"`
	Lines       []order.Line `json:"line_items"`
}
