package event

const (
	TopicOrderPlaced = "order.placed"
)

// Partition key = order_id, so every event for one order lands on the
// same partition in order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
