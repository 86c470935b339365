package events

const (
	TopicOrderCreated     = "order-created"
	TopicOrderConfirmed   = "order-confirmed"
	TopicOrderCancelled   = "order-cancelled"
	TopicPaymentProcessed = "payment-processed"
	TopicOrderShipped     = "order-shipped"
)

// Partition key = aggregate id, so every event of one order keeps its order.
func PartitionKey(aggregateID string) []byte { return []byte(aggregateID) }

// EventTypeFor maps a topic to the event type carried on it.
func EventTypeFor(topic string) string {
	switch topic {
	case TopicOrderCreated:
		return EventOrderCreated
	case TopicOrderConfirmed:
		return EventOrderConfirmed
	case TopicOrderCancelled:
		return EventOrderCancelled
	case TopicPaymentProcessed:
		return EventPaymentProcessed
	case TopicOrderShipped:
		return EventOrderShipped
	}
	return ""
}
