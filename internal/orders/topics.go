package orders

const (
	TopicOrderPlaced    = "order.placed"
	TopicOrderPaid      = "order.paid"
	TopicPaymentFailed  = "order.payment_failed"
	TopicOrderCancelled = "order.cancelled"
)

// AllTopics lists every topic the marketplace publishes to.
var AllTopics = []string{TopicOrderPlaced, TopicOrderPaid, TopicPaymentFailed, TopicOrderCancelled}

// Partition key = order id, so events for one order stay ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
