package orders

const (
	TopicOrderCreated           = "order.created"
	TopicOrderStatusChanged     = "order.status.changed"
	TopicTrackingRecorded       = "order.tracking.recorded"
	TopicPaymentSessionComplete = "payment.session.completed"
)

// Partition key = order_id so one order's events stay ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
