package orders

const (
	TopicKitchenEvents = "pos.kitchen.events"
)

// Partition key = order id (or session id for SESSION_CLOSED), so every
// event of one order keeps its order on the topic.
func PartitionKey(id string) []byte { return []byte(id) }
