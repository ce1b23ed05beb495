package contracts

import "time"

type Event struct {
	EventID   string         `json:"event_id"`
	OrderID   string         `json:"order_id"`
	CreatedAt time.Time      `json:"created_at"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
}

const (
	EventOrderPlaced           = "order.placed"
	EventOrderStatusChanged    = "order.status_changed"
	EventSubOrderStatusChanged = "suborder.status_changed"
)

// TopicOrders is the default Kafka topic for order lifecycle events.
const TopicOrders = "txlab.orders"
