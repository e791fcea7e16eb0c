package contracts

import "time"

// Event is the envelope every order event is published with. EventID is
// globally unique and is what consumers deduplicate on.
type Event struct {
	EventID   string         `json:"event_id"`
	OrderID   string         `json:"order_id"`
	CreatedAt time.Time      `json:"created_at"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
}

const (
	EventOrderCreated       = "order.created"
	EventOrderPaid          = "order.paid"
	EventOrderPaymentFailed = "order.payment_failed"
	EventOrderRefunded      = "order.refunded"
	EventOrderDeleted       = "order.deleted"
)

const OrdersTopic = "dokon.orders"
