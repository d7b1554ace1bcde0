package domain

import "time"

// Order event types published for downstream consumers.
const (
	OrderEventCreated       = "order.created"
	OrderEventStatusChanged = "order.status_changed"
)

// OrderEvent is the envelope published when an order is created or changes status.
type OrderEvent struct {
	ID             string      `json:"id"`
	Type           string      `json:"type"`
	OrderID        int64       `json:"orderId"`
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previousStatus,omitempty"`
	Actor          string      `json:"actor,omitempty"`
	TotalAmount    int64       `json:"totalAmount,omitempty"`
	Currency       string      `json:"currency,omitempty"`
	OccurredAt     time.Time   `json:"occurredAt"`
}
