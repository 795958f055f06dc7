package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys published on the marketplace events exchange.
const (
	EventOrderCreated           = "freelancer.order.created"
	EventOrderPaid              = "freelancer.order.paid"
	EventOrderDelivered         = "freelancer.order.delivered"
	EventOrderRevisionRequested = "freelancer.order.revision_requested"
	EventOrderCompleted         = "freelancer.order.completed"
	EventOrderCancelled         = "freelancer.order.cancelled"
	EventOrderDisputed          = "freelancer.order.disputed"
	EventOrderRefunded          = "freelancer.order.refunded"
)

// OrderEvent is the notification payload sent after a committed transition.
type OrderEvent struct {
	OrderID      uuid.UUID   `json:"order_id"`
	ServiceID    uuid.UUID   `json:"service_id"`
	ClientID     uuid.UUID   `json:"client_id"`
	FreelancerID uuid.UUID   `json:"freelancer_id"`
	Status       OrderStatus `json:"status"`
	Amount       int64       `json:"amount"`
	Currency     string      `json:"currency"`
	Trigger      string      `json:"trigger,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// NewOrderEvent builds the event payload for an order snapshot.
func NewOrderEvent(order *Order, trigger string, at time.Time) OrderEvent {
	return OrderEvent{
		OrderID:      order.ID,
		ServiceID:    order.ServiceID,
		ClientID:     order.ClientID,
		FreelancerID: order.FreelancerID,
		Status:       order.Status,
		Amount:       order.AmountTotal,
		Currency:     order.Currency,
		Trigger:      trigger,
		Timestamp:    at,
	}
}
