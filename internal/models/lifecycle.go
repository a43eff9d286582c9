package models

import "time"

type LifecycleEventType string

const (
	EventOrderCreated  LifecycleEventType = "order.created"
	EventOrderPaid     LifecycleEventType = "order.paid"
	EventOrderCanceled LifecycleEventType = "order.canceled"
)

// TransitionSource records who drove a status change.
type TransitionSource string

const (
	SourceUser    TransitionSource = "user"
	SourceGateway TransitionSource = "gateway"
)

type OrderLifecycleEvent struct {
	EventID    string             `json:"eventId"`
	Type       LifecycleEventType `json:"type"`
	OrderID    int64              `json:"orderId"`
	UserID     int64              `json:"userId"`
	EventRefID int64              `json:"eventRefId"`
	Status     OrderStatus        `json:"status"`
	FinalPrice int64              `json:"finalPrice"`
	Source     TransitionSource   `json:"source"`
	OccurredAt time.Time          `json:"occurredAt"`
}
