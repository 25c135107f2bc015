package models

import "time"

// Event types published to the order-events topic.
const (
	EventTypeOrderOpened        = "ORDER_OPENED"
	EventTypeOrderFinalized     = "ORDER_FINALIZED"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"
	EventTypeReservationExpired = "RESERVATION_EXPIRED"
	EventTypeSequenceClaimed    = "SEQUENCE_CLAIMED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	ActorID   string    `json:"actor_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderOpenedEvent published when a table receives its first item and an
// order number is issued.
type OrderOpenedEvent struct {
	BaseEvent
	TableID     string `json:"table_id"`
	OrderNumber int    `json:"order_number"`
}

// OrderFinalizedEvent published when payment is confirmed and stock is
// durably consumed.
type OrderFinalizedEvent struct {
	BaseEvent
	TableID     string      `json:"table_id"`
	OrderNumber int         `json:"order_number"`
	Items       []OrderItem `json:"items"`
}

// OrderCancelledEvent published when a tab is cancelled and its
// reservations released.
type OrderCancelledEvent struct {
	BaseEvent
	TableID     string `json:"table_id"`
	OrderNumber int    `json:"order_number"`
	Reason      string `json:"reason"`
}

// ReservationExpiredEvent published when stale cart holds are dropped.
type ReservationExpiredEvent struct {
	BaseEvent
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// SequenceClaim is the cross-actor broadcast payload for a claimed order
// number. Delivery is best-effort, at most once.
type SequenceClaim struct {
	Claimed int    `json:"claimed"`
	ActorID string `json:"actor_id"`
}
