package models

import "time"

// EventType classifies an OrderEvent handed to the outbound sinks.
type EventType string

const (
	EventOrderCreated      EventType = "order_created"
	EventOrderTransitioned EventType = "order_transitioned"
	EventOrderArchived     EventType = "order_archived"
	EventOrderDiscarded    EventType = "order_discarded"
)

// OrderEvent is a committed mutation, published after the fact to
// services outside this process.
type OrderEvent struct {
	Type       EventType  `json:"type"`
	Order      Order      `json:"order"`
	Transition Transition `json:"transition,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
}
