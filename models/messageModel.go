package models

import "encoding/json"

// Inbound websocket events.
const (
	EventSubmitOrder       = "submit_order"
	EventRequestTransition = "request_transition"
	EventSubscribe         = "subscribe"
	EventRequestSnapshot   = "request_snapshot"
	EventDiscardOrder      = "discard_order"
)

// Outbound websocket events.
const (
	EventActiveOrdersSnapshot = "active_orders_snapshot"
	EventOrderState           = "order_state"
	EventOrderCreatedAck      = "order_created_ack"
	EventOrderDiscardedNotice = "order_discarded"
	EventError                = "error"
)

// Message is the envelope for every frame on the websocket.
type Message struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// InboundMessage defers payload decoding until the event is known.
type InboundMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type ActiveOrdersPayload struct {
	Branch string  `json:"branch"`
	Orders []Order `json:"orders"`
}

type OrderStatePayload struct {
	Order    Order `json:"order"`
	Archived bool  `json:"archived"`
}

type OrderRef struct {
	OrderID string `json:"orderId" validate:"required"`
}

type TransitionRequest struct {
	OrderID    string `json:"orderId" validate:"required"`
	Transition string `json:"transition" validate:"required"`
}

// SubscribeRequest selects exactly one scope: a branch or an order id.
type SubscribeRequest struct {
	Branch  string `json:"branch,omitempty"`
	OrderID string `json:"orderId,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	OrderID string `json:"orderId,omitempty"`
}
