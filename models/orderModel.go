package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
)

// Transition names an admin-issued lifecycle step.
type Transition string

const (
	TransitionStartPreparing Transition = "start_preparing"
	TransitionMarkReady      Transition = "mark_ready"
	TransitionComplete       Transition = "complete"
	TransitionArchive        Transition = "archive"
)

// Location tells which table currently holds an order.
type Location string

const (
	LocationActive  Location = "active"
	LocationArchive Location = "archive"
)

type Customer struct {
	Name            string  `json:"name" bson:"name" validate:"required,max=100"`
	Phone           string  `json:"phone" bson:"phone" validate:"required,min=5,max=20"`
	CarType         *string `json:"carType,omitempty" bson:"car_type,omitempty" validate:"omitempty,max=60"`
	CarColor        *string `json:"carColor,omitempty" bson:"car_color,omitempty" validate:"omitempty,max=60"`
	DeliveryAddress *string `json:"deliveryAddress,omitempty" bson:"delivery_address,omitempty" validate:"omitempty,max=300"`
}

type LineItem struct {
	Name      string          `json:"name" validate:"required,max=120"`
	Quantity  int             `json:"quantity" validate:"min=1"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Subtotal is quantity × unit price.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// OrderRequest is what a customer-facing client submits.
type OrderRequest struct {
	Customer  Customer   `json:"customer"`
	LineItems []LineItem `json:"items" validate:"required,min=1,dive"`
	Branch    string     `json:"branch" validate:"required,max=64"`
}

type Order struct {
	ID             string          `json:"id"`
	SequenceNumber int             `json:"orderNumber"`
	Customer       Customer        `json:"customer"`
	LineItems      []LineItem      `json:"items"`
	TotalPrice     decimal.Decimal `json:"totalPrice"`
	Branch         string          `json:"branch"`
	Status         Status          `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy so callers never share line items or
// customer pointers with the store.
func (o Order) Clone() Order {
	cp := o
	cp.LineItems = append([]LineItem(nil), o.LineItems...)
	cp.Customer.CarType = cloneString(o.Customer.CarType)
	cp.Customer.CarColor = cloneString(o.Customer.CarColor)
	cp.Customer.DeliveryAddress = cloneString(o.Customer.DeliveryAddress)
	return cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
