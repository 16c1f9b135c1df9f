// Package services holds the order use cases shared by the websocket and
// HTTP surfaces.
package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"go-restaurant-orderhub/models"
)

var validate = validator.New()

// Validate checks a submission and returns a *models.ValidationError that
// lists every problem found.
func Validate(req models.OrderRequest) error {
	var problems []string
	if err := validate.Struct(req); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return models.NewValidationError(err.Error())
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}
	for i, li := range req.LineItems {
		if li.UnitPrice.IsNegative() {
			problems = append(problems, fmt.Sprintf("items[%d].unitPrice must not be negative", i))
		}
	}
	if len(problems) > 0 {
		return models.NewValidationError(problems...)
	}
	return nil
}

// describe turns "OrderRequest.LineItems[0].Quantity" + "min" into a
// message using the JSON field names clients send.
func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "OrderRequest.")
	field = strings.NewReplacer(
		"LineItems", "items",
		"Customer", "customer",
		"Quantity", "quantity",
		"UnitPrice", "unitPrice",
		"Name", "name",
		"Phone", "phone",
		"Branch", "branch",
		"CarType", "carType",
		"CarColor", "carColor",
		"DeliveryAddress", "deliveryAddress",
	).Replace(field)
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// newOrder builds the pending order for a validated request. The sequence
// number is left for the store to assign.
func newOrder(req models.OrderRequest, now time.Time) models.Order {
	total := decimal.Zero
	for _, li := range req.LineItems {
		total = total.Add(li.Subtotal())
	}
	order := models.Order{
		ID:         uuid.NewString(),
		Customer:   req.Customer,
		LineItems:  req.LineItems,
		TotalPrice: total,
		Branch:     req.Branch,
		Status:     models.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return order.Clone()
}
