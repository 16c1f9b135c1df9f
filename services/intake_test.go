package services

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-restaurant-orderhub/models"
)

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.OrderRequest)
		problem string
	}{
		{"no items", func(r *models.OrderRequest) { r.LineItems = nil }, "items is required"},
		{"zero quantity", func(r *models.OrderRequest) { r.LineItems[0].Quantity = 0 }, "items[0].quantity must be at least 1"},
		{"negative price", func(r *models.OrderRequest) { r.LineItems[1].UnitPrice = decimal.NewFromInt(-1) }, "items[1].unitPrice must not be negative"},
		{"missing phone", func(r *models.OrderRequest) { r.Customer.Phone = "" }, "customer.phone is required"},
		{"missing branch", func(r *models.OrderRequest) { r.Branch = "" }, "branch is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := steakAndWater()
			tt.mutate(&req)
			err := Validate(req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrValidation))
			var verr *models.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Problems, tt.problem)
		})
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	req := steakAndWater()
	req.Customer.Name = ""
	req.LineItems[0].Quantity = 0
	req.LineItems[1].UnitPrice = decimal.NewFromInt(-5)

	var verr *models.ValidationError
	require.True(t, errors.As(Validate(req), &verr))
	assert.Len(t, verr.Problems, 3)
}

func TestValidateAcceptsFreeItemsAndOptionalFields(t *testing.T) {
	req := steakAndWater()
	req.LineItems[1].UnitPrice = decimal.Zero
	car := "white Land Cruiser"
	req.Customer.CarType = &car
	assert.NoError(t, Validate(req))
}

func TestNewOrderDoesNotShareItems(t *testing.T) {
	req := steakAndWater()
	order := newOrder(req, time.Now())
	req.LineItems[0].Quantity = 99
	assert.Equal(t, 2, order.LineItems[0].Quantity)
	assert.NotEqual(t, order.ID, newOrder(req, time.Now()).ID)
}
