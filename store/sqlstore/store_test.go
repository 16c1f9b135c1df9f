package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-restaurant-orderhub/models"
)

func sampleOrder(id string) models.Order {
	car := "Camry"
	return models.Order{
		ID:     id,
		Branch: "okaz",
		Status: models.StatusPending,
		Customer: models.Customer{
			Name:    "Sara",
			Phone:   "0500000000",
			CarType: &car,
		},
		LineItems: []models.LineItem{
			{Name: "Steak", Quantity: 2, UnitPrice: decimal.NewFromInt(13)},
			{Name: "Water", Quantity: 1, UnitPrice: decimal.NewFromInt(1)},
		},
		TotalPrice: decimal.NewFromInt(27),
		CreatedAt:  time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "orders.db")

	s, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	_, err = s.Insert(ctx, sampleOrder("active-1"))
	require.NoError(t, err)
	_, err = s.Insert(ctx, sampleOrder("done-1"))
	require.NoError(t, err)
	_, err = s.Insert(ctx, sampleOrder("gone-1"))
	require.NoError(t, err)
	for _, tr := range []models.Transition{models.TransitionStartPreparing, models.TransitionMarkReady, models.TransitionArchive} {
		_, err = s.ApplyTransition(ctx, "done-1", tr)
		require.NoError(t, err)
	}
	_, err = s.Discard(ctx, "gone-1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	defer reopened.Close()

	active, err := reopened.GetActive(ctx, "okaz")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "active-1", active[0].ID)
	assert.Equal(t, "Camry", *active[0].Customer.CarType)

	done, loc, err := reopened.GetByID(ctx, "done-1")
	require.NoError(t, err)
	assert.Equal(t, models.LocationArchive, loc)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.True(t, decimal.NewFromInt(27).Equal(done.TotalPrice))

	_, _, err = reopened.GetByID(ctx, "gone-1")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)

	next, err := reopened.Insert(ctx, sampleOrder("active-2"))
	require.NoError(t, err)
	assert.Equal(t, 4, next.SequenceNumber)
}

func TestFailedTransitionIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Insert(ctx, sampleOrder("a"))
	require.NoError(t, err)
	_, err = s.ApplyTransition(ctx, "a", models.TransitionMarkReady)
	require.ErrorIs(t, err, models.ErrIllegalTransition)

	var location string
	require.NoError(t, s.DB().GetContext(ctx, &location, `SELECT location FROM orders WHERE id = ?`, "a"))
	assert.Equal(t, string(models.LocationActive), location)
}

func TestDiscardedNumberIsNotReusedAfterReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "orders.db")

	s, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	_, err = s.Insert(ctx, sampleOrder("a"))
	require.NoError(t, err)
	newest, err := s.Insert(ctx, sampleOrder("b"))
	require.NoError(t, err)
	_, err = s.Discard(ctx, "b")
	require.NoError(t, err)

	var payload string
	require.NoError(t, s.DB().GetContext(ctx, &payload, `SELECT payload FROM orders WHERE id = ?`, "b"))
	assert.Empty(t, payload)
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	defer reopened.Close()

	_, _, err = reopened.GetByID(ctx, "b")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
	next, err := reopened.Insert(ctx, sampleOrder("c"))
	require.NoError(t, err)
	assert.Greater(t, next.SequenceNumber, newest.SequenceNumber)
}
