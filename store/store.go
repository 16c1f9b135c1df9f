// Package store owns every order record. MemoryStore is the authoritative
// implementation; durable backends in the sub-packages mirror it
// write-through and hydrate it on start.
package store

import (
	"context"

	"go-restaurant-orderhub/models"
)

// OrderStore is the contract the intake, lifecycle and dispatch code
// depends on. Every order lives in exactly one of the active or archive
// tables.
type OrderStore interface {
	// Insert stores a new pending order in the active table and assigns
	// its per-branch sequence number.
	Insert(ctx context.Context, order models.Order) (models.Order, error)
	// GetActive returns the branch's active orders newest-first, ties
	// broken by id.
	GetActive(ctx context.Context, branch string) ([]models.Order, error)
	// GetByID searches the active table, then the archive.
	GetByID(ctx context.Context, id string) (models.Order, models.Location, error)
	// ApplyTransition validates and applies t; archive transitions move
	// the order to the archive table.
	ApplyTransition(ctx context.Context, id string, t models.Transition) (models.Order, error)
	// Discard removes an active order without archiving it.
	Discard(ctx context.Context, id string) (models.Order, error)
	// ListArchive returns archived orders newest-first. An empty branch
	// matches every branch; limit <= 0 means no limit.
	ListArchive(ctx context.Context, branch string, limit int) ([]models.Order, error)
}

// Persister receives every committed change before it becomes visible.
// A returned error aborts the mutation.
type Persister interface {
	SaveOrder(ctx context.Context, order models.Order, loc models.Location) error
	// DeleteOrder drops a discarded order. Its sequence number must still
	// count towards the branch counter passed to Hydrate on the next start.
	DeleteOrder(ctx context.Context, order models.Order) error
}
