package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go-restaurant-orderhub/helpers"
	"go-restaurant-orderhub/lifecycle"
	"go-restaurant-orderhub/models"
)

var _ OrderStore = (*MemoryStore)(nil)

// MemoryStore keeps the active and archive tables in process memory.
//
// Mutations of one order id are serialized by a per-id lock held across
// validation, persistence and commit. The table lock is only held while
// maps are read or written, so readers always see a whole mutation or
// none of it.
type MemoryStore struct {
	mu      sync.RWMutex
	active  map[string]models.Order
	archive map[string]models.Order
	seq     map[string]int

	orderLocks helpers.KeyedMutex
	persister  Persister
	now        func() time.Time
}

type Option func(*MemoryStore)

// WithPersister mirrors every mutation to p before committing it.
func WithPersister(p Persister) Option {
	return func(s *MemoryStore) { s.persister = p }
}

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		active:  make(map[string]models.Order),
		archive: make(map[string]models.Order),
		seq:     make(map[string]int),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hydrate replaces the tables with previously persisted orders. An id
// found in both inputs is kept in the archive only. Each branch counter
// resumes after the highest of its surviving orders and seqFloor, which
// carries numbers used by discarded orders.
func (s *MemoryStore) Hydrate(active, archived []models.Order, seqFloor map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = make(map[string]models.Order, len(active))
	s.archive = make(map[string]models.Order, len(archived))
	s.seq = make(map[string]int, len(seqFloor))
	for branch, n := range seqFloor {
		s.seq[branch] = n
	}
	for _, o := range archived {
		s.archive[o.ID] = o.Clone()
		s.bumpSeq(o)
	}
	for _, o := range active {
		if _, ok := s.archive[o.ID]; ok {
			continue
		}
		s.active[o.ID] = o.Clone()
		s.bumpSeq(o)
	}
}

func (s *MemoryStore) bumpSeq(o models.Order) {
	if o.SequenceNumber > s.seq[o.Branch] {
		s.seq[o.Branch] = o.SequenceNumber
	}
}

func (s *MemoryStore) Insert(ctx context.Context, order models.Order) (models.Order, error) {
	if order.ID == "" {
		return models.Order{}, errors.New("insert: order id is empty")
	}
	unlock := s.orderLocks.Lock(order.ID)
	defer unlock()

	s.mu.Lock()
	if s.has(order.ID) {
		s.mu.Unlock()
		return models.Order{}, errors.Errorf("insert: order %s already exists", order.ID)
	}
	s.seq[order.Branch]++
	order.SequenceNumber = s.seq[order.Branch]
	s.mu.Unlock()

	order = order.Clone()
	if s.persister != nil {
		if err := s.persister.SaveOrder(ctx, order, models.LocationActive); err != nil {
			return models.Order{}, errors.Wrap(err, "persist new order")
		}
	}

	s.mu.Lock()
	s.active[order.ID] = order
	s.mu.Unlock()
	return order.Clone(), nil
}

func (s *MemoryStore) has(id string) bool {
	if _, ok := s.active[id]; ok {
		return true
	}
	_, ok := s.archive[id]
	return ok
}

func (s *MemoryStore) GetActive(_ context.Context, branch string) ([]models.Order, error) {
	s.mu.RLock()
	out := make([]models.Order, 0, len(s.active))
	for _, o := range s.active {
		if o.Branch == branch {
			out = append(out, o.Clone())
		}
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (models.Order, models.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.active[id]; ok {
		return o.Clone(), models.LocationActive, nil
	}
	if o, ok := s.archive[id]; ok {
		return o.Clone(), models.LocationArchive, nil
	}
	return models.Order{}, "", models.NotFound(id)
}

func (s *MemoryStore) ApplyTransition(ctx context.Context, id string, t models.Transition) (models.Order, error) {
	unlock := s.orderLocks.Lock(id)
	defer unlock()

	s.mu.RLock()
	current, ok := s.active[id]
	s.mu.RUnlock()
	if !ok {
		return models.Order{}, models.NotFound(id)
	}

	next, archive, err := lifecycle.Apply(current, t, s.now())
	if err != nil {
		return models.Order{}, err
	}
	loc := models.LocationActive
	if archive {
		loc = models.LocationArchive
	}
	if s.persister != nil {
		if err := s.persister.SaveOrder(ctx, next, loc); err != nil {
			return models.Order{}, errors.Wrapf(err, "persist %s of order %s", t, id)
		}
	}

	s.mu.Lock()
	if archive {
		delete(s.active, id)
		s.archive[id] = next
	} else {
		s.active[id] = next
	}
	s.mu.Unlock()
	return next.Clone(), nil
}

func (s *MemoryStore) Discard(ctx context.Context, id string) (models.Order, error) {
	unlock := s.orderLocks.Lock(id)
	defer unlock()

	s.mu.RLock()
	current, ok := s.active[id]
	s.mu.RUnlock()
	if !ok {
		return models.Order{}, models.NotFound(id)
	}
	if s.persister != nil {
		if err := s.persister.DeleteOrder(ctx, current); err != nil {
			return models.Order{}, errors.Wrapf(err, "persist discard of order %s", id)
		}
	}

	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
	return current.Clone(), nil
}

func (s *MemoryStore) ListArchive(_ context.Context, branch string, limit int) ([]models.Order, error) {
	s.mu.RLock()
	out := make([]models.Order, 0, len(s.archive))
	for _, o := range s.archive {
		if branch == "" || o.Branch == branch {
			out = append(out, o.Clone())
		}
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortNewestFirst(orders []models.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}
