package services

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"go-restaurant-orderhub/events"
	"go-restaurant-orderhub/lifecycle"
	"go-restaurant-orderhub/metrics"
	"go-restaurant-orderhub/models"
	"go-restaurant-orderhub/store"
)

// Notifier is told about every committed mutation. *hub.Dispatcher
// implements it.
type Notifier interface {
	OrderChanged(ctx context.Context, branch, orderID string)
}

type Option func(*OrderService)

func WithEvents(p events.Publisher) Option {
	return func(s *OrderService) { s.events = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *OrderService) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *OrderService) { s.now = now }
}

// OrderService is the single entry point for order mutations. Each
// successful mutation is committed to the store first, then broadcast, then
// published to the event sinks.
type OrderService struct {
	store    store.OrderStore
	notifier Notifier
	events   events.Publisher
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewOrderService(st store.OrderStore, n Notifier, opts ...Option) *OrderService {
	s := &OrderService{store: st, notifier: n, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates req and inserts a new pending order.
func (s *OrderService) Submit(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	if err := Validate(req); err != nil {
		s.metrics.OrderRejected()
		return models.Order{}, err
	}
	// An accepted mutation runs to completion even if the requester goes away.
	ctx = context.WithoutCancel(ctx)
	order, err := s.store.Insert(ctx, newOrder(req, s.now()))
	s.metrics.OrderSubmitted(req.Branch, err)
	if err != nil {
		return models.Order{}, err
	}
	log.WithFields(log.Fields{
		"order_id": order.ID,
		"branch":   order.Branch,
		"number":   order.SequenceNumber,
		"total":    order.TotalPrice.String(),
	}).Info("order submitted")
	s.committed(ctx, models.EventOrderCreated, order, "")
	return order, nil
}

// Transition applies the named transition, accepting either a transition
// name or the status it leads to.
func (s *OrderService) Transition(ctx context.Context, id, name string) (models.Order, error) {
	t, err := lifecycle.ParseTransition(name)
	if err != nil {
		s.metrics.Transition("unknown", err)
		return models.Order{}, err
	}
	ctx = context.WithoutCancel(ctx)
	order, err := s.store.ApplyTransition(ctx, id, t)
	s.metrics.Transition(string(t), err)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"order_id": id, "transition": t}).Info("transition rejected")
		return models.Order{}, err
	}
	log.WithFields(log.Fields{
		"order_id":   order.ID,
		"branch":     order.Branch,
		"transition": t,
		"status":     order.Status,
	}).Info("order transitioned")
	typ := models.EventOrderTransitioned
	if t == models.TransitionComplete || t == models.TransitionArchive {
		typ = models.EventOrderArchived
	}
	s.committed(ctx, typ, order, t)
	return order, nil
}

// Discard removes an active order without archiving it.
func (s *OrderService) Discard(ctx context.Context, id string) (models.Order, error) {
	ctx = context.WithoutCancel(ctx)
	order, err := s.store.Discard(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	log.WithFields(log.Fields{"order_id": order.ID, "branch": order.Branch}).Warn("order discarded")
	s.committed(ctx, models.EventOrderDiscarded, order, "")
	return order, nil
}

func (s *OrderService) Get(ctx context.Context, id string) (models.Order, models.Location, error) {
	return s.store.GetByID(ctx, id)
}

func (s *OrderService) Active(ctx context.Context, branch string) ([]models.Order, error) {
	return s.store.GetActive(ctx, branch)
}

func (s *OrderService) Archive(ctx context.Context, branch string, limit int) ([]models.Order, error) {
	return s.store.ListArchive(ctx, branch, limit)
}

func (s *OrderService) committed(ctx context.Context, typ models.EventType, order models.Order, t models.Transition) {
	if s.notifier != nil {
		s.notifier.OrderChanged(ctx, order.Branch, order.ID)
	}
	if s.events != nil {
		s.events.Publish(models.OrderEvent{Type: typ, Order: order, Transition: t, OccurredAt: s.now()})
	}
}
