package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"go-restaurant-orderhub/helpers"
	"go-restaurant-orderhub/metrics"
	"go-restaurant-orderhub/models"
	"go-restaurant-orderhub/store"
)

// Dispatcher pushes the current state of the store to subscribed clients.
//
// Every message that carries order state is built from a fresh read and
// enqueued while the branch lock is held, so two broadcasts for the same
// branch can never reach a client out of order, and a client that has
// just subscribed gets its snapshot before any broadcast that follows.
type Dispatcher struct {
	store    store.OrderStore
	registry *Registry
	metrics  *metrics.Metrics

	branches helpers.KeyedMutex
}

func NewDispatcher(st store.OrderStore, reg *Registry, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{store: st, registry: reg, metrics: m}
}

// Attach subscribes c to scope and sends it the matching snapshot. An
// order scope for an unknown id fails with a not-found error and leaves
// the client's scope unchanged.
func (d *Dispatcher) Attach(ctx context.Context, c *Client, scope Scope) error {
	if scope.Kind == ScopeBranch {
		unlock := d.branches.Lock(scope.Branch)
		defer unlock()
		orders, err := d.store.GetActive(ctx, scope.Branch)
		if err != nil {
			return err
		}
		c.setScope(scope)
		d.deliver(c, models.EventActiveOrdersSnapshot, models.ActiveOrdersPayload{Branch: scope.Branch, Orders: orders})
		return nil
	}
	return d.withOrder(ctx, scope.OrderID, func(order models.Order, loc models.Location) {
		c.setScope(scope)
		d.deliver(c, models.EventOrderState, models.OrderStatePayload{Order: order, Archived: loc == models.LocationArchive})
	})
}

// SendOrderState answers a snapshot request for one order without
// changing the client's subscription.
func (d *Dispatcher) SendOrderState(ctx context.Context, c *Client, orderID string) error {
	return d.withOrder(ctx, orderID, func(order models.Order, loc models.Location) {
		d.deliver(c, models.EventOrderState, models.OrderStatePayload{Order: order, Archived: loc == models.LocationArchive})
	})
}

// withOrder runs fn with the order's current state under its branch lock.
func (d *Dispatcher) withOrder(ctx context.Context, orderID string, fn func(models.Order, models.Location)) error {
	order, _, err := d.store.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	unlock := d.branches.Lock(order.Branch)
	defer unlock()
	order, loc, err := d.store.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	fn(order, loc)
	return nil
}

// OrderChanged broadcasts the branch's active list to branch subscribers
// and, when orderID is set, the order's state to its watchers. A watcher
// of an order that no longer exists gets order_discarded.
func (d *Dispatcher) OrderChanged(ctx context.Context, branch, orderID string) {
	start := time.Now()
	unlock := d.branches.Lock(branch)
	defer unlock()
	defer d.metrics.ObserveFanout(start)

	d.broadcastBranch(ctx, branch)
	if orderID != "" {
		d.broadcastOrder(ctx, orderID)
	}
}

func (d *Dispatcher) broadcastBranch(ctx context.Context, branch string) {
	orders, err := d.store.GetActive(ctx, branch)
	if err != nil {
		log.WithError(err).WithField("branch", branch).Error("read active orders for broadcast")
		return
	}
	frame, err := encode(models.EventActiveOrdersSnapshot, models.ActiveOrdersPayload{Branch: branch, Orders: orders})
	if err != nil {
		log.WithError(err).Error("encode active orders snapshot")
		return
	}
	d.registry.ForEachInScope(BranchScope(branch), func(c *Client) {
		d.push(c, models.EventActiveOrdersSnapshot, frame)
	})
}

func (d *Dispatcher) broadcastOrder(ctx context.Context, orderID string) {
	event := models.EventOrderState
	var payload interface{}
	order, loc, err := d.store.GetByID(ctx, orderID)
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		event = models.EventOrderDiscardedNotice
		payload = models.OrderRef{OrderID: orderID}
	case err != nil:
		log.WithError(err).WithField("order_id", orderID).Error("read order for broadcast")
		return
	default:
		payload = models.OrderStatePayload{Order: order, Archived: loc == models.LocationArchive}
	}
	frame, err := encode(event, payload)
	if err != nil {
		log.WithError(err).Error("encode order state")
		return
	}
	d.registry.ForEachInScope(OrderScope(orderID), func(c *Client) {
		d.push(c, event, frame)
	})
}

// Reply sends a private message that carries no order state, such as an
// acknowledgement or an error.
func (d *Dispatcher) Reply(c *Client, event string, payload interface{}) {
	d.deliver(c, event, payload)
}

// Resync rebroadcasts every subscribed branch and order. It bounds how long
// a client can stay wrong if a frame was ever lost in transit.
func (d *Dispatcher) Resync(ctx context.Context) {
	branches, orders := d.registry.Subscriptions()
	for _, b := range branches {
		d.OrderChanged(ctx, b, "")
	}
	for _, id := range orders {
		order, _, err := d.store.GetByID(ctx, id)
		if err != nil {
			// Already announced as discarded; nothing newer to send.
			continue
		}
		func() {
			unlock := d.branches.Lock(order.Branch)
			defer unlock()
			d.broadcastOrder(ctx, id)
		}()
	}
}

// Run resyncs on every tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Resync(ctx)
		}
	}
}

func (d *Dispatcher) deliver(c *Client, event string, payload interface{}) {
	frame, err := encode(event, payload)
	if err != nil {
		log.WithError(err).WithField("event", event).Error("encode message")
		return
	}
	d.push(c, event, frame)
}

// push enqueues frame or, on a DeliveryFailure, closes the client so it
// reconnects and receives a fresh snapshot.
func (d *Dispatcher) push(c *Client, event string, frame []byte) {
	ok := c.enqueue(frame)
	d.metrics.Delivery(event, ok)
	if ok {
		return
	}
	log.WithError(models.ErrDeliveryFailure).WithFields(log.Fields{
		"client_id": c.ID,
		"event":     event,
	}).Warn("client queue full or closed, dropping connection")
	c.Close()
}

func encode(event string, payload interface{}) ([]byte, error) {
	return json.Marshal(models.Message{Event: event, Payload: payload})
}
