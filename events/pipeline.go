// Package events hands committed order mutations to services outside the
// process (a message broker, a receipt bucket). Delivery is asynchronous
// and best-effort: a slow or failing sink never blocks a mutation.
package events

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"go-restaurant-orderhub/models"
)

// Sink receives every published event in publish order.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev models.OrderEvent) error
}

// Publisher is what the order service depends on.
type Publisher interface {
	Publish(ev models.OrderEvent)
}

// Pipeline queues events and feeds them to its sinks from one goroutine.
type Pipeline struct {
	sinks   []Sink
	timeout time.Duration
	queue   chan models.OrderEvent
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewPipeline starts the worker. size bounds the queue; events published
// while it is full are dropped and logged.
func NewPipeline(size int, timeout time.Duration, sinks ...Sink) *Pipeline {
	if size <= 0 {
		size = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	p := &Pipeline{
		sinks:   sinks,
		timeout: timeout,
		queue:   make(chan models.OrderEvent, size),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Pipeline) Publish(ev models.OrderEvent) {
	if len(p.sinks) == 0 {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- ev:
	default:
		log.WithFields(log.Fields{"event": ev.Type, "order_id": ev.Order.ID}).Warn("event queue full, dropping event")
	}
}

func (p *Pipeline) run() {
	defer close(p.done)
	for ev := range p.queue {
		for _, s := range p.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
			if err := s.Handle(ctx, ev); err != nil {
				log.WithError(err).WithFields(log.Fields{
					"sink":     s.Name(),
					"event":    ev.Type,
					"order_id": ev.Order.ID,
				}).Error("event sink failed")
			}
			cancel()
		}
	}
}

// Close stops accepting events and waits until queued ones are handled.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
}
