package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-restaurant-orderhub/models"
)

type memorySink struct {
	mu   sync.Mutex
	got  []models.EventType
	fail bool
}

func (s *memorySink) Name() string { return "memory" }

func (s *memorySink) Handle(_ context.Context, ev models.OrderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, ev.Type)
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func TestPipelineDeliversInOrderToEverySink(t *testing.T) {
	first := &memorySink{fail: true}
	second := &memorySink{}
	p := NewPipeline(8, time.Second, first, second)

	p.Publish(models.OrderEvent{Type: models.EventOrderCreated})
	p.Publish(models.OrderEvent{Type: models.EventOrderTransitioned})
	p.Publish(models.OrderEvent{Type: models.EventOrderArchived})
	p.Close()

	want := []models.EventType{models.EventOrderCreated, models.EventOrderTransitioned, models.EventOrderArchived}
	assert.Equal(t, want, first.got)
	assert.Equal(t, want, second.got)
}

func TestPublishAfterCloseIsIgnored(t *testing.T) {
	sink := &memorySink{}
	p := NewPipeline(1, time.Second, sink)
	p.Close()
	assert.NotPanics(t, func() { p.Publish(models.OrderEvent{Type: models.EventOrderCreated}) })
	assert.Empty(t, sink.got)
}

func TestPublishingRoutesByBranchAndType(t *testing.T) {
	ev := models.OrderEvent{
		Type:       models.EventOrderArchived,
		Order:      models.Order{ID: "a", Branch: "okaz", Status: models.StatusCompleted},
		Transition: models.TransitionArchive,
	}
	key, msg, err := publishing(ev)
	require.NoError(t, err)
	assert.Equal(t, "orders.okaz.order_archived", key)
	assert.Equal(t, "a", msg.CorrelationId)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)

	var decoded models.OrderEvent
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, models.StatusCompleted, decoded.Order.Status)
}

type pendingConfirm struct {
	acked chan bool
}

func (c *pendingConfirm) WaitContext(ctx context.Context) (bool, error) {
	select {
	case ack := <-c.acked:
		return ack, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

type scriptedPublisher struct {
	mu       sync.Mutex
	confirms []*pendingConfirm
	keys     []string
}

func (p *scriptedPublisher) publish(_ context.Context, _, key string, _ amqp.Publishing) (confirmation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &pendingConfirm{acked: make(chan bool, 1)}
	p.confirms = append(p.confirms, c)
	p.keys = append(p.keys, key)
	return c, nil
}

func TestLateConfirmIsNotCreditedToNextPublish(t *testing.T) {
	pub := &scriptedPublisher{}
	sink := &AMQPSink{publisher: pub, exchange: DefaultExchange}
	order := models.Order{ID: "a", Branch: "okaz"}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := sink.Handle(ctx, models.OrderEvent{Type: models.EventOrderCreated, Order: order})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The first publish is acked only after its caller gave up; the second
	// is rejected and must be reported as such.
	pub.confirms[0].acked <- true
	done := make(chan error, 1)
	go func() {
		done <- sink.Handle(context.Background(), models.OrderEvent{Type: models.EventOrderTransitioned, Order: order})
	}()
	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.confirms) == 2
	}, time.Second, time.Millisecond)
	pub.confirms[1].acked <- false

	err = <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NACK")
	assert.Equal(t, []string{"orders.okaz.order_created", "orders.okaz.order_transitioned"}, pub.keys)
}
