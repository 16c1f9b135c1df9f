package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"go-restaurant-orderhub/models"
)

const DefaultExchange = "order_events"

// AMQPSink publishes every event to a durable topic exchange with the
// routing key orders.<branch>.<event type> and waits for the broker
// confirm of that publish.
type AMQPSink struct {
	conn      *amqp.Connection
	ch        *amqp.Channel
	publisher confirmPublisher
	exchange  string
}

// confirmation is the broker's answer to a single publish.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type confirmPublisher interface {
	publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error)
}

type channelPublisher struct {
	ch *amqp.Channel
}

func (p channelPublisher) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errors.New("channel is not in confirm mode")
	}
	return dc, nil
}

func DialAMQP(url, exchange string) (*AMQPSink, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open amqp channel")
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "enable publisher confirms")
	}
	return &AMQPSink{conn: conn, ch: ch, publisher: channelPublisher{ch: ch}, exchange: exchange}, nil
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Handle(ctx context.Context, ev models.OrderEvent) error {
	key, msg, err := publishing(ev)
	if err != nil {
		return err
	}

	conf, err := s.publisher.publish(ctx, s.exchange, key, msg)
	if err != nil {
		return errors.Wrap(err, "publish order event")
	}
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "wait for confirm of %s", ev.Type)
	}
	if !acked {
		return errors.Errorf("broker NACKed %s for order %s", ev.Type, ev.Order.ID)
	}
	return nil
}

func (s *AMQPSink) Close() error {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func publishing(ev models.OrderEvent) (string, amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return "", amqp.Publishing{}, errors.Wrap(err, "encode order event")
	}
	branch := ev.Order.Branch
	if branch == "" {
		branch = "unknown"
	}
	return "orders." + branch + "." + string(ev.Type), amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   "application/json",
		CorrelationId: ev.Order.ID,
		Timestamp:     time.Now().UTC(),
		Type:          string(ev.Type),
		Headers:       amqp.Table{"x-source": "orderhub"},
		Body:          body,
	}, nil
}
