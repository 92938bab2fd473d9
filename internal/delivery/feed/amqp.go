package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange delivery events are published to.
// The routing key is the delivery id.
const DefaultExchange = "delivery.events"

func declareExchange(ch *amqp091.Channel, name string) error {
	return ch.ExchangeDeclare(
		name,    // name
		"topic", // kind
		true,    // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,     // args
	)
}

// AMQPSource follows a delivery on a RabbitMQ topic exchange through an
// exclusive, auto-deleted queue.
type AMQPSource struct {
	conn     *amqp091.Connection
	exchange string
	logger   Logger
}

// NewAMQPSource builds a source on an open connection. An empty exchange
// selects DefaultExchange.
func NewAMQPSource(conn *amqp091.Connection, exchange string, logger Logger) *AMQPSource {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQPSource{conn: conn, exchange: exchange, logger: orNop(logger)}
}

// Run binds a private queue to the delivery routing key and consumes it.
func (s *AMQPSource) Run(ctx context.Context, sub Subscription, handle func(Event)) error {
	ch, err := s.conn.Channel()
	if err != nil {
		return fmt.Errorf("feed: open channel: %w", err)
	}
	defer ch.Close()

	if err := declareExchange(ch, s.exchange); err != nil {
		return fmt.Errorf("feed: declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("feed: declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, sub.DeliveryID, s.exchange, false, nil); err != nil {
		return fmt.Errorf("feed: bind queue: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("feed: consume: %w", err)
	}
	sub.ready()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return ErrFeedClosed
			}
			ev, err := DecodeEvent(msg.Body)
			if err != nil {
				s.logger.Errorf("feed: delivery %s: %v", sub.DeliveryID, err)
				continue
			}
			handle(ev)
		}
	}
}

// AMQPPublisher publishes delivery events to a topic exchange.
type AMQPPublisher struct {
	ch       *amqp091.Channel
	exchange string
}

// NewAMQPPublisher opens a channel on conn and declares the exchange.
func NewAMQPPublisher(conn *amqp091.Connection, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := declareExchange(ch, exchange); err != nil {
		return nil, errors.Join(ch.Close(), err)
	}
	return &AMQPPublisher{ch: ch, exchange: exchange}, nil
}

// Publish sends ev with the delivery id as routing key.
func (p *AMQPPublisher) Publish(ctx context.Context, deliveryID string, ev Event) error {
	body, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, deliveryID, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
}

// Close releases the publishing channel.
func (p *AMQPPublisher) Close() error { return p.ch.Close() }
