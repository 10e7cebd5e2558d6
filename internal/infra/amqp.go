package infra

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker holds an AMQP connection with separate publish and consume channels.
type Broker struct {
	Conn    *amqp.Connection
	Publish *amqp.Channel
	Consume *amqp.Channel
}

// NewBroker dials url, declares a durable topic exchange and binds one
// durable queue per routing key in queues.
func NewBroker(url, exchange string, queues []string) (*Broker, error) {
	if url == "" {
		return nil, fmt.Errorf("amqp url is required")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}
	b := &Broker{Conn: conn}

	if b.Publish, err = conn.Channel(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if b.Consume, err = conn.Channel(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open consume channel: %w", err)
	}

	if err := b.Publish.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	for _, q := range queues {
		if _, err := b.Consume.QueueDeclare(q, true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("declare queue %s: %w", q, err)
		}
		if err := b.Consume.QueueBind(q, q, exchange, false, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("bind queue %s: %w", q, err)
		}
	}
	return b, nil
}

// Close releases the channels and the connection.
func (b *Broker) Close() error {
	if b == nil || b.Conn == nil {
		return nil
	}
	var errs []error
	if b.Consume != nil {
		errs = append(errs, b.Consume.Close())
	}
	if b.Publish != nil {
		errs = append(errs, b.Publish.Close())
	}
	errs = append(errs, b.Conn.Close())
	return errors.Join(errs...)
}
