package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

const defaultPrefetch = 16

// ErrDeliveriesClosed is returned when the broker closes a delivery stream.
var ErrDeliveriesClosed = errors.New("worker: delivery channel closed")

// Channel is the subset of *amqp.Channel the consumer needs.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Consumer feeds deliveries from every request queue to a Handler with
// manual acknowledgements.
type Consumer struct {
	ch       Channel
	handler  *Handler
	tag      string
	prefetch int
	logger   *slog.Logger
}

// NewConsumer builds a consumer. tag prefixes the per-queue consumer tags.
func NewConsumer(ch Channel, handler *Handler, tag string, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{ch: ch, handler: handler, tag: tag, prefetch: defaultPrefetch, logger: logger}
}

// Run consumes until ctx is done or a delivery stream closes.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, queue := range c.handler.Queues().Names() {
		queue := queue
		deliveries, err := c.ch.Consume(queue, c.tag+"-"+queue, false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", queue, err)
		}
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case d, ok := <-deliveries:
					if !ok {
						return fmt.Errorf("%w: %s", ErrDeliveriesClosed, queue)
					}
					c.process(gctx, queue, d)
				}
			}
		})
	}
	return g.Wait()
}

func (c *Consumer) process(ctx context.Context, queue string, d amqp.Delivery) {
	log := c.logger.With(slog.String("queue", queue), slog.String("message_id", d.MessageId))

	err := c.handler.Handle(ctx, queue, d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error("ack failed", slog.Any("error", ackErr))
		}
	case errors.Is(err, ErrMalformedMessage):
		log.Warn("dropping malformed message", slog.Any("error", err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Error("nack failed", slog.Any("error", nackErr))
		}
	default:
		requeue := !d.Redelivered
		log.Error("message processing failed", slog.Bool("requeue", requeue), slog.Any("error", err))
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			log.Error("nack failed", slog.Any("error", nackErr))
		}
	}
}
