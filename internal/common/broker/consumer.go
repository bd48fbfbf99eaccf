package broker

import (
	"context"
	"fmt"
	"sync"

	apperrors "jobpilot-workers/internal/common/errors"
	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/common/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one message body.
type Handler interface {
	Handle(ctx context.Context, body []byte) error
}

type HandlerFunc func(ctx context.Context, body []byte) error

func (f HandlerFunc) Handle(ctx context.Context, body []byte) error { return f(ctx, body) }

type delivery struct {
	queue string
	amqp.Delivery
}

// Consumer reads every registered queue and handles deliveries one at a
// time. A delivery is acked only after its handler succeeded.
type Consumer struct {
	ch       Channel
	exchange string
	prefetch int
	tag      string
	queues   []string
	handlers map[string]Handler
	errors   *apperrors.ErrorHandler
	logger   logger.Logger
}

func NewConsumer(ch Channel, config *Config, tag string, log logger.Logger) *Consumer {
	prefetch := config.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	log = log.WithFields(map[string]interface{}{"component": "consumer"})
	return &Consumer{
		ch:       ch,
		exchange: config.Exchange,
		prefetch: prefetch,
		tag:      tag,
		handlers: make(map[string]Handler),
		errors:   apperrors.NewErrorHandler(log),
		logger:   log,
	}
}

func (c *Consumer) Register(queue string, h Handler) {
	if _, ok := c.handlers[queue]; !ok {
		c.queues = append(c.queues, queue)
	}
	c.handlers[queue] = h
}

// Run consumes until ctx is done or a handler fails with anything other
// than invalid input. The in-flight delivery is always finished before
// Run returns; unacked deliveries go back to the broker when the channel
// closes.
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.queues) == 0 {
		return fmt.Errorf("no queues registered")
	}
	if err := c.ch.Qos(c.prefetch, 0, false); err != nil {
		return apperrors.NewRetryable(apperrors.ErrCodeBrokerUnavailable, "set qos", err)
	}
	if err := Declare(c.ch, c.exchange, c.queues...); err != nil {
		return err
	}

	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()

	merged := make(chan delivery)
	var wg sync.WaitGroup
	for _, q := range c.queues {
		deliveries, err := c.ch.ConsumeWithContext(consumeCtx, q, c.tag+"-"+q, false, false, false, false, nil)
		if err != nil {
			return apperrors.NewRetryable(apperrors.ErrCodeBrokerUnavailable, "consume "+q, err)
		}
		wg.Add(1)
		go func(queue string, in <-chan amqp.Delivery) {
			defer wg.Done()
			for {
				select {
				case <-consumeCtx.Done():
					return
				case d, ok := <-in:
					if !ok {
						return
					}
					select {
					case merged <- delivery{queue: queue, Delivery: d}:
					case <-consumeCtx.Done():
						return
					}
				}
			}
		}(q, deliveries)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	c.logger.Info("consumer started", map[string]interface{}{
		"queues":   c.queues,
		"prefetch": c.prefetch,
	})

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", nil)
			return nil
		case <-done:
			if ctx.Err() != nil {
				return nil
			}
			return apperrors.NewRetryable(apperrors.ErrCodeBrokerUnavailable, "delivery channels closed", nil)
		case d := <-merged:
			// Shutdown waits for this message; it is not cut short.
			if err := c.dispatch(context.WithoutCancel(ctx), d); err != nil {
				return err
			}
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, d delivery) error {
	fields := map[string]interface{}{
		"queue":       d.queue,
		"deliveryTag": d.DeliveryTag,
		"messageId":   d.MessageId,
		"redelivered": d.Redelivered,
	}
	c.logger.Debug("delivery received", fields)

	err := c.handle(ctx, d)
	if err == nil {
		metrics.QueueDeliveries.WithLabelValues(d.queue, "acked").Inc()
		if ackErr := d.Ack(false); ackErr != nil {
			return apperrors.NewRetryable(apperrors.ErrCodeBrokerUnavailable, "ack", ackErr)
		}
		return nil
	}

	switch c.errors.Handle("consumer", err, fields) {
	case apperrors.DispositionDeadLetter:
		metrics.QueueDeliveries.WithLabelValues(d.queue, "rejected").Inc()
		if rejErr := d.Reject(false); rejErr != nil {
			return apperrors.NewRetryable(apperrors.ErrCodeBrokerUnavailable, "reject", rejErr)
		}
		return nil
	default:
		metrics.QueueDeliveries.WithLabelValues(d.queue, "unacked").Inc()
		return fmt.Errorf("queue %s: %w", d.queue, err)
	}
}

// handle turns a handler panic into a fatal error so the delivery stays
// unacked.
func (c *Consumer) handle(ctx context.Context, d delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewFatal(apperrors.ErrCodeInternal, "handler panic", fmt.Errorf("%v", r))
		}
	}()
	return c.handlers[d.queue].Handle(ctx, d.Body)
}
