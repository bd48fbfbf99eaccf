// Package broker is the AMQP transport: connection setup, the single-loop
// queue consumer and the publisher used by the coordinator commands.
package broker

import (
	"context"
	"fmt"
	"time"

	apperrors "jobpilot-workers/internal/common/errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the part of *amqp.Channel the consumer and producer use.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Config struct {
	URL            string
	Prefetch       int
	ConnectTimeout time.Duration
	Heartbeat      time.Duration
	Exchange       string
}

// Client owns one connection and one channel.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  *Config
}

// Dial connects within ConnectTimeout. Failures are retryable so a
// supervisor restart can try again.
func Dial(config *Config) (*Client, error) {
	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	heartbeat := config.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}

	conn, err := amqp.DialConfig(config.URL, amqp.Config{
		Dial:      amqp.DefaultDial(timeout),
		Heartbeat: heartbeat,
	})
	if err != nil {
		return nil, apperrors.NewRetryable(apperrors.ErrCodeBrokerUnavailable, "connect to broker", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, apperrors.NewRetryable(apperrors.ErrCodeBrokerUnavailable, "open channel", err)
	}
	return &Client{conn: conn, channel: ch, config: config}, nil
}

func (c *Client) Channel() Channel { return c.channel }

// Close closes the channel, which requeues unacked deliveries, then the
// connection.
func (c *Client) Close() error {
	chErr := c.channel.Close()
	connErr := c.conn.Close()
	if chErr != nil && chErr != amqp.ErrClosed {
		return fmt.Errorf("close channel: %w", chErr)
	}
	if connErr != nil && connErr != amqp.ErrClosed {
		return fmt.Errorf("close connection: %w", connErr)
	}
	return nil
}

// HealthCheck reports a dropped connection.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.conn.IsClosed() {
		return apperrors.NewRetryable(apperrors.ErrCodeBrokerUnavailable, "broker connection closed", nil)
	}
	return nil
}

// Declare sets up durable queues, bound to exchange when one is named.
func Declare(ch Channel, exchange string, queues ...string) error {
	if exchange != "" {
		if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return apperrors.NewRetryable(apperrors.ErrCodeBrokerUnavailable, "declare exchange "+exchange, err)
		}
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return apperrors.NewRetryable(apperrors.ErrCodeBrokerUnavailable, "declare queue "+q, err)
		}
		if exchange != "" {
			if err := ch.QueueBind(q, q, exchange, false, nil); err != nil {
				return apperrors.NewRetryable(apperrors.ErrCodeBrokerUnavailable, "bind queue "+q, err)
			}
		}
	}
	return nil
}
