package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/packfinderz-stock/pkg/broker"
	"github.com/angelmondragon/packfinderz-stock/pkg/config"
	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"
)

var errURLRequired = errors.New("rabbitmq url is required")

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Confirm(noWait bool) error
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	IsClosed() bool
	Close() error
}

// Client publishes outbox rows to a durable exchange with publisher confirms.
type Client struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
	now      func() time.Time

	mu sync.Mutex
}

// NewClient dials the broker, opens a confirm-mode channel and declares the
// exchange.
func NewClient(ctx context.Context, cfg config.RabbitMQConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errURLRequired
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	client, err := newClient(ch, cfg)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	client.conn = conn
	if logg != nil {
		logg.Info(logg.WithField(ctx, "exchange", client.exchange), "rabbitmq client initialized")
	}
	return client, nil
}

func newClient(ch amqpChannel, cfg config.RabbitMQConfig) (*Client, error) {
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		return nil, errors.New("rabbitmq exchange is required")
	}
	kind := strings.TrimSpace(cfg.ExchangeKind)
	if kind == "" {
		kind = amqp.ExchangeTopic
	}
	if err := ch.ExchangeDeclare(exchange, kind, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &Client{ch: ch, exchange: exchange, now: time.Now}, nil
}

// Publish routes msg on dest.RoutingKey and waits for the broker ack.
func (c *Client) Publish(ctx context.Context, dest broker.Destination, msg broker.Message) error {
	key := strings.TrimSpace(dest.RoutingKey)
	if key == "" {
		return fmt.Errorf("routing key required for exchange %s", c.exchange)
	}

	headers := amqp.Table{}
	for k, v := range msg.Attributes {
		headers[k] = v
	}
	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         msg.Attributes["event_type"],
		Timestamp:    c.now().UTC(),
		Headers:      headers,
		Body:         msg.Data,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	conf, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, c.exchange, key, false, false, publishing)
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	if conf == nil {
		return nil
	}
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm %s: %w", key, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked %s", key)
	}
	return nil
}

// Ping reports whether the channel is still open.
func (c *Client) Ping(context.Context) error {
	if c == nil || c.ch == nil {
		return errors.New("rabbitmq client not initialized")
	}
	if c.ch.IsClosed() {
		return errors.New("rabbitmq channel closed")
	}
	if c.conn != nil && c.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

// Close closes the channel then the connection.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.ch != nil {
		if err := c.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return multierr.Combine(errs...)
}

var _ broker.Publisher = (*Client)(nil)
