// Package mq provides a RabbitMQ queue client that keeps its connection alive, publishes with
// broker confirmations and hands deliveries to consumers.
package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/telemetry-hub/pkg/metrics"
)

const (
	// Delay between dial attempts after a connection failure.
	reconnectDelay = 5 * time.Second

	// Delay before re-opening a channel after a channel exception.
	reInitDelay = 2 * time.Second

	// Number of publish attempts Push makes before giving up.
	maxPushAttempts = 5

	defaultPrefetch = 1
)

var (
	ErrNotConnected       = errors.New("not connected to a server")
	ErrClosed             = errors.New("client is closed")
	ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
	ErrNotAcknowledged    = errors.New("message not acknowledged by broker")
)

// Message is one queue message.
type Message struct {
	ContentType string
	Body        []byte
	MessageID   string
}

// Config holds the queue client configuration.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.MQMetrics // Optional metrics

	// URL is the AMQP broker URL.
	URL string
	// Queue is declared on every (re)connect and is the target of Push and Consume.
	Queue string
	// Durable declares the queue durable and publishes persistent messages.
	Durable bool
	// Prefetch bounds unacknowledged deliveries per consumer. Defaults to 1.
	Prefetch int
}

// Client is a single-queue RabbitMQ client.
type Client struct {
	logger   *slog.Logger
	metrics  *metrics.MQMetrics
	queue    string
	durable  bool
	prefetch int

	mu              sync.Mutex
	ready           bool
	conn            *amqp.Connection
	channel         *amqp.Channel
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation

	// publishMu serialises confirmed publishes so every confirmation matches its publish.
	publishMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a client and starts connecting in the background. The client is usable
// immediately; operations fail with ErrNotConnected or retry until the broker is reachable.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.URL == "" {
		return nil, errors.New("broker url cannot be empty")
	}

	if cfg.Queue == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	c := &Client{
		logger:   cfg.Logger.With("queue", cfg.Queue),
		metrics:  cfg.Metrics,
		queue:    cfg.Queue,
		durable:  cfg.Durable,
		prefetch: prefetch,
		done:     make(chan struct{}),
	}
	go c.maintain(cfg.URL)

	return c, nil
}

// Queue returns the queue the client is bound to.
func (c *Client) Queue() string {
	return c.queue
}

// Ready reports whether the client currently holds an open channel.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// maintain dials until it succeeds, then keeps the channel open until the connection drops or
// the client is closed.
func (c *Client) maintain(url string) {
	for {
		c.setReady(false)

		if c.metrics != nil {
			c.metrics.ReconnectAttempts.Inc()
		}

		c.logger.Info("connecting to broker")
		conn, err := amqp.Dial(url)
		if err != nil {
			c.setConnected(false)
			c.logger.Error("failed to connect to broker, retrying", "error", err, "delay", reconnectDelay)

			select {
			case <-c.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.notifyConnClose = conn.NotifyClose(make(chan *amqp.Error, 1))
		c.mu.Unlock()
		c.setConnected(true)
		c.logger.Info("connected to broker")

		if closed := c.keepChannel(conn); closed {
			return
		}
	}
}

// keepChannel opens the channel and re-opens it after channel exceptions. It returns true when
// the client was closed and false when the connection was lost.
func (c *Client) keepChannel(conn *amqp.Connection) bool {
	for {
		c.setReady(false)

		if err := c.openChannel(conn); err != nil {
			c.logger.Error("failed to open channel, retrying", "error", err, "delay", reInitDelay)

			select {
			case <-c.done:
				return true
			case <-c.notifyConnClose:
				c.setConnected(false)
				c.logger.Warn("connection closed, reconnecting")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-c.done:
			return true
		case err := <-c.notifyConnClose:
			c.setConnected(false)
			c.logger.Warn("connection closed, reconnecting", "reason", err)
			return false
		case err := <-c.notifyChanClose:
			c.logger.Warn("channel closed, reopening", "reason", err)
		}
	}
}

func (c *Client) openChannel(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to enable confirms: %w", err)
	}

	if _, err := ch.QueueDeclare(
		c.queue,
		c.durable, // Durable
		false,     // Delete when unused
		false,     // Exclusive
		false,     // No-wait
		nil,       // Arguments
	); err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	c.mu.Lock()
	c.channel = ch
	c.notifyChanClose = ch.NotifyClose(make(chan *amqp.Error, 1))
	c.notifyConfirm = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	c.ready = true
	c.mu.Unlock()

	c.logger.Info("channel ready")
	return nil
}

func (c *Client) setReady(ready bool) {
	c.mu.Lock()
	c.ready = ready
	c.mu.Unlock()
}

func (c *Client) setConnected(connected bool) {
	if c.metrics == nil {
		return
	}
	if connected {
		c.metrics.ConnectionStatus.Set(1)
	} else {
		c.metrics.ConnectionStatus.Set(0)
	}
}

// Push publishes msg and waits for the broker to confirm it. While the client is disconnected
// or the broker nacks, Push retries with exponential backoff and gives up with
// ErrMaxRetriesExceeded after maxPushAttempts.
func (c *Client) Push(ctx context.Context, msg Message) error {
	if c.metrics != nil {
		timer := prometheus.NewTimer(c.metrics.PushDuration.WithLabelValues(c.queue))
		defer timer.ObserveDuration()
	}

	b := newBackoff()
	for attempt := 1; ; attempt++ {
		err := c.pushConfirmed(ctx, msg)
		if err == nil {
			if c.metrics != nil {
				c.metrics.MessagesPushed.WithLabelValues(c.queue).Inc()
			}
			if attempt > 1 {
				c.logger.Info("push confirmed after retries", "attempts", attempt)
			}
			return nil
		}

		if ctx.Err() != nil {
			c.pushFailed("context_canceled")
			return ctx.Err()
		}
		if errors.Is(err, ErrClosed) {
			c.pushFailed("closed")
			return err
		}
		if attempt >= maxPushAttempts {
			c.logger.Error("giving up on push", "error", err, "attempts", attempt)
			c.pushFailed("max_retries_exceeded")
			return fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, err)
		}

		delay := b.next()
		c.logger.Warn("push failed, retrying", "error", err, "attempt", attempt, "backoff", delay)

		if err := b.wait(ctx, c.done, delay); err != nil {
			c.pushFailed("canceled")
			return err
		}
	}
}

func (c *Client) pushFailed(reason string) {
	if c.metrics != nil {
		c.metrics.PushFailures.WithLabelValues(c.queue, reason).Inc()
	}
}

// pushConfirmed performs one publish and waits for its confirmation.
func (c *Client) pushConfirmed(ctx context.Context, msg Message) error {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.Lock()
	confirms := c.notifyConfirm
	c.mu.Unlock()

	if err := c.UnsafePush(ctx, msg); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	case confirm, ok := <-confirms:
		if !ok {
			return ErrNotConnected
		}
		if !confirm.Ack {
			return fmt.Errorf("%w: delivery tag %d", ErrNotAcknowledged, confirm.DeliveryTag)
		}
		return nil
	}
}

// UnsafePush publishes msg without waiting for a confirmation. It fails fast with
// ErrNotConnected when no channel is open.
func (c *Client) UnsafePush(ctx context.Context, msg Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.mu.Lock()
	ready, ch := c.ready, c.channel
	c.mu.Unlock()

	if !ready || ch == nil {
		return ErrNotConnected
	}

	pub := amqp.Publishing{
		ContentType: msg.ContentType,
		MessageId:   msg.MessageID,
		Timestamp:   time.Now().UTC(),
		Body:        msg.Body,
	}
	if c.durable {
		pub.DeliveryMode = amqp.Persistent
	}

	return ch.PublishWithContext(
		ctx,
		"",      // Exchange
		c.queue, // Routing key
		false,   // Mandatory
		false,   // Immediate
		pub,
	)
}

// Consume starts a consumer on the queue. Every delivery must be acknowledged with Ack, or
// rejected with Nack; the delivery channel closes when the channel or connection is lost.
func (c *Client) Consume(consumer string) (<-chan amqp.Delivery, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}

	c.mu.Lock()
	ready, ch := c.ready, c.channel
	c.mu.Unlock()

	if !ready || ch == nil {
		return nil, ErrNotConnected
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	return ch.Consume(
		c.queue,
		consumer,
		false, // Auto-Ack
		false, // Exclusive
		false, // No-local
		false, // No-Wait
		nil,   // Args
	)
}

// Close stops reconnecting and closes the channel and connection. Closing an already closed
// client returns ErrClosed.
func (c *Client) Close() error {
	closed := true
	c.closeOnce.Do(func() {
		closed = false
		close(c.done)
	})
	if closed {
		return ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ready = false
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}

	if c.metrics != nil {
		c.metrics.ConnectionStatus.Set(0)
	}

	c.logger.Info("queue client closed")
	return errors.Join(errs...)
}
