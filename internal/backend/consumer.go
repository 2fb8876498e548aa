package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/telemetry-hub/internal/telemetry"
	"procodus.dev/telemetry-hub/pkg/metrics"
	"procodus.dev/telemetry-hub/pkg/mq"
	"procodus.dev/telemetry-hub/pkg/wire"
)

const (
	defaultReadyTimeout = 30 * time.Second
	resubscribeDelay    = 500 * time.Millisecond
)

// Consumer feeds one queue into the Ingester. A radio consumer expects frames, a network
// consumer expects payloads.
type Consumer struct {
	logger       *slog.Logger
	ingester     *Ingester
	client       mq.ClientInterface
	source       telemetry.Source
	metrics      *metrics.BackendMetrics
	readyTimeout time.Duration
	started      atomic.Bool
	done         chan struct{}
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger   *slog.Logger
	Ingester *Ingester
	Client   mq.ClientInterface
	Source   telemetry.Source
	Metrics  *metrics.BackendMetrics // Optional metrics

	// ReadyTimeout bounds how long Start waits for the broker. Defaults to 30s.
	ReadyTimeout time.Duration
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Ingester == nil {
		return nil, errors.New("ingester cannot be nil")
	}

	if cfg.Client == nil {
		return nil, errors.New("mq client cannot be nil")
	}

	if !cfg.Source.Valid() {
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}

	timeout := cfg.ReadyTimeout
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}

	return &Consumer{
		logger:       cfg.Logger.With("queue", cfg.Client.Queue(), "source", cfg.Source),
		ingester:     cfg.Ingester,
		client:       cfg.Client,
		source:       cfg.Source,
		metrics:      cfg.Metrics,
		readyTimeout: timeout,
		done:         make(chan struct{}),
	}, nil
}

// Start subscribes to the queue, waiting up to the ready timeout for the broker, and
// processes deliveries in the background until ctx is canceled or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting consumer")

	readyCtx, cancel := context.WithTimeout(ctx, c.readyTimeout)
	defer cancel()

	deliveries, err := c.subscribe(readyCtx)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("consumer started, waiting for messages")

	if c.metrics != nil {
		c.metrics.ActiveConsumers.Inc()
	}

	c.started.Store(true)
	go c.processMessages(ctx, deliveries)

	return nil
}

// subscribe retries Consume until it succeeds, the client is closed or ctx is done.
func (c *Consumer) subscribe(ctx context.Context) (<-chan amqp.Delivery, error) {
	tag := fmt.Sprintf("telemetry-hub-%s", c.source)
	for {
		deliveries, err := c.client.Consume(tag)
		if err == nil {
			return deliveries, nil
		}
		if errors.Is(err, mq.ErrClosed) {
			return nil, err
		}

		c.logger.Debug("queue not ready, retrying", "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ctx.Err(), err)
		case <-time.After(resubscribeDelay):
		}
	}
}

// processMessages handles deliveries and resubscribes when the broker drops the channel.
func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(c.done)
	defer func() {
		if c.metrics != nil {
			c.metrics.ActiveConsumers.Dec()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping message processing")
			return

		case delivery, ok := <-deliveries:
			if ok {
				c.handleDelivery(ctx, delivery)
				continue
			}

			c.logger.Warn("deliveries channel closed, resubscribing")
			next, err := c.subscribe(ctx)
			if err != nil {
				c.logger.Info("consumer stopped receiving", "reason", err)
				return
			}
			deliveries = next
		}
	}
}

// handleDelivery ingests one message. Client input errors are acked and dropped since a
// redelivery would fail the same way; internal failures are requeued.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	start := time.Now()
	queue := c.client.Queue()

	err := c.ingest(ctx, delivery)

	status := "processed"
	switch {
	case err == nil:
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}

	case telemetry.IsClientError(err):
		status = "rejected"
		c.logger.Warn("dropping invalid message",
			"message_id", delivery.MessageId,
			"content_type", delivery.ContentType,
			"error", err,
		)
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}

	default:
		status = "requeued"
		c.logger.Error("failed to ingest message, requeueing",
			"message_id", delivery.MessageId,
			"error", err,
		)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack message", "error", nackErr)
		}
	}

	if c.metrics != nil {
		c.metrics.ConsumerMessagesTotal.WithLabelValues(queue, status).Inc()
		c.metrics.ProcessingDuration.WithLabelValues(queue).Observe(time.Since(start).Seconds())
	}
}

func (c *Consumer) ingest(ctx context.Context, delivery amqp.Delivery) error {
	enc, err := wire.Format(delivery.ContentType)
	if err != nil {
		return fmt.Errorf("%w: %w", telemetry.ErrInvalidFormat, err)
	}

	if c.source == telemetry.SourceRadio {
		frame, err := decodeFrame(enc, delivery.Body)
		if err != nil {
			return err
		}
		_, err = c.ingester.IngestFrame(ctx, TransportAMQP, frame)
		return err
	}

	p, err := decodePayload(enc, delivery.Body)
	if err != nil {
		return err
	}
	_, err = c.ingester.IngestPayload(ctx, TransportAMQP, p)
	return err
}

func decodeFrame(enc wire.Encoding, body []byte) (string, error) {
	switch enc {
	case wire.EncodingFrameProto:
		frame, err := wire.DecodeFrame(body)
		if err != nil {
			return "", fmt.Errorf("%w: %w", telemetry.ErrInvalidFormat, err)
		}
		return frame, nil
	case wire.EncodingText:
		return string(body), nil
	case wire.EncodingJSON:
		p, err := telemetry.DecodePayload(body)
		if err != nil {
			return "", err
		}
		return frameField(p)
	default:
		return "", fmt.Errorf("%w: radio queue cannot carry encoding %d", telemetry.ErrInvalidFormat, enc)
	}
}

func decodePayload(enc wire.Encoding, body []byte) (telemetry.Payload, error) {
	switch enc {
	case wire.EncodingPayloadProto:
		p, err := wire.DecodePayload(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", telemetry.ErrNoData, err)
		}
		return p, nil
	case wire.EncodingJSON:
		return telemetry.DecodePayload(body)
	default:
		return nil, fmt.Errorf("%w: network queue cannot carry encoding %d", telemetry.ErrInvalidFormat, enc)
	}
}

// Stop closes the queue client and waits for in-flight processing to finish.
func (c *Consumer) Stop() error {
	c.logger.Info("stopping consumer")

	var closeErr error
	if err := c.client.Close(); err != nil && !errors.Is(err, mq.ErrClosed) {
		closeErr = fmt.Errorf("failed to close mq client: %w", err)
	}

	if c.started.Load() {
		<-c.done
	}

	c.logger.Info("consumer stopped")
	return closeErr
}
