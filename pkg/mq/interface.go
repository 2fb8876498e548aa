package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes messages to a queue.
type Publisher interface {
	// Push publishes msg and blocks until the broker confirms it.
	Push(ctx context.Context, msg Message) error

	// UnsafePush publishes msg without waiting for a confirmation.
	UnsafePush(ctx context.Context, msg Message) error
}

// ClientInterface is the full queue client surface.
type ClientInterface interface {
	Publisher

	// Queue returns the queue name the client is bound to.
	Queue() string

	// Consume starts delivering queue messages under the consumer tag. Each delivery must be
	// acknowledged with Ack or rejected with Nack.
	Consume(consumer string) (<-chan amqp.Delivery, error)

	// Close shuts down the channel and connection.
	Close() error
}

var _ ClientInterface = (*Client)(nil)
