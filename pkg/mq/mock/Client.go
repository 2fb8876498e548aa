// Package mock provides test doubles for the mq package interfaces.
package mock

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/telemetry-hub/pkg/mq"
)

// MockClient is a configurable, call-recording implementation of mq.ClientInterface.
type MockClient struct {
	mu sync.Mutex

	// QueueName is returned by Queue.
	QueueName string

	// PushFunc is called when Push is invoked. If nil, returns PushError.
	PushFunc func(ctx context.Context, msg mq.Message) error
	// PushError is returned by Push if PushFunc is nil.
	PushError error
	// Pushed records every message passed to Push.
	Pushed []mq.Message

	// UnsafePushError is returned by UnsafePush.
	UnsafePushError error
	// UnsafePushed records every message passed to UnsafePush.
	UnsafePushed []mq.Message

	// Deliveries is returned by Consume when ConsumeError is nil.
	Deliveries chan amqp.Delivery
	// ConsumeError is returned by Consume.
	ConsumeError error
	// ConsumeCalls counts calls to Consume.
	ConsumeCalls int

	// CloseError is returned by Close.
	CloseError error
	// CloseCalls counts calls to Close.
	CloseCalls int

	closed bool
}

// NewMockClient creates a mock bound to queue with a buffered delivery channel.
func NewMockClient(queue string) *MockClient {
	return &MockClient{
		QueueName:  queue,
		Deliveries: make(chan amqp.Delivery, 16),
	}
}

// Queue implements mq.ClientInterface.
func (m *MockClient) Queue() string {
	return m.QueueName
}

// Push implements mq.Publisher.
func (m *MockClient) Push(ctx context.Context, msg mq.Message) error {
	m.mu.Lock()
	m.Pushed = append(m.Pushed, msg)
	fn, err := m.PushFunc, m.PushError
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, msg)
	}
	return err
}

// UnsafePush implements mq.Publisher.
func (m *MockClient) UnsafePush(_ context.Context, msg mq.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UnsafePushed = append(m.UnsafePushed, msg)
	return m.UnsafePushError
}

// Consume implements mq.ClientInterface.
func (m *MockClient) Consume(string) (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ConsumeCalls++
	if m.closed {
		return nil, mq.ErrClosed
	}
	if m.ConsumeError != nil {
		return nil, m.ConsumeError
	}
	return m.Deliveries, nil
}

// Close implements mq.ClientInterface. The first call closes the delivery channel, as the
// broker does when the connection goes away.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	if !m.closed {
		m.closed = true
		close(m.Deliveries)
	}
	return m.CloseError
}

// PushedMessages returns a copy of the messages recorded by Push.
func (m *MockClient) PushedMessages() []mq.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]mq.Message, len(m.Pushed))
	copy(out, m.Pushed)
	return out
}

// Acknowledger records Ack, Nack and Reject calls made on deliveries.
type Acknowledger struct {
	mu       sync.Mutex
	Acked    []uint64
	Nacked   []uint64
	Requeued []uint64
}

// Ack implements amqp.Acknowledger.
func (a *Acknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Acked = append(a.Acked, tag)
	return nil
}

// Nack implements amqp.Acknowledger.
func (a *Acknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Nacked = append(a.Nacked, tag)
	if requeue {
		a.Requeued = append(a.Requeued, tag)
	}
	return nil
}

// Reject implements amqp.Acknowledger.
func (a *Acknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

// Counts returns the number of acked, nacked and requeued deliveries.
func (a *Acknowledger) Counts() (acked, nacked, requeued int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Acked), len(a.Nacked), len(a.Requeued)
}

var (
	_ mq.ClientInterface = (*MockClient)(nil)
	_ amqp.Acknowledger  = (*Acknowledger)(nil)
)
