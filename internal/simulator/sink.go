package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"procodus.dev/telemetry-hub/pkg/metrics"
	"procodus.dev/telemetry-hub/pkg/mq"
	"procodus.dev/telemetry-hub/pkg/wire"
)

// DefaultFallbackURL is where the devices fall back to when their configured server fails.
const DefaultFallbackURL = "http://localhost:5000"

// Sink delivers simulated readings to the telemetry server.
type Sink interface {
	SendFrame(ctx context.Context, frame string) error
	SendPayload(ctx context.Context, payload map[string]any) error
	Close() error
}

// StatusError is returned when the server answers with anything but 200.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.URL, e.Code, e.Body)
}

// HTTPSink posts frames to /data and payloads to /upload, the way the devices do.
type HTTPSink struct {
	logger   *slog.Logger
	client   *http.Client
	baseURL  string
	fallback string
	metrics  *metrics.SimulatorMetrics // Optional metrics
}

// HTTPConfig holds the configuration for the HTTPSink.
type HTTPConfig struct {
	Logger *slog.Logger

	// BaseURL is the server root, without the /data or /upload path.
	BaseURL string
	// FallbackURL is tried once when BaseURL fails. Defaults to DefaultFallbackURL; a
	// fallback equal to BaseURL is never retried.
	FallbackURL string
	// Timeout bounds each request. Defaults to 5s.
	Timeout time.Duration

	Metrics *metrics.SimulatorMetrics
}

// NewHTTPSink creates a new HTTPSink.
func NewHTTPSink(cfg *HTTPConfig) (*HTTPSink, error) {
	if cfg == nil {
		return nil, errors.New("http sink config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.BaseURL == "" {
		return nil, errors.New("base URL cannot be empty")
	}

	fallback := cfg.FallbackURL
	if fallback == "" {
		fallback = DefaultFallbackURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &HTTPSink{
		logger:   cfg.Logger,
		client:   &http.Client{Timeout: timeout},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		fallback: strings.TrimRight(fallback, "/"),
		metrics:  cfg.Metrics,
	}, nil
}

// SendFrame implements Sink.
func (s *HTTPSink) SendFrame(ctx context.Context, frame string) error {
	return s.post(ctx, "radio", "/data", map[string]string{"data": frame})
}

// SendPayload implements Sink.
func (s *HTTPSink) SendPayload(ctx context.Context, payload map[string]any) error {
	return s.post(ctx, "network", "/upload", payload)
}

// Close implements Sink.
func (s *HTTPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *HTTPSink) post(ctx context.Context, source, path string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode body: %w", err)
	}

	err = s.postTo(ctx, s.baseURL+path, body)
	if err == nil || s.fallback == s.baseURL || ctx.Err() != nil {
		return err
	}

	s.logger.Warn("primary server failed, trying fallback",
		"source", source,
		"url", s.baseURL+path,
		"fallback", s.fallback+path,
		"error", err,
	)
	if s.metrics != nil {
		s.metrics.FallbackAttempts.WithLabelValues(source).Inc()
	}

	if fallbackErr := s.postTo(ctx, s.fallback+path, body); fallbackErr != nil {
		return fmt.Errorf("%w; fallback: %w", err, fallbackErr)
	}
	return nil
}

func (s *HTTPSink) postTo(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send to %s: %w", url, err)
	}
	defer resp.Body.Close()

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode != http.StatusOK {
		return &StatusError{URL: url, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return nil
}

// MQSink publishes frames and payloads to the radio and network queues.
type MQSink struct {
	radio   mq.ClientInterface
	network mq.ClientInterface
}

// NewMQSink creates a sink over one client per queue.
func NewMQSink(radio, network mq.ClientInterface) (*MQSink, error) {
	if radio == nil || network == nil {
		return nil, errors.New("mq clients cannot be nil")
	}
	return &MQSink{radio: radio, network: network}, nil
}

// SendFrame implements Sink.
func (s *MQSink) SendFrame(ctx context.Context, frame string) error {
	body, err := wire.EncodeFrame(frame)
	if err != nil {
		return err
	}
	return s.radio.Push(ctx, mq.Message{
		ContentType: wire.ContentTypeFrameProto,
		Body:        body,
		MessageID:   uuid.NewString(),
	})
}

// SendPayload implements Sink.
func (s *MQSink) SendPayload(ctx context.Context, payload map[string]any) error {
	body, err := wire.EncodePayload(payload)
	if err != nil {
		return err
	}
	return s.network.Push(ctx, mq.Message{
		ContentType: wire.ContentTypePayloadProto,
		Body:        body,
		MessageID:   uuid.NewString(),
	})
}

// Close implements Sink.
func (s *MQSink) Close() error {
	return errors.Join(s.radio.Close(), s.network.Close())
}
