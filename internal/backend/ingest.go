package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"procodus.dev/telemetry-hub/internal/telemetry"
	"procodus.dev/telemetry-hub/pkg/metrics"
)

// Transports an ingestion can arrive on.
const (
	TransportHTTP = "http"
	TransportAMQP = "amqp"
)

// Ingester runs decoded input through the parser or normalizer and into the store. HTTP
// handlers and queue consumers share it so both paths behave identically.
type Ingester struct {
	logger  *slog.Logger
	store   telemetry.Store
	stats   IngestStats
	metrics *metrics.BackendMetrics // Optional metrics
}

// IngesterConfig holds the configuration for the Ingester.
type IngesterConfig struct {
	Logger  *slog.Logger
	Store   telemetry.Store
	Stats   IngestStats
	Metrics *metrics.BackendMetrics
}

// NewIngester creates a new Ingester. Without Stats the counters are kept in memory.
func NewIngester(cfg *IngesterConfig) (*Ingester, error) {
	if cfg == nil {
		return nil, errors.New("ingester config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	stats := cfg.Stats
	if stats == nil {
		stats = NewMemoryStats()
	}

	return &Ingester{
		logger:  cfg.Logger,
		store:   cfg.Store,
		stats:   stats,
		metrics: cfg.Metrics,
	}, nil
}

// IngestFrame parses a radio frame and stores it.
func (i *Ingester) IngestFrame(ctx context.Context, transport, frame string) (*telemetry.Record, error) {
	rec, err := telemetry.ParseFrame(frame)
	if err == nil {
		err = i.store.Append(ctx, rec)
	}
	i.observe(ctx, telemetry.SourceRadio, transport, rec, err)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// IngestPayload normalizes a network payload and stores it.
func (i *Ingester) IngestPayload(ctx context.Context, transport string, p telemetry.Payload) (*telemetry.Record, error) {
	rec, err := telemetry.NormalizePayload(p)
	if err == nil {
		err = i.store.Append(ctx, rec)
	}
	i.observe(ctx, telemetry.SourceNetwork, transport, rec, err)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Stats returns the ingestion counters.
func (i *Ingester) Stats(ctx context.Context) (map[telemetry.Source]SourceStats, error) {
	return i.stats.Snapshot(ctx)
}

func (i *Ingester) observe(ctx context.Context, source telemetry.Source, transport string, rec *telemetry.Record, err error) {
	outcome := OutcomeAccepted
	switch {
	case err == nil:
		i.logger.Debug("record stored",
			"source", source,
			"transport", transport,
			"id", rec.ID,
		)
	case telemetry.IsClientError(err):
		outcome = OutcomeRejected
		i.logger.Warn("input rejected",
			"source", source,
			"transport", transport,
			"error", err,
		)
	default:
		outcome = OutcomeFailed
		i.logger.Error("ingestion failed",
			"source", source,
			"transport", transport,
			"error", err,
		)
	}

	if i.metrics != nil {
		i.metrics.IngestTotal.WithLabelValues(string(source), transport, string(outcome)).Inc()
	}

	if statsErr := i.stats.Incr(ctx, source, outcome); statsErr != nil {
		i.logger.Warn("failed to update ingest counters", "error", statsErr)
	}
}

// frameField extracts the frame from a {"data": "<frame>"} envelope.
func frameField(p telemetry.Payload) (string, error) {
	switch v := p["data"].(type) {
	case nil:
		return "", telemetry.ErrNoData
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("%w: data is %T", telemetry.ErrInvalidFormat, v)
	}
}
