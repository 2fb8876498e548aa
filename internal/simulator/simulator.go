// Package simulator stands in for the field devices: a radio receiver emitting text frames and a
// network device emitting JSON readings with occasional sensor dropouts.
package simulator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"procodus.dev/telemetry-hub/internal/telemetry"
	"procodus.dev/telemetry-hub/pkg/generator"
	"procodus.dev/telemetry-hub/pkg/metrics"
	"procodus.dev/telemetry-hub/pkg/mq"
)

// Config holds the configuration for the Simulator.
type Config struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// Sink receives every generated reading
	Sink Sink
	// RadioInterval is the time between radio frames. Zero disables the radio device.
	RadioInterval time.Duration
	// NetworkInterval is the time between network payloads. Zero disables the network device.
	NetworkInterval time.Duration
	// Count stops each device after that many sends. Zero runs until shutdown.
	Count int
	// Seed makes the generated readings reproducible. Zero picks a random seed.
	Seed uint64
	// NullRates control sensor dropouts on the network device
	NullRates generator.NullRates
	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.SimulatorMetrics
}

// Simulator runs the enabled devices against one sink.
type Simulator struct {
	logger  *slog.Logger
	config  *Config
	sink    Sink
	radio   *generator.RadioGenerator
	network *generator.NetworkGenerator
	metrics *metrics.SimulatorMetrics
	now     func() time.Time
}

var (
	errNoDevice       = errors.New("at least one device interval must be greater than 0")
	errNegativeCount  = errors.New("count cannot be negative")
	errLoggerRequired = errors.New("logger is required")
	errSinkRequired   = errors.New("sink is required")
)

// New creates a new Simulator with the given configuration.
func New(cfg *Config) (*Simulator, error) {
	if cfg == nil {
		return nil, errors.New("simulator config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	if cfg.Sink == nil {
		return nil, errSinkRequired
	}

	if cfg.RadioInterval <= 0 && cfg.NetworkInterval <= 0 {
		return nil, errNoDevice
	}

	if cfg.Count < 0 {
		return nil, errNegativeCount
	}

	s := &Simulator{
		logger:  cfg.Logger,
		config:  cfg,
		sink:    cfg.Sink,
		metrics: cfg.Metrics,
		now:     time.Now,
	}

	if cfg.RadioInterval > 0 {
		s.radio = generator.NewRadioGenerator(cfg.Seed)
	}
	if cfg.NetworkInterval > 0 {
		seed := cfg.Seed
		if seed != 0 {
			seed++
		}
		s.network = generator.NewNetworkGenerator(seed, cfg.NullRates)
	}

	return s, nil
}

// Run starts the devices and blocks until they finish, a shutdown signal arrives or ctx is
// canceled. The sink is closed before Run returns.
func (s *Simulator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	g, gctx := errgroup.WithContext(ctx)

	if s.radio != nil {
		g.Go(func() error {
			s.runDevice(gctx, telemetry.SourceRadio, s.config.RadioInterval, func(ctx context.Context, t time.Time) error {
				return s.sink.SendFrame(ctx, s.radio.Frame(t))
			})
			return nil
		})
	}

	if s.network != nil {
		g.Go(func() error {
			s.runDevice(gctx, telemetry.SourceNetwork, s.config.NetworkInterval, func(ctx context.Context, t time.Time) error {
				return s.sink.SendPayload(ctx, s.network.Payload(t))
			})
			return nil
		})
	}

	s.logger.Info("simulator started",
		"radio_interval", s.config.RadioInterval,
		"network_interval", s.config.NetworkInterval,
		"count", s.config.Count,
	)

	finished := make(chan error, 1)
	go func() {
		finished <- g.Wait()
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
		runErr = <-finished
	case runErr = <-finished:
	}

	s.logger.Info("closing sink...")
	if err := s.sink.Close(); err != nil && !errors.Is(err, mq.ErrClosed) {
		s.logger.Error("failed to close sink", "error", err)
		runErr = errors.Join(runErr, err)
	}

	s.logger.Info("simulator stopped")
	return runErr
}

// runDevice sends one reading immediately and then one per interval. Send failures are logged
// and the device carries on.
func (s *Simulator) runDevice(ctx context.Context, source telemetry.Source, interval time.Duration, send func(context.Context, time.Time) error) {
	if s.metrics != nil {
		s.metrics.ActiveEmitters.Inc()
		defer s.metrics.ActiveEmitters.Dec()
	}

	deviceLogger := s.logger.With(slog.String("source", string(source)))
	deviceLogger.Info("device started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for sent := 0; s.config.Count == 0 || sent < s.config.Count; sent++ {
		if sent > 0 {
			select {
			case <-ctx.Done():
				deviceLogger.Info("device shutting down")
				return
			case <-ticker.C:
			}
		}

		if ctx.Err() != nil {
			deviceLogger.Info("device shutting down")
			return
		}

		s.sendOne(ctx, deviceLogger, source, send)
	}

	deviceLogger.Info("device finished", "count", s.config.Count)
}

func (s *Simulator) sendOne(ctx context.Context, logger *slog.Logger, source telemetry.Source, send func(context.Context, time.Time) error) {
	start := time.Now()
	err := send(ctx, s.now())

	if s.metrics != nil {
		s.metrics.SendDuration.WithLabelValues(string(source)).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error("failed to send reading", "error", err)
		if s.metrics != nil {
			s.metrics.SendFailures.WithLabelValues(string(source), failureReason(err)).Inc()
		}
		return
	}

	logger.Debug("reading sent")
	if s.metrics != nil {
		s.metrics.MessagesSent.WithLabelValues(string(source)).Inc()
	}
}

func failureReason(err error) string {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return "status"
	case errors.Is(err, mq.ErrMaxRetriesExceeded):
		return "max_retries"
	case errors.Is(err, mq.ErrClosed), errors.Is(err, mq.ErrNotConnected):
		return "not_connected"
	default:
		return "transport"
	}
}
