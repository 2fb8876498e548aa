// Package backend is the telemetry server: the HTTP API, the optional queue consumers and the
// lifecycle that ties them to the store.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"procodus.dev/telemetry-hub/internal/telemetry"
	"procodus.dev/telemetry-hub/pkg/logger"
	"procodus.dev/telemetry-hub/pkg/metrics"
	"procodus.dev/telemetry-hub/pkg/mq"
)

// Server owns the database, the HTTP listener and the queue consumers.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	db         *gorm.DB
	stats      IngestStats
	consumers  []*Consumer
	httpServer *http.Server
	listener   net.Listener
	ready      chan struct{}
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// HTTP configuration
	HTTPHost string
	HTTPPort int

	// Database configuration
	DB telemetry.DBConfig

	// RabbitMQ configuration. Queue ingestion is disabled when RabbitMQURL is empty.
	RabbitMQURL       string
	RadioQueue        string
	NetworkQueue      string
	ConsumerReadyWait time.Duration

	// Redis configuration. Counters are kept in memory when RedisAddr is empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Login credential
	AuthUsername     string
	AuthPasswordHash string

	// HTTP policies
	CORSOrigins []string
	RateLimit   float64
	RateBurst   int
	Debug       bool

	// Registerer and Gatherer back the server metrics. Both default to the process-wide registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.HTTPPort < 0 || cfg.HTTPPort > 65535 {
		return nil, errors.New("HTTP port must be between 0 and 65535")
	}

	if cfg.RabbitMQURL != "" && (cfg.RadioQueue == "" || cfg.NetworkQueue == "") {
		return nil, errors.New("queue names cannot be empty when rabbitmq is enabled")
	}

	if (cfg.AuthUsername == "") != (cfg.AuthPasswordHash == "") {
		return nil, errors.New("auth username and password hash must be set together")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
		ready:  make(chan struct{}),
	}, nil
}

// Addr returns the address the HTTP listener is bound to, once Run has started it.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Ready is closed once the server accepts HTTP requests.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting telemetry server")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	handler, err := s.setup(ctx)
	if err != nil {
		if shutdownErr := s.Shutdown(); shutdownErr != nil {
			return fmt.Errorf("%w; %w", err, shutdownErr)
		}
		return err
	}

	addr := net.JoinHostPort(s.config.HTTPHost, strconv.Itoa(s.config.HTTPPort))
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		err = fmt.Errorf("failed to listen on %s: %w", addr, err)
		if shutdownErr := s.Shutdown(); shutdownErr != nil {
			return fmt.Errorf("%w; %w", err, shutdownErr)
		}
		return err
	}
	s.listener = lis

	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", lis.Addr().String())

	// Start HTTP server in goroutine
	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	close(s.ready)
	s.logger.Info("telemetry server started successfully")

	// Wait for shutdown signal or HTTP error
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			cancel()
			if shutdownErr := s.Shutdown(); shutdownErr != nil {
				return fmt.Errorf("%w; %w", err, shutdownErr)
			}
			return err
		}
	}

	return s.Shutdown()
}

// setup opens the database, the counters and the consumers and returns the HTTP handler.
func (s *Server) setup(ctx context.Context) (http.Handler, error) {
	m := metrics.NewBackendMetrics("telemetry_hub", s.config.Registerer)

	dbCfg := s.config.DB
	dbCfg.Logger = logger.Component(s.logger, "database")

	db, err := telemetry.NewDB(&dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	store, err := telemetry.NewStore(db, m)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	s.logger.Info("database initialized successfully", "driver", dbCfg.Driver)

	if s.config.RedisAddr != "" {
		stats, err := NewRedisStats(ctx, &RedisConfig{
			Addr:     s.config.RedisAddr,
			Password: s.config.RedisPassword,
			DB:       s.config.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ingest counters: %w", err)
		}
		s.stats = stats
		s.logger.Info("ingest counters stored in redis", "addr", s.config.RedisAddr)
	} else {
		s.stats = NewMemoryStats()
		s.logger.Info("ingest counters kept in memory")
	}

	ingester, err := NewIngester(&IngesterConfig{
		Logger:  logger.Component(s.logger, "ingest"),
		Store:   store,
		Stats:   s.stats,
		Metrics: m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ingester: %w", err)
	}

	var verifier Verifier
	if s.config.AuthUsername != "" {
		verifier, err = NewBcryptVerifier(s.config.AuthUsername, s.config.AuthPasswordHash)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize credential verifier: %w", err)
		}
	} else {
		s.logger.Warn("no login credential configured, every login will be refused")
	}

	if s.config.RabbitMQURL != "" {
		if err := s.startConsumers(ctx, ingester, m); err != nil {
			return nil, err
		}
	}

	return NewRouter(&RouterConfig{
		Logger:      logger.Component(s.logger, "http"),
		Store:       store,
		Ingester:    ingester,
		Verifier:    verifier,
		Metrics:     m,
		Gatherer:    s.config.Gatherer,
		CORSOrigins: s.config.CORSOrigins,
		RateLimit:   s.config.RateLimit,
		RateBurst:   s.config.RateBurst,
		Debug:       s.config.Debug,
	}), nil
}

func (s *Server) startConsumers(ctx context.Context, ingester *Ingester, m *metrics.BackendMetrics) error {
	mqMetrics := metrics.NewMQMetrics("telemetry_hub", s.config.Registerer)

	queues := []struct {
		source telemetry.Source
		name   string
	}{
		{telemetry.SourceRadio, s.config.RadioQueue},
		{telemetry.SourceNetwork, s.config.NetworkQueue},
	}

	for _, q := range queues {
		client, err := mq.New(&mq.Config{
			Logger:  logger.Component(s.logger, "mq"),
			Metrics: mqMetrics,
			URL:     s.config.RabbitMQURL,
			Queue:   q.name,
			Durable: true,
		})
		if err != nil {
			return fmt.Errorf("failed to create mq client for %s: %w", q.name, err)
		}

		consumer, err := NewConsumer(&ConsumerConfig{
			Logger:       logger.Component(s.logger, "consumer"),
			Ingester:     ingester,
			Client:       client,
			Source:       q.source,
			Metrics:      m,
			ReadyTimeout: s.config.ConsumerReadyWait,
		})
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to initialize consumer for %s: %w", q.name, err)
		}

		if err := consumer.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to start consumer for %s: %w", q.name, err)
		}
		s.consumers = append(s.consumers, consumer)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down telemetry server")

	var shutdownErr error
	appendErr := func(msg string, err error) {
		s.logger.Error(msg, "error", err)
		if shutdownErr != nil {
			shutdownErr = fmt.Errorf("%w; %s: %w", shutdownErr, msg, err)
		} else {
			shutdownErr = fmt.Errorf("%s: %w", msg, err)
		}
	}

	// Stop accepting requests first so nothing writes while the store closes.
	if s.httpServer != nil {
		s.logger.Info("stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			appendErr("HTTP server shutdown error", err)
		}
		s.logger.Info("HTTP server stopped")
	}

	for _, c := range s.consumers {
		if err := c.Stop(); err != nil {
			appendErr("consumer shutdown error", err)
		}
	}
	s.consumers = nil

	if s.stats != nil {
		if err := s.stats.Close(); err != nil {
			appendErr("ingest counters close error", err)
		}
		s.stats = nil
	}

	if s.db != nil {
		if err := telemetry.CloseDB(s.db, s.logger); err != nil {
			appendErr("database close error", err)
		}
		s.db = nil
	}

	if shutdownErr != nil {
		s.logger.Error("telemetry server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("telemetry server shutdown completed successfully")
	return nil
}
