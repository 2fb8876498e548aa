package backend

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"procodus.dev/telemetry-hub/internal/telemetry"
	"procodus.dev/telemetry-hub/pkg/metrics"
)

// RouterConfig holds the dependencies of the HTTP API.
type RouterConfig struct {
	Logger   *slog.Logger
	Store    telemetry.Store
	Ingester *Ingester
	Verifier Verifier
	Metrics  *metrics.BackendMetrics // Optional metrics
	// Gatherer backs GET /metrics. Defaults to the process-wide registry.
	Gatherer prometheus.Gatherer

	// CORSOrigins lists allowed browser origins. Empty or "*" allows any origin.
	CORSOrigins []string
	// RateLimit is the sustained requests per second across all clients. Zero disables it.
	RateLimit float64
	RateBurst int
	Debug     bool
}

// NewRouter builds the HTTP API.
func NewRouter(cfg *RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(recovery(cfg.Logger))
	r.Use(requestLogger(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(instrument(cfg.Metrics))
	}
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit)
		}
		r.Use(rateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimit), max(burst, 1)), cfg.Logger))
	}

	verifier := cfg.Verifier
	if verifier == nil {
		verifier = denyAll{}
	}

	h := &handlers{
		logger:   cfg.Logger,
		store:    cfg.Store,
		ingester: cfg.Ingester,
		verifier: verifier,
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = metrics.Registry
	}

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(metrics.HandlerFor(gatherer)))

	// Device ingestion
	r.POST("/data", h.receiveFrame)
	r.POST("/upload", h.receivePayload)

	api := r.Group("/api")
	{
		api.GET("/telemetry", h.snapshot)
		api.GET("/logs", h.logs)
		api.GET("/logs/export", h.exportLogs)
		api.GET("/gyro", h.orientation)
		api.GET("/stats", h.stats)
		api.POST("/login", h.login)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}

	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
