package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SimulatorMetrics contains Prometheus metrics for the transport simulator.
type SimulatorMetrics struct {
	MessagesSent     *prometheus.CounterVec
	SendFailures     *prometheus.CounterVec
	SendDuration     *prometheus.HistogramVec
	FallbackAttempts *prometheus.CounterVec
	ActiveEmitters   prometheus.Gauge
}

// NewSimulatorMetrics creates simulator metrics and registers them with reg, or with the
// process-wide Registry when reg is nil.
func NewSimulatorMetrics(namespace string, reg prometheus.Registerer) *SimulatorMetrics {
	m := &SimulatorMetrics{
		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "messages_sent_total",
				Help:      "Total number of messages delivered",
			},
			[]string{"source"}, // source: radio, network
		),
		SendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "send_failures_total",
				Help:      "Total number of failed deliveries",
			},
			[]string{"source", "reason"},
		),
		SendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "send_duration_seconds",
				Help:      "Duration of deliveries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		FallbackAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "fallback_attempts_total",
				Help:      "Total number of deliveries retried against the fallback target",
			},
			[]string{"source"},
		),
		ActiveEmitters: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "active_emitters",
				Help:      "Number of currently running emitters",
			},
		),
	}

	registererOr(reg).MustRegister(
		m.MessagesSent,
		m.SendFailures,
		m.SendDuration,
		m.FallbackAttempts,
		m.ActiveEmitters,
	)

	return m
}
