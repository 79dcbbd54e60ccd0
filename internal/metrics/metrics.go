// Package metrics registers the Prometheus collectors shared across the
// platform. Exposed at /metrics by the API server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the execution plane.
type Metrics struct {
	// Engine metrics
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	StepsTotal        *prometheus.CounterVec
	ExecutionsRunning prometheus.Gauge

	// Verification worker metrics
	ProbesTotal   *prometheus.CounterVec
	ProbeDuration prometheus.Histogram

	// Provider metrics
	ProviderCallsTotal   *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec

	// Event bus metrics
	BusEventsTotal  *prometheus.CounterVec
	BusDroppedTotal prometheus.Counter
	BusSubscribers  prometheus.Gauge

	// Policy gate metrics
	RateLimitedTotal prometheus.Counter
	IPDeniedTotal    prometheus.Counter
}

// New creates and registers all collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		ExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowline_executions_total",
				Help: "Flow executions by terminal status",
			},
			[]string{"status", "trigger_type"},
		),
		ExecutionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flowline_execution_duration_seconds",
				Help:    "Wall-clock duration of flow executions",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
		),
		StepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowline_execution_steps_total",
				Help: "Execution steps by node type and status",
			},
			[]string{"node_type", "status"},
		),
		ExecutionsRunning: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowline_executions_running",
				Help: "Executions currently in flight in this process",
			},
		),
		ProbesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowline_verification_probes_total",
				Help: "Integration verification probes by result",
			},
			[]string{"result"}, // active, error
		),
		ProbeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flowline_verification_probe_seconds",
				Help:    "Duration of verification probes",
				Buckets: prometheus.DefBuckets,
			},
		),
		ProviderCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowline_provider_calls_total",
				Help: "Outbound provider calls by provider and outcome",
			},
			[]string{"provider", "outcome"}, // outcome: ok, error, timeout
		),
		ProviderCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowline_provider_call_seconds",
				Help:    "Latency of outbound provider calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		BusEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowline_bus_events_total",
				Help: "Events fanned out by the org event bus",
			},
			[]string{"kind"},
		),
		BusDroppedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "flowline_bus_dropped_total",
				Help: "Events dropped for slow subscribers",
			},
		),
		BusSubscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowline_bus_subscribers",
				Help: "Connected bus subscribers",
			},
		),
		RateLimitedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "flowline_rate_limited_total",
				Help: "Requests rejected by the per-user rate quota",
			},
		),
		IPDeniedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "flowline_ip_denied_total",
				Help: "Requests rejected by the IP allowlist",
			},
		),
	}
}
