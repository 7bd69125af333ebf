package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Probe outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// ProbeMetrics holds the Prometheus metrics exported by the probe command.
type ProbeMetrics struct {
	probesTotal   *prometheus.CounterVec
	probeDuration prometheus.Histogram
	responseBytes prometheus.Histogram
	lastSuccess   prometheus.Gauge

	// Trust bundle metrics
	bundleReloads *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewProbeMetrics creates a registry with all probe metrics plus the Go
// runtime and process collectors.
func NewProbeMetrics() *ProbeMetrics {
	registry := prometheus.NewRegistry()

	m := &ProbeMetrics{
		probesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secureclient_probes_total",
				Help: "Total number of probe requests by outcome and error type",
			},
			[]string{"outcome", "error_type"},
		),

		probeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "secureclient_probe_duration_seconds",
				Help:    "Probe duration in seconds from dial to response completion",
				Buckets: prometheus.DefBuckets,
			},
		),

		responseBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "secureclient_probe_response_bytes",
				Help:    "Size of probe responses in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
		),

		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "secureclient_probe_last_success_timestamp_seconds",
				Help: "Unix time of the last successful probe",
			},
		),

		bundleReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secureclient_trust_bundle_reloads_total",
				Help: "Total number of trust bundle reload attempts by status",
			},
			[]string{"status"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.probesTotal,
		m.probeDuration,
		m.responseBytes,
		m.lastSuccess,
		m.bundleReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordProbe records a completed probe. errorType is empty on success.
func (m *ProbeMetrics) RecordProbe(errorType string, duration time.Duration, responseBytes int) {
	outcome := OutcomeSuccess
	if errorType != "" {
		outcome = OutcomeFailure
	}
	m.probesTotal.WithLabelValues(outcome, errorType).Inc()
	m.probeDuration.Observe(duration.Seconds())

	if outcome == OutcomeSuccess {
		m.responseBytes.Observe(float64(responseBytes))
		m.lastSuccess.SetToCurrentTime()
	}
}

// RecordBundleReload records a trust bundle reload attempt
func (m *ProbeMetrics) RecordBundleReload(err error) {
	status := OutcomeSuccess
	if err != nil {
		status = OutcomeFailure
	}
	m.bundleReloads.WithLabelValues(status).Inc()
}

// Handler returns the Prometheus HTTP handler instrumented with otelhttp.
func (m *ProbeMetrics) Handler() http.Handler {
	handler := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
	return otelhttp.NewHandler(handler, "secureclient.metrics")
}

// Registry returns the Prometheus registry
func (m *ProbeMetrics) Registry() *prometheus.Registry {
	return m.registry
}
