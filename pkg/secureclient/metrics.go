package secureclient

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/polisai/polis-secureclient/pkg/secureclient"

// Outcome label values for secureclient_requests_total.
const outcomeSuccess = "success"

var (
	defaultMetricsOnce sync.Once
	defaultMetricsInst *Metrics
	defaultMetricsErr  error
)

// Metrics records request-level instruments. A nil *Metrics records nothing.
type Metrics struct {
	requestsTotal     metric.Int64Counter
	requestDuration   metric.Float64Histogram
	responseBytes     metric.Int64Histogram
	handshakeDuration metric.Float64Histogram
	handshakeErrors   metric.Int64Counter
	readTimeouts      metric.Int64Counter
	sessionsByVersion metric.Int64Counter
}

// DefaultMetrics returns metrics bound to the global meter provider.
func DefaultMetrics() (*Metrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetricsInst, defaultMetricsErr = NewMetrics(otel.GetMeterProvider())
	})
	return defaultMetricsInst, defaultMetricsErr
}

// NewMetrics creates the instruments on provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)
	m := &Metrics{}

	var err error

	m.requestsTotal, err = meter.Int64Counter(
		"secureclient_requests_total",
		metric.WithDescription("Secure requests by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.requestDuration, err = meter.Float64Histogram(
		"secureclient_request_duration_seconds",
		metric.WithDescription("Time from dial to sealed response"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.responseBytes, err = meter.Int64Histogram(
		"secureclient_response_bytes",
		metric.WithDescription("Size of sealed responses"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	m.handshakeDuration, err = meter.Float64Histogram(
		"secureclient_handshake_duration_seconds",
		metric.WithDescription("TLS handshake duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.handshakeErrors, err = meter.Int64Counter(
		"secureclient_handshake_errors_total",
		metric.WithDescription("Failed TLS handshakes by reason"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	m.readTimeouts, err = meter.Int64Counter(
		"secureclient_read_timeouts_total",
		metric.WithDescription("Responses ended by a stalled read"),
		metric.WithUnit("{timeout}"),
	)
	if err != nil {
		return nil, err
	}

	m.sessionsByVersion, err = meter.Int64Counter(
		"secureclient_tls_sessions_total",
		metric.WithDescription("Negotiated sessions by TLS version and cipher suite"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordHandshake records a successful handshake
func (m *Metrics) RecordHandshake(ctx context.Context, version, cipherSuite string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tls_version", version),
		attribute.String("cipher_suite", cipherSuite),
	)
	m.handshakeDuration.Record(ctx, duration.Seconds(), attrs)
	m.sessionsByVersion.Add(ctx, 1, attrs)
}

// RecordHandshakeError records a failed handshake
func (m *Metrics) RecordHandshakeError(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.handshakeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRequest records a finished request. responseBytes is only recorded on
// success.
func (m *Metrics) RecordRequest(ctx context.Context, outcome string, duration time.Duration, responseBytes int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.requestsTotal.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, duration.Seconds(), attrs)
	if outcome == outcomeSuccess {
		m.responseBytes.Record(ctx, int64(responseBytes))
	}
}

// RecordReadTimeout records a response ended by a stalled read
func (m *Metrics) RecordReadTimeout(ctx context.Context) {
	if m == nil {
		return
	}
	m.readTimeouts.Add(ctx, 1)
}
