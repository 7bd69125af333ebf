package secureclient

import (
	"context"
	"crypto/x509"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-secureclient/pkg/trust"
)

const (
	// DefaultTimeout bounds every single read and write.
	DefaultTimeout = time.Second
	// DefaultConnectTimeout bounds establishing the TCP connection.
	DefaultConnectTimeout = 10 * time.Second
)

// Dialer opens the transport connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Option configures a Client.
type Option func(*options)

type options struct {
	readTimeout       time.Duration
	writeTimeout      time.Duration
	connectTimeout    time.Duration
	handshakeTimeout  time.Duration
	evaluator         trust.Evaluator
	rootCAs           *x509.CertPool
	serverName        string
	logger            *slog.Logger
	metrics           *Metrics
	tracerProvider    trace.TracerProvider
	strictReadTimeout bool
	dialer            Dialer
}

func defaultOptions() options {
	return options{
		readTimeout:    DefaultTimeout,
		writeTimeout:   DefaultTimeout,
		connectTimeout: DefaultConnectTimeout,
		evaluator:      trust.Strict,
		dialer:         &net.Dialer{},
	}
}

// WithTimeout sets both the read and the write timeout. Non-positive values
// are ignored.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.readTimeout = d
			o.writeTimeout = d
		}
	}
}

// WithReadTimeout bounds each single read of the response.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.readTimeout = d
		}
	}
}

// WithWriteTimeout bounds each single write of the request.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithConnectTimeout bounds dialing the endpoint.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

// WithHandshakeTimeout bounds the whole TLS handshake. The default is the
// read timeout plus the write timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

// WithTrustEvaluator replaces trust.Strict. A nil evaluator is ignored.
func WithTrustEvaluator(e trust.Evaluator) Option {
	return func(o *options) {
		if e != nil {
			o.evaluator = e
		}
	}
}

// WithRootCAs verifies peers against pool instead of the system roots.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(o *options) { o.rootCAs = pool }
}

// WithServerName overrides the name sent in SNI and checked against the leaf.
// It defaults to the endpoint host.
func WithServerName(name string) Option {
	return func(o *options) { o.serverName = name }
}

// WithLogger sets the logger for request events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records request metrics into m instead of the global meter.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracerProvider sets the provider for request spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithStrictReadTimeout makes a stalled read fail the request with a receive
// error instead of ending the response.
func WithStrictReadTimeout() Option {
	return func(o *options) { o.strictReadTimeout = true }
}

// WithDialer replaces the default net.Dialer.
func WithDialer(d Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dialer = d
		}
	}
}
