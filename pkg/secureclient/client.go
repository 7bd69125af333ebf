package secureclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-secureclient/pkg/securebuf"
)

const tracerName = "github.com/polisai/polis-secureclient/pkg/secureclient"

// Client sends secure requests. It holds configuration only, so one Client
// may serve concurrent calls; every call opens and owns its own session.
type Client struct {
	opts    options
	events  *EventLogger
	metrics *Metrics
	tracer  trace.Tracer
}

// New creates a Client.
func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	events := NewEventLogger(o.logger)

	metrics := o.metrics
	if metrics == nil {
		var err error
		metrics, err = DefaultMetrics()
		if err != nil {
			events.logger.Warn("Secure client metrics disabled", "error", err)
		}
	}

	tp := o.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Client{
		opts:    o,
		events:  events,
		metrics: metrics,
		tracer:  tp.Tracer(tracerName),
	}
}

// SecureRequest sends request to ep with a new Client built from opts.
func SecureRequest(ctx context.Context, ep Endpoint, request []byte, opts ...Option) (*securebuf.Buffer, error) {
	return New(opts...).SecureRequest(ctx, ep, request)
}

// SecureRequest dials ep, negotiates TLS, writes request, and returns the
// response as a sealed buffer holding one unit per received byte.
//
// request must make the peer close the connection after responding (for
// HTTP, "Connection: close"); otherwise the call returns once a read stalls
// for the read timeout. ctx bounds the connect phase only.
//
// Errors are *Error values of type ErrorTypeConnection, ErrorTypeHandshake,
// ErrorTypeTransmission or ErrorTypeReceive. The session is closed before any
// error is returned and no partial response is kept.
func (c *Client) SecureRequest(ctx context.Context, ep Endpoint, request []byte) (*securebuf.Buffer, error) {
	requestID := uuid.NewString()
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, "secureclient.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("server.address", ep.Host),
			attribute.Int("server.port", ep.Port),
			attribute.String("secureclient.request_id", requestID),
			attribute.Int("secureclient.request_bytes", len(request)),
		),
	)
	defer span.End()

	buf, stalled, err := c.do(ctx, span, requestID, ep, request)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(TypeOf(err)))
		c.metrics.RecordRequest(ctx, string(TypeOf(err)), elapsed, 0)
		c.events.LogRequestFailed(ctx, requestID, ep, err, elapsed)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("secureclient.response_bytes", buf.Len()),
		attribute.Bool("secureclient.read_stalled", stalled),
	)
	if stalled {
		c.metrics.RecordReadTimeout(ctx)
	}
	c.metrics.RecordRequest(ctx, outcomeSuccess, elapsed, buf.Len())
	c.events.LogResponseComplete(ctx, requestID, ep, buf.Len(), stalled, elapsed)
	return buf, nil
}

// SecureRequestURL resolves the endpoint from rawURL and sends request as
// UTF-8 bytes. The temporary byte copy is wiped before returning.
func (c *Client) SecureRequestURL(ctx context.Context, rawURL, request string) (*securebuf.Buffer, error) {
	ep, err := ParseEndpoint(rawURL)
	if err != nil {
		return nil, fmt.Errorf("secure request: %w", err)
	}

	payload := []byte(request)
	defer securebuf.Wipe(payload)

	return c.SecureRequest(ctx, ep, payload)
}

func (c *Client) do(ctx context.Context, span trace.Span, requestID string, ep Endpoint, request []byte) (*securebuf.Buffer, bool, error) {
	c.events.LogConnectionStart(ctx, requestID, ep)

	raw, err := c.connect(ctx, ep)
	if err != nil {
		return nil, false, err
	}
	span.AddEvent("connected")

	sess, err := c.negotiate(ctx, requestID, ep, raw)
	if err != nil {
		return nil, false, err
	}
	state := sess.conn.ConnectionState()
	span.AddEvent("handshake_complete", trace.WithAttributes(
		attribute.String("tls.protocol.version", tls.VersionName(state.Version)),
		attribute.String("tls.cipher", tls.CipherSuiteName(state.CipherSuite)),
	))

	if n, err := sess.transmit(request); err != nil {
		c.closeSession(ctx, requestID, sess)
		return nil, false, newTransmissionError(ep, n, len(request), err)
	}
	c.events.LogRequestSent(ctx, requestID, len(request))
	span.AddEvent("request_sent")

	acc := newAccumulator(sess.conn, sess.close, c.opts.readTimeout, c.opts.strictReadTimeout)
	buf, err := acc.run()
	if acc.closeErr != nil {
		c.events.LogCloseError(ctx, requestID, acc.closeErr)
	}
	if err != nil {
		return nil, false, newReceiveError(ep, acc.received, err)
	}
	return buf, acc.stalled, nil
}

func (c *Client) closeSession(ctx context.Context, requestID string, sess *session) {
	if err := sess.close(); err != nil {
		c.events.LogCloseError(ctx, requestID, err)
	}
}
