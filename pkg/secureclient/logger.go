package secureclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"time"

	"github.com/polisai/polis-secureclient/pkg/trust"
)

// EventLogger writes structured request events. It records sizes, peers and
// certificate metadata, never request or response content.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger creates an event logger; nil selects slog.Default.
func NewEventLogger(logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}

	return &EventLogger{
		logger: logger.With("component", "secureclient"),
	}
}

// LogConnectionStart logs the start of a request
func (l *EventLogger) LogConnectionStart(ctx context.Context, requestID string, ep Endpoint) {
	l.logger.LogAttrs(ctx, slog.LevelDebug, "Connecting to endpoint",
		slog.String("event", "connection_start"),
		slog.String("request_id", requestID),
		slog.String("endpoint", ep.String()),
	)
}

// LogHandshakeSuccess logs a negotiated session
func (l *EventLogger) LogHandshakeSuccess(ctx context.Context, requestID string, state tls.ConnectionState, duration time.Duration) {
	attrs := []slog.Attr{
		slog.String("event", "handshake_success"),
		slog.String("request_id", requestID),
		slog.String("tls_version", tls.VersionName(state.Version)),
		slog.String("cipher_suite", tls.CipherSuiteName(state.CipherSuite)),
		slog.String("server_name", state.ServerName),
		slog.Duration("handshake_duration", duration),
	}
	if len(state.PeerCertificates) > 0 {
		attrs = append(attrs,
			slog.Int("peer_cert_count", len(state.PeerCertificates)),
			slog.String("peer_subject", state.PeerCertificates[0].Subject.String()),
		)
	}

	l.logger.LogAttrs(ctx, slog.LevelDebug, "TLS handshake completed", attrs...)
}

// LogHandshakeFailure logs a failed handshake
func (l *EventLogger) LogHandshakeFailure(ctx context.Context, requestID, serverName, reason string, err error, duration time.Duration) {
	level := slog.LevelError
	if reason == reasonTimeout || reason == reasonPeerClosed {
		level = slog.LevelWarn
	}

	l.logger.LogAttrs(ctx, level, "TLS handshake failed",
		slog.String("event", "handshake_failure"),
		slog.String("request_id", requestID),
		slog.String("server_name", serverName),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
		slog.Duration("handshake_duration", duration),
	)
}

// LogTrustEvaluation logs the outcome of the trust evaluator
func (l *EventLogger) LogTrustEvaluation(ctx context.Context, requestID, serverName string, chain []*x509.Certificate, errs trust.PolicyErrors, allowed bool) {
	level := slog.LevelDebug
	message := "Certificate chain accepted"
	if !allowed {
		level = slog.LevelWarn
		message = "Certificate chain rejected"
	}

	attrs := []slog.Attr{
		slog.String("event", "trust_evaluation"),
		slog.String("request_id", requestID),
		slog.String("server_name", serverName),
		slog.String("policy_errors", errs.String()),
		slog.Bool("allowed", allowed),
		slog.Int("chain_length", len(chain)),
	}
	if len(chain) > 0 {
		leaf := chain[0]
		attrs = append(attrs,
			slog.String("subject", leaf.Subject.String()),
			slog.String("issuer", leaf.Issuer.String()),
			slog.Time("not_after", leaf.NotAfter),
		)
	}

	l.logger.LogAttrs(ctx, level, message, attrs...)
}

// LogRequestSent logs how much of the request was written
func (l *EventLogger) LogRequestSent(ctx context.Context, requestID string, size int) {
	l.logger.LogAttrs(ctx, slog.LevelDebug, "Request sent",
		slog.String("event", "request_sent"),
		slog.String("request_id", requestID),
		slog.Int("bytes", size),
	)
}

// LogResponseComplete logs a sealed response
func (l *EventLogger) LogResponseComplete(ctx context.Context, requestID string, ep Endpoint, size int, stalled bool, duration time.Duration) {
	l.logger.LogAttrs(ctx, slog.LevelInfo, "Secure request completed",
		slog.String("event", "response_complete"),
		slog.String("request_id", requestID),
		slog.String("endpoint", ep.String()),
		slog.Int("bytes", size),
		slog.Bool("read_stalled", stalled),
		slog.Duration("duration", duration),
	)
}

// LogRequestFailed logs a request that returned an error
func (l *EventLogger) LogRequestFailed(ctx context.Context, requestID string, ep Endpoint, err error, duration time.Duration) {
	l.logger.LogAttrs(ctx, slog.LevelError, "Secure request failed",
		slog.String("event", "request_failed"),
		slog.String("request_id", requestID),
		slog.String("endpoint", ep.String()),
		slog.String("error_type", string(TypeOf(err))),
		slog.String("error", err.Error()),
		slog.Duration("duration", duration),
	)
}

// LogCloseError logs a failure while tearing the session down. It does not
// fail the request.
func (l *EventLogger) LogCloseError(ctx context.Context, requestID string, err error) {
	l.logger.LogAttrs(ctx, slog.LevelWarn, "Session close reported an error",
		slog.String("event", "session_close"),
		slog.String("request_id", requestID),
		slog.String("error", err.Error()),
	)
}
