package secureclient

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/polisai/polis-secureclient/pkg/trust"
)

// session owns the transport connection and the TLS stream layered on it
// for exactly one request.
type session struct {
	raw          net.Conn
	conn         *tls.Conn
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// close shuts the TLS stream and then the transport connection. Later calls
// return the first result.
func (s *session) close() error {
	s.closeOnce.Do(func() {
		err := s.conn.Close()
		if rawErr := s.raw.Close(); rawErr != nil && !errors.Is(rawErr, net.ErrClosed) && err == nil {
			err = rawErr
		}
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
		s.closeErr = err
	})
	return s.closeErr
}

// negotiate runs the client handshake over raw. Trust is decided by the
// configured evaluator inside VerifyConnection, so a rejection aborts the
// handshake before any application data is written. On failure the session
// is closed before the error is returned.
func (c *Client) negotiate(ctx context.Context, requestID string, ep Endpoint, raw net.Conn) (*session, error) {
	serverName := c.opts.serverName
	if serverName == "" {
		serverName = ep.Host
	}

	var rejected bool
	config := &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
		// #nosec G402 -- the chain is verified in VerifyConnection by trust.Inspect
		InsecureSkipVerify: true,
		VerifyConnection: func(state tls.ConnectionState) error {
			report := trust.Inspect(state.PeerCertificates, trust.InspectOptions{
				ServerName: serverName,
				Roots:      c.opts.rootCAs,
			})
			allowed := c.opts.evaluator(state.PeerCertificates, report.Errors)
			c.events.LogTrustEvaluation(ctx, requestID, serverName, state.PeerCertificates, report.Errors, allowed)
			if !allowed {
				rejected = true
				return trust.ErrRejected
			}
			return nil
		},
	}

	s := &session{
		raw:          raw,
		conn:         tls.Client(raw, config),
		writeTimeout: c.opts.writeTimeout,
	}

	established := false
	defer func() {
		if !established {
			_ = s.close()
		}
	}()

	start := time.Now()
	if err := s.conn.SetDeadline(start.Add(c.handshakeTimeout())); err != nil {
		return nil, newHandshakeError(ep, serverName, reasonProtocol, err)
	}
	if err := s.conn.Handshake(); err != nil {
		reason := handshakeReason(err, rejected)
		elapsed := time.Since(start)
		c.metrics.RecordHandshakeError(ctx, reason)
		c.events.LogHandshakeFailure(ctx, requestID, serverName, reason, err, elapsed)
		return nil, newHandshakeError(ep, serverName, reason, err).
			WithContext("handshake_timeout", c.handshakeTimeout().String())
	}
	if err := s.conn.SetDeadline(time.Time{}); err != nil {
		return nil, newHandshakeError(ep, serverName, reasonProtocol, err)
	}

	elapsed := time.Since(start)
	state := s.conn.ConnectionState()
	c.metrics.RecordHandshake(ctx, tls.VersionName(state.Version), tls.CipherSuiteName(state.CipherSuite), elapsed)
	c.events.LogHandshakeSuccess(ctx, requestID, state, elapsed)

	established = true
	return s, nil
}

func (c *Client) handshakeTimeout() time.Duration {
	if c.opts.handshakeTimeout > 0 {
		return c.opts.handshakeTimeout
	}
	return c.opts.readTimeout + c.opts.writeTimeout
}
