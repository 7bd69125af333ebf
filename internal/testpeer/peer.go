// Package testpeer runs local TLS servers with scripted behaviour for tests.
package testpeer

import (
	"bytes"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

// Host is the loopback address peers listen on.
const Host = "127.0.0.1"

const defaultIOTimeout = 5 * time.Second

// Handler scripts the server side of one TLS session after a successful
// handshake. It returns the request bytes it consumed.
type Handler func(conn *tls.Conn) ([]byte, error)

// Session records what the peer observed for one accepted connection.
type Session struct {
	HandshakeErr error
	Request      []byte
	HandlerErr   error
	// ClientClosed is set when the peer saw the client go away after a
	// failed handshake.
	ClientClosed bool
}

// Peer is a running test server.
type Peer struct {
	Authority *Authority

	listener net.Listener
	serve    func(net.Conn) Session
	sessions chan Session
	wg       sync.WaitGroup
	once     sync.Once
}

// Option adjusts a TLS peer.
type Option func(*peerConfig)

type peerConfig struct {
	authority   *Authority
	certificate *tls.Certificate
	maxVersion  uint16
}

// WithAuthority issues the default certificate from a.
func WithAuthority(a *Authority) Option {
	return func(c *peerConfig) { c.authority = a }
}

// WithCertificate serves cert instead of the default localhost certificate.
func WithCertificate(cert tls.Certificate) Option {
	return func(c *peerConfig) { c.certificate = &cert }
}

// WithMaxVersion caps the negotiated TLS version.
func WithMaxVersion(v uint16) Option {
	return func(c *peerConfig) { c.maxVersion = v }
}

// Start runs a TLS peer that hands every session to handler.
func Start(t testing.TB, handler Handler, opts ...Option) *Peer {
	t.Helper()

	cfg := &peerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.authority == nil {
		authority, err := NewAuthority("Polis Test Root")
		if err != nil {
			t.Fatalf("create authority: %v", err)
		}
		cfg.authority = authority
	}
	if cfg.certificate == nil {
		cert, err := cfg.authority.Issue(LeafOptions{})
		if err != nil {
			t.Fatalf("issue certificate: %v", err)
		}
		cfg.certificate = &cert
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{*cfg.certificate},
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   cfg.maxVersion,
	}

	serve := func(raw net.Conn) Session {
		conn := tls.Server(raw, tlsConfig)
		_ = conn.SetDeadline(time.Now().Add(defaultIOTimeout))
		if err := conn.Handshake(); err != nil {
			return Session{HandshakeErr: err, ClientClosed: AwaitClose(raw, defaultIOTimeout)}
		}
		_ = conn.SetDeadline(time.Time{})

		request, err := handler(conn)
		return Session{Request: request, HandlerErr: err}
	}

	p := listen(t, serve)
	p.Authority = cfg.authority
	return p
}

// StartRaw runs a plain TCP peer; fn owns each accepted connection.
func StartRaw(t testing.TB, fn func(conn net.Conn)) *Peer {
	t.Helper()
	return listen(t, func(conn net.Conn) Session {
		fn(conn)
		return Session{}
	})
}

func listen(t testing.TB, serve func(net.Conn) Session) *Peer {
	t.Helper()

	ln, err := net.Listen("tcp", net.JoinHostPort(Host, "0"))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	p := &Peer{
		listener: ln,
		serve:    serve,
		sessions: make(chan Session, 256),
	}
	go p.acceptLoop()
	t.Cleanup(p.Close)
	return p
}

func (p *Peer) acceptLoop() {
	for {
		raw, err := p.listener.Accept()
		if err != nil {
			return
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer raw.Close()
			select {
			case p.sessions <- p.serve(raw):
			default:
			}
		}()
	}
}

// Port returns the listening port.
func (p *Peer) Port() int {
	return p.listener.Addr().(*net.TCPAddr).Port
}

// Addr returns host:port.
func (p *Peer) Addr() string {
	return p.listener.Addr().String()
}

// Next waits for the next finished session.
func (p *Peer) Next(t testing.TB) Session {
	t.Helper()
	select {
	case s := <-p.sessions:
		return s
	case <-time.After(2 * defaultIOTimeout):
		t.Fatalf("no session finished within %v", 2*defaultIOTimeout)
		return Session{}
	}
}

// Close stops accepting and waits for in-flight sessions.
func (p *Peer) Close() {
	p.once.Do(func() {
		_ = p.listener.Close()
		p.wg.Wait()
	})
}

// RespondAndClose reads the request head, writes response, then closes the
// TLS stream.
func RespondAndClose(response []byte) Handler {
	return func(conn *tls.Conn) ([]byte, error) {
		request, err := ReadRequestHead(conn)
		if err != nil {
			return request, err
		}
		if _, err := conn.Write(response); err != nil {
			return request, err
		}
		return request, conn.Close()
	}
}

// Silent reads the request head and then neither writes nor closes until the
// client goes away.
func Silent() Handler {
	return func(conn *tls.Conn) ([]byte, error) {
		request, err := ReadRequestHead(conn)
		if err != nil {
			return request, err
		}
		AwaitClose(conn, defaultIOTimeout)
		return request, nil
	}
}

// AcceptAndIgnore completes the handshake and then reads nothing for hold,
// so a large request fills the socket buffers and the client's writes block.
// Afterwards it drains until the client closes and fails if it never does.
func AcceptAndIgnore(hold time.Duration) Handler {
	return func(conn *tls.Conn) ([]byte, error) {
		time.Sleep(hold)
		if !AwaitClose(conn, defaultIOTimeout) {
			return nil, errors.New("client kept the connection open")
		}
		return nil, nil
	}
}

// RespondAndStall writes response after the request head but keeps the
// connection open until the client goes away.
func RespondAndStall(response []byte) Handler {
	return func(conn *tls.Conn) ([]byte, error) {
		request, err := ReadRequestHead(conn)
		if err != nil {
			return request, err
		}
		if _, err := conn.Write(response); err != nil {
			return request, err
		}
		AwaitClose(conn, defaultIOTimeout)
		return request, nil
	}
}

// RespondAndReset writes partial and then aborts the TCP connection with a
// reset instead of a clean close.
func RespondAndReset(partial []byte) Handler {
	return func(conn *tls.Conn) ([]byte, error) {
		request, err := ReadRequestHead(conn)
		if err != nil {
			return request, err
		}
		if _, err := conn.Write(partial); err != nil {
			return request, err
		}
		if tcp, ok := conn.NetConn().(*net.TCPConn); ok {
			_ = tcp.SetLinger(0)
		}
		return request, conn.NetConn().Close()
	}
}

// ReadRequestHead reads until a blank line ends the request head or the
// client stops sending.
func ReadRequestHead(conn net.Conn) ([]byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(defaultIOTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var request []byte
	chunk := make([]byte, 1024)
	for !bytes.Contains(request, []byte("\r\n\r\n")) {
		n, err := conn.Read(chunk)
		request = append(request, chunk[:n]...)
		if err != nil {
			return request, err
		}
	}
	return request, nil
}

// AwaitClose drains conn until the other side closes it. It reports false
// when timeout passes first.
func AwaitClose(conn net.Conn, timeout time.Duration) bool {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 512)
	for {
		if _, err := conn.Read(buf); err != nil {
			var netErr net.Error
			return !(errors.As(err, &netErr) && netErr.Timeout())
		}
	}
}
