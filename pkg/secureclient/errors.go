package secureclient

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
)

// ErrorType categorizes request failures.
type ErrorType string

const (
	ErrorTypeConnection   ErrorType = "connection_error"
	ErrorTypeHandshake    ErrorType = "handshake_failure"
	ErrorTypeTransmission ErrorType = "transmission_error"
	ErrorTypeReceive      ErrorType = "receive_error"
)

// Sentinels matched by errors.Is against an *Error of the same type.
var (
	ErrConnection   = errors.New("secureclient: connection failed")
	ErrHandshake    = errors.New("secureclient: handshake failed")
	ErrTransmission = errors.New("secureclient: transmission failed")
	ErrReceive      = errors.New("secureclient: receive failed")
)

// Handshake failure reasons.
const (
	reasonRejected   = "rejected"
	reasonTimeout    = "timeout"
	reasonPeerClosed = "peer_closed"
	reasonProtocol   = "protocol"
)

// Error is a structured request failure with context
type Error struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Suggestions []string
}

// Error implements the error interface
func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Type), e.Message}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for key := range e.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, key := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", key, e.Context[key]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel for the error's type.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConnection:
		return e.Type == ErrorTypeConnection
	case ErrHandshake:
		return e.Type == ErrorTypeHandshake
	case ErrTransmission:
		return e.Type == ErrorTypeTransmission
	case ErrReceive:
		return e.Type == ErrorTypeReceive
	}
	return false
}

// WithContext adds context information to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for resolving the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// DetailedMessage returns the error followed by numbered suggestions
func (e *Error) DetailedMessage() string {
	var b strings.Builder
	b.WriteString(e.Error())

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for i, suggestion := range e.Suggestions {
			fmt.Fprintf(&b, "\n  %d. %s", i+1, suggestion)
		}
	}

	return b.String()
}

func newError(errorType ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func newConnectionError(ep Endpoint, cause error) *Error {
	err := newError(ErrorTypeConnection, fmt.Sprintf("cannot connect to %s", ep), cause).
		WithContext("endpoint", ep.String())
	if isTimeout(cause) {
		err.WithContext("timeout", true).
			WithSuggestion("Increase the connect timeout if the endpoint is slow to accept")
	}
	return err.
		WithSuggestion("Verify the host name resolves and the port is correct").
		WithSuggestion("Check that no firewall blocks the connection")
}

func newHandshakeError(ep Endpoint, serverName, reason string, cause error) *Error {
	err := newError(ErrorTypeHandshake, fmt.Sprintf("TLS handshake with %s failed: %s", ep, reason), cause).
		WithContext("endpoint", ep.String()).
		WithContext("server_name", serverName).
		WithContext("reason", reason)

	switch reason {
	case reasonRejected:
		err.WithSuggestion("The trust evaluator rejected the certificate chain; run 'secureclient inspect' to see the policy errors").
			WithSuggestion("Provide the issuing CA with a trust bundle if the server uses a private PKI")
	case reasonTimeout:
		err.WithSuggestion("Verify the endpoint speaks TLS on this port").
			WithSuggestion("Increase the handshake timeout")
	default:
		err.WithSuggestion("Check client and server TLS version compatibility (TLS 1.2 or newer is required)").
			WithSuggestion("Ensure the server presents a certificate for the requested name")
	}
	return err
}

func newTransmissionError(ep Endpoint, written, total int, cause error) *Error {
	err := newError(ErrorTypeTransmission, fmt.Sprintf("request to %s not fully written", ep), cause).
		WithContext("endpoint", ep.String()).
		WithContext("bytes_written", written).
		WithContext("bytes_total", total)
	if isTimeout(cause) {
		err.WithContext("timeout", true).
			WithSuggestion("Increase the write timeout")
	}
	return err.WithSuggestion("Check whether the server closed the connection early")
}

func newReceiveError(ep Endpoint, received int, cause error) *Error {
	err := newError(ErrorTypeReceive, fmt.Sprintf("response from %s interrupted", ep), cause).
		WithContext("endpoint", ep.String()).
		WithContext("bytes_received", received)
	if isTimeout(cause) {
		err.WithContext("timeout", true).
			WithSuggestion("Ensure the request asks the server to close the connection after responding").
			WithSuggestion("Increase the read timeout")
		return err
	}
	return err.WithSuggestion("Check server logs; the connection was aborted before a clean close")
}

func handshakeReason(err error, rejected bool) string {
	switch {
	case rejected:
		return reasonRejected
	case isTimeout(err):
		return reasonTimeout
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return reasonPeerClosed
	default:
		return reasonProtocol
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsConnectionError reports whether err is a connection failure.
func IsConnectionError(err error) bool { return errors.Is(err, ErrConnection) }

// IsHandshakeError reports whether err is a TLS negotiation failure.
func IsHandshakeError(err error) bool { return errors.Is(err, ErrHandshake) }

// IsTransmissionError reports whether err is a request write failure.
func IsTransmissionError(err error) bool { return errors.Is(err, ErrTransmission) }

// IsReceiveError reports whether err is a response read failure.
func IsReceiveError(err error) bool { return errors.Is(err, ErrReceive) }

// TypeOf returns the ErrorType of err, or "" if err is not an *Error.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}
