package secureclient

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

var defaultPorts = map[string]int{
	"https": 443,
	"wss":   443,
	"tls":   443,
}

// Endpoint is the (host, port) pair a request is sent to.
type Endpoint struct {
	Host string
	Port int
}

// NewEndpoint validates host and port.
func NewEndpoint(host string, port int) (Endpoint, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return Endpoint{}, fmt.Errorf("endpoint host is empty")
	}
	if port < 1 || port > 65535 {
		return Endpoint{}, fmt.Errorf("endpoint port %d out of range", port)
	}
	return Endpoint{Host: strings.Trim(host, "[]"), Port: port}, nil
}

// ParseEndpoint derives an Endpoint from a URI such as "https://host/path" or
// from a bare "host:port". https, wss and tls URIs default to port 443.
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, fmt.Errorf("endpoint address is empty")
	}

	if !strings.Contains(raw, "://") {
		host, portText, err := net.SplitHostPort(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", raw, err)
		}
		port, err := strconv.Atoi(portText)
		if err != nil {
			return Endpoint{}, fmt.Errorf("parse endpoint %q: invalid port %q", raw, portText)
		}
		return NewEndpoint(host, port)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: missing host", raw)
	}

	if portText := u.Port(); portText != "" {
		port, err := strconv.Atoi(portText)
		if err != nil {
			return Endpoint{}, fmt.Errorf("parse endpoint %q: invalid port %q", raw, portText)
		}
		return NewEndpoint(u.Hostname(), port)
	}

	port, ok := defaultPorts[strings.ToLower(u.Scheme)]
	if !ok {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: no default port for scheme %q", raw, u.Scheme)
	}
	return NewEndpoint(u.Hostname(), port)
}

// Address returns host:port suitable for dialing.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Address()
}
