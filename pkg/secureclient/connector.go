package secureclient

import (
	"context"
	"net"
)

// connect dials ep within the connect timeout. It does not retry.
func (c *Client) connect(ctx context.Context, ep Endpoint) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.connectTimeout)
	defer cancel()

	conn, err := c.opts.dialer.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, newConnectionError(ep, err)
	}
	return conn, nil
}
