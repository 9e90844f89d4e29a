//go:build unix || windows

package transport

import (
	"context"
	"net"
)

// UnixDialer connects to the server's local socket.
type UnixDialer struct{}

// Dial connects to the socket file at address.
func (d *UnixDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	var dialer net.Dialer
	return dialer.DialContext(ctx, network, address)
}

// Close is a no-op.
func (d *UnixDialer) Close() error { return nil }
