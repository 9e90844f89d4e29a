// Package tunnel reaches database hosts that are only routable from a
// bastion, by forwarding connections over an SSH session backed by
// golang.org/x/crypto/ssh.
package tunnel

import (
	"context"
	"net"
)

// Tunnel is an encrypted channel through which TCP and unix socket
// connections can be forwarded.
type Tunnel interface {
	// Connect establishes the session with the gateway.
	Connect(ctx context.Context) error

	// Dial opens a forwarded connection to address on the far side.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close tears down the session.
	Close() error

	// IsAlive reports whether the session is still up.
	IsAlive() bool
}
