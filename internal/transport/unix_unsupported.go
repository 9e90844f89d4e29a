//go:build !unix && !windows

package transport

import (
	"context"
	"fmt"
	"net"

	pgerr "pgdial/internal/errors"
)

// UnixDialer always fails: this platform has no local sockets.
type UnixDialer struct{}

// Dial reports ErrUnsupported without touching the network.
func (d *UnixDialer) Dial(_ context.Context, _, address string) (net.Conn, error) {
	return nil, fmt.Errorf("unix socket %s: %w", address, pgerr.ErrUnsupported)
}

// Close is a no-op.
func (d *UnixDialer) Close() error { return nil }
