package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	pgerr "pgdial/internal/errors"
	"pgdial/internal/stream"
)

// Opener turns a Candidate into a connected stream.Transport.
type Opener struct {
	// TCP reaches network candidates.  Defaults to a plain TCPDialer.
	TCP Dialer
	// Unix reaches local-socket candidates.  Defaults to UnixDialer.
	Unix Dialer
	// Timeout bounds each attempt; zero means no bound.
	Timeout time.Duration
}

func (o *Opener) dialerFor(c Candidate) Dialer {
	if c.IsUnix() {
		if o.Unix != nil {
			return o.Unix
		}
		return &UnixDialer{}
	}
	if o.TCP != nil {
		return o.TCP
	}
	return &TCPDialer{}
}

// Open dials c under the opener's time bound.  Dial failures are
// returned as-is; an expired bound surfaces as *errors.TimeoutError.
func (o *Opener) Open(ctx context.Context, c Candidate) (stream.Transport, error) {
	d := o.dialerFor(c)
	network, address := c.Network(), c.Address()

	conn, err := WithTimeout(ctx, o.Timeout, func(ctx context.Context) (net.Conn, error) {
		return d.Dial(ctx, network, address)
	})
	if err != nil {
		return nil, err
	}

	t, ok := conn.(stream.Transport)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("%T cannot half-close: %w", conn, pgerr.ErrUnsupported)
	}
	return t, nil
}

// Close releases the opener's dialers.
func (o *Opener) Close() error {
	var first error
	for _, d := range []Dialer{o.TCP, o.Unix} {
		if d == nil {
			continue
		}
		if err := d.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
