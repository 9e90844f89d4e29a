package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	pgerr "pgdial/internal/errors"
	"pgdial/internal/retry"
	"pgdial/tunnel"
	"pgdial/util"
)

// SSHDialer reaches database candidates through an SSH jump host.  The
// tunnel is connected lazily on the first Dial and shared by every
// candidate after that; each Dial opens a new forwarded channel, which
// half-closes like a TCP connection.
//
// A failed tunnel fails every later candidate at once with the same
// cause instead of paying the SSH timeout again.  A tunnel that was up
// and dropped is re-opened with a short backoff.
type SSHDialer struct {
	tunnel  *tunnel.SSHTunnel
	config  *tunnel.SSHConfig
	logger  *util.Logger
	breaker *retry.Breaker

	mu        sync.Mutex
	connected bool
}

// reopenAttempts bounds re-opening a dropped tunnel.
const reopenAttempts = 3

// NewSSHDialer returns a dialer for cfg.  Nothing is dialed yet.
func NewSSHDialer(cfg *tunnel.SSHConfig, logger *util.Logger) *SSHDialer {
	d := &SSHDialer{
		tunnel: tunnel.NewSSHTunnel(cfg, logger),
		config: cfg,
		logger: logger,
	}
	d.breaker = &retry.Breaker{
		MaxFailures: 1,
		OnStateChange: func(_, to retry.State) {
			logger.Debug("ssh: tunnel breaker %s", to)
		},
	}
	return d
}

func (d *SSHDialer) connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected && d.tunnel.IsAlive() {
		return nil
	}

	b := &retry.Backoff{InitialDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second, Jitter: true}
	if d.connected {
		d.logger.Warn("ssh tunnel to %s dropped, reconnecting", d.config.Addr())
		b.MaxAttempts = reopenAttempts
	}

	err := d.breaker.Execute(func() error {
		return b.Do(ctx, func(attempt int) error {
			d.logger.Verbose("opening ssh tunnel %s@%s (attempt %d)", d.config.User, d.config.Addr(), attempt)
			err := d.tunnel.Connect(ctx)
			if err != nil && !retryable(err) {
				return retry.Permanent(err)
			}
			return err
		})
	})
	if err != nil {
		d.connected = false
		return fmt.Errorf("tunnel: %w", err)
	}
	d.connected = true
	return nil
}

// retryable reports whether another tunnel attempt may succeed.  Only
// failures to reach the jump host qualify; rejected credentials and
// host keys do not.
func retryable(err error) bool {
	var ce *pgerr.ConnectError
	if !errors.As(err, &ce) {
		return true
	}
	return ce.Op == "ssh dial"
}

// Dial forwards a connection to address through the jump host.  Both
// "tcp" and "unix" are forwarded; a unix path names a socket on the
// jump host.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.connect(ctx); err != nil {
		return nil, err
	}
	return d.tunnel.Dial(ctx, network, address)
}

// Close tears the tunnel down.  Forwarded channels die with it.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}
	d.connected = false
	return d.tunnel.Close()
}
