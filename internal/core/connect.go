package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"pgdial/config"
	pgerr "pgdial/internal/errors"
	"pgdial/internal/metrics"
	"pgdial/internal/session"
	"pgdial/internal/stream"
	"pgdial/internal/tlsconn"
	"pgdial/internal/transport"
	"pgdial/util"
)

// errTLSRefused is returned when the server answers 'N' to an
// SSLRequest and the sslmode does not allow plaintext.
var errTLSRefused = errors.New("server does not support TLS")

var noDeadline time.Time

// Connector establishes one database connection: it resolves the
// candidate list, secures the chosen stream as the sslmode asks and
// runs the protocol startup over it.
//
// Streams opened through an SSH tunnel ride on the Connector's dialers,
// so Close must not be called until every session it produced is done.
type Connector struct {
	Config   *config.Config
	Resolver *Resolver
	// TLS holds the shared negotiation parameters.  An empty
	// ServerName is filled from the chosen candidate's host.
	TLS     tlsconn.Params
	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Candidates returns the configured hosts paired with their ports.
func (c *Connector) Candidates() []transport.Candidate {
	return transport.Pair(c.Config.Hosts, c.Config.Ports)
}

// Connect opens a connection and returns its two halves.  Nothing is
// exchanged with the server after startup until the caller runs the
// returned Connection.
//
// Failures are *errors.ConnectError values (or the resolver's
// *errors.FallbackError) carrying one of the kinds NoHost,
// ConnectFailed, TimedOut, Unsupported, TLSNegotiationFailed or
// ProtocolHandshakeFailed.  The stream is closed on any failure.
func (c *Connector) Connect(ctx context.Context) (*session.Client, *session.Connection, error) {
	logger := c.logger()

	s, cand, err := c.Resolver.Resolve(ctx, c.Candidates())
	if err != nil {
		c.Metrics.RecordError(err.Error())
		return nil, nil, err
	}

	s, err = c.secure(ctx, s, cand)
	if err != nil {
		c.Metrics.RecordError(err.Error())
		return nil, nil, err
	}

	pgcfg, err := c.protocolConfig(cand)
	if err != nil {
		s.Close()
		return nil, nil, pgerr.WrapKind(pgerr.KindProtocolHandshake, "startup", cand.String(), err)
	}

	events := session.NewEvents(0, logger)
	events.Install(pgcfg)

	var handed atomic.Bool
	opener := c.Resolver.Opener
	if opener == nil {
		opener = &transport.Opener{}
	}
	pgcfg.DialFunc = func(ctx context.Context, _, _ string) (net.Conn, error) {
		if handed.CompareAndSwap(false, true) {
			return s, nil
		}
		// Cancel requests travel on a connection of their own.
		return opener.Open(ctx, cand)
	}

	logger.Debug("starting protocol on %s (tls=%v)", cand, s.Encrypted())
	pg, err := pgconn.ConnectConfig(ctx, pgcfg)
	if err != nil {
		s.Close()
		cerr := pgerr.WrapKind(pgerr.KindProtocolHandshake, "startup", cand.String(), err)
		c.Metrics.RecordError(cerr.Error())
		return nil, nil, cerr
	}

	client, conn := session.New(pg, events, session.Options{
		Logger:    logger,
		Metrics:   c.Metrics,
		Binding:   s.ChannelBinding(),
		Addr:      cand.String(),
		Encrypted: s.Encrypted(),
	})
	return client, conn, nil
}

// secure applies the sslmode to a freshly opened stream.  Unix
// candidates are never encrypted.
func (c *Connector) secure(ctx context.Context, s *stream.Stream, cand transport.Candidate) (*stream.Stream, error) {
	mode := c.Config.SSLMode
	if mode == config.SSLDisable || mode == config.SSLAllow || cand.IsUnix() {
		return s, nil
	}

	params := c.TLS.WithServerName(cand.Host)
	if params.Direct {
		return c.handshake(ctx, s, cand, params)
	}

	if dl, ok := ctx.Deadline(); ok {
		s.SetDeadline(dl) //nolint:errcheck
	}
	ok, err := tlsconn.RequestUpgrade(s)
	s.SetDeadline(noDeadline) //nolint:errcheck
	if err != nil {
		s.Close()
		c.Metrics.TLSHandshake(false)
		return nil, pgerr.Wrap("sslrequest", cand.String(), classifyTLS(err))
	}

	if !ok {
		if c.Config.RequiresTLS() {
			s.Close()
			c.Metrics.TLSHandshake(false)
			return nil, pgerr.WrapKind(pgerr.KindTLSNegotiation, "tls", cand.String(),
				fmt.Errorf("%w (sslmode=%s)", errTLSRefused, mode))
		}
		c.logger().Verbose("%s refused TLS, continuing in plaintext", cand)
		return s, nil
	}
	return c.handshake(ctx, s, cand, params)
}

func (c *Connector) handshake(ctx context.Context, s *stream.Stream, cand transport.Candidate, p tlsconn.Params) (*stream.Stream, error) {
	c.logger().Verbose("negotiating TLS with %s (%s)", cand, p.Verify)
	out, err := tlsconn.NewNegotiator(p).Negotiate(ctx, s)
	c.Metrics.TLSHandshake(err == nil)
	if err != nil {
		var ce *pgerr.ConnectError
		if errors.As(err, &ce) {
			ce.Addr = cand.String()
		}
		return nil, err
	}
	return out, nil
}

// classifyTLS keeps timeouts as timeouts and marks everything else
// that goes wrong during the SSLRequest exchange as a negotiation
// failure.
func classifyTLS(err error) error {
	if pgerr.IsTimeout(err) {
		return err
	}
	return pgerr.WrapKind(pgerr.KindTLSNegotiation, "sslrequest", "", err)
}

// protocolConfig builds the pgconn configuration for one candidate.
// Transport, TLS and fallback handling stay with the Connector: pgconn
// only runs the startup exchange over the stream it is handed.
func (c *Connector) protocolConfig(cand transport.Candidate) (*pgconn.Config, error) {
	connString := fmt.Sprintf("host=%s port=%d sslmode=disable",
		quoteValue(cand.Host), cand.ResolvedPort())
	pgcfg, err := pgconn.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	host := cand.Host
	pgcfg.Host = host
	pgcfg.Port = cand.ResolvedPort()
	pgcfg.TLSConfig = nil
	pgcfg.Fallbacks = nil
	pgcfg.ConnectTimeout = 0
	pgcfg.SSLNegotiation = ""
	pgcfg.LookupFunc = func(context.Context, string) ([]string, error) {
		return []string{host}, nil
	}

	cfg := c.Config
	if cfg.User != "" {
		pgcfg.User = cfg.User
	}
	if cfg.Password != "" {
		pgcfg.Password = cfg.Password
	}
	if cfg.Database != "" {
		pgcfg.Database = cfg.Database
	}
	if cfg.AppName != "" {
		pgcfg.RuntimeParams["application_name"] = cfg.AppName
	}
	for k, v := range cfg.RuntimeParams {
		pgcfg.RuntimeParams[k] = v
	}
	return pgcfg, nil
}

// quoteValue quotes a connection string value.
func quoteValue(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

func (c *Connector) logger() *util.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return util.NewLogger(0)
}

// Close releases the dialers, including any SSH tunnel.
func (c *Connector) Close() error {
	if c.Resolver == nil || c.Resolver.Opener == nil {
		return nil
	}
	return c.Resolver.Opener.Close()
}
