// Package session is the post-handshake half of a database connection:
// a Connection task that exclusively owns the protocol client, and a
// Client handle that sends it requests.
//
// Nothing moves on the wire unless the caller runs Connection.Run:
//
//	client, conn, err := connector.Connect(ctx)
//	go conn.Run(ctx)
//	defer client.Close()
package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	pgerr "pgdial/internal/errors"
	"pgdial/internal/metrics"
	"pgdial/util"
)

// Result is the outcome of one statement.
type Result struct {
	Columns []string
	// Rows holds text-format values; a nil value is SQL NULL.
	Rows       [][][]byte
	CommandTag string
}

type requestKind int

const (
	reqExec requestKind = iota
	reqExecParams
	reqPing
)

type request struct {
	ctx   context.Context
	kind  requestKind
	sql   string
	args  [][]byte
	reply chan response
}

type response struct {
	results []Result
	err     error
}

// Client sends requests to a running Connection.  It is safe for
// concurrent use; requests are served one at a time in arrival order.
type Client struct {
	id      string
	addr    string
	tls     bool
	reqs    chan<- request
	quit    chan struct{}
	done    <-chan struct{}
	once    sync.Once
	running *atomic.Bool
	binding []byte
	pid     uint32
	params  map[string]string
}

// Connection is the background task driving the protocol client.
type Connection struct {
	id      string
	pg      *pgconn.PgConn
	reqs    <-chan request
	quit    <-chan struct{}
	done    chan struct{}
	running *atomic.Bool
	events  *Events
	logger  *util.Logger
	metrics *metrics.Collector
}

// Options carries optional collaborators for New.
type Options struct {
	Logger  *util.Logger
	Metrics *metrics.Collector
	// Binding is the transport-binding token of the underlying
	// stream, nil when the transport is not encrypted.
	Binding []byte
	// Addr is the candidate address the stream was opened to.
	Addr string
	// Encrypted reports whether the stream is a TLS session.
	Encrypted bool
}

// New splits an established protocol client into its two halves.  ev
// must be the Events installed on the config pg was connected with, or
// nil.
func New(pg *pgconn.PgConn, ev *Events, opts Options) (*Client, *Connection) {
	id := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	logger = logger.With("conn " + id[:8])
	if ev == nil {
		ev = NewEvents(0, logger)
	}
	ev.bind(logger, opts.Metrics)

	reqs := make(chan request)
	quit := make(chan struct{})
	done := make(chan struct{})
	running := new(atomic.Bool)

	params := make(map[string]string)
	for _, k := range []string{"server_version", "server_encoding", "client_encoding",
		"application_name", "DateStyle", "TimeZone", "integer_datetimes",
		"standard_conforming_strings", "in_hot_standby", "is_superuser", "session_authorization"} {
		if v := pg.ParameterStatus(k); v != "" {
			params[k] = v
		}
	}

	c := &Client{
		id:      id,
		addr:    opts.Addr,
		tls:     opts.Encrypted,
		reqs:    reqs,
		quit:    quit,
		done:    done,
		running: running,
		binding: opts.Binding,
		pid:     pg.PID(),
		params:  params,
	}
	conn := &Connection{
		id:      id,
		pg:      pg,
		reqs:    reqs,
		quit:    quit,
		done:    done,
		running: running,
		events:  ev,
		logger:  logger,
		metrics: opts.Metrics,
	}
	opts.Metrics.SessionOpened()
	return c, conn
}

// ID returns the connection's unique id.
func (c *Client) ID() string { return c.id }

// Addr returns the address the connection was opened to.
func (c *Client) Addr() string { return c.addr }

// Encrypted reports whether the connection runs over TLS.
func (c *Client) Encrypted() bool { return c.tls }

// ChannelBinding returns the tls-server-end-point token of the
// encrypted transport, or nil.
func (c *Client) ChannelBinding() []byte { return c.binding }

// PID returns the backend process id.
func (c *Client) PID() uint32 { return c.pid }

// ParameterStatus returns a server parameter reported at startup.
func (c *Client) ParameterStatus(key string) string { return c.params[key] }

// Exec runs sql with the simple query protocol.  sql may contain
// several statements; one Result is returned per statement.
func (c *Client) Exec(ctx context.Context, sql string) ([]Result, error) {
	return c.do(ctx, request{kind: reqExec, sql: sql})
}

// ExecParams runs one statement with text-format parameters $1..$n.
// A nil argument is sent as NULL.
func (c *Client) ExecParams(ctx context.Context, sql string, args ...[]byte) (Result, error) {
	res, err := c.do(ctx, request{kind: reqExecParams, sql: sql, args: args})
	if err != nil {
		return Result{}, err
	}
	return res[0], nil
}

// Ping round-trips an empty statement.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, request{kind: reqPing})
	return err
}

func (c *Client) do(ctx context.Context, req request) ([]Result, error) {
	req.ctx = ctx
	req.reply = make(chan response, 1)

	select {
	case c.reqs <- req:
	case <-c.done:
		return nil, pgerr.ErrClosed
	case <-c.quit:
		return nil, pgerr.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.results, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close asks the connection to terminate and, if Run is running,
// waits until it has.  A Connection whose Run starts after Close
// terminates immediately.  Close is idempotent.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.quit) })
	if c.running.Load() {
		<-c.done
	}
	return nil
}

// Done is closed when the connection task has exited.
func (c *Client) Done() <-chan struct{} { return c.done }

// ID returns the connection's unique id.
func (c *Connection) ID() string { return c.id }

// Notifications delivers LISTEN/NOTIFY messages received while serving
// requests.  It is closed when Run returns.
func (c *Connection) Notifications() <-chan Notification {
	return c.events.notifications
}

// Run serves client requests until the client closes, ctx ends or the
// server goes away.  It owns the protocol client and closes it, and
// the stream beneath, on the way out.  Run must be called once.
func (c *Connection) Run(ctx context.Context) error {
	c.running.Store(true)
	defer close(c.done)
	defer c.events.close()
	defer c.metrics.SessionClosed()

	c.logger.Verbose("session started, backend pid %d", c.pg.PID())

	for {
		select {
		case <-c.quit:
			return c.terminate(context.Background())
		case <-ctx.Done():
			c.terminate(context.Background()) //nolint:errcheck
			return ctx.Err()
		case <-c.pg.CleanupDone():
			c.logger.Warn("server closed the connection")
			return pgerr.ErrClosed
		case req := <-c.reqs:
			res, err := c.serve(req)
			c.metrics.Request(err != nil)
			req.reply <- response{results: res, err: err}
			if c.pg.IsClosed() {
				<-c.pg.CleanupDone()
				c.logger.Warn("connection lost: %v", err)
				return pgerr.WrapKind(pgerr.KindConnectFailed, "session", "", err)
			}
		}
	}
}

func (c *Connection) serve(req request) ([]Result, error) {
	switch req.kind {
	case reqPing:
		return nil, c.pg.Ping(req.ctx)
	case reqExecParams:
		r := c.pg.ExecParams(req.ctx, req.sql, req.args, nil, nil, nil).Read()
		if r.Err != nil {
			return nil, r.Err
		}
		return []Result{convert(r)}, nil
	default:
		rs, err := c.pg.Exec(req.ctx, req.sql).ReadAll()
		if err != nil {
			return nil, err
		}
		out := make([]Result, 0, len(rs))
		for _, r := range rs {
			out = append(out, convert(r))
		}
		return out, nil
	}
}

func (c *Connection) terminate(ctx context.Context) error {
	c.logger.Verbose("session closing")
	if c.pg.IsClosed() {
		return nil
	}
	return c.pg.Close(ctx)
}

func convert(r *pgconn.Result) Result {
	cols := make([]string, len(r.FieldDescriptions))
	for i, fd := range r.FieldDescriptions {
		cols[i] = fd.Name
	}
	return Result{Columns: cols, Rows: r.Rows, CommandTag: r.CommandTag.String()}
}
