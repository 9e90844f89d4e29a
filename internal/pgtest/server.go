// Package pgtest runs an in-process stand-in for a PostgreSQL server so
// that the connect path, sessions and the CLI can be tested without a
// database.
//
// The server speaks just enough of the protocol for pgconn: SSLRequest
// (answered 'S' when TLS is configured, 'N' otherwise), startup with
// trust authentication, simple and extended queries, and Terminate.
// Every query returns one text row echoing the query (or, for extended
// queries, the first parameter).  Queries starting with "--" return an
// empty response; "NOTIFY <payload>" delivers a notification on channel
// "events"; "NOTICE <text>" sends a notice; "ERROR <text>" fails the
// statement.
package pgtest

import (
	"crypto/tls"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgproto3"
)

// ServerVersion is reported in the server_version parameter.
const ServerVersion = "16.4"

// BackendPID is reported in BackendKeyData and notifications.
const BackendPID = 4242

// Option configures a Server.
type Option func(*Server)

// WithTLS makes the server accept SSLRequest and handshake with cfg.
func WithTLS(cfg *tls.Config) Option {
	return func(s *Server) { s.tlsConfig = cfg }
}

// WithDirectTLS makes the server expect a TLS ClientHello as the very
// first bytes, without an SSLRequest.
func WithDirectTLS(cfg *tls.Config) Option {
	return func(s *Server) {
		c := cfg.Clone()
		c.NextProtos = []string{"postgresql"}
		s.tlsConfig = c
		s.direct = true
	}
}

// WithStartupError makes the server reject every startup with a FATAL
// error carrying msg.
func WithStartupError(msg string) Option {
	return func(s *Server) { s.startupErr = msg }
}

// Server is a fake PostgreSQL backend.
type Server struct {
	ln         net.Listener
	tlsConfig  *tls.Config
	direct     bool
	startupErr string

	mu       sync.Mutex
	accepted int
	startups []map[string]string
	cancels  int
	tlsConns int

	wg sync.WaitGroup
}

// NewServer starts a server on a loopback TCP port.  It is shut down
// when the test ends.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return start(t, ln, opts)
}

// NewUnixServer starts a server on dir/.s.PGSQL.<port>.
func NewUnixServer(t testing.TB, dir string, port uint16, opts ...Option) *Server {
	t.Helper()
	path := filepath.Join(dir, ".s.PGSQL."+strconv.Itoa(int(port)))
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(path) })
	return start(t, ln, opts)
}

func start(t testing.TB, ln net.Listener, opts []Option) *Server {
	s := &Server{ln: ln}
	for _, o := range opts {
		o(s)
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Host returns the listening IP (or socket directory).
func (s *Server) Host() string {
	if ua, ok := s.ln.Addr().(*net.UnixAddr); ok {
		return filepath.Dir(ua.Name)
	}
	return s.ln.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listening port (or the socket's port suffix).
func (s *Server) Port() uint16 {
	if ua, ok := s.ln.Addr().(*net.UnixAddr); ok {
		p, _ := strconv.Atoi(strings.TrimPrefix(filepath.Base(ua.Name), ".s.PGSQL."))
		return uint16(p)
	}
	return uint16(s.ln.Addr().(*net.TCPAddr).Port)
}

// Accepted returns how many connections the server has accepted.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Startups returns the parameters of every completed startup message.
func (s *Server) Startups() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]string(nil), s.startups...)
}

// TLSConns returns how many connections were upgraded to TLS.
func (s *Server) TLSConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tlsConns
}

// Cancels returns how many cancel requests arrived.
func (s *Server) Cancels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

// Close stops accepting and waits for the accept loop to exit.
func (s *Server) Close() {
	s.ln.Close()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.accepted++
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer func() { conn.Close() }()

	if s.direct {
		tc := tls.Server(conn, s.tlsConfig)
		if err := tc.Handshake(); err != nil {
			return
		}
		s.mu.Lock()
		s.tlsConns++
		s.mu.Unlock()
		conn = tc
	}

	backend := pgproto3.NewBackend(conn, conn)
	for {
		msg, err := backend.ReceiveStartupMessage()
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case *pgproto3.SSLRequest:
			if s.tlsConfig == nil || s.direct {
				if _, err := conn.Write([]byte{'N'}); err != nil {
					return
				}
				continue
			}
			if _, err := conn.Write([]byte{'S'}); err != nil {
				return
			}
			tc := tls.Server(conn, s.tlsConfig)
			if err := tc.Handshake(); err != nil {
				return
			}
			s.mu.Lock()
			s.tlsConns++
			s.mu.Unlock()
			conn = tc
			backend = pgproto3.NewBackend(conn, conn)
		case *pgproto3.CancelRequest:
			s.mu.Lock()
			s.cancels++
			s.mu.Unlock()
			return
		case *pgproto3.StartupMessage:
			params := make(map[string]string, len(m.Parameters))
			for k, v := range m.Parameters {
				params[k] = v
			}
			s.mu.Lock()
			s.startups = append(s.startups, params)
			s.mu.Unlock()
			s.session(backend)
			return
		default:
			return
		}
	}
}

// session runs the post-startup phase until Terminate or EOF.
func (s *Server) session(b *pgproto3.Backend) {
	if s.startupErr != "" {
		b.Send(&pgproto3.ErrorResponse{Severity: "FATAL", Code: "28000", Message: s.startupErr})
		b.Flush() //nolint:errcheck
		return
	}

	b.Send(&pgproto3.AuthenticationOk{})
	b.Send(&pgproto3.ParameterStatus{Name: "server_version", Value: ServerVersion})
	b.Send(&pgproto3.ParameterStatus{Name: "client_encoding", Value: "UTF8"})
	b.Send(&pgproto3.ParameterStatus{Name: "standard_conforming_strings", Value: "on"})
	b.Send(&pgproto3.BackendKeyData{ProcessID: BackendPID, SecretKey: 1})
	b.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	if err := b.Flush(); err != nil {
		return
	}

	var (
		query string
		args  [][]byte
	)
	for {
		msg, err := b.Receive()
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case *pgproto3.Query:
			simpleQuery(b, m.String)
		case *pgproto3.Parse:
			query = m.Query
			b.Send(&pgproto3.ParseComplete{})
		case *pgproto3.Bind:
			args = args[:0]
			for _, p := range m.Parameters {
				args = append(args, append([]byte(nil), p...))
			}
			b.Send(&pgproto3.BindComplete{})
		case *pgproto3.Describe:
			if m.ObjectType == 'P' {
				b.Send(rowDescription())
			}
		case *pgproto3.Execute:
			value := []byte(query)
			if len(args) > 0 {
				value = args[0]
			}
			b.Send(&pgproto3.DataRow{Values: [][]byte{value}})
			b.Send(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")})
		case *pgproto3.Sync:
			b.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
			if err := b.Flush(); err != nil {
				return
			}
		case *pgproto3.Terminate:
			return
		}
	}
}

func simpleQuery(b *pgproto3.Backend, sql string) {
	trimmed := strings.TrimSpace(sql)
	switch {
	case trimmed == "" || strings.HasPrefix(trimmed, "--"):
		b.Send(&pgproto3.EmptyQueryResponse{})
	case strings.HasPrefix(trimmed, "NOTIFY "):
		b.Send(&pgproto3.NotificationResponse{
			PID:     BackendPID,
			Channel: "events",
			Payload: strings.TrimPrefix(trimmed, "NOTIFY "),
		})
		b.Send(&pgproto3.CommandComplete{CommandTag: []byte("NOTIFY")})
	case strings.HasPrefix(trimmed, "NOTICE "):
		b.Send(&pgproto3.NoticeResponse{
			Severity: "NOTICE",
			Code:     "00000",
			Message:  strings.TrimPrefix(trimmed, "NOTICE "),
		})
		b.Send(&pgproto3.CommandComplete{CommandTag: []byte("DO")})
	case strings.HasPrefix(trimmed, "ERROR "):
		b.Send(&pgproto3.ErrorResponse{
			Severity: "ERROR",
			Code:     "42601",
			Message:  strings.TrimPrefix(trimmed, "ERROR "),
		})
	default:
		b.Send(rowDescription())
		b.Send(&pgproto3.DataRow{Values: [][]byte{[]byte(trimmed)}})
		b.Send(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")})
	}
	b.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	b.Flush() //nolint:errcheck
}

func rowDescription() *pgproto3.RowDescription {
	return &pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{{
		Name:         []byte("?column?"),
		DataTypeOID:  25,
		DataTypeSize: -1,
		TypeModifier: -1,
	}}}
}
