// Package transport opens the raw connection to one candidate address
// of a PostgreSQL server.
//
// A Dialer knows how to reach a network (plain TCP, a local unix socket
// or an SSH-tunnelled channel); the Opener turns one Candidate into a
// dialed stream.Transport under the per-attempt time bound.
package transport

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultPort is the PostgreSQL server's well-known port.
const DefaultPort uint16 = 5432

// SocketPrefix is the file name prefix the server uses for its unix
// socket; the port number follows it.
const SocketPrefix = ".s.PGSQL."

// Dialer opens outbound connections.  Implementations include the
// TCP and unix dialers and an SSH-tunnelled dialer.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}

// Candidate is one address the server may be reachable at.
type Candidate struct {
	// Host is a network host name or address, or an absolute path to
	// the directory holding the server's unix socket.
	Host string
	// Port is the server port; zero means DefaultPort.
	Port uint16
}

// IsUnix reports whether the candidate names a local socket directory.
func (c Candidate) IsUnix() bool {
	return strings.HasPrefix(c.Host, "/") || filepath.IsAbs(c.Host)
}

// ResolvedPort returns Port, or DefaultPort when unset.
func (c Candidate) ResolvedPort() uint16 {
	if c.Port == 0 {
		return DefaultPort
	}
	return c.Port
}

// Network returns "unix" or "tcp".
func (c Candidate) Network() string {
	if c.IsUnix() {
		return "unix"
	}
	return "tcp"
}

// Address returns the dial address: host:port for network candidates,
// <dir>/.s.PGSQL.<port> for unix candidates.
func (c Candidate) Address() string {
	port := strconv.Itoa(int(c.ResolvedPort()))
	if c.IsUnix() {
		return filepath.Join(c.Host, SocketPrefix+port)
	}
	return net.JoinHostPort(c.Host, port)
}

func (c Candidate) String() string { return c.Address() }

// Pair zips hosts with ports in order.  ports may be shorter than
// hosts; hosts past the end of ports use DefaultPort.
func Pair(hosts []string, ports []uint16) []Candidate {
	out := make([]Candidate, 0, len(hosts))
	for i, h := range hosts {
		c := Candidate{Host: h, Port: DefaultPort}
		if i < len(ports) && ports[i] != 0 {
			c.Port = ports[i]
		}
		out = append(out, c)
	}
	return out
}
