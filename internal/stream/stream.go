// Package stream erases the concrete transport of a database connection
// behind one owned handle.
//
// A [Stream] holds exactly one [Transport] (a TCP connection, a unix
// socket, an SSH channel or a TLS session over another Stream) and
// exposes it through two read conventions:
//
//	Conn     slice convention:   Read(p []byte) (n, err)
//	BufConn  scratch convention: ReadBuf(rb *ReadBuf) error
//
// crypto/tls and pgconn consume the slice convention; the SSLRequest
// exchange and other framing helpers use the scratch convention. Both
// read straight into the caller's memory and every error from the
// transport is returned unchanged.
package stream

import (
	"net"
	"time"
)

// Transport is the capability set a concrete transport must provide:
// a full-duplex net.Conn that can half-close its write side.
type Transport interface {
	net.Conn
	CloseWrite() error
}

// Conn is the slice convention.
type Conn interface {
	net.Conn
	Flush() error
	CloseWrite() error
}

// BufConn is the scratch-buffer convention.
type BufConn interface {
	ReadBuf(rb *ReadBuf) error
	Write(p []byte) (int, error)
	Flush() error
	Shutdown() error
}

// Stream owns one Transport. It is safe to hand to another goroutine
// but must only be used by one owner at a time.
type Stream struct {
	t Transport
}

var (
	_ Conn      = (*Stream)(nil)
	_ BufConn   = (*Stream)(nil)
	_ Transport = (*Stream)(nil)
)

// New takes ownership of t. Wrapping a *Stream returns it unchanged.
func New(t Transport) *Stream {
	if s, ok := t.(*Stream); ok {
		return s
	}
	return &Stream{t: t}
}

// ── slice convention ─────────────────────────────────────────────────

// Read reads into p.
func (s *Stream) Read(p []byte) (int, error) { return s.t.Read(p) }

// Write writes p.
func (s *Stream) Write(p []byte) (int, error) { return s.t.Write(p) }

// Flush pushes out anything the transport buffers. Transports without
// their own buffering have nothing to flush.
func (s *Stream) Flush() error {
	if f, ok := s.t.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// CloseWrite half-closes the stream: the peer reads EOF once it has
// drained what was written, while reads on this side keep working.
func (s *Stream) CloseWrite() error { return s.t.CloseWrite() }

// ── scratch-buffer convention ────────────────────────────────────────

// ReadBuf reads into the unfilled region of rb and advances its filled
// mark by the number of bytes read. A full rb is a no-op.
func (s *Stream) ReadBuf(rb *ReadBuf) error {
	if rb.Remaining() == 0 {
		return nil
	}
	n, err := s.t.Read(rb.Unfilled())
	rb.Advance(n)
	return err
}

// Shutdown is CloseWrite under the scratch convention's name.
func (s *Stream) Shutdown() error { return s.t.CloseWrite() }

// ── net.Conn ─────────────────────────────────────────────────────────

// Close releases the transport.
func (s *Stream) Close() error { return s.t.Close() }

func (s *Stream) LocalAddr() net.Addr  { return s.t.LocalAddr() }
func (s *Stream) RemoteAddr() net.Addr { return s.t.RemoteAddr() }

func (s *Stream) SetDeadline(t time.Time) error      { return s.t.SetDeadline(t) }
func (s *Stream) SetReadDeadline(t time.Time) error  { return s.t.SetReadDeadline(t) }
func (s *Stream) SetWriteDeadline(t time.Time) error { return s.t.SetWriteDeadline(t) }

// ── side channel ─────────────────────────────────────────────────────

// ChannelBinding returns the transport-binding token of an encrypted
// transport, or nil when the transport has none.
func (s *Stream) ChannelBinding() []byte {
	if b, ok := s.t.(interface{ ChannelBinding() []byte }); ok {
		return b.ChannelBinding()
	}
	return nil
}

// Encrypted reports whether the transport is an encrypted session.
func (s *Stream) Encrypted() bool {
	_, ok := s.t.(interface{ ChannelBinding() []byte })
	return ok
}
