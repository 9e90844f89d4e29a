package tlsconn

import (
	"context"
	"crypto/tls"
	"errors"
	"sync/atomic"

	pgerr "pgdial/internal/errors"
	"pgdial/internal/stream"
)

// State is the position of a Negotiator in its one-way life cycle.
type State int32

const (
	StateIdle State = iota
	StateHandshaking
	StateEstablished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// errReused is returned when a Negotiator is asked to run twice.
var errReused = errors.New("negotiator already used")

// Negotiator performs one TLS handshake.  It never retries: a failed
// handshake is terminal, and a Negotiator cannot be reused.
type Negotiator struct {
	params Params
	state  atomic.Int32
}

// NewNegotiator returns an idle negotiator for p.
func NewNegotiator(p Params) *Negotiator {
	return &Negotiator{params: p}
}

// State reports where the negotiator is.
func (n *Negotiator) State() State { return State(n.state.Load()) }

// Negotiate runs the handshake over inner and returns a Stream owning
// the encrypted session.  On failure inner is closed.
func (n *Negotiator) Negotiate(ctx context.Context, inner *stream.Stream) (*stream.Stream, error) {
	if !n.state.CompareAndSwap(int32(StateIdle), int32(StateHandshaking)) {
		return nil, pgerr.WrapKind(pgerr.KindTLSNegotiation, "tls", n.params.ServerName, errReused)
	}

	tc := tls.Client(inner, n.params.Config())
	if err := tc.HandshakeContext(ctx); err != nil {
		n.state.Store(int32(StateFailed))
		inner.Close()
		return nil, pgerr.WrapKind(pgerr.KindTLSNegotiation, "tls", n.params.ServerName, err)
	}

	if n.params.Direct {
		if proto := tc.ConnectionState().NegotiatedProtocol; proto != ALPNProtocol {
			n.state.Store(int32(StateFailed))
			tc.Close()
			return nil, pgerr.WrapKind(pgerr.KindTLSNegotiation, "tls", n.params.ServerName,
				errors.New("server did not select ALPN protocol \""+ALPNProtocol+"\""))
		}
	}

	n.state.Store(int32(StateEstablished))
	return stream.New(newConn(tc)), nil
}

// Negotiate is a one-shot convenience for NewNegotiator(p).Negotiate.
func Negotiate(ctx context.Context, inner *stream.Stream, p Params) (*stream.Stream, error) {
	return NewNegotiator(p).Negotiate(ctx, inner)
}
