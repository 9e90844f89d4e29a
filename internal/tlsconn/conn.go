package tlsconn

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"hash"

	"pgdial/internal/stream"
)

// Conn is an established TLS session.  It satisfies stream.Transport,
// so it can be owned by a Stream like any other transport.
type Conn struct {
	*tls.Conn
	binding []byte
}

var _ stream.Transport = (*Conn)(nil)

func newConn(tc *tls.Conn) *Conn {
	c := &Conn{Conn: tc}
	if certs := tc.ConnectionState().PeerCertificates; len(certs) > 0 {
		c.binding = ServerEndPoint(certs[0])
	}
	return c
}

// ChannelBinding returns the tls-server-end-point token, or nil when
// the certificate's signature algorithm has no defined binding hash.
func (c *Conn) ChannelBinding() []byte { return c.binding }

// ServerEndPoint computes the RFC 5929 tls-server-end-point binding:
// the certificate hashed with its signature hash, with MD5 and SHA-1
// upgraded to SHA-256.
func ServerEndPoint(cert *x509.Certificate) []byte {
	var h hash.Hash
	switch cert.SignatureAlgorithm {
	case x509.MD5WithRSA, x509.SHA1WithRSA, x509.ECDSAWithSHA1,
		x509.SHA256WithRSA, x509.SHA256WithRSAPSS, x509.ECDSAWithSHA256:
		h = sha256.New()
	case x509.SHA384WithRSA, x509.SHA384WithRSAPSS, x509.ECDSAWithSHA384:
		h = sha512.New384()
	case x509.SHA512WithRSA, x509.SHA512WithRSAPSS, x509.ECDSAWithSHA512:
		h = sha512.New()
	default:
		return nil
	}
	h.Write(cert.Raw)
	return h.Sum(nil)
}
