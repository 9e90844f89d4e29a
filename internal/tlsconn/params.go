// Package tlsconn upgrades a [stream.Stream] to a TLS session and
// exposes the result as another Stream, together with the
// tls-server-end-point channel binding token.
package tlsconn

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// VerifyMode selects how much of the server certificate is checked.
type VerifyMode int

const (
	// VerifyNone encrypts without checking the certificate.
	VerifyNone VerifyMode = iota
	// VerifyCA checks the chain against the trusted roots but not the
	// host name.
	VerifyCA
	// VerifyFull checks the chain and that the certificate matches
	// the server name.
	VerifyFull
)

func (m VerifyMode) String() string {
	switch m {
	case VerifyCA:
		return "verify-ca"
	case VerifyFull:
		return "verify-full"
	default:
		return "none"
	}
}

// Params describes one TLS negotiation.
type Params struct {
	// RootCAs is the trusted authority material.  Nil uses the system
	// pool.
	RootCAs *x509.CertPool
	// ServerName is the target name for SNI and verify-full.
	ServerName string
	// Certificates are presented when the server asks for a client
	// certificate.
	Certificates []tls.Certificate
	Verify       VerifyMode
	// Direct skips the SSLRequest exchange and starts the handshake
	// immediately, advertising ALPN "postgresql".
	Direct bool
}

// ALPNProtocol is the protocol name PostgreSQL servers accept for
// direct TLS negotiation.
const ALPNProtocol = "postgresql"

// WithServerName returns a copy of p aimed at name, unless p already
// has an explicit server name.
func (p Params) WithServerName(name string) Params {
	if p.ServerName == "" {
		p.ServerName = name
	}
	return p
}

// Config builds the crypto/tls client configuration.
func (p *Params) Config() *tls.Config {
	cfg := &tls.Config{
		RootCAs:      p.RootCAs,
		ServerName:   p.ServerName,
		Certificates: p.Certificates,
		MinVersion:   tls.VersionTLS12,
	}
	if p.Direct {
		cfg.NextProtos = []string{ALPNProtocol}
	}

	switch p.Verify {
	case VerifyNone:
		cfg.InsecureSkipVerify = true //nolint:gosec // sslmode=require
	case VerifyCA:
		// Chain verification without the host name check.
		cfg.InsecureSkipVerify = true //nolint:gosec // verified below
		roots := p.RootCAs
		cfg.VerifyPeerCertificate = func(raw [][]byte, _ [][]*x509.Certificate) error {
			return verifyChain(raw, roots)
		}
	}
	return cfg
}

func verifyChain(raw [][]byte, roots *x509.CertPool) error {
	if len(raw) == 0 {
		return fmt.Errorf("server presented no certificate")
	}
	certs := make([]*x509.Certificate, 0, len(raw))
	for _, der := range raw {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return fmt.Errorf("parsing server certificate: %w", err)
		}
		certs = append(certs, c)
	}

	opts := x509.VerifyOptions{Roots: roots, Intermediates: x509.NewCertPool()}
	for _, c := range certs[1:] {
		opts.Intermediates.AddCert(c)
	}
	_, err := certs[0].Verify(opts)
	return err
}

// LoadRootCAs reads a PEM bundle of trusted authorities.
func LoadRootCAs(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading root certificates: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// LoadClientCert reads a PEM certificate and key pair.
func LoadClientCert(certFile, keyFile string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("loading client certificate: %w", err)
	}
	return cert, nil
}
