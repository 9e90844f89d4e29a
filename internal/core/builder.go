package core

import (
	"crypto/tls"
	"fmt"
	"time"

	"pgdial/config"
	pgerr "pgdial/internal/errors"
	"pgdial/internal/metrics"
	"pgdial/internal/tlsconn"
	"pgdial/internal/transport"
	"pgdial/tunnel"
	"pgdial/util"
)

// tcpKeepAlive is the keepalive period for direct TCP candidates.
const tcpKeepAlive = 30 * time.Second

// Build constructs the Mode the configuration asks for.  This is the
// single dispatch point between the CLI and the connect path.
func Build(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	if cfg.DryRun {
		return &PlanMode{Candidates: transport.Pair(cfg.Hosts, cfg.Ports), Config: cfg}, nil
	}

	conn, err := NewConnector(cfg, logger, m)
	if err != nil {
		return nil, err
	}
	if cfg.Command != "" {
		return &ExecMode{Connector: conn, SQL: cfg.Command}, nil
	}
	return &PingMode{Connector: conn}, nil
}

// NewConnector wires dialers, TLS parameters and the resolver for cfg.
// cfg must already be validated.
func NewConnector(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (*Connector, error) {
	if err := cfg.ApplyTunnelSpec(); err != nil {
		return nil, err
	}

	params, err := buildTLSParams(cfg)
	if err != nil {
		return nil, err
	}

	opener := &transport.Opener{
		TCP:     &transport.TCPDialer{KeepAlive: tcpKeepAlive},
		Unix:    &transport.UnixDialer{},
		Timeout: cfg.ConnectTimeout,
	}
	if cfg.TunnelEnabled {
		ssh := buildSSHDialer(cfg, logger)
		opener.TCP = ssh
		opener.Unix = ssh
	}

	return &Connector{
		Config: cfg,
		Resolver: &Resolver{
			Opener:  opener,
			Logger:  logger,
			Metrics: m,
		},
		TLS:     params,
		Logger:  logger,
		Metrics: m,
	}, nil
}

// buildTLSParams maps the sslmode onto certificate verification.  As
// with libpq, require (and prefer) verify the chain only when a root
// certificate is configured.
func buildTLSParams(cfg *config.Config) (tlsconn.Params, error) {
	p := tlsconn.Params{
		ServerName: cfg.SSLServerName,
		Direct:     cfg.SSLNegotiation == config.NegotiateDirect,
	}

	if cfg.SSLRootCert != "" {
		roots, err := tlsconn.LoadRootCAs(cfg.SSLRootCert)
		if err != nil {
			return p, &pgerr.ConfigError{Field: "sslrootcert", Value: cfg.SSLRootCert, Message: err.Error()}
		}
		p.RootCAs = roots
	}

	if cfg.SSLCert != "" {
		cert, err := tlsconn.LoadClientCert(cfg.SSLCert, cfg.SSLKey)
		if err != nil {
			return p, &pgerr.ConfigError{Field: "sslcert", Value: cfg.SSLCert, Message: err.Error()}
		}
		p.Certificates = []tls.Certificate{cert}
	}

	switch cfg.SSLMode {
	case config.SSLVerifyFull:
		p.Verify = tlsconn.VerifyFull
	case config.SSLVerifyCA:
		p.Verify = tlsconn.VerifyCA
	case config.SSLRequire, config.SSLPrefer:
		if p.RootCAs != nil {
			p.Verify = tlsconn.VerifyCA
		} else {
			p.Verify = tlsconn.VerifyNone
		}
	case config.SSLDisable, config.SSLAllow:
		p.Verify = tlsconn.VerifyNone
	default:
		return p, fmt.Errorf("unknown sslmode %q", cfg.SSLMode)
	}
	return p, nil
}

// buildSSHDialer creates the jump-host dialer for the configured tunnel.
func buildSSHDialer(cfg *config.Config, logger *util.Logger) *transport.SSHDialer {
	return transport.NewSSHDialer(&tunnel.SSHConfig{
		User:          cfg.TunnelUser,
		Host:          cfg.TunnelHost,
		Port:          cfg.TunnelPort,
		KeyPath:       cfg.SSHKeyPath,
		PromptPass:    cfg.SSHPassword,
		UseAgent:      cfg.UseSSHAgent,
		StrictHostKey: cfg.StrictHostKey,
		KnownHosts:    cfg.KnownHostsPath,
		ConnTimeout:   config.DefaultSSHTimeout,
	}, logger)
}
