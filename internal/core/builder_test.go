package core

import (
	"errors"
	"path/filepath"
	"testing"

	"pgdial/config"
	pgerr "pgdial/internal/errors"
	"pgdial/internal/metrics"
	"pgdial/internal/pgtest"
	"pgdial/internal/tlsconn"
	"pgdial/internal/transport"
	"pgdial/util"
)

// TestBuild_Modes verifies that Build picks the mode the configuration
// asks for.
func TestBuild_Modes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"ping", func(*config.Config) {}, "*core.PingMode"},
		{"exec", func(c *config.Config) { c.Command = "select 1" }, "*core.ExecMode"},
		{"dry run", func(c *config.Config) { c.DryRun = true; c.Command = "select 1" }, "*core.PlanMode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New()
			cfg.Hosts = []string{"db1"}
			tt.mutate(cfg)

			mode, err := Build(cfg, util.NewLogger(0), metrics.New())
			if err != nil {
				t.Fatal(err)
			}
			if got := typeName(mode); got != tt.want {
				t.Errorf("mode = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(m Mode) string {
	switch m.(type) {
	case *PingMode:
		return "*core.PingMode"
	case *ExecMode:
		return "*core.ExecMode"
	case *PlanMode:
		return "*core.PlanMode"
	}
	return "unknown"
}

func TestBuild_ExecCarriesSQL(t *testing.T) {
	cfg := config.New()
	cfg.Hosts = []string{"db1"}
	cfg.Command = "select now()"

	mode, err := Build(cfg, util.NewLogger(0), nil)
	if err != nil {
		t.Fatal(err)
	}
	if m := mode.(*ExecMode); m.SQL != "select now()" {
		t.Errorf("SQL = %q", m.SQL)
	}
}

func TestNewConnector_Tunnel(t *testing.T) {
	cfg := config.New()
	cfg.Hosts = []string{"db1"}
	cfg.TunnelSpec = "deploy@bastion:2222"

	c, err := NewConnector(cfg, util.NewLogger(0), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, ok := c.Resolver.Opener.TCP.(*transport.SSHDialer); !ok {
		t.Errorf("TCP dialer = %T, want *transport.SSHDialer", c.Resolver.Opener.TCP)
	}
	if cfg.TunnelUser != "deploy" || cfg.TunnelHost != "bastion" || cfg.TunnelPort != 2222 {
		t.Errorf("tunnel = %s@%s:%d", cfg.TunnelUser, cfg.TunnelHost, cfg.TunnelPort)
	}
}

func TestNewConnector_Direct(t *testing.T) {
	cfg := config.New()
	cfg.Hosts = []string{"db1"}
	cfg.ConnectTimeout = 7

	c, err := NewConnector(cfg, util.NewLogger(0), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Resolver.Opener.TCP.(*transport.TCPDialer); !ok {
		t.Errorf("TCP dialer = %T", c.Resolver.Opener.TCP)
	}
	if c.Resolver.Opener.Timeout != 7 {
		t.Errorf("Timeout = %v", c.Resolver.Opener.Timeout)
	}
}

func TestBuildTLSParams(t *testing.T) {
	cert := pgtest.NewCert(t)

	tests := []struct {
		mode   string
		roots  bool
		verify tlsconn.VerifyMode
	}{
		{config.SSLDisable, false, tlsconn.VerifyNone},
		{config.SSLAllow, false, tlsconn.VerifyNone},
		{config.SSLPrefer, false, tlsconn.VerifyNone},
		{config.SSLPrefer, true, tlsconn.VerifyCA},
		{config.SSLRequire, false, tlsconn.VerifyNone},
		{config.SSLRequire, true, tlsconn.VerifyCA},
		{config.SSLVerifyCA, true, tlsconn.VerifyCA},
		{config.SSLVerifyFull, false, tlsconn.VerifyFull},
		{config.SSLVerifyFull, true, tlsconn.VerifyFull},
	}
	for _, tt := range tests {
		cfg := config.New()
		cfg.SSLMode = tt.mode
		if tt.roots {
			cfg.SSLRootCert = cert.PEMPath
		}
		p, err := buildTLSParams(cfg)
		if err != nil {
			t.Fatalf("%s: %v", tt.mode, err)
		}
		if p.Verify != tt.verify {
			t.Errorf("%s roots=%v: verify = %v, want %v", tt.mode, tt.roots, p.Verify, tt.verify)
		}
		if (p.RootCAs != nil) != tt.roots {
			t.Errorf("%s: RootCAs loaded = %v", tt.mode, p.RootCAs != nil)
		}
	}
}

func TestBuildTLSParams_ClientCertAndDirect(t *testing.T) {
	cert := pgtest.NewCert(t)
	cfg := config.New()
	cfg.SSLMode = config.SSLRequire
	cfg.SSLCert = cert.PEMPath
	cfg.SSLKey = cert.KeyPath
	cfg.SSLNegotiation = config.NegotiateDirect

	p, err := buildTLSParams(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Certificates) != 1 {
		t.Errorf("certificates = %d", len(p.Certificates))
	}
	if !p.Direct {
		t.Error("direct negotiation not carried")
	}
}

func TestBuildTLSParams_BadFiles(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.crt")

	tests := []struct {
		name  string
		field string
		set   func(*config.Config)
	}{
		{"rootcert", "sslrootcert", func(c *config.Config) { c.SSLRootCert = missing }},
		{"cert", "sslcert", func(c *config.Config) { c.SSLCert, c.SSLKey = missing, missing }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New()
			tt.set(cfg)
			_, err := buildTLSParams(cfg)
			var ce *pgerr.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *ConfigError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("field = %s, want %s", ce.Field, tt.field)
			}
		})
	}
}
