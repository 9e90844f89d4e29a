package core

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"pgdial/config"
	"pgdial/internal/metrics"
	"pgdial/internal/pgtest"
	"pgdial/internal/transport"
	"pgdial/util"
)

func connector(t *testing.T, cfg *config.Config) *Connector {
	t.Helper()
	c, err := NewConnector(cfg, util.NewLogger(0), metrics.New())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func runMode(t *testing.T, m Mode) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestPingMode(t *testing.T) {
	srv := pgtest.NewServer(t)
	out := &bytes.Buffer{}
	c := connector(t, baseConfig(srv, config.SSLPrefer))

	m := &PingMode{Connector: c}
	m.Stdout = out
	runMode(t, m)

	want := fmt.Sprintf("connected to %s: server_version=%s pid=%d tls=off\n",
		transport.Candidate{Host: srv.Host(), Port: srv.Port()}, pgtest.ServerVersion, pgtest.BackendPID)
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if c.Metrics.ActiveSessions() != 0 {
		t.Errorf("active sessions = %d after Run", c.Metrics.ActiveSessions())
	}
}

func TestPingMode_TLS(t *testing.T) {
	cert := pgtest.NewCert(t)
	srv := pgtest.NewServer(t, pgtest.WithTLS(cert.ServerConfig()))
	out := &bytes.Buffer{}

	m := &PingMode{Connector: connector(t, baseConfig(srv, config.SSLRequire))}
	m.Stdout = out
	runMode(t, m)

	if !strings.Contains(out.String(), "tls=on") {
		t.Errorf("output = %q, want tls=on", out.String())
	}
	if !strings.Contains(out.String(), "channel binding: ") {
		t.Errorf("output = %q, want the binding token", out.String())
	}
}

func TestPingMode_ConnectFailure(t *testing.T) {
	srv := pgtest.NewServer(t)
	m := &PingMode{Connector: connector(t, baseConfig(srv, config.SSLRequire))}
	m.Stdout = &bytes.Buffer{}
	if err := m.Run(context.Background()); err == nil {
		t.Fatal("expected an error when TLS is required and refused")
	}
}

func TestExecMode(t *testing.T) {
	srv := pgtest.NewServer(t)

	tests := []struct {
		name string
		sql  string
		want string
	}{
		{"rows", "select 1", "select 1\n"},
		{"command tag", "NOTICE vacuum skipped", "DO\n"},
		{"empty", "-- nothing", ""},
		{
			"notification",
			"NOTIFY rebuilt",
			"NOTIFY\nAsynchronous notification \"events\" with payload \"rebuilt\" received from server process with PID 4242.\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			m := &ExecMode{Connector: connector(t, baseConfig(srv, config.SSLDisable)), SQL: tt.sql}
			m.Stdout = out
			runMode(t, m)
			if out.String() != tt.want {
				t.Errorf("output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestExecMode_ServerError(t *testing.T) {
	srv := pgtest.NewServer(t)
	m := &ExecMode{Connector: connector(t, baseConfig(srv, config.SSLDisable)), SQL: "ERROR syntax"}
	m.Stdout = &bytes.Buffer{}

	err := m.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "syntax") {
		t.Fatalf("err = %v, want the server's message", err)
	}
}

func TestPlanMode(t *testing.T) {
	cfg := config.New()
	cfg.Hosts = []string{"db1", "/var/run/postgresql"}
	cfg.Ports = []uint16{6432}
	cfg.SSLMode = config.SSLRequire
	cfg.ConnectTimeout = 3 * time.Second

	out := &bytes.Buffer{}
	m := &PlanMode{Candidates: transport.Pair(cfg.Hosts, cfg.Ports), Config: cfg}
	m.Stdout = out
	runMode(t, m)

	got := out.String()
	for _, want := range []string{
		"db1:6432",
		"/var/run/postgresql/.s.PGSQL.5432",
		"require",
		"never (local socket)",
		"each attempt bounded by 3s",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestPlanMode_NoHosts(t *testing.T) {
	out := &bytes.Buffer{}
	m := &PlanMode{Config: config.New()}
	m.Stdout = out
	runMode(t, m)
	if !strings.Contains(out.String(), "no candidates") {
		t.Errorf("output = %q", out.String())
	}
}
