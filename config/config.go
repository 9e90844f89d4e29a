// Package config defines the runtime configuration for pgdial and the
// parsers that fill it: connection strings, PG* environment variables,
// YAML files and SSH tunnel specifications.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	pgerr "pgdial/internal/errors"
)

// SSL modes, as understood by libpq.
const (
	SSLDisable    = "disable"
	SSLAllow      = "allow"
	SSLPrefer     = "prefer"
	SSLRequire    = "require"
	SSLVerifyCA   = "verify-ca"
	SSLVerifyFull = "verify-full"
)

// SSL negotiation styles.
const (
	NegotiatePostgres = "postgres"
	NegotiateDirect   = "direct"
)

// Config holds every tuneable for a single pgdial connection.
type Config struct {
	// ── Connection ───────────────────────────────────────────────────
	Hosts          []string          `yaml:"hosts"`
	Ports          []uint16          `yaml:"ports"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout"`
	User           string            `yaml:"user"`
	Password       string            `yaml:"password"`
	Database       string            `yaml:"dbname"`
	AppName        string            `yaml:"application_name"`
	RuntimeParams  map[string]string `yaml:"runtime_params"`

	// ── TLS ──────────────────────────────────────────────────────────
	SSLMode        string `yaml:"sslmode"`
	SSLRootCert    string `yaml:"sslrootcert"`
	SSLCert        string `yaml:"sslcert"`
	SSLKey         string `yaml:"sslkey"`
	SSLServerName  string `yaml:"sslservername"`
	SSLNegotiation string `yaml:"sslnegotiation"`

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string `yaml:"tunnel"` // raw user@host[:port] from -T
	TunnelEnabled  bool   `yaml:"-"`
	TunnelUser     string `yaml:"-"`
	TunnelHost     string `yaml:"-"`
	TunnelPort     int    `yaml:"-"`
	SSHKeyPath     string `yaml:"ssh_key"`
	SSHPassword    bool   `yaml:"ssh_password"` // true → prompt interactively
	UseSSHAgent    bool   `yaml:"ssh_agent"`
	StrictHostKey  bool   `yaml:"strict_hostkey"`
	KnownHostsPath string `yaml:"known_hosts"`

	// ── Execution ────────────────────────────────────────────────────
	Command string `yaml:"-"` // -c: SQL to run instead of a ping
	DryRun  bool   `yaml:"-"` // print the candidates and stop

	// ── Output ───────────────────────────────────────────────────────
	Verbose int  `yaml:"verbose"`
	Stats   bool `yaml:"stats"`
}

// New returns a Config holding the defaults.
func New() *Config {
	return &Config{
		SSLMode:        DefaultSSLMode,
		SSLNegotiation: NegotiatePostgres,
		AppName:        DefaultAppName,
	}
}

// ── Host and port helpers ────────────────────────────────────────────

// ParseHosts splits a comma-separated host list.  Empty entries are
// dropped.
func ParseHosts(spec string) []string {
	var out []string
	for _, h := range strings.Split(spec, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

// ParsePorts splits a comma-separated port list.  An empty entry keeps
// its position and means the default port.
func ParsePorts(spec string) ([]uint16, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	parts := strings.Split(spec, ",")
	out := make([]uint16, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			out = append(out, 0)
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return nil, fmt.Errorf("invalid port %q", p)
		}
		out = append(out, uint16(n))
	}
	return out, nil
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q, expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("tunnel host is required")
	}
	return user, host, port, nil
}

// ApplyTunnelSpec parses TunnelSpec into the tunnel fields.  An empty
// spec disables the tunnel.
func (c *Config) ApplyTunnelSpec() error {
	if c.TunnelSpec == "" {
		c.TunnelEnabled = false
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return &pgerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: err.Error()}
	}
	c.TunnelEnabled = true
	c.TunnelUser = user
	c.TunnelHost = host
	c.TunnelPort = port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

var sslModes = []string{SSLDisable, SSLAllow, SSLPrefer, SSLRequire, SSLVerifyCA, SSLVerifyFull}

// Validate checks that the configuration is internally consistent.
// An empty host list is not an error here: the connector reports it.
func (c *Config) Validate() error {
	if len(c.Ports) > len(c.Hosts) && len(c.Hosts) > 0 {
		return &pgerr.ConfigError{
			Field:   "port",
			Value:   formatPorts(c.Ports),
			Message: fmt.Sprintf("%d ports given for %d hosts", len(c.Ports), len(c.Hosts)),
			Hint:    "ports pair with hosts by position; give at most one per host",
		}
	}

	if c.ConnectTimeout < 0 {
		return &pgerr.ConfigError{Field: "connect_timeout", Value: c.ConnectTimeout.String(), Message: "must not be negative"}
	}

	if !contains(sslModes, c.SSLMode) {
		return &pgerr.ConfigError{
			Field:   "sslmode",
			Value:   c.SSLMode,
			Message: "unknown mode",
			Hint:    "one of " + strings.Join(sslModes, ", "),
		}
	}

	switch c.SSLNegotiation {
	case "", NegotiatePostgres:
	case NegotiateDirect:
		if !c.RequiresTLS() {
			return &pgerr.ConfigError{
				Field:   "sslnegotiation",
				Value:   c.SSLNegotiation,
				Message: "direct negotiation needs encryption",
				Hint:    "use sslmode=require, verify-ca or verify-full",
			}
		}
	default:
		return &pgerr.ConfigError{Field: "sslnegotiation", Value: c.SSLNegotiation, Message: "expected postgres or direct"}
	}

	if (c.SSLCert == "") != (c.SSLKey == "") {
		return &pgerr.ConfigError{
			Field:   "sslcert",
			Message: "client certificate and key must be given together",
			Hint:    "set both --sslcert and --sslkey",
		}
	}

	if c.SSLMode == SSLVerifyCA && c.SSLRootCert == "" {
		return &pgerr.ConfigError{
			Field:   "sslrootcert",
			Message: "verify-ca needs trusted root certificates",
			Hint:    "set --sslrootcert or PGSSLROOTCERT",
		}
	}

	if c.TunnelEnabled && c.TunnelHost == "" {
		return &pgerr.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
	}

	return nil
}

// RequiresTLS reports whether the mode refuses a plaintext connection.
func (c *Config) RequiresTLS() bool {
	switch c.SSLMode {
	case SSLRequire, SSLVerifyCA, SSLVerifyFull:
		return true
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func formatPorts(ports []uint16) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(int(p))
	}
	return strings.Join(parts, ",")
}
