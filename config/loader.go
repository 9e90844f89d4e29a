package config

// loader.go - configuration loading from environment variables and
// YAML files.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Connection string  (dsn.go)
//   3. Config file  (LoadFile)
//   4. Environment variables  (LoadFromEnv)
//   5. Defaults   (defaults.go)

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pgerr "pgdial/internal/errors"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Connection settings use the libpq PG* names.  Tunnel and output
// settings have no libpq equivalent and use the PGDIAL_ prefix.
// Boolean values accept "1", "true", "yes" (case-insensitive).

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  A malformed PGPORT is an
// error; other malformed numbers are ignored.
func LoadFromEnv(cfg *Config) error {
	if v := os.Getenv("PGHOST"); v != "" {
		cfg.Hosts = ParseHosts(v)
	}
	if v := os.Getenv("PGPORT"); v != "" {
		ports, err := ParsePorts(v)
		if err != nil {
			return &pgerr.ConfigError{Field: "PGPORT", Value: v, Message: err.Error()}
		}
		cfg.Ports = ports
	}
	if v := os.Getenv("PGUSER"); v != "" {
		cfg.User = v
	}
	if v := os.Getenv("PGPASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("PGDATABASE"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("PGAPPNAME"); v != "" {
		cfg.AppName = v
	}
	if v := envInt("PGCONNECT_TIMEOUT"); v > 0 {
		cfg.ConnectTimeout = secondsDuration(v)
	}

	// TLS
	if v := os.Getenv("PGSSLMODE"); v != "" {
		cfg.SSLMode = v
	}
	if v := os.Getenv("PGSSLROOTCERT"); v != "" {
		cfg.SSLRootCert = v
	}
	if v := os.Getenv("PGSSLCERT"); v != "" {
		cfg.SSLCert = v
	}
	if v := os.Getenv("PGSSLKEY"); v != "" {
		cfg.SSLKey = v
	}
	if v := os.Getenv("PGSSLSERVERNAME"); v != "" {
		cfg.SSLServerName = v
	}
	if v := os.Getenv("PGSSLNEGOTIATION"); v != "" {
		cfg.SSLNegotiation = v
	}

	// SSH tunnel
	if v := os.Getenv("PGDIAL_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("PGDIAL_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("PGDIAL_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("PGDIAL_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("PGDIAL_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("PGDIAL_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if v := envInt("PGDIAL_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
	return nil
}

// ── YAML file ────────────────────────────────────────────────────────

// LoadFile overlays the YAML document at path onto cfg.  Keys absent
// from the file leave cfg untouched; unknown keys are rejected.
//
//	hosts: [db1.internal, /var/run/postgresql]
//	ports: [5432, 5433]
//	connect_timeout: 5s
//	sslmode: verify-full
func LoadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return &pgerr.ConfigError{Field: "file", Value: path, Message: err.Error()}
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
