package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultPort is the PostgreSQL server's well-known port.
	DefaultPort = 5432

	// DefaultSSLMode tries TLS and falls back to plaintext, as libpq
	// does.
	DefaultSSLMode = SSLPrefer

	// DefaultAppName is reported to the server as application_name.
	DefaultAppName = "pgdial"

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultSSHTimeout bounds the SSH handshake with a jump host.
	DefaultSSHTimeout = 30 * time.Second

	// DefaultStatementTimeout bounds the statement the CLI runs.
	DefaultStatementTimeout = 5 * time.Minute
)
