package config

import (
	"errors"
	"strings"
	"testing"

	pgerr "pgdial/internal/errors"
)

// TestValidate_ErrorMessages verifies that Validate returns actionable
// error messages with hints.
func TestValidate_ErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantSub string // substring expected in error
	}{
		{
			name:    "too many ports has hint",
			cfg:     Config{Hosts: []string{"db1"}, Ports: []uint16{5432, 5433}, SSLMode: SSLPrefer},
			wantSub: "hint: ports pair with hosts by position",
		},
		{
			name:    "unknown sslmode lists modes",
			cfg:     Config{SSLMode: "maybe"},
			wantSub: "verify-full",
		},
		{
			name:    "direct negotiation hint",
			cfg:     Config{SSLMode: SSLPrefer, SSLNegotiation: NegotiateDirect},
			wantSub: "hint: use sslmode=require",
		},
		{
			name:    "verify-ca hint",
			cfg:     Config{SSLMode: SSLVerifyCA},
			wantSub: "PGSSLROOTCERT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantSub)
			}
			var ce *pgerr.ConfigError
			if !errors.As(err, &ce) {
				t.Errorf("error %T is not a *ConfigError", err)
			}
		})
	}
}

// TestParseTunnelSpec_EdgeCases covers additional tunnel specs.
func TestParseTunnelSpec_EdgeCases(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"user@host.with.dots:22", false},
		{"user@host-with-dashes", false},
		{"host:0", true},     // port 0 out of range
		{"host:65536", true}, // port too high
		{"user@", false},     // regex treats "user@" as hostname
		{"", true},           // empty string
		{":22", true},        // no host before colon
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, _, _, err := ParseTunnelSpec(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseTunnelSpec(%q) err = %v, wantErr = %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
