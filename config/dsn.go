package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	pgerr "pgdial/internal/errors"
)

// ParseConnString overlays a libpq connection string onto cfg.  Both
// forms are accepted:
//
//	host=db1,db2 port=5432,5433 user=app sslmode=require
//	postgres://app@db1:5432,db2:5433/orders?sslmode=require
//
// Keys pgdial does not know are kept as server runtime parameters.
func ParseConnString(s string, cfg *Config) error {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://") {
		return parseURL(s, cfg)
	}
	return parseKeywords(s, cfg)
}

// parseURL splits the authority by hand because net/url rejects the
// comma-separated host lists and escaped socket directories libpq allows.
// Only the path and query go through net/url.
func parseURL(s string, cfg *Config) error {
	_, rest, _ := strings.Cut(s, "://")

	authority, tail := rest, ""
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		authority, tail = rest[:i], rest[i:]
	}

	if at := strings.LastIndex(authority, "@"); at >= 0 {
		userinfo := authority[:at]
		authority = authority[at+1:]
		user, pass, hasPass := strings.Cut(userinfo, ":")
		var err error
		if cfg.User, err = url.PathUnescape(user); err != nil {
			return &pgerr.ConfigError{Field: "connstring", Value: user, Message: err.Error()}
		}
		if hasPass {
			if cfg.Password, err = url.PathUnescape(pass); err != nil {
				return &pgerr.ConfigError{Field: "connstring", Message: "invalid password escape"}
			}
		}
	}

	if authority != "" {
		var hosts []string
		var ports []uint16
		for _, hp := range strings.Split(authority, ",") {
			host, port, err := splitHostPort(hp)
			if err != nil {
				return &pgerr.ConfigError{Field: "connstring", Value: hp, Message: err.Error()}
			}
			if host, err = url.PathUnescape(host); err != nil {
				return &pgerr.ConfigError{Field: "connstring", Value: hp, Message: err.Error()}
			}
			hosts = append(hosts, host)
			ports = append(ports, port)
		}
		cfg.Hosts = hosts
		cfg.Ports = trimPorts(ports)
	}

	u, err := url.Parse(tail)
	if err != nil {
		return &pgerr.ConfigError{Field: "connstring", Message: err.Error()}
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		cfg.Database = db
	}

	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return &pgerr.ConfigError{Field: "connstring", Value: u.RawQuery, Message: err.Error()}
	}
	for k, vs := range q {
		if err := setParam(cfg, k, vs[len(vs)-1]); err != nil {
			return err
		}
	}
	return nil
}

// splitHostPort splits "host", "host:port", "[v6]" or "[v6]:port".
func splitHostPort(hp string) (string, uint16, error) {
	host, portStr := hp, ""
	if strings.HasPrefix(hp, "[") {
		end := strings.Index(hp, "]")
		if end < 0 {
			return "", 0, fmt.Errorf("unterminated IPv6 address")
		}
		host = hp[1:end]
		portStr = strings.TrimPrefix(hp[end+1:], ":")
	} else if i := strings.LastIndex(hp, ":"); i >= 0 {
		host, portStr = hp[:i], hp[i+1:]
	}
	if portStr == "" {
		return host, 0, nil
	}
	n, err := strconv.Atoi(portStr)
	if err != nil || n < 1 || n > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, uint16(n), nil
}

// trimPorts drops the list when no entry names a port.
func trimPorts(ports []uint16) []uint16 {
	for _, p := range ports {
		if p != 0 {
			return ports
		}
	}
	return nil
}

// parseKeywords reads key=value pairs separated by whitespace.  Values
// may be single-quoted; inside quotes, \' and \\ are escapes.
func parseKeywords(s string, cfg *Config) error {
	for len(s) > 0 {
		s = strings.TrimLeft(s, " \t\n\r")
		if s == "" {
			break
		}

		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			return &pgerr.ConfigError{Field: "connstring", Value: s, Message: "missing \"=\" after keyword"}
		}
		key := strings.TrimSpace(s[:eq])
		s = strings.TrimLeft(s[eq+1:], " \t")

		var val strings.Builder
		if strings.HasPrefix(s, "'") {
			s = s[1:]
			closed := false
			for len(s) > 0 {
				c := s[0]
				s = s[1:]
				if c == '\\' && len(s) > 0 {
					val.WriteByte(s[0])
					s = s[1:]
					continue
				}
				if c == '\'' {
					closed = true
					break
				}
				val.WriteByte(c)
			}
			if !closed {
				return &pgerr.ConfigError{Field: key, Message: "unterminated quoted value"}
			}
		} else {
			end := strings.IndexAny(s, " \t\n\r")
			if end < 0 {
				end = len(s)
			}
			raw := s[:end]
			s = s[end:]
			for i := 0; i < len(raw); i++ {
				if raw[i] == '\\' && i+1 < len(raw) {
					i++
				}
				val.WriteByte(raw[i])
			}
		}

		if err := setParam(cfg, key, val.String()); err != nil {
			return err
		}
	}
	return nil
}

// setParam applies one connection parameter.
func setParam(cfg *Config, key, val string) error {
	switch key {
	case "host", "hostaddr":
		cfg.Hosts = ParseHosts(val)
	case "port":
		ports, err := ParsePorts(val)
		if err != nil {
			return &pgerr.ConfigError{Field: key, Value: val, Message: err.Error()}
		}
		cfg.Ports = ports
	case "user":
		cfg.User = val
	case "password":
		cfg.Password = val
	case "dbname":
		cfg.Database = val
	case "application_name":
		cfg.AppName = val
	case "connect_timeout":
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 {
			return &pgerr.ConfigError{Field: key, Value: val, Message: "expected whole seconds"}
		}
		cfg.ConnectTimeout = secondsDuration(n)
	case "sslmode":
		cfg.SSLMode = val
	case "sslrootcert":
		cfg.SSLRootCert = val
	case "sslcert":
		cfg.SSLCert = val
	case "sslkey":
		cfg.SSLKey = val
	case "sslservername":
		cfg.SSLServerName = val
	case "sslnegotiation":
		cfg.SSLNegotiation = val
	default:
		if cfg.RuntimeParams == nil {
			cfg.RuntimeParams = make(map[string]string)
		}
		cfg.RuntimeParams[key] = val
	}
	return nil
}
