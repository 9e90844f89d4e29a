// Package cmd wires up the CLI flags and dispatches to the connect core.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"pgdial/config"
	"pgdial/internal/core"
	"pgdial/internal/metrics"
	"pgdial/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X pgdial/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// promptPassword reads the -W password.  Replaced in tests.
var promptPassword = util.PromptSecret //nolint:gochecknoglobals

// Execute parses args and runs the selected pgdial mode.
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stdout, os.Stderr)
}

// flagValues holds flag values before they are layered onto the
// configuration.  Only flags the user set override earlier sources.
type flagValues struct {
	hosts          []string
	ports          string
	user           string
	database       string
	appName        string
	askPassword    bool
	connectTimeout int

	sslMode        string
	sslRootCert    string
	sslCert        string
	sslKey         string
	sslServerName  string
	sslNegotiation string

	tunnel        string
	sshKey        string
	sshPassword   bool
	sshAgent      bool
	strictHostKey bool
	knownHosts    string

	configFile string
	command    string
	stats      bool
	dryRun     bool
	verbose    int
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var fv flagValues
	fs := flag.NewFlagSet("pgdial", flag.ContinueOnError)
	fs.SetOutput(stderr)

	// ── connection ───────────────────────────────────────────────
	fs.StringSliceVarP(&fv.hosts, "host", "h", nil, "Server host, socket directory, or comma list (repeatable)")
	fs.StringVarP(&fv.ports, "port", "p", "", "Server port, or comma list paired with the hosts")
	fs.StringVarP(&fv.user, "username", "U", "", "Database user name")
	fs.StringVarP(&fv.database, "dbname", "d", "", "Database name")
	fs.StringVar(&fv.appName, "application-name", "", "application_name reported to the server")
	fs.BoolVarP(&fv.askPassword, "password", "W", false, "Prompt for the password")
	fs.IntVar(&fv.connectTimeout, "connect-timeout", 0, "Per-candidate time bound in seconds (0 = none)")

	// ── TLS ──────────────────────────────────────────────────────
	fs.StringVar(&fv.sslMode, "sslmode", "", "disable, allow, prefer, require, verify-ca or verify-full")
	fs.StringVar(&fv.sslRootCert, "sslrootcert", "", "Trusted root certificates (PEM)")
	fs.StringVar(&fv.sslCert, "sslcert", "", "Client certificate (PEM)")
	fs.StringVar(&fv.sslKey, "sslkey", "", "Client private key (PEM)")
	fs.StringVar(&fv.sslServerName, "sslservername", "", "Server name for SNI and verify-full")
	fs.StringVar(&fv.sslNegotiation, "sslnegotiation", "", "postgres (SSLRequest) or direct")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&fv.tunnel, "tunnel", "T", "", "SSH tunnel via [user@]host[:port]")
	fs.StringVar(&fv.sshKey, "ssh-key", "", "SSH private key file")
	fs.BoolVar(&fv.sshPassword, "ssh-password", false, "Prompt for SSH password")
	fs.BoolVar(&fv.sshAgent, "ssh-agent", false, "Use SSH agent")
	fs.BoolVar(&fv.strictHostKey, "strict-hostkey", false, "Verify SSH host keys")
	fs.StringVar(&fv.knownHosts, "known-hosts", "", "Custom known_hosts path")

	// ── execution ────────────────────────────────────────────────
	fs.StringVar(&fv.configFile, "config", "", "YAML configuration file")
	fs.StringVarP(&fv.command, "command", "c", "", "Run SQL and print the rows instead of pinging")
	fs.BoolVar(&fv.dryRun, "dry-run", false, "Print the candidates and exit")

	// ── output ───────────────────────────────────────────────────
	fs.BoolVar(&fv.stats, "stats", false, "Print connection metrics as JSON on exit")
	fs.CountVarP(&fv.verbose, "verbose", "v", "Increase verbosity (repeatable)")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVar(&showHelp, "help", false, "Show this help")

	fs.Usage = func() { printUsage(stderr, fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showHelp {
		printUsage(stderr, fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "pgdial %s\n", version)
		return nil
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("too many arguments (use --help for usage)")
	}

	// ── layer the sources ────────────────────────────────────────
	cfg := config.New()
	if err := config.LoadFromEnv(cfg); err != nil {
		return err
	}
	if fv.configFile != "" {
		if err := config.LoadFile(fv.configFile, cfg); err != nil {
			return err
		}
	}
	if fs.NArg() == 1 {
		if err := config.ParseConnString(fs.Arg(0), cfg); err != nil {
			return err
		}
	}
	if err := applyFlags(fs, &fv, cfg); err != nil {
		return err
	}

	if fv.askPassword && !cfg.DryRun {
		pw, err := promptPassword("Password: ")
		if err != nil {
			return err
		}
		cfg.Password = pw
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}

	// ── build and run ────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	logger.SetOutput(stderr)
	m := metrics.New()

	mode, err := core.Build(cfg, logger, m)
	if err != nil {
		return err
	}
	if o, ok := mode.(interface{ SetOutput(io.Writer) }); ok {
		o.SetOutput(stdout)
	}

	runErr := mode.Run(ctx)
	if runErr != nil {
		m.RecordError(runErr.Error())
	}
	if cfg.Stats {
		fmt.Fprintln(stderr, m.JSON())
	}
	return runErr
}

// applyFlags copies every flag the user set onto cfg.
func applyFlags(fs *flag.FlagSet, fv *flagValues, cfg *config.Config) error {
	set := func(name string) bool { return fs.Changed(name) }

	if set("host") {
		cfg.Hosts = nil
		for _, h := range fv.hosts {
			cfg.Hosts = append(cfg.Hosts, config.ParseHosts(h)...)
		}
	}
	if set("port") {
		ports, err := config.ParsePorts(fv.ports)
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		cfg.Ports = ports
	}
	if set("username") {
		cfg.User = fv.user
	}
	if set("dbname") {
		cfg.Database = fv.database
	}
	if set("application-name") {
		cfg.AppName = fv.appName
	}
	if set("connect-timeout") {
		cfg.ConnectTimeout = time.Duration(fv.connectTimeout) * time.Second
	}

	strs := []struct {
		flag string
		dst  *string
		val  string
	}{
		{"sslmode", &cfg.SSLMode, fv.sslMode},
		{"sslrootcert", &cfg.SSLRootCert, fv.sslRootCert},
		{"sslcert", &cfg.SSLCert, fv.sslCert},
		{"sslkey", &cfg.SSLKey, fv.sslKey},
		{"sslservername", &cfg.SSLServerName, fv.sslServerName},
		{"sslnegotiation", &cfg.SSLNegotiation, fv.sslNegotiation},
		{"tunnel", &cfg.TunnelSpec, fv.tunnel},
		{"ssh-key", &cfg.SSHKeyPath, fv.sshKey},
		{"known-hosts", &cfg.KnownHostsPath, fv.knownHosts},
		{"command", &cfg.Command, fv.command},
	}
	for _, s := range strs {
		if set(s.flag) {
			*s.dst = s.val
		}
	}

	bools := []struct {
		flag string
		dst  *bool
		val  bool
	}{
		{"ssh-password", &cfg.SSHPassword, fv.sshPassword},
		{"ssh-agent", &cfg.UseSSHAgent, fv.sshAgent},
		{"strict-hostkey", &cfg.StrictHostKey, fv.strictHostKey},
		{"stats", &cfg.Stats, fv.stats},
		{"dry-run", &cfg.DryRun, fv.dryRun},
	}
	for _, b := range bools {
		if set(b.flag) {
			*b.dst = b.val
		}
	}

	if set("verbose") {
		cfg.Verbose = fv.verbose
	}
	return nil
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `pgdial – PostgreSQL connection establishment tool v%s

Resolves a list of server candidates, negotiates TLS the way libpq does
and runs the protocol startup, optionally through an SSH bastion.

Usage:
  pgdial [options] [connstring]

Options:
`, version)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Examples:
  pgdial -h db1,db2 -p 5432,6432 -U app           Ping the first reachable host
  pgdial "postgres://app@db1,db2/prod?sslmode=verify-full"
  pgdial -h /var/run/postgresql -c "select now()" Run SQL over the local socket
  pgdial -T admin@bastion -h db-internal          Connect through an SSH tunnel
  pgdial -h db1,db2 --dry-run                     Show the candidate order
`)
}
