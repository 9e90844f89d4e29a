// Package core is the orchestration layer.  It resolves candidates,
// secures the chosen stream and starts the protocol, and composes that
// connect path into the operational modes the CLI runs.
//
// Architecture layers (bottom → top):
//
//	transport  →  stream  →  tlsconn  →  core  →  session  →  cmd (CLI)
//
// The builder in this package is the single dispatch point between a
// Config and the mode that serves it.
package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"pgdial/config"
	"pgdial/internal/session"
	"pgdial/internal/transport"
)

// Mode represents a complete operational mode of pgdial (ping, exec,
// or dry run).  Each mode owns its full lifecycle from connection
// establishment to teardown.
type Mode interface {
	Run(ctx context.Context) error
}

// output holds the writer override shared by the modes.
type output struct {
	// Stdout defaults to os.Stdout when nil.  Override in tests for
	// deterministic output.
	Stdout io.Writer
}

// SetOutput redirects the mode's report to w.
func (o *output) SetOutput(w io.Writer) { o.Stdout = w }

func (o *output) stdout() io.Writer {
	if o.Stdout != nil {
		return o.Stdout
	}
	return os.Stdout
}

// open connects and starts the connection task.  The returned stop
// function closes the client, waits for the task and releases the
// connector's dialers.
func open(ctx context.Context, c *Connector) (*session.Client, *session.Connection, func(), error) {
	client, conn, err := c.Connect(ctx)
	if err != nil {
		c.Close()
		return nil, nil, nil, err
	}
	go conn.Run(ctx) //nolint:errcheck
	stop := func() {
		client.Close()
		<-client.Done()
		c.Close()
	}
	return client, conn, stop, nil
}

// ── Ping ─────────────────────────────────────────────────────────────

// PingMode connects, round-trips an empty statement and reports what
// it connected to.  It is the default mode.
type PingMode struct {
	output
	Connector *Connector
}

// Run connects, pings and prints a one-line summary.
func (m *PingMode) Run(ctx context.Context) error {
	client, _, stop, err := open(ctx, m.Connector)
	if err != nil {
		return err
	}
	defer stop()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	tlsState := "off"
	if client.Encrypted() {
		tlsState = "on"
	}
	fmt.Fprintf(m.stdout(), "connected to %s: server_version=%s pid=%d tls=%s\n",
		client.Addr(), client.ParameterStatus("server_version"), client.PID(), tlsState)
	if b := client.ChannelBinding(); b != nil {
		fmt.Fprintf(m.stdout(), "channel binding: %x\n", b)
	}
	return nil
}

// ── Exec ─────────────────────────────────────────────────────────────

// ExecMode runs one SQL string and prints the result rows tab
// separated, one line per row.  Statements without rows print their
// command tag.
type ExecMode struct {
	output
	Connector *Connector
	SQL       string
}

// Run connects, executes SQL and prints the results.
func (m *ExecMode) Run(ctx context.Context) error {
	client, conn, stop, err := open(ctx, m.Connector)
	if err != nil {
		return err
	}
	defer stop()

	results, err := client.Exec(ctx, m.SQL)
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	w := m.stdout()
	for _, r := range results {
		if len(r.Columns) == 0 {
			if r.CommandTag != "" {
				fmt.Fprintln(w, r.CommandTag)
			}
			continue
		}
		for _, row := range r.Rows {
			fields := make([]string, len(row))
			for i, v := range row {
				fields[i] = string(v)
			}
			fmt.Fprintln(w, strings.Join(fields, "\t"))
		}
	}

	printNotifications(w, conn.Notifications())
	return nil
}

// printNotifications reports notifications already queued, without
// waiting for more.
func printNotifications(w io.Writer, ch <-chan session.Notification) {
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "Asynchronous notification %q with payload %q received from server process with PID %d.\n",
				n.Channel, n.Payload, n.PID)
		default:
			return
		}
	}
}

// ── Dry run ──────────────────────────────────────────────────────────

// PlanMode prints the candidates in trial order without dialing.
type PlanMode struct {
	output
	Candidates []transport.Candidate
	Config     *config.Config
}

// Run prints the plan.
func (m *PlanMode) Run(context.Context) error {
	tw := tabwriter.NewWriter(m.stdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNETWORK\tADDRESS\tTLS")
	for i, c := range m.Candidates {
		tlsPlan := m.Config.SSLMode
		if c.IsUnix() {
			tlsPlan = "never (local socket)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, c.Network(), c.Address(), tlsPlan)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(m.Candidates) == 0 {
		fmt.Fprintln(m.stdout(), "no candidates: host missing")
	}
	if m.Config.ConnectTimeout > 0 {
		fmt.Fprintf(m.stdout(), "each attempt bounded by %s\n", m.Config.ConnectTimeout)
	}
	return nil
}
