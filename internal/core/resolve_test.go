package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	pgerr "pgdial/internal/errors"
	"pgdial/internal/metrics"
	"pgdial/internal/transport"
	"pgdial/util"
)

// acceptor listens on loopback and accepts (and holds) everything.
func acceptor(t *testing.T) transport.Candidate {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			t.Cleanup(func() { conn.Close() })
		}
	}()
	return transport.Candidate{Host: "127.0.0.1", Port: uint16(ln.Addr().(*net.TCPAddr).Port)}
}

// closedPort returns a loopback candidate nothing listens on.
func closedPort(t *testing.T) transport.Candidate {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	ln.Close()
	return transport.Candidate{Host: "127.0.0.1", Port: port}
}

// routeDialer stalls for hosts in stall and dials the rest for real.
type routeDialer struct {
	stall map[string]bool
	// alias redirects a host name to a real address.
	alias map[string]string

	mu    sync.Mutex
	dials []string
}

func (d *routeDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.dials = append(d.dials, address)
	d.mu.Unlock()

	host, _, _ := net.SplitHostPort(address)
	if d.stall[host] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if real, ok := d.alias[host]; ok {
		address = real
	}
	var nd net.Dialer
	return nd.DialContext(ctx, network, address)
}

func (d *routeDialer) Close() error { return nil }

func (d *routeDialer) addresses() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}

func newResolver(d transport.Dialer, timeout time.Duration) *Resolver {
	return &Resolver{
		Opener:  &transport.Opener{TCP: d, Timeout: timeout},
		Logger:  util.NewLogger(0),
		Metrics: metrics.New(),
	}
}

func TestResolve_Empty(t *testing.T) {
	d := &routeDialer{}
	_, _, err := newResolver(d, 0).Resolve(context.Background(), nil)
	if !errors.Is(err, pgerr.ErrNoHost) {
		t.Fatalf("err = %v, want ErrNoHost", err)
	}
	if n := len(d.addresses()); n != 0 {
		t.Errorf("dialed %d times, want no I/O", n)
	}
}

// TestResolve_ReachableAtAnyPosition puts the one live candidate at
// each position of the list in turn.
func TestResolve_ReachableAtAnyPosition(t *testing.T) {
	good := acceptor(t)
	for pos := 0; pos < 3; pos++ {
		cands := []transport.Candidate{closedPort(t), closedPort(t)}
		cands = append(cands[:pos], append([]transport.Candidate{good}, cands[pos:]...)...)

		d := &routeDialer{}
		s, got, err := newResolver(d, time.Second).Resolve(context.Background(), cands)
		if err != nil {
			t.Fatalf("pos %d: %v", pos, err)
		}
		s.Close()
		if got != good {
			t.Errorf("pos %d: chose %v, want %v", pos, got, good)
		}
		if n := len(d.addresses()); n != pos+1 {
			t.Errorf("pos %d: %d dials, want %d", pos, n, pos+1)
		}
	}
}

func TestResolve_ReportsLastError(t *testing.T) {
	first, last := closedPort(t), transport.Candidate{Host: "10.255.255.1", Port: 5432}
	d := &routeDialer{stall: map[string]bool{"10.255.255.1": true}}
	r := newResolver(d, 30*time.Millisecond)

	_, _, err := r.Resolve(context.Background(), []transport.Candidate{first, last})

	var fe *pgerr.FallbackError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %T %v, want *FallbackError", err, err)
	}
	if len(fe.Attempts()) != 2 {
		t.Fatalf("attempts = %d, want 2", len(fe.Attempts()))
	}
	if !errors.Is(err, pgerr.ErrTimedOut) {
		t.Errorf("err = %v, want the last (timed out) failure", err)
	}
	if errors.Is(err, pgerr.ErrConnectFailed) {
		t.Error("earlier failures must not leak through Unwrap")
	}
	if !strings.Contains(fe.All().Error(), first.String()) {
		t.Errorf("All() = %v, want the first attempt too", fe.All())
	}
	if r.Metrics.Timeouts() != 1 || r.Metrics.FailedAttempts() != 2 {
		t.Errorf("timeouts=%d failed=%d", r.Metrics.Timeouts(), r.Metrics.FailedAttempts())
	}
}

// TestResolve_TimeoutThenNext checks a stalled candidate costs one
// bound and the walk moves on.
func TestResolve_TimeoutThenNext(t *testing.T) {
	good := acceptor(t)
	stalled := transport.Candidate{Host: "10.255.255.1", Port: 5432}
	d := &routeDialer{stall: map[string]bool{"10.255.255.1": true}}

	start := time.Now()
	s, got, err := newResolver(d, 50*time.Millisecond).Resolve(context.Background(),
		[]transport.Candidate{stalled, good})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	defer s.Close()
	if got != good {
		t.Errorf("chose %v", got)
	}
	if el := time.Since(start); el > 2*time.Second {
		t.Errorf("took %s", el)
	}
	if want := []string{stalled.Address(), good.Address()}; strings.Join(d.addresses(), ",") != strings.Join(want, ",") {
		t.Errorf("dial order = %v, want %v", d.addresses(), want)
	}
}

func TestResolve_ContextCancelled(t *testing.T) {
	d := &routeDialer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newResolver(d, 0).Resolve(ctx, []transport.Candidate{acceptor(t)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := len(d.addresses()); n != 0 {
		t.Errorf("dialed %d times after cancel", n)
	}
}

// TestResolve_BadhostGoodhost refuses on the first name, connects on
// the second and never consults the third.
func TestResolve_BadhostGoodhost(t *testing.T) {
	d := &routeDialer{alias: map[string]string{
		"badhost":  closedPort(t).Address(),
		"goodhost": acceptor(t).Address(),
	}}
	cands := []transport.Candidate{
		{Host: "badhost", Port: 5432},
		{Host: "goodhost", Port: 5432},
		{Host: "neverhost", Port: 5432},
	}

	s, got, err := newResolver(d, time.Second).Resolve(context.Background(), cands)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	defer s.Close()
	if got.Host != "goodhost" {
		t.Errorf("chose %v", got)
	}
	if want := "badhost:5432,goodhost:5432"; strings.Join(d.addresses(), ",") != want {
		t.Errorf("dials = %v, want %s", d.addresses(), want)
	}
}

// unsupportedDialer reports every socket path as unreachable on this
// platform, the way the unix dialer does on windows.
type unsupportedDialer struct{ dials int }

func (d *unsupportedDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	d.dials++
	return nil, fmt.Errorf("unix socket %s: %w", address, pgerr.ErrUnsupported)
}

func (d *unsupportedDialer) Close() error { return nil }

func TestResolve_UnsupportedSocketFallsThrough(t *testing.T) {
	socket := transport.Candidate{Host: "/tmp", Port: 5433}

	t.Run("then tcp", func(t *testing.T) {
		good := acceptor(t)
		unix := &unsupportedDialer{}
		r := newResolver(&routeDialer{}, time.Second)
		r.Opener.Unix = unix

		s, got, err := r.Resolve(context.Background(), []transport.Candidate{socket, good})
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		defer s.Close()
		if got != good {
			t.Errorf("chose %v, want %v", got, good)
		}
		if unix.dials != 1 {
			t.Errorf("unix dials = %d, want 1", unix.dials)
		}
	})

	t.Run("alone", func(t *testing.T) {
		r := newResolver(&routeDialer{}, time.Second)
		r.Opener.Unix = &unsupportedDialer{}

		_, _, err := r.Resolve(context.Background(), []transport.Candidate{socket})
		if err == nil {
			t.Fatal("Resolve should fail")
		}
		if k, ok := pgerr.KindOf(err); !ok || k != pgerr.KindUnsupported {
			t.Errorf("kind = %v (%v), want KindUnsupported; err = %v", k, ok, err)
		}
		if !errors.Is(err, pgerr.ErrUnsupported) {
			t.Errorf("err = %v, want ErrUnsupported", err)
		}
	})
}

// TestResolve_LogsEveryFailure checks that at normal verbosity the
// final log line carries each candidate's failure, not only the last.
func TestResolve_LogsEveryFailure(t *testing.T) {
	first, second := closedPort(t), closedPort(t)
	var logs bytes.Buffer
	r := newResolver(&routeDialer{}, time.Second)
	r.Logger = util.NewLogger(1)
	r.Logger.SetOutput(&logs)

	if _, _, err := r.Resolve(context.Background(), []transport.Candidate{first, second}); err == nil {
		t.Fatal("Resolve should fail")
	}
	for _, c := range []transport.Candidate{first, second} {
		if !strings.Contains(logs.String(), c.String()) {
			t.Errorf("log missing %s:\n%s", c, logs.String())
		}
	}
}
