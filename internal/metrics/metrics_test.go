package metrics

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestCollector_Attempts(t *testing.T) {
	c := New()

	c.AttemptStarted()
	c.AttemptFailed("badhost:5432", false)
	c.AttemptStarted()
	c.AttemptFailed("slowhost:5432", true)
	c.AttemptStarted()

	if c.Attempts() != 3 {
		t.Errorf("attempts = %d, want 3", c.Attempts())
	}
	if c.FailedAttempts() != 2 {
		t.Errorf("failed = %d, want 2", c.FailedAttempts())
	}
	if c.Timeouts() != 1 {
		t.Errorf("timeouts = %d, want 1", c.Timeouts())
	}
	if got := c.Snapshot().LastFailedAddr; got != "slowhost:5432" {
		t.Errorf("last failed = %q", got)
	}
}

func TestCollector_TLS(t *testing.T) {
	c := New()
	c.TLSHandshake(true)
	c.TLSHandshake(false)
	c.TLSHandshake(true)

	if c.TLSHandshakes() != 2 {
		t.Errorf("handshakes = %d, want 2", c.TLSHandshakes())
	}
	if c.TLSFailures() != 1 {
		t.Errorf("failures = %d, want 1", c.TLSFailures())
	}
}

func TestCollector_Sessions(t *testing.T) {
	c := New()

	c.SessionOpened()
	c.SessionOpened()
	if c.ActiveSessions() != 2 {
		t.Errorf("active = %d, want 2", c.ActiveSessions())
	}

	c.SessionClosed()
	if c.ActiveSessions() != 1 {
		t.Errorf("active = %d, want 1", c.ActiveSessions())
	}
	if c.TotalSessions() != 2 {
		t.Errorf("total should remain 2, got %d", c.TotalSessions())
	}
}

func TestCollector_Requests(t *testing.T) {
	c := New()
	c.Request(false)
	c.Request(true)
	c.Request(false)

	if c.Requests() != 3 {
		t.Errorf("requests = %d, want 3", c.Requests())
	}
	if c.RequestErrors() != 1 {
		t.Errorf("request errors = %d, want 1", c.RequestErrors())
	}
}

func TestCollector_Snapshot(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.Notification()
	c.RecordError("test")

	snap := c.Snapshot()
	if snap.SessionsActive != 1 {
		t.Errorf("snap active = %d", snap.SessionsActive)
	}
	if snap.Notifications != 1 {
		t.Errorf("snap notifications = %d", snap.Notifications)
	}
	if snap.LastErrorMessage != "test" || snap.LastError == "" {
		t.Errorf("snap error = %q at %q", snap.LastErrorMessage, snap.LastError)
	}
}

func TestCollector_JSON(t *testing.T) {
	c := New()
	c.AttemptStarted()
	c.SessionOpened()

	raw := c.JSON()
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("JSON parse error: %v", err)
	}
	if snap.Attempts != 1 {
		t.Errorf("JSON attempts = %d", snap.Attempts)
	}
	if snap.SessionsTotal != 1 {
		t.Errorf("JSON sessions = %d", snap.SessionsTotal)
	}
}

func TestNilCollector_NoOps(t *testing.T) {
	var c *Collector

	// None of these should panic.
	c.AttemptStarted()
	c.AttemptFailed("x", true)
	c.TLSHandshake(true)
	c.SessionOpened()
	c.SessionClosed()
	c.Request(true)
	c.Notification()
	c.RecordError("test")

	if c.Attempts() != 0 || c.ActiveSessions() != 0 || c.Requests() != 0 {
		t.Error("nil collector should return 0")
	}

	snap := c.Snapshot()
	if snap.Attempts != 0 {
		t.Error("nil snapshot should be zero")
	}

	if c.JSON() == "" {
		t.Error("nil JSON should return valid JSON")
	}
}
