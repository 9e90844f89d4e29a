// Package metrics provides lightweight, lock-free counters for the
// connect path and the sessions it produces.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// Collector tracks connection attempts and session activity.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	attempts       atomic.Int64
	attemptsFailed atomic.Int64
	timeouts       atomic.Int64
	tlsHandshakes  atomic.Int64
	tlsFailures    atomic.Int64

	sessionsActive atomic.Int64
	sessionsTotal  atomic.Int64
	requests       atomic.Int64
	requestErrors  atomic.Int64
	notifications  atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
	lastAddr     string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connect path ─────────────────────────────────────────────────────

// AttemptStarted records one candidate being tried.
func (c *Collector) AttemptStarted() {
	if c == nil {
		return
	}
	c.attempts.Add(1)
}

// AttemptFailed records a failed candidate; timedOut marks attempts
// that lost to the per-attempt bound.
func (c *Collector) AttemptFailed(addr string, timedOut bool) {
	if c == nil {
		return
	}
	c.attemptsFailed.Add(1)
	if timedOut {
		c.timeouts.Add(1)
	}
	c.mu.Lock()
	c.lastAddr = addr
	c.mu.Unlock()
}

// Attempts returns how many candidates were tried.
func (c *Collector) Attempts() int64 {
	if c == nil {
		return 0
	}
	return c.attempts.Load()
}

// FailedAttempts returns how many candidates failed.
func (c *Collector) FailedAttempts() int64 {
	if c == nil {
		return 0
	}
	return c.attemptsFailed.Load()
}

// Timeouts returns how many attempts hit the time bound.
func (c *Collector) Timeouts() int64 {
	if c == nil {
		return 0
	}
	return c.timeouts.Load()
}

// TLSHandshake records the outcome of one TLS negotiation.
func (c *Collector) TLSHandshake(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.tlsHandshakes.Add(1)
	} else {
		c.tlsFailures.Add(1)
	}
}

// TLSHandshakes returns how many TLS sessions were established.
func (c *Collector) TLSHandshakes() int64 {
	if c == nil {
		return 0
	}
	return c.tlsHandshakes.Load()
}

// TLSFailures returns how many TLS negotiations failed.
func (c *Collector) TLSFailures() int64 {
	if c == nil {
		return 0
	}
	return c.tlsFailures.Load()
}

// ── Sessions ─────────────────────────────────────────────────────────

// SessionOpened increments both the active and total counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// ActiveSessions returns the current number of open sessions.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// Request records one request served by a session.
func (c *Collector) Request(failed bool) {
	if c == nil {
		return
	}
	c.requests.Add(1)
	if failed {
		c.requestErrors.Add(1)
	}
}

// Requests returns the total request count.
func (c *Collector) Requests() int64 {
	if c == nil {
		return 0
	}
	return c.requests.Load()
}

// RequestErrors returns how many requests failed.
func (c *Collector) RequestErrors() int64 {
	if c == nil {
		return 0
	}
	return c.requestErrors.Load()
}

// Notification records one asynchronous notification.
func (c *Collector) Notification() {
	if c == nil {
		return
	}
	c.notifications.Add(1)
}

// ── Errors ───────────────────────────────────────────────────────────

// RecordError stores the most recent terminal error.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	Attempts         int64  `json:"attempts"`
	AttemptsFailed   int64  `json:"attempts_failed"`
	Timeouts         int64  `json:"timeouts"`
	TLSHandshakes    int64  `json:"tls_handshakes"`
	TLSFailures      int64  `json:"tls_failures"`
	SessionsActive   int64  `json:"sessions_active"`
	SessionsTotal    int64  `json:"sessions_total"`
	Requests         int64  `json:"requests"`
	RequestErrors    int64  `json:"request_errors"`
	Notifications    int64  `json:"notifications"`
	LastFailedAddr   string `json:"last_failed_addr,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:         time.Since(c.startTime).Truncate(time.Millisecond).String(),
		Attempts:       c.attempts.Load(),
		AttemptsFailed: c.attemptsFailed.Load(),
		Timeouts:       c.timeouts.Load(),
		TLSHandshakes:  c.tlsHandshakes.Load(),
		TLSFailures:    c.tlsFailures.Load(),
		SessionsActive: c.sessionsActive.Load(),
		SessionsTotal:  c.sessionsTotal.Load(),
		Requests:       c.requests.Load(),
		RequestErrors:  c.requestErrors.Load(),
		Notifications:  c.notifications.Load(),
		LastFailedAddr: c.lastAddr,
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
