package retry

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned while the breaker refuses attempts.
var ErrOpen = errors.New("circuit open")

// State is the breaker's operational state.
type State int

const (
	// StateClosed lets attempts through.
	StateClosed State = iota
	// StateOpen refuses attempts until the cool-down passes.
	StateOpen
	// StateHalfOpen lets one probe through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker short-circuits attempts at a resource after MaxFailures
// consecutive failures.  While open, Execute fails immediately with
// ErrOpen wrapped around the failure that opened it.
type Breaker struct {
	// MaxFailures opens the breaker (default 1).
	MaxFailures int
	// Cooldown is how long it stays open before a probe (default 30s).
	Cooldown time.Duration
	// OnStateChange runs under the breaker's lock.
	OnStateChange func(from, to State)

	mu       sync.Mutex
	state    State
	failures int
	lastErr  error
	openedAt time.Time
	now      func() time.Time
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker and forgets past failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.lastErr = nil
	b.transition(StateClosed)
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}
	if elapsed := b.clock()().Sub(b.openedAt); elapsed >= b.cooldown() {
		b.transition(StateHalfOpen)
		return nil
	}
	return fmt.Errorf("%w after %d failures: %w", ErrOpen, b.failures, b.lastErr)
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.lastErr = nil
		b.transition(StateClosed)
		return
	}

	b.failures++
	b.lastErr = err
	max := b.MaxFailures
	if max <= 0 {
		max = 1
	}
	if b.state == StateHalfOpen || b.failures >= max {
		b.openedAt = b.clock()()
		b.transition(StateOpen)
	}
}

func (b *Breaker) cooldown() time.Duration {
	if b.Cooldown <= 0 {
		return 30 * time.Second
	}
	return b.Cooldown
}

func (b *Breaker) clock() func() time.Time {
	if b.now != nil {
		return b.now
	}
	return time.Now
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}
