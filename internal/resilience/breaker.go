// Package resilience guards repeated failing operations, such as a language
// server install that keeps failing, with a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
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
	}
	return "unknown"
}

// Breaker opens after maxFailures consecutive failures and rejects calls
// for timeout. After that a single trial call is let through; its outcome
// closes or re-opens the circuit.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	probing     bool
	ignore      func(error) bool
	now         func() time.Time
}

// NewBreaker creates a closed breaker. maxFailures < 1 is treated as 1.
func NewBreaker(maxFailures int, timeout time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		ignore:      func(err error) bool { return errors.Is(err, context.Canceled) },
		now:         time.Now,
	}
}

// Ignore replaces the predicate for errors that count as neither failure
// nor success. By default only context.Canceled is ignored.
func (b *Breaker) Ignore(fn func(error) bool) *Breaker {
	b.mu.Lock()
	b.ignore = fn
	b.mu.Unlock()
	return b
}

// Execute runs fn unless the circuit is open. The returned error wraps
// ErrCircuitOpen with the remaining wait when the call is rejected.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	switch {
	case err == nil:
		b.failures = 0
		b.state = StateClosed
	case b.ignore != nil && b.ignore(err):
		if b.state == StateHalfOpen {
			b.state = StateOpen
		}
	default:
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	}
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		wait := b.timeout - b.now().Sub(b.openedAt)
		if wait > 0 {
			return fmt.Errorf("%w (retry in %s)", ErrCircuitOpen, wait.Round(time.Second))
		}
		b.state = StateHalfOpen
	case StateHalfOpen:
		if b.probing {
			return fmt.Errorf("%w (trial call in progress)", ErrCircuitOpen)
		}
	}
	if b.state == StateHalfOpen {
		b.probing = true
	}
	return nil
}

// State returns the current state without transitioning it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
