// Package circuitbreaker implements per-plugin failure isolation for the
// loading strategy orchestrator (C8): a closed/open/half-open state
// machine with consecutive-failure and reset-timeout thresholds.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ErrOpen is returned when the breaker is open and refuses to run the
// protected load.
var ErrOpen = errors.New("circuitbreaker: open")

// Config parameterizes a single breaker.
type Config struct {
	Name string

	// FailureThreshold is consecutive failures required to trip Closed ->
	// Open. Defaults to 5.
	FailureThreshold int

	// SuccessThreshold is consecutive half-open successes required to close
	// the circuit. Defaults to 1: a single half-open trial is enough.
	SuccessThreshold int

	// ResetTimeout is how long the breaker stays Open before allowing a
	// half-open trial. Defaults to 60s.
	ResetTimeout time.Duration

	// MaxConcurrent bounds concurrent half-open trials. Defaults to 1.
	MaxConcurrent int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	return c
}

// Breaker isolates failures for a single plugin's load attempts.
type Breaker struct {
	config        Config
	mu            sync.RWMutex
	state         State
	failures      int
	successes     int
	openedAt      time.Time
	halfOpenCount int
	onStateChange func(from, to State)
	now           func() time.Time // injectable for testing
}

// New creates a Breaker in the Closed state.
func New(config Config) *Breaker {
	config = config.withDefaults()
	return &Breaker{config: config, state: Closed, now: time.Now}
}

// OnStateChange registers a callback fired on every state transition, while
// the breaker's lock is held; it must not call back into the breaker.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Execute runs fn if the breaker allows it, recording the outcome. Returns
// ErrOpen immediately without invoking fn if the circuit is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allowRequest(); err != nil {
		return err
	}
	err := fn(ctx)
	if err != nil {
		b.RecordFailure()
	} else {
		b.RecordSuccess()
	}
	return err
}

func (b *Breaker) allowRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.now().Sub(b.openedAt) >= b.config.ResetTimeout {
			b.transitionTo(HalfOpen)
			b.halfOpenCount++
			return nil
		}
		return ErrOpen
	case HalfOpen:
		if b.halfOpenCount >= b.config.MaxConcurrent {
			return ErrOpen
		}
		b.halfOpenCount++
		return nil
	default:
		return ErrOpen
	}
}

// State reports the current state. If Open and the reset timeout has
// elapsed, this reports HalfOpen without transitioning -- the transition
// happens on the next Execute/allowRequest call.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.config.ResetTimeout {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker back to Closed, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.state
	b.state = Closed
	b.failures = 0
	b.successes = 0
	b.halfOpenCount = 0
	if old != Closed && b.onStateChange != nil {
		b.onStateChange(old, Closed)
	}
}

// RecordSuccess records a successful load, resetting the consecutive
// failure counter in Closed, or counting toward SuccessThreshold in
// HalfOpen.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		b.halfOpenCount--
		if b.halfOpenCount < 0 {
			b.halfOpenCount = 0
		}
		if b.successes >= b.config.SuccessThreshold {
			b.transitionTo(Closed)
		}
	case Open:
		// should not happen; ignore.
	}
}

// RecordFailure records a failed load, tripping the breaker to Open once
// FailureThreshold consecutive failures accumulate in Closed, or
// immediately re-opening on any HalfOpen failure.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.openedAt = b.now()
			b.transitionTo(Open)
		}
	case HalfOpen:
		b.halfOpenCount--
		if b.halfOpenCount < 0 {
			b.halfOpenCount = 0
		}
		b.openedAt = b.now()
		b.transitionTo(Open)
	case Open:
		b.openedAt = b.now()
	}
}

// transitionTo changes state and fires the callback. Caller must hold b.mu.
func (b *Breaker) transitionTo(newState State) {
	old := b.state
	if old == newState {
		return
	}
	b.state = newState
	b.failures = 0
	b.successes = 0
	b.halfOpenCount = 0
	if b.onStateChange != nil {
		b.onStateChange(old, newState)
	}
}

// Counts returns the current failure and success counters.
func (b *Breaker) Counts() (failures, successes int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failures, b.successes
}

// Registry manages one Breaker per plugin name.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// GetOrCreate returns the breaker for config.Name, creating it with config
// if absent.
func (r *Registry) GetOrCreate(config Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[config.Name]; ok {
		return b
	}
	b := New(config)
	r.breakers[config.Name] = b
	return b
}

// Get returns the breaker for name, or nil if none exists.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// Remove deletes the named breaker from the registry.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, name)
}

// All returns a snapshot of every breaker currently registered.
func (r *Registry) All() map[string]*Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Breaker, len(r.breakers))
	for k, v := range r.breakers {
		out[k] = v
	}
	return out
}

// ResetAll resets every registered breaker to Closed.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
