// Package breaker implements the per-dependency circuit breaker that
// shields the pipeline from cascading failures against a sick source or
// log client.
//
// # State machine
//
//	Closed ──(consecutive failures ≥ threshold)──► Open
//	  ▲                                                │
//	  │ (success)                       (reset_timeout elapsed)
//	  │                                                │
//	  └──────────────── HalfOpen ◄─────────────────────┘
//	        (any failure reopens immediately)
//
// # Concurrency
//
// Execute, State, and the internal transition helpers are all guarded by
// a single mutex. Breaker-open rejections do not count as failures and do
// not touch the failure counter.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/ghoshp83/mongo-kafka-cdc/internal/errs"
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
		return "half_open"
	default:
		return "unknown"
	}
}

// Config controls trip and recovery behavior.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from Closed to Open. Defaults to 3.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays Open before allowing a
	// single probe call through in HalfOpen. Defaults to 30s.
	ResetTimeout time.Duration
	// OnTransition, if set, is invoked outside the breaker's lock every
	// time the state actually changes. Callers use this to publish the
	// breaker's state to metrics and health checks without the breaker
	// package itself depending on prometheus.
	OnTransition func(from, to State)
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	return c
}

// Breaker wraps calls to a single external dependency.
type Breaker struct {
	name string
	cfg  Config

	mu             sync.Mutex
	state          State
	consecutiveErr int
	lastFailure    time.Time
	stateSince     time.Time
}

// New creates a Breaker identified by name (used only in diagnostics).
func New(name string, cfg Config) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults(), stateSince: time.Now()}
}

// Action is the dependency-bound call the breaker protects.
type Action func(ctx context.Context) error

// Execute runs action unless the breaker is Open and the reset window has
// not yet elapsed, in which case it returns a *errs.Error of
// errs.KindBreakerOpen without invoking action at all.
func (b *Breaker) Execute(ctx context.Context, action Action) error {
	if !b.allow() {
		return errs.New(errs.KindBreakerOpen, "breaker."+b.name, errBreakerOpen)
	}

	err := action(ctx)
	b.record(err)
	return err
}

// allow reports whether a call may proceed, transitioning Open->HalfOpen
// when the reset timeout has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()

	switch b.state {
	case Closed, HalfOpen:
		b.mu.Unlock()
		return true
	case Open:
		if time.Since(b.lastFailure) >= b.cfg.ResetTimeout {
			from := b.transitionLocked(HalfOpen)
			b.mu.Unlock()
			b.notify(from, HalfOpen)
			return true
		}
		b.mu.Unlock()
		return false
	default:
		b.mu.Unlock()
		return true
	}
}

// record applies the outcome of an allowed call to the state machine.
func (b *Breaker) record(err error) {
	b.mu.Lock()

	if err == nil {
		var from State
		changed := false
		switch b.state {
		case HalfOpen:
			from = b.transitionLocked(Closed)
			changed = true
			b.consecutiveErr = 0
		case Closed:
			b.consecutiveErr = 0
		}
		b.mu.Unlock()
		if changed {
			b.notify(from, Closed)
		}
		return
	}

	b.lastFailure = time.Now()
	var from State
	var to State
	changed := false
	switch b.state {
	case HalfOpen:
		from, to = b.transitionLocked(Open), Open
		changed = true
	case Closed:
		b.consecutiveErr++
		if b.consecutiveErr >= b.cfg.FailureThreshold {
			from, to = b.transitionLocked(Open), Open
			changed = true
		}
	}
	b.mu.Unlock()
	if changed {
		b.notify(from, to)
	}
}

// transitionLocked moves the breaker to "to" and records when, returning
// the prior state. Callers must hold b.mu and invoke notify themselves
// after unlocking.
func (b *Breaker) transitionLocked(to State) (from State) {
	from = b.state
	b.state = to
	b.stateSince = time.Now()
	return from
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnTransition != nil && from != to {
		b.cfg.OnTransition(from, to)
	}
}

// State returns the current state for diagnostics. It does not itself
// perform the Open->HalfOpen transition; that only happens on the next
// Execute call, consistent with the rest of the state machine being
// driven entirely by calls rather than a background timer.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// StateSince returns when the breaker last transitioned into its current
// state, for health checks that need to know how long a breaker has been
// continuously Open.
func (b *Breaker) StateSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateSince
}

// Name returns the breaker's diagnostic name.
func (b *Breaker) Name() string { return b.name }

type breakerOpenError struct{}

func (breakerOpenError) Error() string { return "circuit breaker open" }

var errBreakerOpen = breakerOpenError{}
