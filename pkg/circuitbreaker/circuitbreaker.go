// Package circuitbreaker stops calling an optional backend after repeated
// failures and probes it again once a cool-down has elapsed. The analysis
// cache sits behind one so an unreachable Redis costs a single failed call
// per cool-down instead of one per request.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a Breaker.
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
	}
	return "unknown"
}

// ErrOpen is returned without calling the backend while the breaker is
// open, or while a half-open probe is already in flight.
var ErrOpen = errors.New("circuitbreaker: open")

// Settings configures a Breaker. Zero values select the defaults.
type Settings struct {
	Name string

	// MaxFailures consecutive failures trip the breaker. Default 3.
	MaxFailures int

	// CoolDown is the time spent open before a probe is let through.
	// Default 15s.
	CoolDown time.Duration

	// IsFailure decides which errors count. Default: any non-nil error.
	IsFailure func(error) bool

	// OnTransition is called with the lock held; keep it short.
	OnTransition func(name string, from, to State)
}

// Breaker guards calls to one backend.
type Breaker struct {
	cfg Settings
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed Breaker.
func New(cfg Settings) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 15 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Execute calls fn unless the breaker rejects it, and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.CoolDown {
			return ErrOpen
		}
		b.transition(HalfOpen)
		b.probing = true
		return nil
	case HalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err != nil && b.cfg.IsFailure(err) {
		b.failures++
		if b.state == HalfOpen || b.failures >= b.cfg.MaxFailures {
			b.openedAt = b.now()
			b.transition(Open)
		}
		return
	}

	b.failures = 0
	if b.state == HalfOpen {
		b.transition(Closed)
	}
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if to != Open {
		b.failures = 0
	}
	if b.cfg.OnTransition != nil {
		b.cfg.OnTransition(b.cfg.Name, from, to)
	}
}

// State returns the current state. An open breaker whose cool-down has
// elapsed still reports Open until the next call probes the backend.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the configured name.
func (b *Breaker) Name() string { return b.cfg.Name }
