// Package retry re-runs start-up calls against backends that may still be
// coming up, such as PostgreSQL in a compose stack, with capped exponential
// backoff and jitter.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy describes how often and how patiently to retry.
type Policy struct {
	// Attempts counts the first call. Values below 1 mean 1.
	Attempts int

	// Initial is the delay after the first failure. It doubles per
	// attempt up to Max.
	Initial time.Duration
	Max     time.Duration

	// Jitter spreads each delay by up to ±Jitter of its value.
	Jitter float64

	// OnRetry is called before sleeping.
	OnRetry func(attempt int, err error, delay time.Duration)
}

type stopError struct{ err error }

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

// Stop marks err as final: Do returns it at once, unwrapped.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// Do calls fn until it succeeds, returns a Stop error, the attempts run
// out or ctx ends. It returns the last error fn produced.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)

	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		var stop *stopError
		if errors.As(err, &stop) {
			return stop.err
		}
		last = err
		if attempt >= attempts {
			return last
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return last
		case <-t.C:
		}
	}
}

// Delay returns the pause after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.Initial) * math.Pow(2, float64(attempt-1))
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// Database is the policy for opening the PostgreSQL pool: about six
// seconds of patience in total.
func Database(onRetry func(attempt int, err error, delay time.Duration)) Policy {
	return Policy{
		Attempts: 5,
		Initial:  200 * time.Millisecond,
		Max:      3 * time.Second,
		Jitter:   0.1,
		OnRetry:  onRetry,
	}
}

// Redis is the policy for the first Redis ping. Redis is optional, so it
// gives up quickly.
func Redis(onRetry func(attempt int, err error, delay time.Duration)) Policy {
	return Policy{
		Attempts: 3,
		Initial:  100 * time.Millisecond,
		Max:      time.Second,
		Jitter:   0.1,
		OnRetry:  onRetry,
	}
}
