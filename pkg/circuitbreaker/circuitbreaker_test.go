package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBackend = errors.New("redis: connection refused")

func fail(context.Context) error { return errBackend }
func ok(context.Context) error   { return nil }

// fakeClock lets tests move past the cool-down without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Settings) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(cfg)
	b.now = clock.now
	return b, clock
}

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	var transitions []State
	b, _ := newTestBreaker(Settings{
		Name:         "cache",
		MaxFailures:  2,
		OnTransition: func(_ string, _, to State) { transitions = append(transitions, to) },
	})
	ctx := context.Background()

	assert.ErrorIs(t, b.Execute(ctx, fail), errBackend)
	assert.Equal(t, Closed, b.State())
	assert.ErrorIs(t, b.Execute(ctx, fail), errBackend)
	assert.Equal(t, Open, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
	assert.Equal(t, []State{Open}, transitions)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Settings{MaxFailures: 2})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, ok)
	_ = b.Execute(ctx, fail)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_ProbeAfterCoolDown(t *testing.T) {
	b, clock := newTestBreaker(Settings{MaxFailures: 1, CoolDown: time.Minute})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	assert.Equal(t, Open, b.State())

	clock.advance(30 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, ok), ErrOpen)

	clock.advance(31 * time.Second)
	assert.NoError(t, b.Execute(ctx, ok))
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(Settings{MaxFailures: 3, CoolDown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}
	clock.advance(time.Minute)

	assert.ErrorIs(t, b.Execute(ctx, fail), errBackend)
	assert.Equal(t, Open, b.State())
	assert.ErrorIs(t, b.Execute(ctx, ok), ErrOpen)
}

func TestBreaker_SingleProbeInFlight(t *testing.T) {
	b, clock := newTestBreaker(Settings{MaxFailures: 1, CoolDown: time.Second})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.advance(time.Second)

	err := b.Execute(ctx, func(ctx context.Context) error {
		assert.Equal(t, HalfOpen, b.State())
		assert.ErrorIs(t, b.Execute(ctx, ok), ErrOpen)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_IsFailureFiltersErrors(t *testing.T) {
	miss := errors.New("cache miss")
	b, _ := newTestBreaker(Settings{
		Name:        "analysis-cache",
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return !errors.Is(err, miss) },
	})

	for i := 0; i < 10; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return miss })
	}
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, "analysis-cache", b.Name())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half-open", HalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
