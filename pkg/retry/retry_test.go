package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errRefused = errors.New("dial tcp: connection refused")

func fast(attempts int) Policy {
	return Policy{Attempts: attempts, Initial: time.Millisecond, Max: 2 * time.Millisecond}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	var retried []int
	p := fast(5)
	p.OnRetry = func(attempt int, err error, _ time.Duration) {
		retried = append(retried, attempt)
		assert.ErrorIs(t, err, errRefused)
	}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errRefused
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_StopReturnsImmediately(t *testing.T) {
	bad := errors.New("invalid database URL")
	calls := 0
	err := fast(5).Do(context.Background(), func(context.Context) error {
		calls++
		return Stop(bad)
	})

	assert.Same(t, bad, err)
	assert.Equal(t, 1, calls)
}

func TestDo_GivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := fast(3).Do(context.Background(), func(context.Context) error {
		calls++
		return errRefused
	})

	assert.ErrorIs(t, err, errRefused)
	assert.Equal(t, 3, calls)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Policy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return errRefused
	})
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := fast(3).Do(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestDo_CancelDuringBackoffReturnsLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 5, Initial: time.Hour}
	p.OnRetry = func(int, error, time.Duration) { cancel() }

	err := p.Do(ctx, func(context.Context) error { return errRefused })
	assert.ErrorIs(t, err, errRefused)
}

func TestDelay_DoublesAndCaps(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Second}

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(4))
	assert.Equal(t, time.Second, p.Delay(10))
}

func TestDelay_JitterStaysInBand(t *testing.T) {
	p := Policy{Initial: time.Second, Jitter: 0.1}
	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}

func TestPresets(t *testing.T) {
	assert.Equal(t, 5, Database(nil).Attempts)
	assert.Equal(t, 3, Redis(nil).Attempts)
}
