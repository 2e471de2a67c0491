package messaging

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
)

func TestBus_SyncDeliveryOrder(t *testing.T) {
	bus := New(DefaultOptions())
	defer bus.Close()

	var seen []string
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		seen = append(seen, "all:"+string(e.EventType()))
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventGroupsFormed, func(e shared.Event) error {
		seen = append(seen, "formed:"+e.AggregateID())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewGroupsFormedEvent("m1", 4, "heterogen", "balanced", 0.9)))
	require.NoError(t, bus.Publish(shared.NewProfilesClusteredEvent("run-1", 12, 4, 4, 4)))

	// Typed handlers run before wildcard ones.
	assert.Equal(t, []string{"formed:m1", "all:groups.formed", "all:profiles.clustered"}, seen)

	stats := bus.Stats()
	assert.Equal(t, int64(2), stats.Published)
	assert.Equal(t, int64(3), stats.Deliveries)
	assert.Equal(t, int64(1), stats.PerType[shared.EventGroupsFormed])
}

func TestBus_HandlerFailuresAreContained(t *testing.T) {
	bus := New(DefaultOptions())
	defer bus.Close()

	var after int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("bad handler") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { atomic.AddInt32(&after, 1); return nil }))

	assert.NoError(t, bus.Publish(shared.NewQuestionnaireSubmittedEvent("s1")))
	assert.Equal(t, int32(1), after)
	assert.Equal(t, int64(2), bus.Stats().Failures)
}

func TestBus_AsyncDrainsOnClose(t *testing.T) {
	bus := New(Options{Async: true, Workers: 2, QueueSize: 1})

	var calls int32
	require.NoError(t, bus.Subscribe(shared.EventARCSIngested, func(shared.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(shared.NewARCSIngestedEvent("digest", 1, 0, 1)))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, int32(10), atomic.LoadInt32(&calls))
	assert.ErrorIs(t, bus.Publish(shared.NewARCSIngestedEvent("digest", 1, 0, 1)), ErrClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventARCSIngested, func(shared.Event) error { return nil }), ErrClosed)
	assert.NoError(t, bus.Close())
}

func TestBus_RejectsNil(t *testing.T) {
	bus := New(DefaultOptions())
	defer bus.Close()

	assert.Error(t, bus.Subscribe(shared.EventGroupsFormed, nil))
	assert.Error(t, bus.Publish(nil))
}
