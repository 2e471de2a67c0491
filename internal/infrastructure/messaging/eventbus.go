// Package messaging carries domain events from command handlers to the
// subscribers that react to them: cache invalidation and the event log.
package messaging

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
	"github.com/arcs-classroom/motivation-hub/pkg/logger"
)

var (
	// ErrClosed is returned by Publish and Subscribe after Close.
	ErrClosed = errors.New("messaging: bus closed")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("messaging: handler panicked")

	errNilHandler = errors.New("messaging: nil handler")
	errNilEvent   = errors.New("messaging: nil event")
)

// Options configures a Bus.
type Options struct {
	// Async hands deliveries to Workers goroutines through a queue of
	// QueueSize. Publish then returns before handlers run.
	Async     bool
	Workers   int
	QueueSize int

	Logger *logger.Logger
}

// DefaultOptions delivers on the publishing goroutine, so subscribers
// have finished before the command that published returns.
func DefaultOptions() Options {
	return Options{Workers: 4, QueueSize: 64}
}

type delivery struct {
	event   shared.Event
	handler shared.EventHandler
}

// Bus is the in-process implementation of shared.EventBus.
type Bus struct {
	log *logger.Logger

	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	wildcard []shared.EventHandler
	closed   bool

	queue   chan delivery
	workers sync.WaitGroup

	stats counters
}

var _ shared.EventBus = (*Bus)(nil)

// New creates a Bus. In async mode the workers start immediately.
func New(opts Options) *Bus {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	b := &Bus{
		log:    opts.Logger,
		byType: make(map[shared.EventType][]shared.EventHandler),
		stats:  counters{perType: make(map[shared.EventType]int64)},
	}
	if !opts.Async {
		return b
	}

	workers := max(opts.Workers, 1)
	b.queue = make(chan delivery, max(opts.QueueSize, 0))
	b.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer b.workers.Done()
			for d := range b.queue {
				b.deliver(d)
			}
		}()
	}
	return b
}

// Subscribe registers handler for one event type.
func (b *Bus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.add(handler, func() {
		b.byType[eventType] = append(b.byType[eventType], handler)
	})
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler shared.EventHandler) error {
	return b.add(handler, func() {
		b.wildcard = append(b.wildcard, handler)
	})
}

func (b *Bus) add(handler shared.EventHandler, register func()) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	register()
	return nil
}

// Publish delivers event to the handlers of its type, then to the
// wildcard handlers. Handler failures are logged and counted but never
// returned: the publisher has already committed its write.
func (b *Bus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	b.stats.recordPublish(event.EventType())
	for _, group := range [][]shared.EventHandler{b.byType[event.EventType()], b.wildcard} {
		for _, h := range group {
			d := delivery{event: event, handler: h}
			if b.queue != nil {
				// Holding the read lock keeps Close from closing the queue
				// under this send.
				b.queue <- d
				continue
			}
			b.deliver(d)
		}
	}
	return nil
}

func (b *Bus) deliver(d delivery) {
	start := time.Now()
	err := safeCall(d)
	b.stats.recordDelivery(time.Since(start), err)
	if err != nil {
		b.log.Error("event handler failed",
			logger.String("event_type", string(d.event.EventType())),
			logger.String("aggregate_id", d.event.AggregateID()),
			logger.Err(err),
		)
	}
}

func safeCall(d delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return d.handler(d.event)
}

// Close rejects further use and, in async mode, waits until every queued
// delivery has run. It is safe to call more than once.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.queue != nil {
		close(b.queue)
	}
	b.mu.Unlock()

	b.workers.Wait()
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Stats
// ─────────────────────────────────────────────────────────────────────────────

// Stats is a point-in-time view of the bus counters.
type Stats struct {
	Published   int64
	PerType     map[shared.EventType]int64
	Deliveries  int64
	Failures    int64
	MeanLatency time.Duration
}

type counters struct {
	mu      sync.Mutex
	perType map[shared.EventType]int64

	total      atomic.Int64
	deliveries atomic.Int64
	failures   atomic.Int64
	latencyNS  atomic.Int64
}

func (c *counters) recordPublish(t shared.EventType) {
	c.total.Add(1)
	c.mu.Lock()
	c.perType[t]++
	c.mu.Unlock()
}

func (c *counters) recordDelivery(d time.Duration, err error) {
	c.deliveries.Add(1)
	c.latencyNS.Add(int64(d))
	if err != nil {
		c.failures.Add(1)
	}
}

// Stats returns the current counters.
func (b *Bus) Stats() Stats {
	c := &b.stats
	s := Stats{
		Published:  c.total.Load(),
		Deliveries: c.deliveries.Load(),
		Failures:   c.failures.Load(),
		PerType:    make(map[shared.EventType]int64),
	}
	if s.Deliveries > 0 {
		s.MeanLatency = time.Duration(c.latencyNS.Load() / s.Deliveries)
	}
	c.mu.Lock()
	for t, n := range c.perType {
		s.PerType[t] = n
	}
	c.mu.Unlock()
	return s
}
