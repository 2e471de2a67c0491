package redis

import (
	"context"
	"errors"
	"time"

	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
	"github.com/arcs-classroom/motivation-hub/pkg/circuitbreaker"
	"github.com/arcs-classroom/motivation-hub/pkg/logger"
)

// AnalysisCache stores class analyses per (material, k). Every call goes
// through a circuit breaker, and any Redis failure degrades to a miss so
// callers fall back to computing the analysis.
type AnalysisCache struct {
	cache   *Cache
	ttl     time.Duration
	breaker *circuitbreaker.Breaker
	log     *logger.Logger
}

// NewAnalysisCache creates an AnalysisCache. A non-positive ttl selects
// TTLAnalysisCache.
func NewAnalysisCache(cache *Cache, ttl time.Duration, log *logger.Logger) *AnalysisCache {
	if ttl <= 0 {
		ttl = TTLAnalysisCache
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("analysis_cache"))

	// A miss is a normal answer; only transport errors trip the breaker.
	breaker := circuitbreaker.New(circuitbreaker.Settings{
		Name:        "analysis-cache",
		MaxFailures: 3,
		CoolDown:    15 * time.Second,
		IsFailure: func(err error) bool {
			return !errors.Is(err, ErrCacheMiss)
		},
		OnTransition: func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})

	return &AnalysisCache{cache: cache, ttl: ttl, breaker: breaker, log: log}
}

// Load fills dest with the cached analysis. It reports false on a miss,
// on an open circuit and on any Redis error.
func (a *AnalysisCache) Load(ctx context.Context, materialID string, k int, dest any) bool {
	err := a.breaker.Execute(ctx, func(ctx context.Context) error {
		return a.cache.Get(ctx, AnalysisKey(materialID, k), dest)
	})
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrCacheMiss):
		return false
	default:
		a.log.Debug("analysis cache read skipped",
			logger.MaterialID(materialID),
			logger.Err(err),
		)
		return false
	}
}

// Store caches an analysis. Failures are logged and dropped.
func (a *AnalysisCache) Store(ctx context.Context, materialID string, k int, v any) {
	err := a.breaker.Execute(ctx, func(ctx context.Context) error {
		return a.cache.Set(ctx, AnalysisKey(materialID, k), v, a.ttl)
	})
	if err != nil {
		a.log.Debug("analysis cache write skipped",
			logger.MaterialID(materialID),
			logger.Err(err),
		)
	}
}

// InvalidateMaterial drops every cached analysis of one material.
func (a *AnalysisCache) InvalidateMaterial(ctx context.Context, materialID string) error {
	return a.breaker.Execute(ctx, func(ctx context.Context) error {
		return a.cache.DeleteMatching(ctx, PrefixAnalysis+materialID+":k*")
	})
}

// InvalidateAll drops every cached analysis.
func (a *AnalysisCache) InvalidateAll(ctx context.Context) error {
	return a.breaker.Execute(ctx, func(ctx context.Context) error {
		return a.cache.DeleteMatching(ctx, PrefixAnalysis+"*")
	})
}

// Subscribe wires invalidation to the event bus. New levels change every
// class's histogram; new scores and groups only matter after a recluster,
// but a fresh grouping also drops its material's entries.
func (a *AnalysisCache) Subscribe(bus shared.EventSubscriber) error {
	if err := bus.Subscribe(shared.EventProfilesClustered, func(shared.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.InvalidateAll(ctx)
	}); err != nil {
		return err
	}

	return bus.Subscribe(shared.EventGroupsFormed, func(e shared.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.InvalidateMaterial(ctx, e.AggregateID())
	})
}

// BreakerState reports the breaker state for health output.
func (a *AnalysisCache) BreakerState() string {
	return a.breaker.State().String()
}
