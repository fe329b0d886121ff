package cache

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"routeopt/internal/logging"
	"routeopt/internal/metrics"
	"routeopt/internal/model"
)

// Lookup outcomes reported by GetOrCompute.
const (
	OutcomeHit    = "hit"
	OutcomeMiss   = "miss"
	OutcomeShared = "shared"
)

// ComputeFunc produces a result on a cache miss.
type ComputeFunc func(ctx context.Context) (*model.OptimizationResult, error)

// ResultCache fronts a Store and coalesces concurrent misses on the same key so the
// optimization runs once.
type ResultCache struct {
	store Store
	ttl   time.Duration
	group singleflight.Group
	log   *logging.Logger
}

func New(store Store, ttl time.Duration, log *logging.Logger) *ResultCache {
	if log == nil {
		log = logging.Nop()
	}
	return &ResultCache{store: store, ttl: ttl, log: log.WithComponent("cache")}
}

// GetOrCompute returns the cached result for key or runs compute. Callers always receive
// their own copy. Store failures are logged and treated as misses; compute errors are
// never cached. The computation is detached from any single caller's cancellation so a
// disconnecting client does not fail the others waiting on it, and each caller stops
// waiting when its own ctx is done.
func (c *ResultCache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (*model.OptimizationResult, string, error) {
	if res, err := c.store.Get(ctx, key); err == nil {
		metrics.CacheLookups.WithLabelValues(OutcomeHit).Inc()
		return res.Clone(), OutcomeHit, nil
	} else if !errors.Is(err, ErrMiss) {
		c.log.WithError(err).Warn("cache read failed", "key", key)
	}

	ch := c.group.DoChan(key, func() (any, error) {
		detached := context.WithoutCancel(ctx)
		if res, err := c.store.Get(detached, key); err == nil {
			return res, nil
		}
		res, err := compute(detached)
		if err != nil {
			return nil, err
		}
		if err := c.store.Set(detached, key, res, c.ttl); err != nil {
			c.log.WithError(err).Warn("cache write failed", "key", key)
		}
		return res, nil
	})
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, "", r.Err
		}
		outcome := OutcomeMiss
		if r.Shared {
			outcome = OutcomeShared
		}
		metrics.CacheLookups.WithLabelValues(outcome).Inc()
		return r.Val.(*model.OptimizationResult).Clone(), outcome, nil
	}
}

// Forget drops key from the in-flight group so the next caller starts a fresh computation.
func (c *ResultCache) Forget(key string) { c.group.Forget(key) }
