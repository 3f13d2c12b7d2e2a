package redis

import (
	"context"
	"errors"
	"time"

	"github.com/analizadordatos/smart-analytics/internal/domain/roster"
	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
	"github.com/analizadordatos/smart-analytics/pkg/circuitbreaker"
	"github.com/analizadordatos/smart-analytics/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER CACHE
// Implements roster.Cache on a single key. Replicas started after an upload
// read the batch from here before falling back to PostgreSQL.
// ══════════════════════════════════════════════════════════════════════════════

// RosterCache caches the current batch.
type RosterCache struct {
	cache   *Cache
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
	retrier *retry.Retrier
}

// RosterCacheOption configures RosterCache.
type RosterCacheOption func(*RosterCache)

// WithRosterBreaker replaces the default breaker.
func WithRosterBreaker(cb *circuitbreaker.CircuitBreaker) RosterCacheOption {
	return func(r *RosterCache) { r.breaker = cb }
}

// NewRosterCache creates a RosterCache. A zero ttl falls back to TTLRoster.
func NewRosterCache(cache *Cache, ttl time.Duration, opts ...RosterCacheOption) *RosterCache {
	if ttl <= 0 {
		ttl = TTLRoster
	}
	r := &RosterCache{
		cache:   cache,
		ttl:     ttl,
		breaker: circuitbreaker.CacheBreaker(IsBenign, nil),
		retrier: retry.CacheRetrier(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ roster.Cache = (*RosterCache)(nil)

// Get returns the cached batch. A miss is a NotFound domain error.
func (r *RosterCache) Get(ctx context.Context) (*roster.Batch, error) {
	var batch roster.Batch
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.cache.Get(ctx, CurrentRosterKey(), &batch)
	})
	if err != nil {
		if IsBenign(err) {
			return nil, shared.WrapError("roster", "CacheGet", shared.ErrNotFound, "current roster not cached", err)
		}
		return nil, shared.WrapError("roster", "CacheGet", shared.ErrServiceUnavailable, "roster cache unavailable", err)
	}
	return &batch, nil
}

// Set stores the batch as current. Network errors are retried briefly.
func (r *RosterCache) Set(ctx context.Context, batch *roster.Batch) error {
	if batch == nil {
		return ErrCacheNilValue
	}
	return r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.retrier.Do(ctx, func(ctx context.Context) error {
			return retryableUnlessEncoding(r.cache.Set(ctx, CurrentRosterKey(), batch, r.ttl))
		})
	})
}

// Invalidate drops the cached batch.
func (r *RosterCache) Invalidate(ctx context.Context) error {
	return r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.retrier.Do(ctx, func(ctx context.Context) error {
			return retryableUnlessEncoding(r.cache.Delete(ctx, CurrentRosterKey()))
		})
	})
}

// BreakerState reports the cache breaker for the health endpoint.
func (r *RosterCache) BreakerState() circuitbreaker.State {
	return r.breaker.State()
}

// IsMiss reports whether err is a cache miss rather than a Redis failure.
func IsMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// IsBenign reports whether err says nothing about Redis health: a miss or a
// value that does not decode. Breakers skip these.
func IsBenign(err error) bool {
	return IsMiss(err) || errors.Is(err, ErrCacheSerialization)
}

func retryableUnlessEncoding(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCacheSerialization) || errors.Is(err, ErrCacheKeyEmpty) ||
		errors.Is(err, ErrCacheNilValue) || errors.Is(err, ErrCacheInvalidTTL) {
		return err
	}
	return retry.Retryable(err)
}
