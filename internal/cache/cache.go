// Package cache memoizes loader results in memory.
//
// Entries for historic horizons never change upstream and are kept for the
// process lifetime; entries that include the trailing edge expire after a
// short TTL so late revisions are picked up.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/covid-series-etl/internal/domain"
	"github.com/couchcryptid/covid-series-etl/internal/observability"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// NoTTL keeps an entry until it is evicted for capacity.
const NoTTL = ttlcache.NoTTL

// DefaultLoadTimeout bounds a single shared load. A cold state series makes
// one request per day, so this is generous.
const DefaultLoadTimeout = 15 * time.Minute

// Store is a bounded TTL cache with per-key load deduplication.
// Failed loads are never cached.
type Store struct {
	cache     *ttlcache.Cache[string, any]
	group     singleflight.Group
	recentTTL   time.Duration
	loadTimeout time.Duration
	metrics     *observability.Metrics
}

// New creates a Store holding at most capacity entries.
func New(capacity int, recentTTL time.Duration, metrics *observability.Metrics) *Store {
	c := ttlcache.New(
		ttlcache.WithCapacity[string, any](uint64(capacity)),
		ttlcache.WithDisableTouchOnHit[string, any](),
	)
	return &Store{
		cache:       c,
		recentTTL:   recentTTL,
		loadTimeout: DefaultLoadTimeout,
		metrics:     metrics,
	}
}

// SetLoadTimeout overrides DefaultLoadTimeout. Call it before the first Load.
func (s *Store) SetLoadTimeout(d time.Duration) { s.loadTimeout = d }

// Start runs the expiration loop until Stop is called. Expired entries are
// never served even without it; the loop only reclaims memory.
func (s *Store) Start() { s.cache.Start() }

// Stop terminates the expiration loop.
func (s *Store) Stop() { s.cache.Stop() }

// Len returns the number of cached entries.
func (s *Store) Len() int { return s.cache.Len() }

// Purge drops every entry.
func (s *Store) Purge() { s.cache.DeleteAll() }

// RecentTTL is the lifetime of entries that may still change upstream.
func (s *Store) RecentTTL() time.Duration { return s.recentTTL }

// TTLFor picks the lifetime of an entry computed through lastDate.
func (s *Store) TTLFor(lastDate time.Time) time.Duration {
	if domain.IsTrailingEdge(lastDate) {
		return s.recentTTL
	}
	return NoTTL
}

// LoadFunc computes a value and the lifetime it should be cached for.
type LoadFunc[V any] func(ctx context.Context) (V, time.Duration, error)

// Load returns the cached value for key, calling fn on a miss. Concurrent
// misses for the same key share a single call to fn.
//
// The shared call runs detached from any one caller's cancellation, bounded
// by the store's load timeout. A caller that gives up gets its own ctx.Err()
// while the others keep waiting, and the result is still cached.
func Load[V any](ctx context.Context, s *Store, key string, fn LoadFunc[V]) (V, error) {
	var zero V
	if item := s.cache.Get(key); item != nil {
		s.metrics.CacheLookups.WithLabelValues("hit").Inc()
		return item.Value().(V), nil
	}
	s.metrics.CacheLookups.WithLabelValues("miss").Inc()
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	ch := s.group.DoChan(key, func() (any, error) {
		// Another caller may have filled the entry while this one waited.
		if item := s.cache.Get(key); item != nil {
			return item.Value(), nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		v, ttl, err := fn(loadCtx)
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, v, ttl)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Key builds a cache key from its parts. Times are rendered as days.
func Key(parts ...any) string {
	strs := make([]string, len(parts))
	for i, p := range parts {
		if t, ok := p.(time.Time); ok {
			strs[i] = t.Format(domain.DateLayout)
			continue
		}
		strs[i] = fmt.Sprint(p)
	}
	return strings.Join(strs, ":")
}
