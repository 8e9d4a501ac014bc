// Package cache keeps search results in Redis. Keys include the snapshot
// generation, so a commit never serves stale hits: new generations simply
// miss, and the old generation's keys are dropped or expire.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/resilience"
)

const keyPrefix = "search:"

// Store is the key/value backend. Get reports found=false for a missing key
// without an error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// NewRedisStore adapts a Redis client to Store.
func NewRedisStore(c *pkgredis.Client) Store {
	return c
}

type QueryCache struct {
	store   Store
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
	errors  atomic.Int64
}

// New returns a cache over store. Store errors open a circuit breaker so a
// failing Redis costs one fast check per request instead of a timeout.
func New(store Store, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	breaker := resilience.NewCircuitBreaker("query-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     10 * time.Second,
		OnStateChange: func(name string, to resilience.State) {
			m.BreakerState(name, int(to))
		},
	})
	return &QueryCache{
		store:   store,
		ttl:     ttl,
		breaker: breaker,
		metrics: m,
		logger:  logger.WithComponent("query-cache"),
	}
}

// Get looks up the result for a query at a generation. query should be the
// canonical form, query.Query.String().
func (c *QueryCache) Get(ctx context.Context, generation uint64, query string, k int) (*executor.Result, bool) {
	key := Key(generation, query, k)
	var data []byte
	var found bool
	err := c.breaker.Execute(func() error {
		var err error
		data, found, err = c.store.Get(ctx, key)
		return err
	})
	if err != nil {
		c.errors.Add(1)
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
	}
	if err != nil || !found {
		c.miss()
		return nil, false
	}
	var result executor.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheLookup(true)
	c.logger.Debug("cache hit", "query", query, "generation", generation)
	return &result, true
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheLookup(false)
}

func (c *QueryCache) Set(ctx context.Context, generation uint64, query string, k int, result *executor.Result) {
	key := Key(generation, query, k)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.errors.Add(1)
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result or runs computeFn once per key,
// however many callers ask concurrently. The bool reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	generation uint64,
	query string,
	k int,
	computeFn func() (*executor.Result, error),
) (*executor.Result, bool, error) {
	if result, ok := c.Get(ctx, generation, query, k); ok {
		return result, true, nil
	}
	key := Key(generation, query, k)
	val, err, _ := c.group.Do(key, func() (any, error) {
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, generation, query, k, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.Result), false, nil
}

// DropGeneration deletes every key cached for generation.
func (c *QueryCache) DropGeneration(ctx context.Context, generation uint64) (int64, error) {
	deleted, err := resilience.Call(c.breaker, func() (int64, error) {
		return c.store.FlushByPattern(ctx, generationPrefix(generation)+"*")
	})
	if err != nil {
		return deleted, fmt.Errorf("dropping generation %d: %w", generation, err)
	}
	c.logger.Debug("cache generation dropped", "generation", generation, "keys_deleted", deleted)
	return deleted, nil
}

// Invalidate deletes every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := resilience.Call(c.breaker, func() (int64, error) {
		return c.store.FlushByPattern(ctx, keyPrefix+"*")
	})
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
	Breaker string  `json:"breaker"`
	// Rejected counts calls the open breaker refused.
	Rejected int64 `json:"breaker_rejected"`
}

func (c *QueryCache) Stats() Stats {
	counts := c.breaker.Counts()
	s := Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Errors:   c.errors.Load(),
		Breaker:  counts.State.String(),
		Rejected: counts.Rejected,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func generationPrefix(generation uint64) string {
	return fmt.Sprintf("%sg%d:", keyPrefix, generation)
}

// Key is the Redis key for a query at a generation.
func Key(generation uint64, query string, k int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s\x00k=%d", query, k)))
	return fmt.Sprintf("%s%x", generationPrefix(generation), hash[:16])
}
