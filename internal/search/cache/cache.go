// Package cache memoises word lookups in an external key-value store. Each
// word maps to one key, so a change to a file evicts exactly the words whose
// container sets moved.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/resilience"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
)

// KeyPrefix namespaces every key the cache writes.
const KeyPrefix = "liveindex:word:"

const genStripes = 64

// genStripe versions the keys hashing to it. Invalidation bumps gen under mu
// before deleting, and a write holds mu.RLock across its gen check and the
// store call, so a result computed before an invalidation is never written
// after it.
type genStripe struct {
	mu  sync.RWMutex
	gen uint64
}

// Store is the subset of a Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// WordCache is a read-through cache of word -> sorted container list.
// Concurrent misses for one word share a single computation. Store failures
// trip a circuit breaker, after which lookups go straight to the index.
// A result computed before a concurrent invalidation of its word is returned
// to the caller but not cached.
type WordCache struct {
	store   Store
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
	gens    [genStripes]genStripe
	skipped atomic.Int64
}

// New returns a WordCache over store. m may be nil.
func New(store Store, ttl time.Duration, m *metrics.Metrics) *WordCache {
	c := &WordCache{
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
	c.breaker = resilience.NewCircuitBreaker("query-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     10 * time.Second,
		OnStateChange:    c.breakerChanged,
	})
	return c
}

func (c *WordCache) breakerChanged(_ string, from, to resilience.State) {
	c.logger.Info("cache store breaker changed", "from", from.String(), "to", to.String())
	if c.metrics == nil {
		return
	}
	if to == resilience.StateOpen {
		c.metrics.CacheBreakerOpen.Set(1)
	} else {
		c.metrics.CacheBreakerOpen.Set(0)
	}
}

// Lookup returns the cached containers for word, or runs compute and caches
// its result. cached reports whether the store answered.
func (c *WordCache) Lookup(ctx context.Context, word string, compute func() ([]string, error)) (containers []string, cached bool, err error) {
	key := Key(word)
	if result, ok := c.get(ctx, key); ok {
		return result, true, nil
	}

	val, err, _ := c.group.Do(key, func() (any, error) {
		if result, ok := c.get(ctx, key); ok {
			return result, nil
		}
		gen := c.generation(key)
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, gen, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]string), false, nil
}

// InvalidateWords evicts the entries for words.
func (c *WordCache) InvalidateWords(ctx context.Context, words []string) error {
	if len(words) == 0 {
		return nil
	}
	keys := make([]string, len(words))
	for i, w := range words {
		keys[i] = Key(w)
		c.bump(c.stripe(keys[i]))
	}
	err := c.breaker.Execute(func() error {
		return c.store.Del(ctx, keys...)
	})
	if err != nil {
		return fmt.Errorf("invalidating %d words: %w", len(words), err)
	}
	return nil
}

// Invalidate evicts every entry the cache owns.
func (c *WordCache) Invalidate(ctx context.Context) error {
	for i := range c.gens {
		c.bump(&c.gens[i])
	}
	var deleted int64
	err := c.breaker.Execute(func() error {
		n, err := c.store.DeleteByPrefix(ctx, KeyPrefix)
		deleted = n
		return err
	})
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns cumulative hit and miss counts.
func (c *WordCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Skipped returns how many computed results were not cached because their
// word was invalidated while they were being computed.
func (c *WordCache) Skipped() int64 {
	return c.skipped.Load()
}

// Key returns the store key for word. Words are hashed so arbitrary bytes
// never reach the key space.
func Key(word string) string {
	sum := sha256.Sum256([]byte(word))
	return KeyPrefix + hex.EncodeToString(sum[:16])
}

func (c *WordCache) get(ctx context.Context, key string) ([]string, bool) {
	var (
		data  string
		found bool
	)
	err := c.breaker.Execute(func() error {
		var err error
		data, found, err = c.store.Get(ctx, key)
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	if !found {
		c.miss()
		return nil, false
	}
	var result []string
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache entry corrupt", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return result, true
}

func (c *WordCache) stripe(key string) *genStripe {
	return &c.gens[xxhash.Sum64String(key)%genStripes]
}

func (c *WordCache) generation(key string) uint64 {
	st := c.stripe(key)
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.gen
}

func (c *WordCache) bump(st *genStripe) {
	st.mu.Lock()
	st.gen++
	st.mu.Unlock()
}

func (c *WordCache) set(ctx context.Context, key string, gen uint64, result []string) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	st := c.stripe(key)
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.gen != gen {
		c.skipped.Add(1)
		c.logger.Debug("cache write skipped, word invalidated during lookup", "key", key)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func (c *WordCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
