// Package cache keeps search results in Redis. Keys include the snapshot
// version, so a reload makes earlier entries unreachable without a flush.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/executor"
	pkgredis "github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/redis"
)

const keyPrefix = "search:"

// Store is the subset of the Redis client the cache uses.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Key identifies one search request. Param is alpha for weighted search,
// k for RRF and zero otherwise.
type Key struct {
	Mode    string
	Query   string
	Limit   int
	Param   float64
	Version string
}

type QueryCache struct {
	store          Store
	ttl            time.Duration
	computeTimeout time.Duration
	group          singleflight.Group
	onHit  func(hit bool)
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// New returns a cache over store. computeTimeout bounds a shared miss
// computation (zero leaves it unbounded). onHit, if set, is told about every
// lookup.
func New(store Store, ttl, computeTimeout time.Duration, onHit func(hit bool)) *QueryCache {
	return &QueryCache{
		store:          store,
		ttl:            ttl,
		computeTimeout: computeTimeout,
		onHit:  onHit,
		logger: slog.Default().With("component", "query-cache"),
	}
}

// Get returns the cached result for key. Store errors count as misses.
func (c *QueryCache) Get(ctx context.Context, key Key) (*executor.SearchResult, bool) {
	k := key.String()
	data, err := c.store.Get(ctx, k)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", k, "error", err)
		}
		c.record(false)
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", k, "error", err)
		c.record(false)
		return nil, false
	}
	c.record(true)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, key Key, result *executor.SearchResult) {
	k := key.String()
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", k, "error", err)
		return
	}
	if err := c.store.Set(ctx, k, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", k, "error", err)
	}
}

// GetOrCompute returns the cached result or runs compute once per key across
// concurrent callers. The bool reports a cache hit. Errors are not cached.
//
// compute runs detached from the caller that started it, bounded by the
// compute timeout, so one caller giving up does not fail the others waiting
// on the same key. Each caller still returns as soon as its own ctx is done.
func (c *QueryCache) GetOrCompute(ctx context.Context, key Key, compute func(ctx context.Context) (*executor.SearchResult, error)) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, key); ok {
		return result, true, nil
	}
	ch := c.group.DoChan(key.String(), func() (interface{}, error) {
		shared := context.WithoutCancel(ctx)
		if c.computeTimeout > 0 {
			var cancel context.CancelFunc
			shared, cancel = context.WithTimeout(shared, c.computeTimeout)
			defer cancel()
		}
		result, err := compute(shared)
		if err != nil {
			return nil, err
		}
		c.Set(shared, key, result)
		return result, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*executor.SearchResult), false, nil
	}
}

// Invalidate deletes every cached search result.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) record(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	if c.onHit != nil {
		c.onHit(hit)
	}
}

// String renders the Redis key. Case and whitespace differences in the
// query map to the same key.
func (k Key) String() string {
	raw := strings.Join([]string{
		k.Mode,
		strings.Join(strings.Fields(strings.ToLower(k.Query)), " "),
		strconv.Itoa(k.Limit),
		strconv.FormatFloat(k.Param, 'g', -1, 64),
	}, "\x00")
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%s:%x", keyPrefix, k.Version, sum[:16])
}
