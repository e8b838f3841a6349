// Package pipeline memoizes loaded generation pipelines per dataset and
// model choice.
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/loiht2/ml-platform-assistant/backend/generation"
	"github.com/loiht2/ml-platform-assistant/backend/metrics"
	"github.com/loiht2/ml-platform-assistant/backend/vectorindex"
)

// Key identifies a cache entry.
type Key struct {
	Dataset     string
	ModelChoice string
}

func (k Key) String() string {
	return k.Dataset + "\x00" + k.ModelChoice
}

// Pipeline is a ready to use generator plus the retrieval index of its dataset.
type Pipeline struct {
	Key       Key
	Dir       string
	Config    ModelConfig
	Generator generation.Generator
	Index     vectorindex.Index
	LoadedAt  time.Time
}

// Loader builds a pipeline for key. Implementations must not return a
// partially initialized pipeline.
type Loader interface {
	Load(ctx context.Context, key Key) (*Pipeline, error)
}

// EvictionPolicy names how entries leave the cache.
type EvictionPolicy string

// EvictNever keeps entries for the process lifetime; only Invalidate removes them.
const EvictNever EvictionPolicy = "never"

// Cache is a keyed memo of pipelines with at most one load in flight per key.
type Cache struct {
	loader Loader

	mu      sync.RWMutex
	entries map[Key]*Pipeline
	// generation is bumped by Invalidate so that a load started before the
	// invalidation does not store its result.
	generation map[Key]uint64
	group      singleflight.Group
}

// NewCache returns an empty cache that loads through loader.
func NewCache(loader Loader) *Cache {
	return &Cache{
		loader:     loader,
		entries:    make(map[Key]*Pipeline),
		generation: make(map[Key]uint64),
	}
}

// Policy returns the eviction policy of the cache.
func (c *Cache) Policy() EvictionPolicy {
	return EvictNever
}

// GetOrLoad returns the cached pipeline for key, loading it on first use.
// Concurrent callers for the same key share one load. Errors are not cached.
func (c *Cache) GetOrLoad(ctx context.Context, key Key) (*Pipeline, error) {
	if p, ok := c.lookup(key); ok {
		metrics.IncreasePipelineCacheMetric(metrics.CacheHit)
		return p, nil
	}

	ch := c.group.DoChan(key.String(), func() (any, error) {
		if p, ok := c.lookup(key); ok {
			return p, nil
		}
		c.mu.RLock()
		gen := c.generation[key]
		c.mu.RUnlock()

		start := time.Now()
		p, err := c.loader.Load(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.generation[key] == gen {
			c.entries[key] = p
		}
		c.mu.Unlock()
		zap.S().Infow("loaded pipeline", "dataset", key.Dataset, "model", key.ModelChoice, "duration", time.Since(start))
		return p, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			metrics.IncreasePipelineCacheMetric(metrics.CacheError)
			return nil, res.Err
		}
		metrics.IncreasePipelineCacheMetric(metrics.CacheMiss)
		return res.Val.(*Pipeline), nil
	}
}

// Invalidate drops the entry for key. A load already in flight still answers
// its callers but is not stored.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.generation[key]++
	c.mu.Unlock()
	c.group.Forget(key.String())
	zap.S().Infow("invalidated pipeline", "dataset", key.Dataset, "model", key.ModelChoice)
}

// Len returns the number of cached pipelines.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) lookup(key Key) (*Pipeline, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[key]
	return p, ok
}
