package modelstore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/06Faisal/EcoPulse/internal/api"
	"github.com/06Faisal/EcoPulse/internal/forest"
)

// CachedStore keeps recently loaded models decoded in memory in front of
// another Store. Entries expire after ttl and the least recently used model
// is evicted once size models are cached. Saves write through.
//
// Another process may retrain through the same backend, so every load first
// reads the stored model version and only serves a cached model whose
// version still matches.
//
// Cached models are shared between callers and must be treated as read-only.
type CachedStore struct {
	Store
	models *expirable.LRU[string, cachedModel]
	hits   atomic.Uint64
	misses atomic.Uint64
	stale  atomic.Uint64
}

type cachedModel struct {
	model   *forest.Regressor
	version string
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Stale   uint64  `json:"stale"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// NewCachedStore wraps inner. A zero ttl keeps entries until evicted.
func NewCachedStore(inner Store, size int, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store:  inner,
		models: expirable.NewLRU[string, cachedModel](size, nil, ttl),
	}
}

func (c *CachedStore) SaveModel(ctx context.Context, userID string, model *forest.Regressor) error {
	if err := c.Store.SaveModel(ctx, userID, model); err != nil {
		c.models.Remove(userID)
		return err
	}
	if version, err := modelVersion(model); err == nil {
		c.models.Add(userID, cachedModel{model: model, version: version})
	} else {
		c.models.Remove(userID)
	}
	return nil
}

func (c *CachedStore) LoadModel(ctx context.Context, userID string) (*forest.Regressor, error) {
	version, err := c.Store.ModelVersion(ctx, userID)
	if err != nil {
		c.misses.Add(1)
		c.models.Remove(userID)
		return nil, err
	}
	if entry, ok := c.models.Get(userID); ok {
		if entry.version == version {
			c.hits.Add(1)
			return entry.model, nil
		}
		c.stale.Add(1)
	}
	c.misses.Add(1)

	model, err := c.Store.LoadModel(ctx, userID)
	if err != nil {
		c.models.Remove(userID)
		return nil, err
	}
	// a save racing this load leaves a version mismatch, caught next time
	c.models.Add(userID, cachedModel{model: model, version: version})
	return model, nil
}

// SaveMetadata, LoadMetadata and ModelVersion pass through to the wrapped
// store.
func (c *CachedStore) SaveMetadata(ctx context.Context, userID string, meta api.ModelMetadata) error {
	return c.Store.SaveMetadata(ctx, userID, meta)
}

func (c *CachedStore) LoadMetadata(ctx context.Context, userID string) (*api.ModelMetadata, error) {
	return c.Store.LoadMetadata(ctx, userID)
}

func (c *CachedStore) ModelVersion(ctx context.Context, userID string) (string, error) {
	return c.Store.ModelVersion(ctx, userID)
}

// Stats returns current cache statistics.
func (c *CachedStore) Stats() CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	rate := 0.0
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{Hits: hits, Misses: misses, Stale: c.stale.Load(), Size: c.models.Len(), HitRate: rate}
}

// Close drops cached models and closes the wrapped store.
func (c *CachedStore) Close() error {
	c.models.Purge()
	return c.Store.Close()
}
