// Package itemcache caches pgSTAC item lookups behind an in-process LRU
// tier and an optional Redis tier.
package itemcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hrodmn/eoapi-subdataset-params/internal/cache/keys"
	"github.com/hrodmn/eoapi-subdataset-params/internal/cache/rediscache"
	"github.com/hrodmn/eoapi-subdataset-params/internal/observability"
	"github.com/hrodmn/eoapi-subdataset-params/internal/stac"
)

// Source produces the raw item JSON on a cache miss.
type Source interface {
	GetItemRaw(ctx context.Context, collection, item string) ([]byte, error)
}

type Config struct {
	LRUSize   int
	OpTimeout time.Duration
	// TTLFor returns the Redis TTL for a collection; nil means 5m flat.
	TTLFor func(collection string) time.Duration
}

type Cache struct {
	logger    *slog.Logger
	source    Source
	redis     *rediscache.Client // nil when the Redis tier is disabled
	lru       *lru.Cache[string, []byte]
	opTimeout time.Duration
	ttlFor    func(string) time.Duration
}

func New(logger *slog.Logger, source Source, redis *rediscache.Client, cfg Config) (*Cache, error) {
	if source == nil {
		return nil, errors.New("itemcache: source is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.LRUSize
	if size <= 0 {
		size = 1024
	}
	l, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("itemcache: lru: %w", err)
	}
	ttlFor := cfg.TTLFor
	if ttlFor == nil {
		ttlFor = func(string) time.Duration { return 5 * time.Minute }
	}
	return &Cache{
		logger:    logger,
		source:    source,
		redis:     redis,
		lru:       l,
		opTimeout: cfg.OpTimeout,
		ttlFor:    ttlFor,
	}, nil
}

// Get returns the parsed item, consulting LRU, then Redis, then the
// source. Cache-tier failures degrade to a source lookup.
func (c *Cache) Get(ctx context.Context, collection, item string) (*stac.Item, error) {
	key := keys.Item(collection, item)

	if b, ok := c.lru.Get(key); ok {
		observability.IncCacheHit("lru")
		return stac.ParseItem(b)
	}
	observability.IncCacheMiss("lru")

	if c.redis != nil {
		opCtx, cancel := c.withTimeout(ctx)
		b, ok, err := c.redis.Get(opCtx, key)
		cancel()
		switch {
		case err != nil:
			c.logger.Warn("item cache redis get failed, falling back to pgstac", "err", err)
		case ok:
			observability.IncCacheHit("redis")
			c.lru.Add(key, b)
			return stac.ParseItem(b)
		default:
			observability.IncCacheMiss("redis")
		}
	}

	raw, err := c.source.GetItemRaw(ctx, collection, item)
	if err != nil {
		return nil, err
	}

	c.lru.Add(key, raw)
	if c.redis != nil {
		opCtx, cancel := c.withTimeout(ctx)
		if err := c.redis.Set(opCtx, key, raw, c.ttlFor(collection)); err != nil {
			c.logger.Warn("item cache redis set failed", "err", err)
		}
		cancel()
	}
	return stac.ParseItem(raw)
}

// Invalidate drops one item from both tiers.
func (c *Cache) Invalidate(ctx context.Context, collection, item string) error {
	key := keys.Item(collection, item)
	c.lru.Remove(key)
	if c.redis == nil {
		return nil
	}
	opCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := c.redis.Del(opCtx, key); err != nil {
		return fmt.Errorf("invalidate %s/%s: %w", collection, item, err)
	}
	return nil
}

// InvalidateCollection drops every cached item of a collection. The LRU
// tier has no prefix index, so it is purged wholesale.
func (c *Cache) InvalidateCollection(ctx context.Context, collection string) (int, error) {
	c.lru.Purge()
	if c.redis == nil {
		return 0, nil
	}
	opCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	n, err := c.redis.DelPrefix(opCtx, keys.CollectionPrefix(collection))
	if err != nil {
		return n, fmt.Errorf("invalidate collection %s: %w", collection, err)
	}
	return n, nil
}

func (c *Cache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opTimeout)
}
