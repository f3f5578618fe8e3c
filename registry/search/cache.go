package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// embeddingCache stores per-tool embedding vectors keyed by
// SHA-256(text + model id); persistent within process lifetime, no TTL,
// matching the caching contract's embedding-cache layer.
type embeddingCache struct {
	lru *lru.Cache[string, []float32]
	sf  singleflight.Group
}

func newEmbeddingCache(size int) *embeddingCache {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, []float32](size)
	return &embeddingCache{lru: c}
}

func embeddingCacheKey(text, modelID string) string {
	h := sha256.Sum256([]byte(modelID + "\x00" + text))
	return hex.EncodeToString(h[:])
}

// getOrEmbed returns a cached embedding for text, computing and storing it
// via embedder on a miss. Concurrent misses for the same key are collapsed
// through a singleflight group so a burst of identical queries issues only
// one embedding call.
func (c *embeddingCache) getOrEmbed(ctx context.Context, embedder Embedder, text string) ([]float32, error) {
	key := embeddingCacheKey(text, embedder.ModelID())
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.sf.Do(key, func() (any, error) {
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		vec, err := embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// resultCache stores per-query search results keyed by (query-hash,
// catalog-hash, top-k), with a configurable TTL (default 1h per the
// caching contract). It is backed by an in-process LRU when no Redis
// client is configured, and falls through to Redis (shared across
// processes) when one is, so a multi-replica deployment shares warm
// search results instead of each replica re-scoring independently.
type resultCache struct {
	ttl time.Duration
	lru *lru.Cache[string, cachedResult]
	rdb *redis.Client
	sf  singleflight.Group
}

type cachedResult struct {
	Results []Result  `json:"results"`
	Expires time.Time `json:"-"`
}

// ResultCacheOption configures a resultCache.
type ResultCacheOption func(*resultCache)

// WithRedis makes the result cache consult a Redis client in addition to
// its in-process LRU, so search results are shared across replicas.
func WithRedis(rdb *redis.Client) ResultCacheOption {
	return func(c *resultCache) { c.rdb = rdb }
}

func newResultCache(ttl time.Duration, size int, opts ...ResultCacheOption) *resultCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if size <= 0 {
		size = 1024
	}
	c, _ := lru.New[string, cachedResult](size)
	rc := &resultCache{ttl: ttl, lru: c}
	for _, opt := range opts {
		if opt != nil {
			opt(rc)
		}
	}
	return rc
}

func resultCacheKey(queryHash, catalogHash string, topK int) string {
	h := sha256.New()
	h.Write([]byte(queryHash))
	h.Write([]byte{0})
	h.Write([]byte(catalogHash))
	h.Write([]byte{0})
	h.Write([]byte{byte(topK), byte(topK >> 8)})
	return hex.EncodeToString(h.Sum(nil))
}

func queryHash(query string) string {
	h := sha256.Sum256([]byte(query))
	return hex.EncodeToString(h[:])
}

func (c *resultCache) get(ctx context.Context, key string) ([]Result, bool) {
	if v, ok := c.lru.Get(key); ok {
		if time.Now().Before(v.Expires) {
			return v.Results, true
		}
		c.lru.Remove(key)
	}
	if c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, "search:result:"+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			_ = err // cache errors degrade to a miss, never fail the caller
		}
		return nil, false
	}
	var results []Result
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, false
	}
	c.lru.Add(key, cachedResult{Results: results, Expires: time.Now().Add(c.ttl)})
	return results, true
}

func (c *resultCache) set(ctx context.Context, key string, results []Result) {
	c.lru.Add(key, cachedResult{Results: results, Expires: time.Now().Add(c.ttl)})
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, "search:result:"+key, raw, c.ttl).Err()
}
