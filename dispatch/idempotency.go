package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// idempotencyKey computes the stable SHA-256 digest over (agent name,
// rendered prompt, canonicalized argument map) that identifies a request
// for deduplication and caching, exactly as spec.md's Lifecycle section
// describes.
func idempotencyKey(agent, renderedPrompt string, args map[string]any) string {
	h := sha256.New()
	h.Write([]byte(agent))
	h.Write([]byte{0})
	h.Write([]byte(renderedPrompt))
	h.Write([]byte{0})
	h.Write(canonicalize(args))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalize produces a stable byte representation of an argument map:
// keys sorted, then JSON-encoded, so reordered-but-equal maps hash equal.
func canonicalize(args map[string]any) []byte {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, args[k])
	}
	b, err := json.Marshal(ordered)
	if err != nil {
		return []byte(err.Error())
	}
	return b
}

// IdempotencyCache stores completed sub-agent results keyed by
// idempotencyKey, with a TTL. A zero TTL on Set disables storage for that
// entry (matches spec.md's idempotency_ttl=0 meaning "disabled").
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (RequestResult, bool)
	Set(ctx context.Context, key string, result RequestResult, ttl time.Duration)
}

type cacheEntry struct {
	result  RequestResult
	expires time.Time
}

// MemoryIdempotencyCache is an in-process LRU-backed IdempotencyCache.
type MemoryIdempotencyCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, cacheEntry]
}

// NewMemoryIdempotencyCache constructs a bounded in-process cache.
func NewMemoryIdempotencyCache(size int) *MemoryIdempotencyCache {
	if size <= 0 {
		size = 2048
	}
	c, _ := lru.New[string, cacheEntry](size)
	return &MemoryIdempotencyCache{lru: c}
}

// Get returns a cached result if present and unexpired.
func (c *MemoryIdempotencyCache) Get(_ context.Context, key string) (RequestResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lru.Get(key)
	if !ok {
		return RequestResult{}, false
	}
	if time.Now().After(entry.expires) {
		c.lru.Remove(key)
		return RequestResult{}, false
	}
	return entry.result, true
}

// Set stores a result for ttl. ttl <= 0 is a no-op (disabled caching).
func (c *MemoryIdempotencyCache) Set(_ context.Context, key string, result RequestResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, cacheEntry{result: result, expires: time.Now().Add(ttl)})
}

var _ IdempotencyCache = (*MemoryIdempotencyCache)(nil)

// redisResult is the JSON-serializable projection of a RequestResult stored
// in Redis; Err is flattened to its message since errors do not round-trip
// through JSON.
type redisResult struct {
	AgentName string        `json:"agent_name"`
	State     RequestState  `json:"state"`
	Value     any           `json:"value"`
	Score     float64       `json:"score"`
	ErrMsg    string        `json:"err,omitempty"`
	Cost      float64       `json:"cost"`
	Duration  time.Duration `json:"duration"`
}

// RedisIdempotencyCache shares idempotency entries across process
// replicas, matching the cross-process TTL caching the registry's own
// result-stream mapping uses.
type RedisIdempotencyCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisIdempotencyCache constructs a cache backed by an existing Redis
// client, namespacing keys under prefix (default "dispatch:idempotency:").
func NewRedisIdempotencyCache(rdb *redis.Client, prefix string) *RedisIdempotencyCache {
	if prefix == "" {
		prefix = "dispatch:idempotency:"
	}
	return &RedisIdempotencyCache{rdb: rdb, prefix: prefix}
}

// Get returns a cached result, degrading to a miss on any Redis error.
func (c *RedisIdempotencyCache) Get(ctx context.Context, key string) (RequestResult, bool) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return RequestResult{}, false
	}
	var r redisResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return RequestResult{}, false
	}
	result := RequestResult{AgentName: r.AgentName, State: StateDedupCached, Value: r.Value, Score: r.Score, Cost: r.Cost, Duration: r.Duration}
	return result, true
}

// Set stores a result for ttl via Redis SET with expiry. ttl <= 0 is a
// no-op.
func (c *RedisIdempotencyCache) Set(ctx context.Context, key string, result RequestResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	errMsg := ""
	if result.Err != nil {
		errMsg = result.Err.Error()
	}
	raw, err := json.Marshal(redisResult{
		AgentName: result.AgentName,
		State:     result.State,
		Value:     result.Value,
		Score:     result.Score,
		ErrMsg:    errMsg,
		Cost:      result.Cost,
		Duration:  result.Duration,
	})
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, c.prefix+key, raw, ttl).Err()
}

var _ IdempotencyCache = (*RedisIdempotencyCache)(nil)
