package registry

import (
	"context"
	"sync"
	"time"
)

type (
	// Cache stores a rendered ToolCatalog snapshot so repeated Snapshot/List
	// calls under planner load don't recompute the planner-facing view on
	// every request.
	Cache interface {
		Get(ctx context.Context) (ToolCatalog, bool)
		Set(ctx context.Context, catalog ToolCatalog)
		Invalidate(ctx context.Context)
	}

	// MemoryCache is an in-process Cache with a fixed TTL and optional
	// background refresh. A refresh func left nil disables background
	// refresh; Get still returns whatever is cached until it expires, at
	// which point it reports a miss and the caller recomputes directly.
	MemoryCache struct {
		mu      sync.RWMutex
		ttl     time.Duration
		catalog ToolCatalog
		set     bool
		expires time.Time

		refresh      func(ctx context.Context) (ToolCatalog, error)
		refreshEvery time.Duration
		stop         chan struct{}
		stopOnce     sync.Once
	}

	// MemoryCacheOption configures a MemoryCache.
	MemoryCacheOption func(*MemoryCache)
)

// WithBackgroundRefresh installs a function that periodically recomputes
// the catalog and keeps the cache warm, so planner requests never pay the
// cost of a cold Snapshot after the TTL lapses.
func WithBackgroundRefresh(every time.Duration, refresh func(ctx context.Context) (ToolCatalog, error)) MemoryCacheOption {
	return func(c *MemoryCache) {
		c.refresh = refresh
		c.refreshEvery = every
	}
}

// NewMemoryCache constructs a MemoryCache with the given TTL. A zero TTL
// means entries never expire on their own (still replaceable via Set).
func NewMemoryCache(ttl time.Duration, opts ...MemoryCacheOption) *MemoryCache {
	c := &MemoryCache{ttl: ttl, stop: make(chan struct{})}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.refresh != nil && c.refreshEvery > 0 {
		go c.loop()
	}
	return c
}

func (c *MemoryCache) loop() {
	ticker := time.NewTicker(c.refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			catalog, err := c.refresh(context.Background())
			if err != nil {
				continue
			}
			c.Set(context.Background(), catalog)
		}
	}
}

// Close stops the background refresh goroutine, if one was started.
func (c *MemoryCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Get returns the cached catalog if present and unexpired.
func (c *MemoryCache) Get(_ context.Context) (ToolCatalog, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.set {
		return ToolCatalog{}, false
	}
	if c.ttl > 0 && time.Now().After(c.expires) {
		return ToolCatalog{}, false
	}
	return c.catalog, true
}

// Set replaces the cached catalog and resets its expiry.
func (c *MemoryCache) Set(_ context.Context, catalog ToolCatalog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalog = catalog
	c.set = true
	if c.ttl > 0 {
		c.expires = time.Now().Add(c.ttl)
	}
}

// Invalidate clears the cached catalog, forcing the next Get to miss.
func (c *MemoryCache) Invalidate(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set = false
}

var _ Cache = (*MemoryCache)(nil)
